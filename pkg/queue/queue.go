// Package queue is a small Redis-backed task queue. Tasks are JSON documents
// on a list, drained by a fixed worker pool. A task whose handler fails is
// parked on a sorted set scored by its retry deadline; a promoter moves due
// tasks back onto the list. Tasks that run out of retries land on a
// dead-letter list for manual inspection.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueuer is the producer half of the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) error
}

// Task is the wire form of one unit of work.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes all tasks of a single type.
type Handler interface {
	// TaskType names the task type this handler consumes.
	TaskType() string

	// Handle runs one task. Returning an error schedules a retry until the
	// attempt budget is spent.
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Config tunes the queue. Zero values fall back to defaults sized for
// low-volume notification traffic.
type Config struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	KeyPrefix  string
}

const defaultKeyPrefix = "signaldesk:tasks"

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	return c
}

// Decode unmarshals a task payload into a concrete type.
func Decode[T any](payload json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	return &v, nil
}

// keys derives the Redis keys for one queue from its prefix. Both halves of
// the queue must agree on the prefix.
type keys struct {
	prefix string
}

func (k keys) pending() string { return k.prefix + ":pending" }
func (k keys) delayed() string { return k.prefix + ":delayed" }
func (k keys) dead() string    { return k.prefix + ":dead" }
