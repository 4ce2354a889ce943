package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"SignalDesk/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Publisher enqueues tasks onto the pending list. It holds no goroutines and
// needs no shutdown.
type Publisher struct {
	log    *logger.Logger
	client *redis.Client
	keys   keys
}

// NewPublisher verifies the Redis connection up front so a bad address fails
// at startup rather than on the first notification.
func NewPublisher(lgr *logger.Logger, client *redis.Client, cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue publisher: redis ping: %w", err)
	}

	return &Publisher{
		log:    lgr,
		client: client,
		keys:   keys{prefix: cfg.KeyPrefix},
	}, nil
}

// Enqueue wraps the payload in a Task and pushes it onto the pending list.
func (p *Publisher) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	task := Task{
		ID:         strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:       taskType,
		Payload:    body,
		EnqueuedAt: time.Now(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := p.client.LPush(ctx, p.keys.pending(), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}

var _ Enqueuer = (*Publisher)(nil)
