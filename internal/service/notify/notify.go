// Package notify delivers setup and operator alerts to outside channels.
// Delivery is decoupled from detection through the Redis queue: the
// broadcaster-facing Notifier only enqueues, and queue workers drain the
// backlog through the configured senders with retry and dead-lettering
// handled by the queue itself.
package notify

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
)

// TypeNotification is the queue message type consumed by SendJob.
const TypeNotification = "notify:send"

// Payload kinds.
const (
	KindSetup = "setup"
	KindAlert = "alert"
)

// Payload is the queued form of one outbound notification. Setup fields are
// populated for KindSetup, alert fields for KindAlert.
type Payload struct {
	Kind      string  `json:"kind"`
	Symbol    string  `json:"symbol,omitempty"`
	State     string  `json:"state,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Grade     string  `json:"grade,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Severity  string  `json:"severity,omitempty"`
	Source    string  `json:"source,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"ts"` // unix milliseconds
}

// NewSetupPayload builds the queued form of a setup notification.
func NewSetupPayload(s models.Setup) Payload {
	return Payload{
		Kind:      KindSetup,
		Symbol:    s.Symbol,
		State:     string(s.State),
		Direction: string(s.Direction),
		Grade:     s.Grade,
		Score:     s.Score.Overall,
		Price:     s.Price,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

// NewAlertPayload builds the queued form of an operator alert.
func NewAlertPayload(severity, source, message string) Payload {
	return Payload{
		Kind:      KindAlert,
		Severity:  severity,
		Source:    source,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Render produces the title and body delivered to each sender.
func (p *Payload) Render() (title, body string) {
	ts := time.UnixMilli(p.Timestamp).UTC().Format("15:04:05 UTC")

	switch p.Kind {
	case KindAlert:
		title = fmt.Sprintf("%s alert", p.Severity)
		body = fmt.Sprintf("%s\nSource: %s\nAt: %s", p.Message, p.Source, ts)
	default:
		title = fmt.Sprintf("%s setup %s", p.Symbol, p.State)
		body = fmt.Sprintf("Grade %s (score %.1f)\nDirection: %s\nPrice: %.2f\nAt: %s",
			p.Grade, p.Score, p.Direction, p.Price, ts)
	}
	return title, body
}

// Sender delivers one rendered notification to a channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	Name() string
}
