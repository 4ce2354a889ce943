package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/service/broadcast"
	"SignalDesk/pkg/logger"
	"SignalDesk/pkg/queue"
)

// QueueNotifier enqueues notifications instead of sending them inline, so a
// slow or failing channel never blocks the detection path.
type QueueNotifier struct {
	queue  queue.Enqueuer
	logger *logger.Logger
}

func NewQueueNotifier(q queue.Enqueuer, lgr *logger.Logger) *QueueNotifier {
	return &QueueNotifier{queue: q, logger: lgr}
}

func (n *QueueNotifier) NotifySetup(ctx context.Context, s models.Setup) error {
	return n.enqueue(ctx, NewSetupPayload(s))
}

func (n *QueueNotifier) NotifyAlert(ctx context.Context, severity, source, message string) error {
	return n.enqueue(ctx, NewAlertPayload(severity, source, message))
}

func (n *QueueNotifier) enqueue(ctx context.Context, p Payload) error {
	if err := n.queue.Enqueue(ctx, TypeNotification, p); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

var _ broadcast.Notifier = (*QueueNotifier)(nil)

// SendJob drains queued notifications through the configured senders. A
// sender failure fails the whole message so the queue retries it; senders
// that already delivered will deliver again on retry.
type SendJob struct {
	senders []Sender
	logger  *logger.Logger
}

func NewSendJob(senders []Sender, lgr *logger.Logger) *SendJob {
	return &SendJob{senders: senders, logger: lgr}
}

func (j *SendJob) TaskType() string { return TypeNotification }

func (j *SendJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[Payload](payload)
	if err != nil {
		return fmt.Errorf("notification payload: %w", err)
	}

	title, body := p.Render()

	var failed []string
	for _, s := range j.senders {
		if err := s.Send(ctx, title, body); err != nil {
			j.logger.Error("notification send failed",
				logger.String("sender", s.Name()),
				logger.String("title", title),
				logger.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		j.logger.Debug("notification sent",
			logger.String("sender", s.Name()),
			logger.String("title", title))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

var _ queue.Handler = (*SendJob)(nil)
