package notify

import (
	"context"
	"fmt"

	"SignalDesk/pkg/logger"
	"SignalDesk/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// Config controls queue naming, worker count, and the Telegram credentials.
type Config struct {
	QueueName      string
	Workers        int
	TelegramToken  string
	TelegramChatID int64
}

// Service owns the notification queue pair: the publisher the broadcaster
// writes through and the worker pool that drains tasks into the senders.
type Service struct {
	consumer *queue.Consumer
	notifier *QueueNotifier
	logger   *logger.Logger
}

// NewService builds the queue pair on a shared Redis connection. Without a
// Telegram token notifications go to the log, which keeps the queue draining
// in environments that have no bot configured.
func NewService(lgr *logger.Logger, client *redis.Client, cfg Config) (*Service, error) {
	qcfg := queue.Config{
		Workers:   cfg.Workers,
		KeyPrefix: cfg.QueueName,
	}

	pub, err := queue.NewPublisher(lgr, client, qcfg)
	if err != nil {
		return nil, fmt.Errorf("notify service: %w", err)
	}

	var senders []Sender
	if cfg.TelegramToken != "" {
		tg, err := NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("notify service: %w", err)
		}
		senders = append(senders, tg)
	} else {
		lgr.Info("notify: telegram not configured, notifications go to the log")
		senders = append(senders, NewLogSender(lgr))
	}

	consumer := queue.NewConsumer(lgr, client, qcfg, NewSendJob(senders, lgr))

	return &Service{
		consumer: consumer,
		notifier: NewQueueNotifier(pub, lgr),
		logger:   lgr,
	}, nil
}

// Notifier returns the broadcast-facing producer side.
func (s *Service) Notifier() *QueueNotifier { return s.notifier }

// Start launches the consumer workers. The publisher needs no startup.
func (s *Service) Start() error {
	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("notify consumer: %w", err)
	}
	return nil
}

// Stop drains the worker pool.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.consumer.Stop(ctx); err != nil {
		return fmt.Errorf("notify consumer stop: %w", err)
	}
	return nil
}
