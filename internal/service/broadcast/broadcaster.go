package broadcast

import (
	"context"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/logger"
)

// EventSink mirrors broadcast events into a durable pipeline (Kafka).
type EventSink interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Notifier pushes operator-facing notifications for high-value events.
type Notifier interface {
	NotifySetup(ctx context.Context, s models.Setup) error
	NotifyAlert(ctx context.Context, severity, source, message string) error
}

// Broadcaster publishes setup transitions and admin alerts to their shared
// broker channels. Every method returns the number of subscribers the broker
// reached and never propagates failures: a dead broker means zero listeners
// heard us, which callers treat as a fact, not an error.
type Broadcaster struct {
	bus         drepo.Bus
	sink        EventSink
	notifier    Notifier
	metrics     drepo.Metrics
	log         *logger.Logger
	alertsTopic string
}

// New creates a Broadcaster. sink and notifier may be nil, which disables
// mirroring and notifications respectively.
func New(bus drepo.Bus, sink EventSink, notifier Notifier, metrics drepo.Metrics, log *logger.Logger, alertsTopic string) *Broadcaster {
	return &Broadcaster{
		bus:         bus,
		sink:        sink,
		notifier:    notifier,
		metrics:     metrics,
		log:         log,
		alertsTopic: alertsTopic,
	}
}

// SetupForming announces a symbol entering the forming state.
func (b *Broadcaster) SetupForming(ctx context.Context, s models.Setup) int64 {
	ev := models.NewSetupEvent(models.EventSetupForming, s)
	n := b.publish(ctx, models.ChannelSetupForming, string(models.EventSetupForming), s.Symbol, ev)
	b.mirror(ctx, s.Symbol, ev)
	return n
}

// SetupReady announces a symbol entering the ready state and notifies
// operators.
func (b *Broadcaster) SetupReady(ctx context.Context, s models.Setup) int64 {
	ev := models.NewSetupEvent(models.EventSetupReady, s)
	n := b.publish(ctx, models.ChannelSetupReady, string(models.EventSetupReady), s.Symbol, ev)
	b.mirror(ctx, s.Symbol, ev)

	if b.notifier != nil {
		if err := b.notifier.NotifySetup(ctx, s); err != nil {
			b.log.Warn("broadcast: setup notification failed",
				logger.String("symbol", s.Symbol),
				logger.Error(err))
		}
	}
	return n
}

// AdminAlert publishes an operational alert on the admin channel. Critical
// alerts also notify operators.
func (b *Broadcaster) AdminAlert(ctx context.Context, severity, source, message string) int64 {
	ev := models.AdminAlertEvent{
		Type:      models.EventAdminAlert,
		Severity:  severity,
		Source:    source,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	n := b.publish(ctx, models.ChannelAdminAlerts, string(models.EventAdminAlert), source, ev)

	if severity == "critical" && b.notifier != nil {
		if err := b.notifier.NotifyAlert(ctx, severity, source, message); err != nil {
			b.log.Warn("broadcast: alert notification failed",
				logger.String("source", source),
				logger.Error(err))
		}
	}
	return n
}

func (b *Broadcaster) publish(ctx context.Context, channel, event, subject string, payload interface{}) int64 {
	n, err := b.bus.Publish(ctx, channel, payload)
	if err != nil {
		b.metrics.RecordError("broadcast_" + event)
		b.log.Warn("broadcast: publish failed",
			logger.String("channel", channel),
			logger.String("subject", subject),
			logger.Error(err))
		return 0
	}
	b.metrics.RecordBroadcast(event, n)
	b.log.Debug("broadcast: published",
		logger.String("channel", channel),
		logger.String("subject", subject),
		logger.Int64("receivers", n))
	return n
}

// mirror forwards the event to the durable alerts topic; delivery there is
// best-effort and failures only warn.
func (b *Broadcaster) mirror(ctx context.Context, symbol string, ev models.SetupEvent) {
	if b.sink == nil {
		return
	}
	if err := b.sink.Publish(ctx, b.alertsTopic, []byte(symbol), ev); err != nil {
		b.metrics.RecordError("broadcast_mirror")
		b.log.Warn("broadcast: mirror failed",
			logger.String("topic", b.alertsTopic),
			logger.String("symbol", symbol),
			logger.Error(err))
	}
}
