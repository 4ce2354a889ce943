package repository

import (
	"context"
	"time"

	"SignalDesk/internal/domain/models"
)

// MarketStream is the upstream market-data feed (WebSocket).
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// BusMessage is one payload received from a broker channel.
type BusMessage struct {
	Channel string
	Payload []byte
}

// Subscription is a live broker subscription whose channel set can change
// while messages flow. Close is idempotent.
type Subscription interface {
	Messages() <-chan BusMessage
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	Close() error
}

// Bus is the pub/sub message broker. Publish returns the number of
// subscribers that received the message.
type Bus interface {
	Publish(ctx context.Context, channel string, payload interface{}) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// AlertStore persists emitted setups for later querying.
type AlertStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, s *models.Setup) error
	StoreBatch(ctx context.Context, setups []*models.Setup) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Setup, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Metrics records operational counters and gauges.
type Metrics interface {
	RecordTradeIngested(symbol string)
	RecordBarBuilt(symbol string)
	RecordDelivery(channel string)
	RecordDropped(channel string)
	RecordAnalysis(symbol, grade string, seconds float64)
	RecordSetup(state string)
	RecordBroadcast(event string, receivers int64)
	RecordStreamClients(delta int)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
