package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 1024

// RedisBus implements the Bus port over Redis pub/sub. Publish returns the
// receiver count reported by Redis, which is the number of connections
// currently subscribed to the channel.
type RedisBus struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(addr, password string, db int, log *logger.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		// fires on every new connection, including pub/sub reconnects,
		// which go-redis retries with backoff while re-issuing the
		// current channel set
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			log.Debug("broker: connection established", logger.String("addr", addr))
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker ping: %w", err)
	}

	return &RedisBus{client: client, log: log}, nil
}

// Publish sends payload to a channel. Strings and byte slices pass through
// as-is, anything else is JSON-encoded.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("broker marshal: %w", err)
		}
	}

	n, err := b.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("broker publish %s: %w", channel, err)
	}
	return n, nil
}

// Subscribe opens a subscription on the given channels. The error is
// surfaced here rather than on first read: with channels present we wait for
// the broker's subscribe confirmation, otherwise we ping.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (repository.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	if len(channels) > 0 {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("broker subscribe: %w", err)
		}
	} else if err := b.client.Ping(ctx).Err(); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan repository.BusMessage, subscriptionBuffer),
		log:    b.log,
	}
	go sub.pump()
	return sub, nil
}

// Ping probes broker availability.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan repository.BusMessage
	log       *logger.Logger
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) Messages() <-chan repository.BusMessage {
	return s.out
}

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := s.pubsub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("broker add channels: %w", err)
	}
	return nil
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := s.pubsub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("broker remove channels: %w", err)
	}
	return nil
}

// Close tears down the subscription. Safe to call more than once.
func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}

// pump copies broker messages into the outbound channel until the
// subscription closes. Delivery is at-most-once: slow consumers drop.
func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel(redis.WithChannelSize(subscriptionBuffer)) {
		m := repository.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}
		select {
		case s.out <- m:
		default:
			s.log.Debug("broker: dropping message on backpressure", logger.String("channel", msg.Channel))
		}
	}
}
