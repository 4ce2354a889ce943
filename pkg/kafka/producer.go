// Package kafka wraps segmentio/kafka-go with the producer and consumer
// shapes the application uses: a JSON-encoding writer and a worker-pool
// reader with retries and a dead-letter topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalDesk/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Producer wraps a shared kafka-go writer.
type Producer struct {
	log    *logger.Logger
	writer *kafka.Writer
}

// NewProducer builds the writer. Dialing is lazy, so an unreachable broker
// surfaces on the first publish rather than here.
func NewProducer(lgr *logger.Logger, opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers")
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}

	registerMetrics()

	p := &Producer{
		log: lgr,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compressionCodec(cfg.Compression),
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
		},
	}
	if cfg.Async {
		// Async writes report failures only through the completion callback.
		p.writer.Completion = p.asyncCompletion
	}
	return p, nil
}

// Publish encodes the value and writes one message. []byte and string values
// pass through unencoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	body, err := encodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: body,
		Time:  start,
	})
	observePublish(topic, len(body), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Producer) asyncCompletion(msgs []kafka.Message, err error) {
	if err != nil {
		p.log.Error("async publish failed",
			logger.Int("batch", len(msgs)),
			logger.Error(err))
	}
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode kafka value: %w", err)
		}
		return b, nil
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}
