package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"SignalDesk/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// MessageHandler consumes messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// inbound carries one fetched message to the worker pool.
type inbound struct {
	topic string
	data  []byte
	km    kafka.Message
}

// Consumer runs one reader per registered topic and a shared worker pool.
// Messages for the same partition are handled one at a time so commit order
// matches handling order.
type Consumer struct {
	log      *logger.Logger
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	queue    chan inbound
	dlq      *kafka.Writer
	hook     ConsumerHook

	lockMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex

	cancel   context.CancelFunc
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer builds an idle consumer. Register handlers before Start.
func NewConsumer(lgr *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers")
	}

	c := &Consumer{
		log:       lgr,
		cfg:       cfg,
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]*kafka.Reader),
		queue:     make(chan inbound, cfg.BufferSize),
		hook:      NoopHook{},
		partLocks: make(map[string]map[int]*sync.Mutex),
	}

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Balancer: &kafka.LeastBytes{},
		}
	}

	registerMetrics()
	return c, nil
}

// RegisterHandler maps a topic to its handler. A duplicate topic keeps the
// first handler.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// WithConsumerHook installs a lifecycle hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and launches the worker pool.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for topic := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
			MaxWait:  c.cfg.MaxWait,
		})
		c.readers[topic] = reader

		c.fetchers.Add(1)
		go c.fetch(ctx, topic, reader)
	}

	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.work(ctx)
	}

	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.Workers),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop drains the pool: fetchers first so no new messages arrive, then the
// queue is closed and workers finish what is buffered.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		if err := waitGroup(ctx, &c.fetchers); err != nil {
			stopErr = fmt.Errorf("kafka fetchers: %w", err)
			return
		}
		close(c.queue)
		if err := waitGroup(ctx, &c.workers); err != nil {
			stopErr = fmt.Errorf("kafka workers: %w", err)
			return
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("kafka reader close failed",
					logger.String("topic", topic),
					logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka dlq writer close failed", logger.Error(err))
			}
		}
		c.log.Info("kafka consumer stopped")
	})
	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetch reads one topic and feeds the worker queue. The blocking send is the
// backpressure: when workers fall behind, fetching pauses and lag accrues on
// the broker instead of in memory.
func (c *Consumer) fetch(ctx context.Context, topic string, reader *kafka.Reader) {
	defer c.fetchers.Done()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error("kafka read failed",
				logger.String("topic", topic),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case c.queue <- inbound{topic: topic, data: msg.Value, km: msg}:
			queueDepth.WithLabelValues(topic).Set(float64(len(c.queue)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context) {
	defer c.workers.Done()
	for m := range c.queue {
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m inbound) {
	h := c.handlers[m.topic]

	lock := c.partitionLock(m.topic, m.km.Partition)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		hctx, km, data, herr := c.hook.BeforeHandle(ctx, m.topic, m.km, m.data)
		if herr != nil {
			err = herr
			break
		}

		err = c.safeHandle(hctx, h, data)
		c.hook.AfterHandle(hctx, m.topic, km, data, err)
		if err == nil || attempt >= c.cfg.MaxRetries {
			break
		}

		c.hook.OnError(hctx, m.topic, km, data, err)
		handleRetries.WithLabelValues(m.topic).Inc()
		select {
		case <-time.After(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return
		}
	}

	if err != nil {
		c.hook.OnError(ctx, m.topic, m.km, m.data, err)
		c.log.Error("kafka message failed",
			logger.String("topic", m.topic),
			logger.Int("partition", m.km.Partition),
			logger.Int64("offset", m.km.Offset),
			logger.Error(err))
		c.deadLetter(m)
	}

	// A failed message only commits once dead-lettered; without a DLQ it is
	// redelivered after restart.
	if err == nil || c.dlq != nil {
		c.commit(m)
	}
	handleSeconds.WithLabelValues(m.topic).Observe(time.Since(start).Seconds())
}

// safeHandle turns a handler panic into an error so one poison message
// cannot take down the worker.
func (c *Consumer) safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(m inbound) {
	if c.dlq == nil {
		return
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   m.data,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(m.topic)}},
	})
	if err != nil {
		c.log.Error("dead-letter publish failed",
			logger.String("topic", c.cfg.DLQTopic),
			logger.Error(err))
		return
	}
	deadLetters.WithLabelValues(m.topic).Inc()
}

func (c *Consumer) commit(m inbound) {
	reader := c.readers[m.topic]
	if reader == nil {
		return
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(cctx, m.km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka commit failed",
		logger.String("topic", m.topic),
		logger.Int64("offset", m.km.Offset),
		logger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	parts, ok := c.partLocks[topic]
	if !ok {
		parts = make(map[int]*sync.Mutex)
		c.partLocks[topic] = parts
	}
	l, ok := parts[partition]
	if !ok {
		l = &sync.Mutex{}
		parts[partition] = l
	}
	return l
}

// backoff doubles from min per attempt, caps at max, and applies half jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
