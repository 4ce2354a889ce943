package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"SignalDesk/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	popTimeout  = time.Second
	promoteTick = 5 * time.Second
)

// Consumer drains the queue with a fixed worker pool plus one promoter
// goroutine that requeues delayed retries when they come due.
type Consumer struct {
	log      *logger.Logger
	client   *redis.Client
	cfg      Config
	handlers map[string]Handler
	keys     keys

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer registers one handler per task type. A duplicate type keeps the
// first handler and logs the rest.
func NewConsumer(lgr *logger.Logger, client *redis.Client, cfg Config, handlers ...Handler) *Consumer {
	cfg = cfg.withDefaults()

	hs := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		if _, dup := hs[h.TaskType()]; dup {
			lgr.Warn("duplicate task handler ignored", logger.String("type", h.TaskType()))
			continue
		}
		hs[h.TaskType()] = h
	}

	return &Consumer{
		log:      lgr,
		client:   client,
		cfg:      cfg,
		handlers: hs,
		keys:     keys{prefix: cfg.KeyPrefix},
	}
}

// Start pings Redis and spawns the worker pool.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("queue consumer already running")
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := c.client.Ping(pctx).Err()
	pcancel()
	if err != nil {
		return fmt.Errorf("queue consumer: redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.work(ctx, i)
	}
	c.wg.Add(1)
	go c.promote(ctx)

	c.log.Info("queue consumer started",
		logger.Int("workers", c.cfg.Workers),
		logger.String("prefix", c.cfg.KeyPrefix))
	return nil
}

// Stop cancels the pool and waits for in-flight tasks until the context
// deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("queue consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue consumer stop: %w", ctx.Err())
	}
}

func (c *Consumer) work(ctx context.Context, id int) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		c.step(ctx)
	}
	c.log.Debug("queue worker exiting", logger.Int("worker", id))
}

// step blocks on the pending list for up to popTimeout and runs one task.
func (c *Consumer) step(ctx context.Context) {
	res, err := c.client.BRPop(ctx, popTimeout, c.keys.pending()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Error("queue pop failed", logger.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(res) != 2 {
		return
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		c.log.Error("malformed task dropped", logger.Error(err))
		return
	}
	c.run(ctx, task)
}

func (c *Consumer) run(ctx context.Context, task Task) {
	h, ok := c.handlers[task.Type]
	if !ok {
		c.log.Error("no handler for task type",
			logger.String("type", task.Type),
			logger.String("id", task.ID))
		c.bury(task)
		return
	}

	start := time.Now()
	err := h.Handle(ctx, task.Payload)
	if err == nil {
		c.log.Debug("task done",
			logger.String("type", task.Type),
			logger.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return
	}
	if errors.Is(err, context.Canceled) {
		c.log.Warn("task cancelled mid-flight, not retrying",
			logger.String("type", task.Type),
			logger.String("id", task.ID))
		return
	}

	c.log.Error("task failed",
		logger.String("type", task.Type),
		logger.String("id", task.ID),
		logger.Int("attempt", task.Attempts+1),
		logger.Error(err))

	task.Attempts++
	if task.Attempts >= c.cfg.MaxRetries {
		c.log.Error("task out of retries",
			logger.String("type", task.Type),
			logger.String("id", task.ID))
		c.bury(task)
		return
	}
	c.park(task)
}

// park schedules a retry by scoring the task with its due time.
func (c *Consumer) park(task Task) {
	due := time.Now().Add(c.cfg.RetryDelay)
	data, err := json.Marshal(task)
	if err != nil {
		c.log.Error("marshal parked task", logger.Error(err))
		return
	}

	err = c.client.ZAdd(context.Background(), c.keys.delayed(), redis.Z{
		Score:  float64(due.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		c.log.Error("park task failed", logger.Error(err))
		return
	}

	c.log.Info("task parked for retry",
		logger.String("type", task.Type),
		logger.String("id", task.ID),
		logger.Int("attempt", task.Attempts),
		logger.String("due", due.Format(time.RFC3339)))
}

// bury moves a task onto the dead-letter list.
func (c *Consumer) bury(task Task) {
	data, err := json.Marshal(task)
	if err != nil {
		c.log.Error("marshal dead task", logger.Error(err))
		return
	}
	if err := c.client.LPush(context.Background(), c.keys.dead(), data).Err(); err != nil {
		c.log.Error("dead-letter push failed", logger.Error(err))
	}
}

func (c *Consumer) promote(ctx context.Context) {
	defer c.wg.Done()

	tick := time.NewTicker(promoteTick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.promoteDue(ctx)
		}
	}
}

// promoteDue moves every delayed task whose deadline has passed back onto
// the pending list in a single transaction per task.
func (c *Consumer) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	due, err := c.client.ZRangeByScore(ctx, c.keys.delayed(), &redis.ZRangeBy{
		Min: "0",
		Max: now,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Error("promote scan failed", logger.Error(err))
		return
	}

	for _, member := range due {
		pipe := c.client.TxPipeline()
		pipe.ZRem(ctx, c.keys.delayed(), member)
		pipe.LPush(ctx, c.keys.pending(), member)
		if _, err := pipe.Exec(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error("promote task failed", logger.Error(err))
		}
	}
}
