// Package middleware holds the intake pipeline between the market feed and
// the broker publisher.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
)

// Proc is the downstream stage trades are handed to.
type Proc interface {
	Process(ctx context.Context, t *models.Trade) error
}

const (
	defaultMaxPerSec  = 20
	defaultBufferSize = 1000
	retryBackoffMin   = 50 * time.Millisecond
	retryBackoffMax   = 2 * time.Second
)

// RealtimePipeline guards the broker publisher from the raw feed: it rejects
// malformed trades, enforces a per-symbol pace, and parks trades in an
// overflow buffer when the publisher errors, replaying them with backoff.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics

	minGap   time.Duration
	overflow chan *models.Trade

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	gate    map[string]time.Time
}

type pipelineConfig struct {
	maxPerSec int
	bufSize   int
}

type PipelineOption func(*pipelineConfig)

// WithMaxRPS caps accepted trades per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.maxPerSec = n
		}
	}
}

// WithBufferSize sets how many failed trades can wait for replay.
func WithBufferSize(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	cfg := pipelineConfig{maxPerSec: defaultMaxPerSec, bufSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		minGap:   time.Second / time.Duration(cfg.maxPerSec),
		overflow: make(chan *models.Trade, cfg.bufSize),
		stop:     make(chan struct{}),
		gate:     make(map[string]time.Time),
	}
}

// Start launches the replay loop for parked trades.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.replay(ctx)
}

func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stop)
}

// Process admits one trade: malformed trades error out, paced-out trades
// drop silently, and downstream failures park the trade for replay.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Trade) error {
	now := time.Now()

	if err := checkTrade(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.admit(t.Symbol, now) {
		p.metrics.RecordDropped("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.park(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}

	p.metrics.RecordLatency("pipeline_process", time.Since(now).Seconds())
	return nil
}

// admit enforces the per-symbol pace. The first trade for a symbol always
// passes.
func (p *RealtimePipeline) admit(symbol string, now time.Time) bool {
	if p.minGap <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.gate[symbol]; ok && now.Sub(last) < p.minGap {
		return false
	}
	p.gate[symbol] = now
	return true
}

// park queues a trade for replay, dropping it when the buffer is full.
func (p *RealtimePipeline) park(t *models.Trade) {
	select {
	case p.overflow <- t:
	default:
		p.metrics.RecordDropped("pipeline")
	}
}

// replay retries parked trades until the pipeline stops. Failures back off
// exponentially; a success resets the backoff.
func (p *RealtimePipeline) replay(ctx context.Context) {
	backoff := retryBackoffMin

	for {
		select {
		case <-p.stop:
			return
		case t := <-p.overflow:
			if t == nil {
				continue
			}
			if err := p.proc.Process(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				p.park(t)
				if backoff < retryBackoffMax {
					backoff *= 2
				}
				select {
				case <-time.After(backoff):
				case <-p.stop:
					return
				}
				continue
			}
			backoff = retryBackoffMin
		}
	}
}

func checkTrade(t *models.Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("nil trade")
	case t.Symbol == "":
		return fmt.Errorf("trade without symbol")
	case t.Timestamp.IsZero():
		return fmt.Errorf("trade without timestamp")
	case t.Price < 0 || t.Size < 0:
		return fmt.Errorf("trade with negative price or size")
	}
	return nil
}
