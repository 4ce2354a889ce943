package usecase

import (
	"context"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
)

// BarBuilder aggregates the trade stream into fixed-interval OHLCV bars, one
// open bucket per symbol. A bar is emitted when a trade for a later bucket
// arrives, or when the stale sweep finds the bucket past its close plus
// grace.
type BarBuilder struct {
	interval time.Duration
	grace    time.Duration
	emit     func(ctx context.Context, b *models.Bar)

	mu      sync.Mutex
	open    map[string]*models.Bar
	stopCh  chan struct{}
	started bool
}

// NewBarBuilder creates a builder emitting bars through the given callback.
func NewBarBuilder(interval, grace time.Duration, emit func(ctx context.Context, b *models.Bar)) *BarBuilder {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &BarBuilder{
		interval: interval,
		grace:    grace,
		emit:     emit,
		open:     make(map[string]*models.Bar),
		stopCh:   make(chan struct{}),
	}
}

// Add folds one trade into its symbol's open bucket.
func (b *BarBuilder) Add(ctx context.Context, t *models.Trade) {
	if t == nil || t.Symbol == "" {
		return
	}
	bucket := t.Timestamp.Truncate(b.interval)

	b.mu.Lock()
	cur, ok := b.open[t.Symbol]
	if ok && bucket.After(cur.Timestamp) {
		done := cur
		b.open[t.Symbol] = newBucket(t, bucket)
		b.mu.Unlock()
		b.emit(ctx, done)
		return
	}
	if !ok {
		b.open[t.Symbol] = newBucket(t, bucket)
		b.mu.Unlock()
		return
	}
	// late trades for an already-emitted bucket still land in the current one
	if t.Price > cur.High {
		cur.High = t.Price
	}
	if t.Price < cur.Low {
		cur.Low = t.Price
	}
	cur.Close = t.Price
	cur.Volume += t.Size
	b.mu.Unlock()
}

func newBucket(t *models.Trade, bucket time.Time) *models.Bar {
	return &models.Bar{
		Symbol:    t.Symbol,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Size,
		Timestamp: bucket,
	}
}

// Start launches the stale sweep, closing buckets whose interval has passed
// even when no newer trade arrives.
func (b *BarBuilder) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(b.grace)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.flushStale(ctx, now)
			}
		}
	}()
}

func (b *BarBuilder) flushStale(ctx context.Context, now time.Time) {
	b.mu.Lock()
	var done []*models.Bar
	for sym, bar := range b.open {
		if now.Sub(bar.Timestamp) >= b.interval+b.grace {
			done = append(done, bar)
			delete(b.open, sym)
		}
	}
	b.mu.Unlock()

	for _, bar := range done {
		b.emit(ctx, bar)
	}
}

// Flush force-closes every open bucket. Used on shutdown.
func (b *BarBuilder) Flush(ctx context.Context) {
	b.mu.Lock()
	var done []*models.Bar
	for sym, bar := range b.open {
		done = append(done, bar)
		delete(b.open, sym)
	}
	b.mu.Unlock()

	for _, bar := range done {
		b.emit(ctx, bar)
	}
}

// Stop halts the stale sweep.
func (b *BarBuilder) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	close(b.stopCh)
}
