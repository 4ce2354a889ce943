package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
)

type barSink struct {
	mu   sync.Mutex
	bars []*models.Bar
}

func (s *barSink) emit(_ context.Context, b *models.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, b)
}

func (s *barSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bars)
}

func trade(sym string, price, size float64, ts time.Time) *models.Trade {
	return &models.Trade{Symbol: sym, Price: price, Size: size, Timestamp: ts}
}

func TestBarBuilderAggregatesOHLCV(t *testing.T) {
	sink := &barSink{}
	b := NewBarBuilder(time.Minute, time.Second, sink.emit)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	b.Add(ctx, trade("SPY", 100, 10, base.Add(1*time.Second)))
	b.Add(ctx, trade("SPY", 103, 5, base.Add(20*time.Second)))
	b.Add(ctx, trade("SPY", 99, 7, base.Add(40*time.Second)))
	b.Add(ctx, trade("SPY", 101, 3, base.Add(59*time.Second)))

	if sink.count() != 0 {
		t.Fatalf("bar emitted before its interval closed")
	}

	// first trade of the next minute closes the bucket
	b.Add(ctx, trade("SPY", 102, 1, base.Add(61*time.Second)))

	if sink.count() != 1 {
		t.Fatalf("expected one emitted bar, got %d", sink.count())
	}
	bar := sink.bars[0]
	if bar.Open != 100 || bar.High != 103 || bar.Low != 99 || bar.Close != 101 {
		t.Fatalf("bad OHLC: %+v", bar)
	}
	if bar.Volume != 25 {
		t.Fatalf("volume = %v, want 25", bar.Volume)
	}
	if !bar.Timestamp.Equal(base) {
		t.Fatalf("bucket timestamp = %v, want %v", bar.Timestamp, base)
	}
}

func TestBarBuilderKeepsSymbolsSeparate(t *testing.T) {
	sink := &barSink{}
	b := NewBarBuilder(time.Minute, time.Second, sink.emit)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	b.Add(ctx, trade("SPY", 100, 1, base))
	b.Add(ctx, trade("QQQ", 400, 2, base))
	b.Add(ctx, trade("SPY", 101, 1, base.Add(65*time.Second)))

	if sink.count() != 1 {
		t.Fatalf("expected only the SPY bucket to close, got %d", sink.count())
	}
	if sink.bars[0].Symbol != "SPY" {
		t.Fatalf("wrong symbol emitted: %s", sink.bars[0].Symbol)
	}
}

func TestBarBuilderFlush(t *testing.T) {
	sink := &barSink{}
	b := NewBarBuilder(time.Minute, time.Second, sink.emit)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	b.Add(ctx, trade("SPY", 100, 1, base))
	b.Add(ctx, trade("QQQ", 400, 2, base))

	b.Flush(ctx)
	if sink.count() != 2 {
		t.Fatalf("expected both open buckets flushed, got %d", sink.count())
	}
	b.Flush(ctx)
	if sink.count() != 2 {
		t.Fatalf("second flush should emit nothing")
	}
}

func TestBarBuilderStaleSweep(t *testing.T) {
	sink := &barSink{}
	b := NewBarBuilder(50*time.Millisecond, 10*time.Millisecond, sink.emit)
	ctx := context.Background()

	b.Add(ctx, trade("SPY", 100, 1, time.Now()))
	b.Start(ctx)
	defer b.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("stale bucket never swept")
	}
}
