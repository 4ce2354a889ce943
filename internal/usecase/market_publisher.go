package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
)

// MarketPublisher pushes feed events onto their broker channels, one channel
// per symbol for bars and trades. Receiver counts are not checked here: zero
// subscribers is normal when no client is streaming a symbol.
type MarketPublisher struct {
	bus     drepo.Bus
	metrics drepo.Metrics
}

// NewMarketPublisher creates a new MarketPublisher instance.
func NewMarketPublisher(bus drepo.Bus, metrics drepo.Metrics) *MarketPublisher {
	return &MarketPublisher{bus: bus, metrics: metrics}
}

// Process publishes a single trade to its symbol channel.
func (p *MarketPublisher) Process(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}

	start := time.Now()
	ev := models.NewTradeEvent(*t)
	if _, err := p.bus.Publish(ctx, models.TradeChannel(t.Symbol), ev); err != nil {
		p.metrics.RecordError("publish_trade")
		return fmt.Errorf("publish trade: %w", err)
	}

	p.metrics.RecordTradeIngested(t.Symbol)
	p.metrics.RecordLatency("publish_trade", time.Since(start).Seconds())
	return nil
}

// PublishBar publishes a completed bar to its symbol channel.
func (p *MarketPublisher) PublishBar(ctx context.Context, b *models.Bar) error {
	if b == nil {
		return fmt.Errorf("bar is nil")
	}

	start := time.Now()
	ev := models.NewBarEvent(*b)
	if _, err := p.bus.Publish(ctx, models.BarChannel(b.Symbol), ev); err != nil {
		p.metrics.RecordError("publish_bar")
		return fmt.Errorf("publish bar: %w", err)
	}

	p.metrics.RecordBarBuilt(b.Symbol)
	p.metrics.RecordLatency("publish_bar", time.Since(start).Seconds())
	return nil
}
