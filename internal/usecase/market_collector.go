package usecase

import (
	"context"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	mid "SignalDesk/internal/middleware"
	"SignalDesk/pkg/logger"
)

// Alerter carries operational alerts to admin subscribers. Satisfied by the
// broadcaster; may be nil.
type Alerter interface {
	AdminAlert(ctx context.Context, severity, source, message string) int64
}

// MarketCollector drives the upstream feed: it connects, subscribes the
// configured symbols, folds trades into bars, and forwards both through the
// pipeline onto the broker.
type MarketCollector struct {
	stream        drepo.MarketStream
	pipe          *mid.RealtimePipeline
	builder       *BarBuilder
	alerter       Alerter
	metrics       drepo.Metrics
	log           *logger.Logger
	symbols       []string
	maxReconnects int
}

// NewMarketCollector creates a new MarketCollector instance.
func NewMarketCollector(
	stream drepo.MarketStream,
	pipe *mid.RealtimePipeline,
	builder *BarBuilder,
	alerter Alerter,
	metrics drepo.Metrics,
	log *logger.Logger,
	symbols []string,
	maxReconnects int,
) *MarketCollector {
	return &MarketCollector{
		stream:        stream,
		pipe:          pipe,
		builder:       builder,
		alerter:       alerter,
		metrics:       metrics,
		log:           log,
		symbols:       models.CanonicalSymbols(symbols, 0),
		maxReconnects: maxReconnects,
	}
}

// IsConnected returns true if the market stream is connected.
func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Symbols returns the canonical symbols the collector tracks.
func (c *MarketCollector) Symbols() []string { return c.symbols }

func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.symbols); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	c.builder.Start(ctx)

	trCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, trCh, errCh)

	c.log.Info("collector: started", logger.Strings("symbols", c.symbols))
	return nil
}

func (c *MarketCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				// closed without an error only happens at shutdown
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("collector: stream error", logger.Error(err))
			c.alert(ctx, "warning", "market stream dropped, reconnecting")
			if !c.reconnect(ctx) {
				if ctx.Err() == nil {
					c.alert(ctx, "critical", "market feed down, reconnect attempts exhausted")
				}
				return
			}
			c.alert(ctx, "info", "market stream reconnected")
			// fresh read loop after reconnect
			trCh, errCh = c.stream.Read(ctx)
		case t, ok := <-trCh:
			if !ok {
				// read loop ended; wait for the error side to drive reconnect
				trCh = nil
				continue
			}
			if t == nil {
				continue
			}
			c.builder.Add(ctx, t)
			_ = c.pipe.Process(ctx, t)
		}
	}
}

func (c *MarketCollector) alert(ctx context.Context, severity, message string) {
	if c.alerter == nil {
		return
	}
	c.alerter.AdminAlert(ctx, severity, "feed", message)
}

// reconnect retries until the stream is back or the attempt budget runs out.
func (c *MarketCollector) reconnect(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		if c.maxReconnects > 0 && attempt > c.maxReconnects {
			c.log.Error("collector: giving up after repeated reconnects",
				logger.Int("attempts", attempt-1))
			return false
		}
		c.log.Warn("collector: reconnecting", logger.Int("attempt", attempt))
		if err := c.stream.Reconnect(ctx); err != nil {
			c.metrics.RecordError("reconnect")
			c.log.Error("collector: reconnect failed", logger.Error(err))
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		return true
	}
}

// Shutdown stops the pipeline, flushes open bars, and closes the stream.
func (c *MarketCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	c.builder.Flush(ctx)
	c.builder.Stop()
	return c.stream.Close()
}
