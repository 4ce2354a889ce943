// Package levels caches prior-session reference levels for the scorer.
// Levels are computed once per trading day by the rollover job and read on
// every analysis, so they live in Redis behind the shared cache service and
// survive process restarts.
package levels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/cache"
	"SignalDesk/pkg/logger"
)

const (
	keyPrefix = "levels:session"

	// defaultTTL outlives one trading day so levels stay readable through
	// the next session even when a rollover run is missed.
	defaultTTL = 36 * time.Hour
)

// DayLevels is the cached per-symbol record.
type DayLevels struct {
	Symbol     string            `json:"symbol"`
	TradingDay string            `json:"trading_day"` // YYYY-MM-DD
	Levels     []models.KeyLevel `json:"levels"`
}

// Service reads and writes session level records. It satisfies the
// detector's SessionLevelSource.
type Service struct {
	cache  cache.Service
	logger *logger.Logger
	ttl    time.Duration
}

func New(c cache.Service, lgr *logger.Logger) *Service {
	return &Service{cache: c, logger: lgr, ttl: defaultTTL}
}

// Key returns the cache key holding the record for symbol.
func Key(symbol string) string {
	return cache.GenerateKey(keyPrefix, symbol)
}

// SessionLevels returns the cached prior-session levels for symbol, or nil
// when nothing is cached. Read errors are demoted to a miss so analysis
// proceeds without session context.
func (s *Service) SessionLevels(ctx context.Context, symbol string) []models.KeyLevel {
	var rec DayLevels
	if err := s.cache.Get(ctx, Key(symbol), &rec); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("session levels read failed",
				logger.String("symbol", symbol),
				logger.Error(err))
		}
		return nil
	}
	return rec.Levels
}

// Store writes one symbol's record.
func (s *Service) Store(ctx context.Context, rec DayLevels) error {
	if rec.Symbol == "" {
		return fmt.Errorf("levels record needs a symbol")
	}
	return s.cache.Set(ctx, Key(rec.Symbol), rec, s.ttl)
}

// StoreBatch writes all records in one round trip. Records without a symbol
// are skipped.
func (s *Service) StoreBatch(ctx context.Context, recs []DayLevels) error {
	values := make(map[string]interface{}, len(recs))
	for _, rec := range recs {
		if rec.Symbol == "" {
			continue
		}
		values[Key(rec.Symbol)] = rec
	}
	if len(values) == 0 {
		return nil
	}
	return s.cache.MSet(ctx, values, s.ttl)
}

// Snapshot bulk-reads the cached records for symbols. Symbols with no record
// are absent from the result.
func (s *Service) Snapshot(ctx context.Context, symbols []string) (map[string]DayLevels, error) {
	keys := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		keys = append(keys, Key(sym))
	}

	byKey, err := cache.MGetTyped[DayLevels](ctx, s.cache, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]DayLevels, len(byKey))
	for _, rec := range byKey {
		out[rec.Symbol] = rec
	}
	return out, nil
}

// Purge drops every cached session record. Rollover purges before writing so
// symbols dropped from the watchlist stop serving stale levels.
func (s *Service) Purge(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, cache.BuildPattern(keyPrefix+":"))
}
