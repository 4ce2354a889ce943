package repository

import (
	"context"
	"time"

	"SignalDesk/internal/domain/models"
)

// Timeframe represents bar resolution buckets.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1d Timeframe = "1d"
)

// HistoryProvider fetches historical bars, used to warm the detector before
// live bars start flowing.
type HistoryProvider interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Bar, error)
	GetLatestBars(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Bar, error)
}
