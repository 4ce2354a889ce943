package repository

import "time"

// Duration returns the bar width for the timeframe. Unknown values fall
// back to one-minute bars, the live aggregation interval.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Resolution returns the feed provider's resolution code for the timeframe.
func (tf Timeframe) Resolution() string {
	switch tf {
	case TF5m:
		return "5"
	case TF1d:
		return "D"
	default:
		return "1"
	}
}
