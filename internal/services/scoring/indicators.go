package scoring

import (
	"SignalDesk/internal/domain/models"
)

// CalculateEMA computes an exponential moving average with smoothing
// 2/(period+1), seeded from the first element. An empty series yields 0; a
// series shorter than period yields its last element rather than an error.
func CalculateEMA(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period <= 1 || len(series) < period {
		return series[len(series)-1]
	}
	alpha := 2.0 / (float64(period) + 1)
	ema := series[0]
	for _, v := range series[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// CalculateVWAP computes the volume-weighted average of typical prices
// (h+l+c)/3. It returns 0 for an empty input or zero total volume.
func CalculateVWAP(bars []models.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var pv, vol float64
	for _, b := range bars {
		pv += b.TypicalPrice() * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// Closes extracts the close series from bars.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
