package scoring

import (
	"math"

	"SignalDesk/internal/domain/models"
)

// SwingLevels finds local swing highs and lows over the given pivot window.
// A bar is a swing high when its high exceeds the highs of the `window` bars
// on each side; swing lows mirror that on lows. Strength grows with repeated
// touches of the same price zone.
func SwingLevels(bars []models.Bar, window int) []models.KeyLevel {
	if window < 1 {
		window = 2
	}
	if len(bars) < 2*window+1 {
		return nil
	}

	var levels []models.KeyLevel
	for i := window; i < len(bars)-window; i++ {
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
		}
		if isHigh {
			levels = addLevel(levels, models.LevelResistance, bars[i].High)
		}
		if isLow {
			levels = addLevel(levels, models.LevelSupport, bars[i].Low)
		}
	}
	return levels
}

// addLevel merges a new pivot into an existing level when it lies within
// 0.1% of it, bumping that level's strength, and appends otherwise.
func addLevel(levels []models.KeyLevel, t models.KeyLevelType, price float64) []models.KeyLevel {
	for i := range levels {
		if levels[i].Type != t {
			continue
		}
		if price > 0 && math.Abs(levels[i].Price-price)/price < 0.001 {
			levels[i].Strength = Clamp(levels[i].Strength + 15)
			return levels
		}
	}
	return append(levels, models.KeyLevel{Type: t, Price: price, Strength: 55})
}

// OpeningRange returns orb_high/orb_low levels from the first n bars of a
// session. Returns nil when fewer than n bars are available.
func OpeningRange(bars []models.Bar, n int) []models.KeyLevel {
	if n < 1 || len(bars) < n {
		return nil
	}
	hi, lo := bars[0].High, bars[0].Low
	for _, b := range bars[1:n] {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	return []models.KeyLevel{
		{Type: models.LevelORBHigh, Price: hi, Strength: 70},
		{Type: models.LevelORBLow, Price: lo, Strength: 70},
	}
}

// SessionExtremes returns pdh/pdl levels from a prior session's bars.
func SessionExtremes(prior []models.Bar) []models.KeyLevel {
	if len(prior) == 0 {
		return nil
	}
	hi, lo := prior[0].High, prior[0].Low
	for _, b := range prior[1:] {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	return []models.KeyLevel{
		{Type: models.LevelPDH, Price: hi, Strength: 80},
		{Type: models.LevelPDL, Price: lo, Strength: 80},
	}
}

// LevelScore rates how tightly price sits against the strongest nearby key
// level. Levels further than maxLevelDistance away contribute nothing.
func LevelScore(price float64, levels []models.KeyLevel) float64 {
	if price <= 0 || len(levels) == 0 {
		return 0
	}
	best := 0.0
	for _, lv := range levels {
		dist := math.Abs(price-lv.Price) / price
		if dist >= maxLevelDistance {
			continue
		}
		proximity := 1 - dist/maxLevelDistance
		if s := proximity * lv.Strength; s > best {
			best = s
		}
	}
	return Clamp(best)
}

// maxLevelDistance is the relative distance beyond which a level no longer
// supports a setup (0.5%).
const maxLevelDistance = 0.005
