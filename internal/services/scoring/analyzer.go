package scoring

import (
	"errors"
	"math"

	"SignalDesk/internal/domain/models"
)

// ErrInsufficientData reports too few bars for a meaningful analysis.
var ErrInsufficientData = errors.New("scoring: insufficient bars")

// TrendScore rates trend quality from fast/slow EMA separation, fast-EMA
// slope and price position, and derives the trend direction from the
// separation sign. Direction is neutral when the separation is negligible.
func TrendScore(closes []float64, fastPeriod, slowPeriod int) (float64, models.Direction) {
	if len(closes) < 2 {
		return 0, models.DirectionNeutral
	}
	fast := CalculateEMA(closes, fastPeriod)
	slow := CalculateEMA(closes, slowPeriod)
	if slow == 0 {
		return 0, models.DirectionNeutral
	}

	sep := (fast - slow) / slow
	prevFast := CalculateEMA(closes[:len(closes)-1], fastPeriod)
	slope := fast - prevFast
	last := closes[len(closes)-1]

	dir := models.DirectionNeutral
	switch {
	case sep > minTrendSeparation:
		dir = models.DirectionBullish
	case sep < -minTrendSeparation:
		dir = models.DirectionBearish
	}

	// separation capped at 0.4% for full credit
	mag := math.Abs(sep) / 0.004
	if mag > 1 {
		mag = 1
	}

	aligned := 0.0
	if (slope > 0 && sep > 0) || (slope < 0 && sep < 0) {
		aligned = 1
	}
	onSide := 0.0
	if (last > slow && sep > 0) || (last < slow && sep < 0) {
		onSide = 1
	}

	score := 100 * (0.6*mag + 0.25*aligned + 0.15*onSide)
	if dir == models.DirectionNeutral {
		score *= 0.3
	}
	return Clamp(score), dir
}

// minTrendSeparation is the relative EMA separation below which the trend
// counts as neutral.
const minTrendSeparation = 0.0005

// PatienceScore rates the confirmation candle: a decisive body after range
// contraction, closing toward the trend extreme.
func PatienceScore(bars []models.Bar, dir models.Direction) float64 {
	if len(bars) < 3 {
		return 0
	}
	last := bars[len(bars)-1]
	rng := last.High - last.Low
	if rng <= 0 {
		return 0
	}

	body := math.Abs(last.Close-last.Open) / rng

	prev := bars[len(bars)-3 : len(bars)-1]
	avgPrev := (rangeOf(prev[0]) + rangeOf(prev[1])) / 2
	expansion := 0.0
	if avgPrev > 0 && rng > avgPrev {
		expansion = (rng - avgPrev) / avgPrev
		if expansion > 1 {
			expansion = 1
		}
	}

	closePos := 0.0
	switch dir {
	case models.DirectionBullish:
		closePos = (last.Close - last.Low) / rng
	case models.DirectionBearish:
		closePos = (last.High - last.Close) / rng
	default:
		closePos = 0.5
	}

	return Clamp(100 * (0.5*body + 0.3*expansion + 0.2*closePos))
}

func rangeOf(b models.Bar) float64 { return b.High - b.Low }

// Config tunes the analyzer. Zero values fall back to defaults.
type Config struct {
	FastEMAPeriod    int
	SlowEMAPeriod    int
	SwingWindow      int
	OpeningRangeBars int
	MinBars          int
}

func (c Config) withDefaults() Config {
	if c.FastEMAPeriod <= 0 {
		c.FastEMAPeriod = 9
	}
	if c.SlowEMAPeriod <= 0 {
		c.SlowEMAPeriod = 21
	}
	if c.SwingWindow <= 0 {
		c.SwingWindow = 2
	}
	if c.OpeningRangeBars <= 0 {
		c.OpeningRangeBars = 5
	}
	if c.MinBars <= 0 {
		c.MinBars = 10
	}
	return c
}

// Analysis is the outcome of scoring one symbol's recent bars.
type Analysis struct {
	Score     models.LTPScore
	Grade     string
	Direction models.Direction
	Price     float64
	Levels    []models.KeyLevel
}

// Analyzer composes the indicator, level and sub-score calculations into one
// pure scoring pass. It holds no per-symbol state.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with defaults applied.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// Analyze scores a symbol from its recent bars plus any session levels
// carried over from the prior day (pdh/pdl). Bars must be in arrival order.
func (a *Analyzer) Analyze(bars []models.Bar, session []models.KeyLevel) (Analysis, error) {
	if len(bars) < a.cfg.MinBars {
		return Analysis{}, ErrInsufficientData
	}

	closes := Closes(bars)
	last := bars[len(bars)-1]

	levels := SwingLevels(bars, a.cfg.SwingWindow)
	levels = append(levels, OpeningRange(bars, a.cfg.OpeningRangeBars)...)
	levels = append(levels, session...)
	if vwap := CalculateVWAP(bars); vwap > 0 {
		levels = append(levels, models.KeyLevel{Type: models.LevelVWAP, Price: vwap, Strength: 75})
	}
	if ema := CalculateEMA(closes, a.cfg.FastEMAPeriod); ema > 0 {
		levels = append(levels, models.KeyLevel{Type: models.LevelEMA, Price: ema, Strength: 60})
	}

	trend, dir := TrendScore(closes, a.cfg.FastEMAPeriod, a.cfg.SlowEMAPeriod)
	level := LevelScore(last.Close, levels)
	patience := PatienceScore(bars, dir)

	score := CalculateLTPScore(level, trend, patience)
	return Analysis{
		Score:     score,
		Grade:     GradeFor(score.Overall),
		Direction: dir,
		Price:     last.Close,
		Levels:    levels,
	}, nil
}
