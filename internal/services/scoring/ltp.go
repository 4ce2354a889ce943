package scoring

import (
	"math"

	"SignalDesk/internal/domain/models"
)

// Confluence weights. They sum to 1.
const (
	WeightLevel    = 0.35
	WeightTrend    = 0.35
	WeightPatience = 0.30
)

// Clamp bounds a sub-score to [0,100].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CalculateLTPScore clamps the level/trend/patience sub-scores and combines
// them into the weighted confluence score, rounded to the nearest integer.
func CalculateLTPScore(level, trend, patience float64) models.LTPScore {
	l := Clamp(level)
	t := Clamp(trend)
	p := Clamp(patience)
	overall := math.Round(WeightLevel*l + WeightTrend*t + WeightPatience*p)
	return models.LTPScore{
		Level:    l,
		Trend:    t,
		Patience: p,
		Overall:  overall,
	}
}

// GradeFor maps a confluence score to its letter grade.
func GradeFor(overall float64) string {
	switch {
	case overall >= 90:
		return models.GradeA
	case overall >= 80:
		return models.GradeB
	case overall >= 70:
		return models.GradeC
	case overall >= 60:
		return models.GradeD
	default:
		return models.GradeF
	}
}
