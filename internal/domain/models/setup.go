package models

import "time"

// LTPScore holds the level/trend/patience sub-scores and their weighted
// confluence. All values are within [0,100].
type LTPScore struct {
	Level    float64 `json:"level"`
	Trend    float64 `json:"trend"`
	Patience float64 `json:"patience"`
	Overall  float64 `json:"overall"`
}

// Grade buckets for a confluence score.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// SetupState is the per-symbol detector state.
type SetupState string

const (
	StateIdle    SetupState = "idle"
	StateForming SetupState = "forming"
	StateReady   SetupState = "ready"
)

// Direction is the trend direction recorded with a setup.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Setup is a detected trade setup for one symbol.
type Setup struct {
	Symbol    string
	State     SetupState
	Direction Direction
	Score     LTPScore
	Grade     string
	Price     float64
	Levels    []KeyLevel
	Timestamp time.Time
}

// DetectorStats is a snapshot of the detector's counters.
type DetectorStats struct {
	IsRunning       bool
	WatchlistSize   int
	BarCount        int64
	AnalysisCount   int64
	SetupCount      int64
	PendingAnalyses int
}
