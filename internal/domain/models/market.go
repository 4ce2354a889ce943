package models

import "time"

// Bar represents an OHLCV record for one symbol and interval.
type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// TypicalPrice is the (high+low+close)/3 price used for VWAP.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Trade represents a single print from the upstream feed.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// KeyLevelType enumerates the price levels the scorer measures against.
type KeyLevelType string

const (
	LevelSupport    KeyLevelType = "support"
	LevelResistance KeyLevelType = "resistance"
	LevelPDH        KeyLevelType = "pdh"
	LevelPDL        KeyLevelType = "pdl"
	LevelORBHigh    KeyLevelType = "orb_high"
	LevelORBLow     KeyLevelType = "orb_low"
	LevelVWAP       KeyLevelType = "vwap"
	LevelEMA        KeyLevelType = "ema"
)

// KeyLevel is a price level with a strength weighting.
type KeyLevel struct {
	Type     KeyLevelType
	Price    float64
	Strength float64 // [0,100]
}
