package models

import (
	"strings"
	"time"
)

// Broker channel layout. Market data fans out per symbol; derived setup and
// admin events ride shared channels.
const (
	ChannelSetupForming = "setup:forming"
	ChannelSetupReady   = "setup:ready"
	ChannelAdminAlerts  = "admin:alerts"

	barChannelPrefix   = "market:bar:"
	tradeChannelPrefix = "market:trade:"
)

// BarChannel returns the broker channel carrying bar events for a symbol.
func BarChannel(symbol string) string { return barChannelPrefix + symbol }

// TradeChannel returns the broker channel carrying trade events for a symbol.
func TradeChannel(symbol string) string { return tradeChannelPrefix + symbol }

// IsBarChannel reports whether ch carries bar events.
func IsBarChannel(ch string) bool { return strings.HasPrefix(ch, barChannelPrefix) }

// SetupChannels lists the shared channels carrying setup transitions.
func SetupChannels() []string {
	return []string{ChannelSetupForming, ChannelSetupReady}
}

// EventType discriminates wire events.
type EventType string

const (
	EventBar          EventType = "bar"
	EventTrade        EventType = "trade"
	EventSetupForming EventType = "setup_forming"
	EventSetupReady   EventType = "setup_ready"
	EventAdminAlert   EventType = "admin_alert"
)

// BarEvent is the wire form of a Bar published to the broker.
type BarEvent struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp int64     `json:"ts"` // unix milliseconds
}

// NewBarEvent converts a Bar to its wire form.
func NewBarEvent(b Bar) BarEvent {
	return BarEvent{
		Type:      EventBar,
		Symbol:    b.Symbol,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		Timestamp: b.Timestamp.UnixMilli(),
	}
}

// Bar converts the wire form back to a domain Bar.
func (e BarEvent) Bar() Bar {
	return Bar{
		Symbol:    e.Symbol,
		Open:      e.Open,
		High:      e.High,
		Low:       e.Low,
		Close:     e.Close,
		Volume:    e.Volume,
		Timestamp: time.UnixMilli(e.Timestamp),
	}
}

// TradeEvent is the wire form of a Trade published to the broker.
type TradeEvent struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp int64     `json:"ts"`
}

// NewTradeEvent converts a Trade to its wire form.
func NewTradeEvent(t Trade) TradeEvent {
	return TradeEvent{
		Type:      EventTrade,
		Symbol:    t.Symbol,
		Price:     t.Price,
		Size:      t.Size,
		Timestamp: t.Timestamp.UnixMilli(),
	}
}

// SetupEvent is the wire form of a detected setup transition.
type SetupEvent struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Score     LTPScore  `json:"score"`
	Grade     string    `json:"grade"`
	Price     float64   `json:"price"`
	Timestamp int64     `json:"ts"`
}

// NewSetupEvent converts a Setup to its wire form under the given event type.
func NewSetupEvent(t EventType, s Setup) SetupEvent {
	return SetupEvent{
		Type:      t,
		Symbol:    s.Symbol,
		Direction: s.Direction,
		Score:     s.Score,
		Grade:     s.Grade,
		Price:     s.Price,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

// AdminAlertEvent carries operational alerts for admin consumers.
type AdminAlertEvent struct {
	Type      EventType `json:"type"`
	Severity  string    `json:"severity"` // "info", "warning", "critical"
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"ts"`
}
