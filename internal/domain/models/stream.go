package models

// Gateway-generated stream frame types. Broker messages are forwarded
// verbatim and carry their own type field.
const (
	FrameConnecting = "connecting"
	FrameSubscribed = "subscribed"
	FrameHeartbeat  = "heartbeat"
	FrameError      = "error"
)

type ConnectingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"ts"`
}

type SubscribedFrame struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	Alerts    bool     `json:"alerts,omitempty"`
	Timestamp int64    `json:"ts"`
}

type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"ts"`
}

type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"ts"`
}
