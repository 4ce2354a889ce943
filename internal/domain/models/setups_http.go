package models

// Requests and responses for the setups HTTP endpoints. Defined in domain for
// consistency and reuse.

type StreamRequest struct {
	Symbols string `query:"symbols" json:"symbols"`
	Alerts  bool   `query:"alerts" json:"alerts"`
}

type AnalyzeRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=12"`
}

type WatchlistUpdateRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=50,dive,required,max=12"`
}

type AlertsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=12"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit"`
}

type WatchlistResponse struct {
	Symbols []string `json:"symbols"`
}

type StatsResponse struct {
	IsRunning       bool  `json:"is_running"`
	WatchlistSize   int   `json:"watchlist_size"`
	BarCount        int64 `json:"bar_count"`
	AnalysisCount   int64 `json:"analysis_count"`
	SetupCount      int64 `json:"setup_count"`
	PendingAnalyses int   `json:"pending_analyses"`
}

// NewStatsResponse converts detector stats to their response form.
func NewStatsResponse(s DetectorStats) StatsResponse {
	return StatsResponse{
		IsRunning:       s.IsRunning,
		WatchlistSize:   s.WatchlistSize,
		BarCount:        s.BarCount,
		AnalysisCount:   s.AnalysisCount,
		SetupCount:      s.SetupCount,
		PendingAnalyses: s.PendingAnalyses,
	}
}

type KeyLevelResponse struct {
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Strength float64 `json:"strength"`
}

type SetupResponse struct {
	Symbol    string             `json:"symbol"`
	State     string             `json:"state"`
	Direction string             `json:"direction"`
	Score     LTPScore           `json:"score"`
	Grade     string             `json:"grade"`
	Price     float64            `json:"price"`
	Levels    []KeyLevelResponse `json:"levels,omitempty"`
	Timestamp int64              `json:"ts"`
}

// NewSetupResponse converts a Setup to its response form.
func NewSetupResponse(s Setup) SetupResponse {
	levels := make([]KeyLevelResponse, 0, len(s.Levels))
	for _, lv := range s.Levels {
		levels = append(levels, KeyLevelResponse{
			Type:     string(lv.Type),
			Price:    lv.Price,
			Strength: lv.Strength,
		})
	}
	return SetupResponse{
		Symbol:    s.Symbol,
		State:     string(s.State),
		Direction: string(s.Direction),
		Score:     s.Score,
		Grade:     s.Grade,
		Price:     s.Price,
		Levels:    levels,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}
