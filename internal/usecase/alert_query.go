package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/util"
)

// AlertQuery provides business logic for retrieving stored setup alerts.
type AlertQuery struct {
	store domrepo.AlertStore
}

func NewAlertQuery(store domrepo.AlertStore) *AlertQuery {
	return &AlertQuery{store: store}
}

type GetAlertsParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetAlertsResult struct {
	Symbol string                 `json:"symbol"`
	From   time.Time              `json:"from"`
	To     time.Time              `json:"to"`
	Count  int                    `json:"count"`
	Alerts []models.SetupResponse `json:"alerts"`
}

// GetAlerts returns stored setups for one symbol. An empty window defaults
// to the trailing 24 hours.
func (uc *AlertQuery) GetAlerts(ctx context.Context, p GetAlertsParams) (*GetAlertsResult, error) {
	symbol := models.CanonicalSymbol(p.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.To.IsZero() {
		p.To = time.Now()
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-24 * time.Hour)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	// Aligned boundaries keep cache keys stable across near-identical requests.
	p.From, p.To = util.AlignFromTo(p.From, p.To, time.Minute)
	if p.Limit <= 0 {
		p.Limit = 500
	}
	if p.Limit > 5000 {
		p.Limit = 5000
	}

	setups, err := uc.store.Query(ctx, symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}

	alerts := make([]models.SetupResponse, 0, len(setups))
	for _, s := range setups {
		if s == nil {
			continue
		}
		alerts = append(alerts, models.NewSetupResponse(*s))
	}

	return &GetAlertsResult{
		Symbol: symbol,
		From:   p.From,
		To:     p.To,
		Count:  len(alerts),
		Alerts: alerts,
	}, nil
}
