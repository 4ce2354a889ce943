package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	xhttp "SignalDesk/pkg/http"
)

// HistoryClient fetches historical bars from the Finnhub REST API. The
// detector uses it to warm per-symbol history before live bars arrive.
type HistoryClient struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
}

// NewHistoryClient creates a REST history provider.
func NewHistoryClient(apiKey, baseURL string, client *xhttp.Client) drepo.HistoryProvider {
	return &HistoryClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

// candleResponse mirrors Finnhub's column-oriented candle payload.
type candleResponse struct {
	Status string    `json:"s"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
	Times  []int64   `json:"t"` // unix seconds
}

// GetBars fetches bars for a symbol between from and to.
func (h *HistoryClient) GetBars(ctx context.Context, symbol string, from, to time.Time, tf drepo.Timeframe) ([]models.Bar, error) {
	symbol = models.CanonicalSymbol(symbol)

	var resp candleResponse
	err := h.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: http.MethodGet,
		URL:    h.baseURL + "/stock/candle",
		QueryParams: map[string][]string{
			"symbol":     {symbol},
			"resolution": {tf.Resolution()},
			"from":       {strconv.FormatInt(from.Unix(), 10)},
			"to":         {strconv.FormatInt(to.Unix(), 10)},
			"token":      {h.apiKey},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	if resp.Status == "no_data" {
		return nil, nil
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("fetch candles %s: status %q", symbol, resp.Status)
	}

	n := len(resp.Times)
	if len(resp.Open) != n || len(resp.High) != n || len(resp.Low) != n || len(resp.Close) != n || len(resp.Volume) != n {
		return nil, fmt.Errorf("fetch candles %s: ragged columns", symbol)
	}

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Open:      resp.Open[i],
			High:      resp.High[i],
			Low:       resp.Low[i],
			Close:     resp.Close[i],
			Volume:    resp.Volume[i],
			Timestamp: time.Unix(resp.Times[i], 0).UTC(),
		})
	}
	return bars, nil
}

// GetLatestBars fetches the most recent n bars for a symbol.
func (h *HistoryClient) GetLatestBars(ctx context.Context, symbol string, n int, tf drepo.Timeframe) ([]models.Bar, error) {
	if n <= 0 {
		return nil, nil
	}

	to := time.Now()
	// over-fetch to ride out market closures
	from := to.Add(-time.Duration(n*8) * tf.Duration())

	bars, err := h.GetBars(ctx, symbol, from, to, tf)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}
