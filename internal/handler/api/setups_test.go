package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	models "SignalDesk/internal/domain/models"
	"SignalDesk/internal/service/auth"
	"SignalDesk/internal/service/redistributor"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/internal/usecase"

	"github.com/labstack/echo/v4"
)

// stubScorer returns one fixed analysis, or an error.
type stubScorer struct {
	score float64
	dir   models.Direction
	err   error
}

func (s stubScorer) Analyze(bars []models.Bar, _ []models.KeyLevel) (scoring.Analysis, error) {
	if s.err != nil {
		return scoring.Analysis{}, s.err
	}
	dir := s.dir
	if dir == "" {
		dir = models.DirectionBullish
	}
	price := 0.0
	if len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}
	return scoring.Analysis{
		Score:     models.LTPScore{Level: s.score, Trend: s.score, Patience: s.score, Overall: s.score},
		Grade:     scoring.GradeFor(s.score),
		Direction: dir,
		Price:     price,
	}, nil
}

type nullCaster struct{}

func (nullCaster) SetupForming(context.Context, models.Setup) int64 { return 0 }
func (nullCaster) SetupReady(context.Context, models.Setup) int64   { return 0 }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return env
}

func newSetupsServer(t *testing.T, scorer usecase.Scorer, symbols []string) (*echo.Echo, *usecase.SetupDetector) {
	t.Helper()
	log := testLogger(t)
	bus := &fakeBus{}
	rd := redistributor.New(bus, noopMetrics{}, log)
	detector := usecase.NewSetupDetector(rd, scorer, nullCaster{}, nil, nil, noopMetrics{}, log,
		usecase.DetectorConfig{FormingThreshold: 50, ReadyThreshold: 70, HistorySize: 10}, symbols)
	if err := detector.Start(context.Background()); err != nil {
		t.Fatalf("start detector: %v", err)
	}
	t.Cleanup(detector.Stop)

	authSvc, err := auth.New(streamTestSecret, nil, 0, log)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	e := echo.New()
	g := e.Group("/api", authSvc.Middleware())
	NewSetupsHandler(log, detector).RegisterRoutes(g)
	return e, detector
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+streamToken(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWatchlistEndpoints(t *testing.T) {
	e, _ := newSetupsServer(t, stubScorer{score: 40}, []string{"SPY"})

	// Unauthenticated requests are rejected by the middleware.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	if env := decodeEnvelope(t, rec); env.Status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", env.Status)
	}

	rec = doJSON(t, e, http.MethodGet, "/api/watchlist", "")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("get status = %d", env.Status)
	}
	var wl models.WatchlistResponse
	if err := json.Unmarshal(env.Data, &wl); err != nil {
		t.Fatalf("decode watchlist: %v", err)
	}
	if len(wl.Symbols) != 1 || wl.Symbols[0] != "SPY" {
		t.Fatalf("initial watchlist = %v", wl.Symbols)
	}

	rec = doJSON(t, e, http.MethodPost, "/api/watchlist", `{"symbols":["aapl","msft"]}`)
	env = decodeEnvelope(t, rec)
	if env.Status != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", env.Status)
	}
	if err := json.Unmarshal(env.Data, &wl); err != nil {
		t.Fatalf("decode watchlist: %v", err)
	}
	want := []string{"AAPL", "MSFT", "SPY"}
	if len(wl.Symbols) != 3 || wl.Symbols[0] != want[0] || wl.Symbols[1] != want[1] || wl.Symbols[2] != want[2] {
		t.Fatalf("watchlist after add = %v, want %v", wl.Symbols, want)
	}

	rec = doJSON(t, e, http.MethodDelete, "/api/watchlist", `{"symbols":["MSFT"]}`)
	env = decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("remove status = %d", env.Status)
	}
	if err := json.Unmarshal(env.Data, &wl); err != nil {
		t.Fatalf("decode watchlist: %v", err)
	}
	if len(wl.Symbols) != 2 || wl.Symbols[0] != "AAPL" || wl.Symbols[1] != "SPY" {
		t.Fatalf("watchlist after remove = %v", wl.Symbols)
	}

	// Empty symbol lists fail validation.
	rec = doJSON(t, e, http.MethodPost, "/api/watchlist", `{"symbols":[]}`)
	if env := decodeEnvelope(t, rec); env.Status != http.StatusBadRequest {
		t.Fatalf("empty add status = %d, want 400", env.Status)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	e, _ := newSetupsServer(t, stubScorer{score: 80}, []string{"SPY"})

	rec := doJSON(t, e, http.MethodPost, "/api/analyze", `{"symbol":"spy"}`)
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("analyze status = %d, body %s", env.Status, rec.Body.String())
	}
	var setup models.SetupResponse
	if err := json.Unmarshal(env.Data, &setup); err != nil {
		t.Fatalf("decode setup: %v", err)
	}
	if setup.Symbol != "SPY" || setup.State != string(models.StateReady) {
		t.Fatalf("setup = %+v, want SPY ready", setup)
	}
	if setup.Grade != "B" {
		t.Fatalf("grade = %q, want B for score 80", setup.Grade)
	}

	rec = doJSON(t, e, http.MethodPost, "/api/analyze", `{"symbol":"TSLA"}`)
	if env := decodeEnvelope(t, rec); env.Status != http.StatusNotFound {
		t.Fatalf("unwatched status = %d, want 404", env.Status)
	}

	rec = doJSON(t, e, http.MethodPost, "/api/analyze", `{}`)
	if env := decodeEnvelope(t, rec); env.Status != http.StatusBadRequest {
		t.Fatalf("missing symbol status = %d, want 400", env.Status)
	}
}

func TestAnalyzeInsufficientData(t *testing.T) {
	e, _ := newSetupsServer(t, stubScorer{err: scoring.ErrInsufficientData}, []string{"SPY"})

	rec := doJSON(t, e, http.MethodPost, "/api/analyze", `{"symbol":"SPY"}`)
	if env := decodeEnvelope(t, rec); env.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", env.Status)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e, detector := newSetupsServer(t, stubScorer{score: 40}, []string{"SPY", "QQQ"})

	rec := doJSON(t, e, http.MethodGet, "/api/stats", "")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("stats status = %d", env.Status)
	}
	var stats models.StatsResponse
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if !stats.IsRunning || stats.WatchlistSize != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	detector.Stop()
	rec = doJSON(t, e, http.MethodGet, "/api/stats", "")
	env = decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.IsRunning {
		t.Fatalf("expected stopped detector in stats")
	}
}

func TestHealthEndpoints(t *testing.T) {
	log := testLogger(t)
	bus := &fakeBus{}
	e := echo.New()
	NewHealthHandler(log, bus, nil).RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}

	bus.pingErr = context.DeadlineExceeded
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with dead broker = %d, want 503", rec.Code)
	}
}
