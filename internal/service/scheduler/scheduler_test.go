package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/levels"
	"SignalDesk/pkg/cache"
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fakeDetector struct {
	symbols    []string
	sweepCalls int
}

func (f *fakeDetector) Watchlist() []string { return f.symbols }

func (f *fakeDetector) SweepIdle() int {
	f.sweepCalls++
	return 3
}

type fakeHistory struct {
	mu   sync.Mutex
	bars map[string][]models.Bar
	errs map[string]error
}

func (f *fakeHistory) GetBars(_ context.Context, symbol string, _, _ time.Time, _ drepo.Timeframe) ([]models.Bar, error) {
	return f.GetLatestBars(context.Background(), symbol, 0, drepo.TF1d)
}

func (f *fakeHistory) GetLatestBars(_ context.Context, symbol string, _ int, _ drepo.Timeframe) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) Sweep(_ time.Duration) int {
	f.calls++
	return 2
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(data)
	return nil
}

func (m *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *mapCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *mapCache) Exists(_ context.Context, keys ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *mapCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	for k, v := range values {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *mapCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *mapCache) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "locked"
	return true, nil
}

func (m *mapCache) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func dayBar(symbol string, y int, mo time.Month, d int, hi, lo float64) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Open:      lo + 1,
		High:      hi,
		Low:       lo,
		Close:     hi - 1,
		Volume:    1000,
		Timestamp: time.Date(y, mo, d, 21, 0, 0, 0, time.UTC),
	}
}

func testScheduler(t *testing.T, det *fakeDetector, hist *fakeHistory, sweepers ...Sweeper) (*Scheduler, *levels.Service, *mapCache) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Scheduler.Timezone = "UTC"

	store := newMapCache()
	lvls := levels.New(store, testLogger(t))

	s, err := New(cfg, det, hist, lvls, store, testLogger(t), sweepers...)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, lvls, store
}

func TestRolloverStoresPriorDayLevels(t *testing.T) {
	det := &fakeDetector{symbols: []string{"QQQ", "SPY"}}
	hist := &fakeHistory{bars: map[string][]models.Bar{
		"SPY": {
			dayBar("SPY", 2024, time.March, 13, 450, 440),
			dayBar("SPY", 2024, time.March, 14, 455, 445),
		},
		"QQQ": {
			dayBar("QQQ", 2024, time.March, 14, 390, 385),
		},
	}}
	s, lvls, _ := testScheduler(t, det, hist)

	if err := s.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	got := lvls.SessionLevels(context.Background(), "SPY")
	if len(got) != 2 {
		t.Fatalf("expected pdh and pdl, got %+v", got)
	}
	if got[0].Type != models.LevelPDH || got[0].Price != 455 {
		t.Fatalf("unexpected pdh %+v", got[0])
	}
	if got[1].Type != models.LevelPDL || got[1].Price != 445 {
		t.Fatalf("unexpected pdl %+v", got[1])
	}

	snap, err := lvls.Snapshot(context.Background(), det.symbols)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap["SPY"].TradingDay != "2024-03-14" {
		t.Fatalf("unexpected trading day %q", snap["SPY"].TradingDay)
	}
	if snap["QQQ"].Levels[0].Price != 390 {
		t.Fatalf("unexpected QQQ pdh %+v", snap["QQQ"].Levels)
	}
}

func TestRolloverHoldsLockAfterSuccess(t *testing.T) {
	det := &fakeDetector{symbols: []string{"SPY"}}
	hist := &fakeHistory{bars: map[string][]models.Bar{
		"SPY": {dayBar("SPY", 2024, time.March, 14, 455, 445)},
	}}
	s, lvls, _ := testScheduler(t, det, hist)
	ctx := context.Background()

	if err := s.Rollover(ctx); err != nil {
		t.Fatalf("first rollover: %v", err)
	}

	// A second run finds the lock taken and must not rewrite the levels.
	hist.mu.Lock()
	hist.bars["SPY"] = []models.Bar{dayBar("SPY", 2024, time.March, 15, 999, 1)}
	hist.mu.Unlock()

	if err := s.Rollover(ctx); err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if got := lvls.SessionLevels(ctx, "SPY"); got[0].Price != 455 {
		t.Fatalf("levels were rewritten while locked: %+v", got)
	}
}

func TestRolloverReleasesLockOnFailure(t *testing.T) {
	det := &fakeDetector{symbols: []string{"SPY"}}
	hist := &fakeHistory{
		bars: map[string][]models.Bar{},
		errs: map[string]error{"SPY": errors.New("provider down")},
	}
	s, lvls, _ := testScheduler(t, det, hist)
	ctx := context.Background()

	if err := s.Rollover(ctx); err == nil {
		t.Fatal("expected rollover failure when every fetch fails")
	}

	// Lock must be free again so a retry can succeed.
	hist.mu.Lock()
	hist.errs = nil
	hist.bars["SPY"] = []models.Bar{dayBar("SPY", 2024, time.March, 14, 455, 445)}
	hist.mu.Unlock()

	if err := s.Rollover(ctx); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := lvls.SessionLevels(ctx, "SPY"); len(got) != 2 {
		t.Fatalf("expected levels after retry, got %+v", got)
	}
}

func TestRolloverEmptyWatchlist(t *testing.T) {
	det := &fakeDetector{}
	s, _, store := testScheduler(t, det, &fakeHistory{})

	if err := s.Rollover(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	store.mu.Lock()
	n := len(store.data)
	store.mu.Unlock()
	if n != 1 { // only the lock key
		t.Fatalf("expected only the lock key in cache, got %d entries", n)
	}
}

func TestSweepRunsDetectorAndLimiters(t *testing.T) {
	det := &fakeDetector{}
	sw := &fakeSweeper{}
	s, _, _ := testScheduler(t, det, &fakeHistory{}, sw)

	s.runSweep()

	if det.sweepCalls != 1 {
		t.Fatalf("detector sweep called %d times", det.sweepCalls)
	}
	if sw.calls != 1 {
		t.Fatalf("limiter sweep called %d times", sw.calls)
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scheduler.Timezone = "Not/AZone"

	_, err := New(cfg, &fakeDetector{}, &fakeHistory{}, levels.New(newMapCache(), testLogger(t)), newMapCache(), testLogger(t))
	if err == nil {
		t.Fatal("expected timezone error")
	}
}
