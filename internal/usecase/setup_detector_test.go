package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/redistributor"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordTradeIngested(string)             {}
func (noopMetrics) RecordBarBuilt(string)                  {}
func (noopMetrics) RecordDelivery(string)                  {}
func (noopMetrics) RecordDropped(string)                   {}
func (noopMetrics) RecordAnalysis(string, string, float64) {}
func (noopMetrics) RecordSetup(string)                     {}
func (noopMetrics) RecordBroadcast(string, int64)          {}
func (noopMetrics) RecordStreamClients(int)                {}
func (noopMetrics) RecordLatency(string, float64)          {}
func (noopMetrics) RecordError(string)                     {}

type fakeSub struct {
	mu       sync.Mutex
	channels map[string]bool
	out      chan repository.BusMessage
	closed   bool
}

func (s *fakeSub) Messages() <-chan repository.BusMessage { return s.out }

func (s *fakeSub) Add(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		s.channels[ch] = true
	}
	return nil
}

func (s *fakeSub) Remove(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

func (s *fakeSub) has(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

type fakeBus struct {
	mu  sync.Mutex
	sub *fakeSub
}

func (b *fakeBus) Subscribe(_ context.Context, channels ...string) (repository.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSub{channels: make(map[string]bool), out: make(chan repository.BusMessage, 64)}
	for _, ch := range channels {
		s.channels[ch] = true
	}
	b.sub = s
	return s, nil
}

func (b *fakeBus) Publish(context.Context, string, interface{}) (int64, error) { return 0, nil }
func (b *fakeBus) Ping(context.Context) error                                  { return nil }
func (b *fakeBus) Close() error                                                { return nil }

// scriptedScorer returns a fixed score sequence regardless of the bars.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	dirs   []models.Direction
	calls  int
	block  chan struct{} // when set, Analyze waits on it
}

func (s *scriptedScorer) Analyze(bars []models.Bar, _ []models.KeyLevel) (scoring.Analysis, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if idx >= len(s.scores) {
		idx = len(s.scores) - 1
	}
	score := s.scores[idx]
	dir := models.DirectionBullish
	if s.dirs != nil {
		dir = s.dirs[idx]
	}

	price := 0.0
	if len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}
	return scoring.Analysis{
		Score:     models.LTPScore{Level: score, Trend: score, Patience: score, Overall: score},
		Grade:     scoring.GradeFor(score),
		Direction: dir,
		Price:     price,
	}, nil
}

type recordingCaster struct {
	mu       sync.Mutex
	formings []models.Setup
	readys   []models.Setup
}

func (c *recordingCaster) SetupForming(_ context.Context, s models.Setup) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.formings = append(c.formings, s)
	return 1
}

func (c *recordingCaster) SetupReady(_ context.Context, s models.Setup) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readys = append(c.readys, s)
	return 1
}

func (c *recordingCaster) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.formings), len(c.readys)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestDetector(t *testing.T, scorer Scorer, symbols []string) (*SetupDetector, *fakeBus, *recordingCaster) {
	t.Helper()
	bus := &fakeBus{}
	log := testLogger(t)
	dist := redistributor.New(bus, noopMetrics{}, log)
	caster := &recordingCaster{}
	d := NewSetupDetector(dist, scorer, caster, nil, nil, noopMetrics{}, log, DetectorConfig{
		FormingThreshold: 50,
		ReadyThreshold:   70,
		HistorySize:      10,
	}, symbols)
	return d, bus, caster
}

func pushBar(t *testing.T, bus *fakeBus, symbol string, close float64) {
	t.Helper()
	bar := models.Bar{
		Symbol: symbol, Open: close, High: close, Low: close, Close: close,
		Volume: 100, Timestamp: time.Now(),
	}
	payload, err := json.Marshal(models.NewBarEvent(bar))
	if err != nil {
		t.Fatalf("marshal bar: %v", err)
	}
	bus.sub.out <- repository.BusMessage{Channel: models.BarChannel(symbol), Payload: payload}
}

func waitStats(t *testing.T, d *SetupDetector, cond func(models.DetectorStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(d.Stats()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting on detector stats, have %+v", d.Stats())
}

func TestDetectorScoreSequence(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{40, 55, 75, 75, 40}}
	d, bus, caster := newTestDetector(t, scorer, []string{"SPY"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	for i := 1; i <= 5; i++ {
		pushBar(t, bus, "SPY", 100+float64(i))
		want := int64(i)
		waitStats(t, d, func(s models.DetectorStats) bool {
			return s.AnalysisCount == want && s.PendingAnalyses == 0
		})
	}

	formings, readys := caster.counts()
	if formings != 1 {
		t.Fatalf("expected exactly one forming event, got %d", formings)
	}
	if readys != 1 {
		t.Fatalf("expected exactly one ready event, got %d", readys)
	}
	if got := caster.formings[0].Score.Overall; got != 55 {
		t.Fatalf("forming emitted at score %v, want 55", got)
	}
	if got := caster.readys[0].Score.Overall; got != 75 {
		t.Fatalf("ready emitted at score %v, want 75", got)
	}

	state, ok := d.SymbolState("SPY")
	if !ok || state != models.StateIdle {
		t.Fatalf("expected idle after the score fell away, got %q", state)
	}

	stats := d.Stats()
	if stats.BarCount != 5 || stats.AnalysisCount != 5 || stats.SetupCount != 2 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

func TestDetectorDirectionFlipResets(t *testing.T) {
	scorer := &scriptedScorer{
		scores: []float64{60, 60},
		dirs:   []models.Direction{models.DirectionBullish, models.DirectionBearish},
	}
	d, bus, caster := newTestDetector(t, scorer, []string{"SPY"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	pushBar(t, bus, "SPY", 100)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.AnalysisCount == 1 && s.PendingAnalyses == 0 })
	pushBar(t, bus, "SPY", 99)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.AnalysisCount == 2 && s.PendingAnalyses == 0 })

	formings, readys := caster.counts()
	if readys != 0 {
		t.Fatalf("no ready expected, got %d", readys)
	}
	// the flip resets to idle, and the bearish score forms a fresh setup
	if formings != 2 {
		t.Fatalf("expected a second forming after the flip, got %d", formings)
	}
	if caster.formings[0].Direction != models.DirectionBullish {
		t.Fatalf("first forming direction = %s", caster.formings[0].Direction)
	}
	if caster.formings[1].Direction != models.DirectionBearish {
		t.Fatalf("second forming direction = %s", caster.formings[1].Direction)
	}
}

func TestDetectorCoalescesBarsInFlight(t *testing.T) {
	gate := make(chan struct{})
	scorer := &scriptedScorer{scores: []float64{40, 75}, block: gate}
	d, bus, caster := newTestDetector(t, scorer, []string{"SPY"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	pushBar(t, bus, "SPY", 100)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.PendingAnalyses == 1 })

	// bars landing while the first analysis is stuck coalesce into a single
	// re-run over the latest history once it completes
	pushBar(t, bus, "SPY", 101)
	pushBar(t, bus, "SPY", 102)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.BarCount == 3 })

	close(gate)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.PendingAnalyses == 0 })

	if got := d.Stats().AnalysisCount; got != 2 {
		t.Fatalf("expected exactly one re-run after the in-flight analysis, got %d analyses", got)
	}
	// the re-run saw the later bars, so its threshold crossing is announced
	if _, readys := caster.counts(); readys != 1 {
		t.Fatalf("re-run transition not broadcast, readys = %d", readys)
	}
}

func TestDetectorWatchlistManagement(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{40}}
	d, bus, _ := newTestDetector(t, scorer, []string{"spy"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if err := d.AddSymbols(context.Background(), []string{"qqq", "SPY"}); err != nil {
		t.Fatalf("add symbols: %v", err)
	}
	want := []string{"QQQ", "SPY"}
	got := d.Watchlist()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("watchlist = %v, want %v", got, want)
	}
	if !bus.sub.has("market:bar:QQQ") {
		t.Fatalf("added symbol not subscribed upstream")
	}

	d.RemoveSymbols([]string{"QQQ"})
	if bus.sub.has("market:bar:QQQ") {
		t.Fatalf("removed symbol still subscribed upstream")
	}
	if got := d.Watchlist(); len(got) != 1 || got[0] != "SPY" {
		t.Fatalf("watchlist after remove = %v", got)
	}

	stats := d.Stats()
	if !stats.IsRunning || stats.WatchlistSize != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	d.Stop()
	if d.Stats().IsRunning {
		t.Fatalf("IsRunning should be false after Stop")
	}
}

func TestAnalyzeNow(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{80}}
	d, _, caster := newTestDetector(t, scorer, []string{"SPY"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	setup, err := d.AnalyzeNow(context.Background(), "spy")
	if err != nil {
		t.Fatalf("analyze now: %v", err)
	}
	if setup.Symbol != "SPY" {
		t.Fatalf("symbol not canonicalized: %q", setup.Symbol)
	}
	if setup.State != models.StateReady {
		t.Fatalf("expected ready at score 80, got %q", setup.State)
	}
	if _, readys := caster.counts(); readys != 1 {
		t.Fatalf("analyze-now transition should broadcast")
	}

	if _, err := d.AnalyzeNow(context.Background(), "TSLA"); err != ErrNotWatched {
		t.Fatalf("expected ErrNotWatched, got %v", err)
	}
}

func TestSweepIdleResetsQuietSetups(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{60}}
	bus := &fakeBus{}
	log := testLogger(t)
	dist := redistributor.New(bus, noopMetrics{}, log)
	caster := &recordingCaster{}
	d := NewSetupDetector(dist, scorer, caster, nil, nil, noopMetrics{}, log, DetectorConfig{
		FormingThreshold: 50,
		ReadyThreshold:   70,
		HistorySize:      10,
		IdleReset:        10 * time.Millisecond,
	}, []string{"SPY"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	pushBar(t, bus, "SPY", 100)
	waitStats(t, d, func(s models.DetectorStats) bool { return s.AnalysisCount == 1 && s.PendingAnalyses == 0 })

	if state, _ := d.SymbolState("SPY"); state != models.StateForming {
		t.Fatalf("expected forming before sweep, got %q", state)
	}

	time.Sleep(20 * time.Millisecond)
	if swept := d.SweepIdle(); swept != 1 {
		t.Fatalf("expected one setup swept, got %d", swept)
	}
	if state, _ := d.SymbolState("SPY"); state != models.StateIdle {
		t.Fatalf("expected idle after sweep, got %q", state)
	}
}
