package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/redistributor"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/pkg/logger"
)

var (
	// ErrNotWatched is returned for symbols outside the watchlist.
	ErrNotWatched = errors.New("detector: symbol not watched")
	// ErrAnalysisInFlight is returned when a symbol's analysis slot is taken.
	ErrAnalysisInFlight = errors.New("detector: analysis already in flight")
)

// Scorer produces an analysis from recent bars.
type Scorer interface {
	Analyze(bars []models.Bar, session []models.KeyLevel) (scoring.Analysis, error)
}

// SetupBroadcaster announces setup transitions. Implementations never fail;
// they report how many subscribers heard the announcement.
type SetupBroadcaster interface {
	SetupForming(ctx context.Context, s models.Setup) int64
	SetupReady(ctx context.Context, s models.Setup) int64
}

// SessionLevelSource provides prior-session key levels for a symbol.
type SessionLevelSource interface {
	SessionLevels(ctx context.Context, symbol string) []models.KeyLevel
}

// DetectorConfig tunes the setup detector.
type DetectorConfig struct {
	FormingThreshold float64
	ReadyThreshold   float64
	HistorySize      int
	WarmupBars       int
	IdleReset        time.Duration // 0 disables the idle sweep
}

// SetupDetector watches a set of symbols, scores every completed bar, and
// announces edge-triggered setup transitions. Bars arrive through the
// redistributor like any other subscriber; analyses run one per symbol at a
// time, and failures are logged and skipped rather than propagated.
type SetupDetector struct {
	dist    *redistributor.Redistributor
	scorer  Scorer
	caster  SetupBroadcaster
	history drepo.HistoryProvider // optional, warms new symbols
	levels  SessionLevelSource    // optional, prior-session levels
	metrics drepo.Metrics
	log     *logger.Logger
	cfg     DetectorConfig

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	stopFn  context.CancelFunc
	states  map[string]*symbolState
	subs    map[string]*redistributor.Subscription

	barCount      atomic.Int64
	analysisCount atomic.Int64
	setupCount    atomic.Int64
	pending       atomic.Int32
}

// NewSetupDetector creates a detector with the given initial watchlist. The
// watchlist is tracked immediately; subscriptions open on Start.
func NewSetupDetector(
	dist *redistributor.Redistributor,
	scorer Scorer,
	caster SetupBroadcaster,
	history drepo.HistoryProvider,
	levels SessionLevelSource,
	metrics drepo.Metrics,
	log *logger.Logger,
	cfg DetectorConfig,
	symbols []string,
) *SetupDetector {
	if cfg.FormingThreshold <= 0 {
		cfg.FormingThreshold = 50
	}
	if cfg.ReadyThreshold <= 0 {
		cfg.ReadyThreshold = 70
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}

	d := &SetupDetector{
		dist:    dist,
		scorer:  scorer,
		caster:  caster,
		history: history,
		levels:  levels,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		states:  make(map[string]*symbolState),
		subs:    make(map[string]*redistributor.Subscription),
	}
	for _, s := range models.CanonicalSymbols(symbols, 0) {
		d.states[s] = newSymbolState()
	}
	return d
}

// Start opens subscriptions for the whole watchlist. Starting an already
// running detector is a no-op.
func (d *SetupDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.runCtx = runCtx
	d.stopFn = cancel
	d.running = true
	watch := d.watchlistLocked()
	d.mu.Unlock()

	for _, sym := range watch {
		d.warmup(runCtx, sym)
	}
	if err := d.subscribeSymbols(runCtx, watch); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		cancel()
		return err
	}

	d.log.Info("detector: started",
		logger.Strings("watchlist", watch),
		logger.Float64("forming_threshold", d.cfg.FormingThreshold),
		logger.Float64("ready_threshold", d.cfg.ReadyThreshold))
	return nil
}

// Stop closes all subscriptions. The watchlist and counters survive so a
// later Start resumes where it left off. Idempotent.
func (d *SetupDetector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	if d.stopFn != nil {
		d.stopFn()
	}
	subs := make([]*redistributor.Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.subs = make(map[string]*redistributor.Subscription)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	d.log.Info("detector: stopped")
}

// AddSymbols extends the watchlist. New symbols are warmed and subscribed
// immediately when the detector is running.
func (d *SetupDetector) AddSymbols(ctx context.Context, symbols []string) error {
	canonical := models.CanonicalSymbols(symbols, 0)

	d.mu.Lock()
	var added []string
	for _, sym := range canonical {
		if _, ok := d.states[sym]; !ok {
			d.states[sym] = newSymbolState()
			added = append(added, sym)
		}
	}
	running := d.running
	d.mu.Unlock()

	if !running || len(added) == 0 {
		return nil
	}
	for _, sym := range added {
		d.warmup(ctx, sym)
	}
	return d.subscribeSymbols(ctx, added)
}

// RemoveSymbols drops symbols from the watchlist and closes their
// subscriptions. Unknown symbols are ignored.
func (d *SetupDetector) RemoveSymbols(symbols []string) {
	canonical := models.CanonicalSymbols(symbols, 0)

	d.mu.Lock()
	var subs []*redistributor.Subscription
	for _, sym := range canonical {
		delete(d.states, sym)
		if sub, ok := d.subs[sym]; ok {
			subs = append(subs, sub)
			delete(d.subs, sym)
		}
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Watchlist returns the watched symbols in sorted order.
func (d *SetupDetector) Watchlist() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watchlistLocked()
}

func (d *SetupDetector) watchlistLocked() []string {
	out := make([]string, 0, len(d.states))
	for sym := range d.states {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SymbolState reports the current setup state for one symbol.
func (d *SetupDetector) SymbolState(symbol string) (models.SetupState, bool) {
	st := d.stateFor(models.CanonicalSymbol(symbol))
	if st == nil {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, true
}

// ActiveSetups returns the symbols currently forming or ready.
func (d *SetupDetector) ActiveSetups() map[string]models.SetupState {
	d.mu.Lock()
	snapshot := make(map[string]*symbolState, len(d.states))
	for sym, st := range d.states {
		snapshot[sym] = st
	}
	d.mu.Unlock()

	out := make(map[string]models.SetupState)
	for sym, st := range snapshot {
		st.mu.Lock()
		if st.state != models.StateIdle {
			out[sym] = st.state
		}
		st.mu.Unlock()
	}
	return out
}

// Stats snapshots the detector counters.
func (d *SetupDetector) Stats() models.DetectorStats {
	d.mu.Lock()
	running := d.running
	size := len(d.states)
	d.mu.Unlock()

	return models.DetectorStats{
		IsRunning:       running,
		WatchlistSize:   size,
		BarCount:        d.barCount.Load(),
		AnalysisCount:   d.analysisCount.Load(),
		SetupCount:      d.setupCount.Load(),
		PendingAnalyses: int(d.pending.Load()),
	}
}

// AnalyzeNow runs a synchronous analysis for one symbol, applying the same
// transition rules as bar-driven analyses, and returns the resulting setup
// snapshot.
func (d *SetupDetector) AnalyzeNow(ctx context.Context, symbol string) (*models.Setup, error) {
	symbol = models.CanonicalSymbol(symbol)
	st := d.stateFor(symbol)
	if st == nil {
		return nil, ErrNotWatched
	}

	st.mu.Lock()
	if st.busy {
		st.mu.Unlock()
		return nil, ErrAnalysisInFlight
	}
	st.busy = true
	bars := append([]models.Bar(nil), st.bars...)
	st.mu.Unlock()

	d.pending.Inc()
	defer d.pending.Dec()
	defer func() {
		st.mu.Lock()
		if st.rerun {
			// a live bar landed mid-analysis; honor its trigger
			st.rerun = false
			st.mu.Unlock()
			d.pending.Inc()
			go d.analyze(d.runContext(), st, symbol)
			return
		}
		st.busy = false
		st.mu.Unlock()
	}()

	start := time.Now()
	res, err := d.scorer.Analyze(bars, d.sessionLevels(ctx, symbol))
	if err != nil {
		return nil, err
	}
	d.analysisCount.Inc()
	d.metrics.RecordAnalysis(symbol, res.Grade, time.Since(start).Seconds())

	d.applyTransition(ctx, st, symbol, res)

	st.mu.Lock()
	state := st.state
	st.mu.Unlock()

	return &models.Setup{
		Symbol:    symbol,
		State:     state,
		Direction: res.Direction,
		Score:     res.Score,
		Grade:     res.Grade,
		Price:     res.Price,
		Levels:    res.Levels,
		Timestamp: time.Now(),
	}, nil
}

// SweepIdle resets active setups whose symbols have gone quiet for longer
// than the idle window. Returns how many were reset.
func (d *SetupDetector) SweepIdle() int {
	if d.cfg.IdleReset <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-d.cfg.IdleReset)

	d.mu.Lock()
	snapshot := make(map[string]*symbolState, len(d.states))
	for sym, st := range d.states {
		snapshot[sym] = st
	}
	d.mu.Unlock()

	swept := 0
	for sym, st := range snapshot {
		st.mu.Lock()
		if st.state != models.StateIdle && !st.lastBarAt.IsZero() && st.lastBarAt.Before(cutoff) {
			st.state = models.StateIdle
			st.direction = models.DirectionNeutral
			swept++
			d.log.Info("detector: idle reset", logger.String("symbol", sym))
		}
		st.mu.Unlock()
	}
	return swept
}

func (d *SetupDetector) stateFor(symbol string) *symbolState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[symbol]
}

func (d *SetupDetector) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runCtx != nil {
		return d.runCtx
	}
	return context.Background()
}

func (d *SetupDetector) subscribeSymbols(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		sub, err := d.dist.Subscribe(ctx, []string{sym}, d.handleMessage)
		if err != nil {
			d.log.Error("detector: subscribe failed",
				logger.String("symbol", sym),
				logger.Error(err))
			return err
		}
		d.mu.Lock()
		d.subs[sym] = sub
		d.mu.Unlock()
	}
	return nil
}

// warmup seeds a symbol's history from the REST provider. Failures log and
// skip; live bars will fill the ring eventually.
func (d *SetupDetector) warmup(ctx context.Context, symbol string) {
	if d.history == nil || d.cfg.WarmupBars <= 0 {
		return
	}
	st := d.stateFor(symbol)
	if st == nil {
		return
	}
	st.mu.Lock()
	empty := len(st.bars) == 0
	st.mu.Unlock()
	if !empty {
		return
	}

	bars, err := d.history.GetLatestBars(ctx, symbol, d.cfg.WarmupBars, drepo.TF1m)
	if err != nil {
		d.log.Warn("detector: warmup failed",
			logger.String("symbol", symbol),
			logger.Error(err))
		return
	}
	if len(bars) == 0 {
		return
	}

	st.mu.Lock()
	if len(st.bars) == 0 {
		st.bars = bars
	}
	st.mu.Unlock()
	d.log.Info("detector: warmed",
		logger.String("symbol", symbol),
		logger.Int("bars", len(bars)))
}

// handleMessage is the redistributor callback. Only bar events trigger
// analysis; trade frames on the paired channel are ignored here.
func (d *SetupDetector) handleMessage(channel string, payload []byte) {
	if !models.IsBarChannel(channel) {
		return
	}
	var ev models.BarEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.metrics.RecordError("detector_decode")
		return
	}
	if ev.Type != models.EventBar {
		return
	}
	d.onBar(ev.Bar())
}

func (d *SetupDetector) onBar(bar models.Bar) {
	st := d.stateFor(bar.Symbol)
	if st == nil {
		// stale delivery after removal
		return
	}
	d.barCount.Inc()

	st.mu.Lock()
	st.bars = append(st.bars, bar)
	if len(st.bars) > d.cfg.HistorySize {
		st.bars = st.bars[len(st.bars)-d.cfg.HistorySize:]
	}
	st.lastBarAt = time.Now()
	busy := st.busy
	if busy {
		// the in-flight analysis re-runs once with the latest history, so a
		// threshold crossing carried by this bar is not lost
		st.rerun = true
	} else {
		st.busy = true
	}
	st.mu.Unlock()

	if busy {
		d.log.Debug("detector: analysis in flight, queued re-run",
			logger.String("symbol", bar.Symbol))
		return
	}

	d.pending.Inc()
	go d.analyze(d.runContext(), st, bar.Symbol)
}

// analyze runs one scoring pass and keeps going while bars arrived during
// the pass. Consecutive queued bars coalesce into a single re-run over the
// latest history.
func (d *SetupDetector) analyze(ctx context.Context, st *symbolState, symbol string) {
	defer d.pending.Dec()

	for {
		d.analyzeOnce(ctx, st, symbol)

		st.mu.Lock()
		if st.rerun {
			st.rerun = false
			st.mu.Unlock()
			continue
		}
		st.busy = false
		st.mu.Unlock()
		return
	}
}

func (d *SetupDetector) analyzeOnce(ctx context.Context, st *symbolState, symbol string) {
	start := time.Now()

	st.mu.Lock()
	bars := append([]models.Bar(nil), st.bars...)
	st.mu.Unlock()

	res, err := d.scorer.Analyze(bars, d.sessionLevels(ctx, symbol))
	if err != nil {
		if errors.Is(err, scoring.ErrInsufficientData) {
			d.log.Debug("detector: not enough history",
				logger.String("symbol", symbol),
				logger.Int("bars", len(bars)))
		} else {
			d.metrics.RecordError("analysis")
			d.log.Warn("detector: analysis failed",
				logger.String("symbol", symbol),
				logger.Error(err))
		}
		return
	}
	d.analysisCount.Inc()
	d.metrics.RecordAnalysis(symbol, res.Grade, time.Since(start).Seconds())

	d.applyTransition(ctx, st, symbol, res)
}

// applyTransition folds a fresh analysis into the symbol's state machine and
// broadcasts the edge, if any.
func (d *SetupDetector) applyTransition(ctx context.Context, st *symbolState, symbol string, res scoring.Analysis) {
	st.mu.Lock()
	// a direction flip invalidates an active setup; reset silently and let
	// the new score be judged from idle
	if st.state != models.StateIdle &&
		res.Direction != models.DirectionNeutral &&
		st.direction != models.DirectionNeutral &&
		res.Direction != st.direction {
		d.log.Info("detector: direction flipped, resetting",
			logger.String("symbol", symbol),
			logger.String("from", string(st.direction)),
			logger.String("to", string(res.Direction)))
		st.state = models.StateIdle
	}

	next, event, emit := nextState(st.state, res.Score.Overall, d.cfg.FormingThreshold, d.cfg.ReadyThreshold)
	st.state = next
	st.lastScore = res.Score.Overall
	if res.Direction != models.DirectionNeutral {
		st.direction = res.Direction
	} else if next == models.StateIdle {
		st.direction = models.DirectionNeutral
	}
	st.mu.Unlock()

	if !emit {
		return
	}

	setup := models.Setup{
		Symbol:    symbol,
		State:     next,
		Direction: res.Direction,
		Score:     res.Score,
		Grade:     res.Grade,
		Price:     res.Price,
		Levels:    res.Levels,
		Timestamp: time.Now(),
	}
	d.setupCount.Inc()
	d.metrics.RecordSetup(string(next))

	var receivers int64
	switch event {
	case models.EventSetupForming:
		receivers = d.caster.SetupForming(ctx, setup)
	case models.EventSetupReady:
		receivers = d.caster.SetupReady(ctx, setup)
	}

	d.log.Info("detector: setup "+string(next),
		logger.String("symbol", symbol),
		logger.String("direction", string(res.Direction)),
		logger.Float64("score", res.Score.Overall),
		logger.String("grade", res.Grade),
		logger.Int64("receivers", receivers))
}

func (d *SetupDetector) sessionLevels(ctx context.Context, symbol string) []models.KeyLevel {
	if d.levels == nil {
		return nil
	}
	return d.levels.SessionLevels(ctx, symbol)
}
