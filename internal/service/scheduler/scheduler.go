// Package scheduler runs periodic maintenance: the daily session rollover
// that refreshes prior-day levels and the idle sweep that resets stale
// setups and rate limit buckets.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/levels"
	"SignalDesk/internal/services/scoring"
	"SignalDesk/pkg/cache"
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/logger"

	"github.com/go-co-op/gocron"
)

const (
	rolloverLockKey = "locks:rollover"
	rolloverTimeout = 2 * time.Minute

	// rolloverLockTTL keeps the lock held for the rest of the trading day
	// once a rollover succeeds; it expires before the next scheduled run.
	rolloverLockTTL = 20 * time.Hour

	// limiterMaxIdle is how long a rate limit bucket may sit untouched
	// before the sweep drops it.
	limiterMaxIdle = 10 * time.Minute
)

// Detector is the slice of the setup detector the scheduler drives.
type Detector interface {
	Watchlist() []string
	SweepIdle() int
}

// Sweeper drops idle state and reports how much was removed.
type Sweeper interface {
	Sweep(maxIdle time.Duration) int
}

// Scheduler owns the cron loop and its jobs.
type Scheduler struct {
	cron     *gocron.Scheduler
	loc      *time.Location
	cfg      *config.Config
	detector Detector
	history  drepo.HistoryProvider
	levels   *levels.Service
	locks    cache.Service
	sweepers []Sweeper
	logger   *logger.Logger
}

func New(
	cfg *config.Config,
	det Detector,
	history drepo.HistoryProvider,
	lvls *levels.Service,
	locks cache.Service,
	lgr *logger.Logger,
	sweepers ...Sweeper,
) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone())
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	return &Scheduler{
		cron:     gocron.NewScheduler(loc),
		loc:      loc,
		cfg:      cfg,
		detector: det,
		history:  history,
		levels:   lvls,
		locks:    locks,
		sweepers: sweepers,
		logger:   lgr,
	}, nil
}

// Start registers the jobs and launches the cron loop in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.Every(1).Day().At(s.cfg.RolloverTime()).Do(s.runRollover); err != nil {
		return fmt.Errorf("schedule rollover: %w", err)
	}
	if _, err := s.cron.Every(s.cfg.SweepInterval()).Do(s.runSweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.StartAsync()
	s.logger.Info("scheduler started",
		logger.String("rollover_at", s.cfg.RolloverTime()),
		logger.Duration("sweep_interval", s.cfg.SweepInterval()),
		logger.String("timezone", s.loc.String()))
	return nil
}

// Stop halts the cron loop. Running jobs finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), rolloverTimeout)
	defer cancel()

	if err := s.Rollover(ctx); err != nil {
		s.logger.Error("session rollover failed", logger.Error(err))
	}
}

// Rollover recomputes prior-session levels for every watched symbol. The
// Redis lock keeps concurrent instances from double-running: it is held for
// the rest of the day on success and released on failure so another instance
// can pick the job up.
func (s *Scheduler) Rollover(ctx context.Context) error {
	ok, err := s.locks.TryLock(ctx, rolloverLockKey, rolloverLockTTL)
	if err != nil {
		return fmt.Errorf("rollover lock: %w", err)
	}
	if !ok {
		s.logger.Debug("rollover already ran elsewhere")
		return nil
	}

	if err := s.rollover(ctx); err != nil {
		if uerr := s.locks.Unlock(ctx, rolloverLockKey); uerr != nil {
			s.logger.Warn("rollover unlock failed", logger.Error(uerr))
		}
		return err
	}
	return nil
}

func (s *Scheduler) rollover(ctx context.Context) error {
	start := time.Now()

	symbols := s.detector.Watchlist()
	if len(symbols) == 0 {
		s.logger.Info("rollover skipped, empty watchlist")
		return nil
	}

	recs := make([]levels.DayLevels, 0, len(symbols))
	var failed int
	for _, sym := range symbols {
		bars, err := s.history.GetLatestBars(ctx, sym, 2, drepo.TF1d)
		if err != nil {
			s.logger.Warn("prior session fetch failed",
				logger.String("symbol", sym),
				logger.Error(err))
			failed++
			continue
		}

		bar, ok := s.priorSessionBar(bars)
		if !ok {
			continue
		}
		recs = append(recs, levels.DayLevels{
			Symbol:     sym,
			TradingDay: bar.Timestamp.In(s.loc).Format("2006-01-02"),
			Levels:     scoring.SessionExtremes([]models.Bar{bar}),
		})
	}

	if len(recs) == 0 {
		return fmt.Errorf("no session levels computed, %d of %d symbols failed", failed, len(symbols))
	}

	// Purge first so symbols dropped from the watchlist stop serving stale
	// levels, then write the fresh set.
	if err := s.levels.Purge(ctx); err != nil {
		return fmt.Errorf("purge session levels: %w", err)
	}
	if err := s.levels.StoreBatch(ctx, recs); err != nil {
		return fmt.Errorf("store session levels: %w", err)
	}

	snap, err := s.levels.Snapshot(ctx, symbols)
	if err != nil {
		s.logger.Warn("session levels readback failed", logger.Error(err))
	}

	s.logger.Info("session rollover complete",
		logger.Int("symbols", len(recs)),
		logger.Int("failed", failed),
		logger.Int("cached", len(snap)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// priorSessionBar picks the most recent daily bar that closed before the
// current trading day.
func (s *Scheduler) priorSessionBar(bars []models.Bar) (models.Bar, bool) {
	now := time.Now().In(s.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Before(dayStart) {
			return bars[i], true
		}
	}
	return models.Bar{}, false
}

func (s *Scheduler) runSweep() {
	reset := s.detector.SweepIdle()

	var dropped int
	for _, sw := range s.sweepers {
		dropped += sw.Sweep(limiterMaxIdle)
	}

	if reset > 0 || dropped > 0 {
		s.logger.Debug("idle sweep",
			logger.Int("setups_reset", reset),
			logger.Int("buckets_dropped", dropped))
	}
}
