package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Job is a scheduled task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. A run that is still going when its
// next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Each run is bounded by timeout when it
// is positive.
func NewScheduler(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger.With("component", "scheduler"),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers job on schedule, e.g. "@every 1h" or "0 */6 * * *".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if _, err := s.cron.AddFunc(schedule, func() { _ = s.RunNow(job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, job.Name(), err)
	}

	s.logger.Info("job registered",
		"schedule", schedule,
		"job", job.Name(),
	)
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed",
			"job", job.Name(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return err
	}
	s.logger.Debug("job completed",
		"job", job.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// EvictionJob removes store rows older than a horizon.
type EvictionJob struct {
	Store   domain.CacheStore
	Horizon time.Duration
	Logger  *slog.Logger
}

func (j *EvictionJob) Name() string { return "cache-eviction" }

func (j *EvictionJob) Run(ctx context.Context) error {
	removed, err := j.Store.EvictOlderThan(ctx, j.Horizon)
	if err != nil {
		return err
	}

	var total int64
	for _, n := range removed {
		total += n
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("cache eviction completed",
		"horizon", j.Horizon.String(),
		"rows_removed", total,
		"kinds", len(removed),
	)
	return nil
}

// WarmJob force-refreshes every ticker of a watchlist, one ticker at a time.
type WarmJob struct {
	Refresher Refresher
	Watchlist []string
	Kinds     []domain.Kind
	Logger    *slog.Logger
}

func (j *WarmJob) Name() string { return "watchlist-warm" }

func (j *WarmJob) Run(ctx context.Context) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var failed int
	for _, ticker := range j.Watchlist {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := j.Refresher.RefreshTicker(ctx, ticker, j.Kinds)
		if err != nil {
			failed++
			logger.Warn("watchlist warm failed",
				"ticker", ticker,
				"error", err,
			)
			continue
		}
		for kind, r := range results {
			if err := r.Err(); err != nil {
				logger.Warn("watchlist warm kind failed",
					"ticker", ticker,
					"kind", kind,
					"error", err,
				)
			}
		}
	}

	if failed == len(j.Watchlist) && failed > 0 {
		return fmt.Errorf("all %d watchlist tickers failed", failed)
	}
	return nil
}
