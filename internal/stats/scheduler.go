package stats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// accumulateInterval is the cadence of the traffic accumulation pass.
const accumulateInterval = 30 * time.Second

// Cron expressions (with seconds field) for the calendar jobs. The
// staggered second offsets serialize the jobs that touch the same ledger
// rows: the hourly rollup reads the minute rows written at second 0, and
// the daily/monthly shifts run after accumulation has flushed the day.
const (
	minuteSpec  = "0 * * * * *"  // top of every minute
	hourlySpec  = "1 0 * * * *"  // hh:00:01
	dailySpec   = "2 0 4 * * *"  // 04:00:02
	monthlySpec = "3 0 4 1 * *"  // 1st of month, 04:00:03
	usageSpec   = "30 0 * * * *" // hh:00:30, after the hourly rollup settles
)

// Scheduler drives the five periodic jobs of the stats core: the poll
// cycle, traffic accumulation, the minute snapshot, and the hourly/daily/
// monthly rollups. Sub-second cadences run on tickers; calendar cadences
// run on a seconds-aware cron. Every cron job is wrapped in a panic
// recoverer so a failing job never stalls subsequent fires.
type Scheduler struct {
	poller       *Poller
	accumulator  *Accumulator
	rollups      *Rollups
	pollInterval time.Duration
	cron         *cron.Cron
	logger       *slog.Logger
	running      atomic.Bool
}

// NewScheduler wires the jobs onto their cadences. Call Run to start.
func NewScheduler(poller *Poller, accumulator *Accumulator, rollups *Rollups, pollInterval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		poller:       poller,
		accumulator:  accumulator,
		rollups:      rollups,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "scheduler")),
	}

	cronLog := &cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLog)),
	)

	jobs := []struct {
		spec string
		fn   func()
	}{
		{minuteSpec, rollups.MinuteSnapshot},
		{hourlySpec, rollups.HourlyRollup},
		{dailySpec, rollups.DailyShift},
		{monthlySpec, rollups.MonthlyShift},
		{usageSpec, rollups.RecomputeUsage},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run starts the scheduling loop and blocks until the context is
// cancelled. The first poll cycle and accumulation pass run immediately so
// a restart repopulates the cache without waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Duration("accumulate_interval", accumulateInterval),
	)
	s.cron.Start()
	s.running.Store(true)
	defer s.running.Store(false)

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()
	accTicker := time.NewTicker(accumulateInterval)
	defer accTicker.Stop()

	s.poller.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-pollTicker.C:
			s.poller.Cycle(ctx)
		case <-accTicker.C:
			s.accumulator.Run()
		}
	}
}

// Shutdown stops the cron runner, waits for running jobs, then waits for
// in-flight polls.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.poller.Shutdown(ctx)
}

// IsHealthy returns true if the scheduling loop is running normally.
// This is used by the systemd watchdog to determine service health.
func (s *Scheduler) IsHealthy() bool {
	return s.running.Load()
}

// cronLogger adapts slog to the cron.Logger interface used by the panic
// recoverer.
type cronLogger struct {
	logger *slog.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	c.logger.Error(msg, args...)
}
