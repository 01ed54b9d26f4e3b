package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"MarketCache/internal/localcache"
	"MarketCache/internal/model"
	"MarketCache/internal/notifier"
	"MarketCache/internal/orchestrator"
	"MarketCache/internal/recorder"
)

// Sweeper runs one Tier1 staleness sweep.
type Sweeper interface {
	Sweep() localcache.SweepResult
}

// Warmer resolves a symbol list through the tier chain.
type Warmer interface {
	Resolve(ctx context.Context, symbols []string, start, end time.Time) (*orchestrator.Report, error)
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Sweeper  Sweeper
	Warmer   Warmer
	Recorder recorder.Recorder
	Notifier notifier.Notifier
	Logger   *slog.Logger
	Ctx      context.Context

	// Symbols is the watch list kept warm; LookbackDays sizes its window.
	Symbols      []string
	LookbackDays int

	now func() time.Time
}

// NewScheduler creates a new Scheduler. Overlapping runs of the same job are skipped.
func NewScheduler(ctx context.Context, sw Sweeper, w Warmer, rec recorder.Recorder, logger *slog.Logger, symbols []string, lookbackDays int) *Scheduler {
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		Sweeper:      sw,
		Warmer:       w,
		Recorder:     rec,
		Notifier:     notifier.NopNotifier{},
		Logger:       logger,
		Ctx:          ctx,
		Symbols:      symbols,
		LookbackDays: lookbackDays,
		now:          time.Now,
	}
}

// RegisterAll registers the sweep and warm-up tasks.
func (s *Scheduler) RegisterAll(sweepCron, warmCron string) error {
	if _, err := s.Cron.AddFunc(sweepCron, s.sweepTask); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if len(s.Symbols) == 0 {
		s.Logger.Info("watch list empty, warm-up not scheduled")
		return nil
	}
	if _, err := s.Cron.AddFunc(warmCron, s.warmTask); err != nil {
		return fmt.Errorf("register warm task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started", "jobs", len(s.Cron.Entries()))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

// RunWarmNow executes the warm-up immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunWarmNow() (*orchestrator.Report, error) {
	return s.warm()
}

// RunSweepNow executes one sweep immediately.
func (s *Scheduler) RunSweepNow() localcache.SweepResult {
	return s.sweep()
}

func (s *Scheduler) sweepTask() { s.sweep() }

func (s *Scheduler) sweep() localcache.SweepResult {
	res := s.Sweeper.Sweep()
	s.Logger.Info("tier1 sweep", "removed", res.Removed, "freed_bytes", res.FreedBytes,
		"occupancy_bytes", res.OccupancyBytes, "over_budget", res.OverBudget)
	if err := s.Recorder.RecordSweep(&recorder.SweepEvent{
		Removed:        res.Removed,
		FreedBytes:     res.FreedBytes,
		OccupancyBytes: res.OccupancyBytes,
		OverBudget:     res.OverBudget,
	}); err != nil {
		s.Logger.Error("record sweep", "err", err)
	}
	if res.OverBudget {
		s.alert(notifier.FormatOverBudget(res))
	}
	return res
}

func (s *Scheduler) warmTask() {
	if _, err := s.warm(); err != nil {
		s.Logger.Error("warm-up", "err", err)
		s.alert(notifier.FormatFailure("warm-up", err))
	}
}

func (s *Scheduler) warm() (*orchestrator.Report, error) {
	if len(s.Symbols) == 0 {
		return &orchestrator.Report{}, nil
	}
	end := model.Day(s.now())
	start := end.AddDate(0, 0, -s.LookbackDays)
	s.Logger.Info("running warm-up", "symbols", len(s.Symbols),
		"from", start.Format(model.DateLayout), "to", end.Format(model.DateLayout))

	rep, err := s.Warmer.Resolve(s.Ctx, s.Symbols, start, end)
	if err != nil {
		return rep, fmt.Errorf("warm %d symbols: %w", len(s.Symbols), err)
	}
	if len(rep.Unresolved) > 0 {
		s.Logger.Warn("warm-up left symbols unresolved", "unresolved", rep.Unresolved)
		s.alert(notifier.FormatUnresolved(rep.RunID, len(rep.Outcomes), rep.Unresolved))
	}
	return rep, nil
}

func (s *Scheduler) alert(text string) {
	if err := s.Notifier.Notify(s.Ctx, text); err != nil {
		s.Logger.Error("send alert", "err", err)
	}
}
