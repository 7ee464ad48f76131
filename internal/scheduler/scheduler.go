// Package scheduler runs the recurring maintenance jobs of rebroadcastr:
// the daily cold restart of every prebuffer pool and alert pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
)

// Restarter cold-restarts every prebuffer pool.
type Restarter interface {
	RestartAll(ctx context.Context) error
}

// AlertPruner removes old alerts.
type AlertPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// jobTimeout bounds a single run of any job.
const jobTimeout = 5 * time.Minute

// Scheduler manages the cron jobs.
type Scheduler struct {
	mu sync.Mutex

	cfg       config.SchedulerConfig
	restarter Restarter
	pruner    AlertPruner
	logger    *slog.Logger

	// Six fields: seconds first.
	parser cron.Parser
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. pruner may be nil.
func NewScheduler(cfg config.SchedulerConfig, restarter Restarter, pruner AlertPruner) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		restarter: restarter,
		pruner:    pruner,
		logger:    slog.Default(),
		parser:    cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// Start registers the configured jobs and starts the cron runner. Empty
// expressions disable their job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	loc := time.Local
	if s.cfg.Timezone != "" && s.cfg.Timezone != "Local" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("loading timezone %q: %w", s.cfg.Timezone, err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if err := s.add(c, "restart_pools", s.cfg.RestartCron, s.restartPools); err != nil {
		return err
	}
	if s.pruner != nil && s.cfg.AlertRetention > 0 {
		if err := s.add(c, "prune_alerts", s.cfg.AlertPruneCron, s.pruneAlerts); err != nil {
			return err
		}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = c
	c.Start()

	s.logger.Info("scheduler started",
		slog.Int("jobs", len(c.Entries())),
		slog.String("timezone", loc.String()),
	)
	return nil
}

func (s *Scheduler) add(c *cron.Cron, name, expr string, job func(context.Context)) error {
	if expr == "" {
		s.logger.Info("scheduled job disabled", slog.String("job", name))
		return nil
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	c.Schedule(schedule, cron.FuncJob(func() { s.run(name, job) }))
	s.logger.Info("scheduled job registered",
		slog.String("job", name),
		slog.String("cron", expr),
		slog.Time("next_run", schedule.Next(time.Now())),
	)
	return nil
}

// run executes one job invocation unless the scheduler is stopping.
func (s *Scheduler) run(name string, job func(context.Context)) {
	s.mu.Lock()
	parent := s.ctx
	if parent == nil || parent.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	done := observability.TimedOperation(ctx, s.logger, name)
	defer done()
	job(ctx)
}

func (s *Scheduler) restartPools(ctx context.Context) {
	if err := s.restarter.RestartAll(ctx); err != nil {
		s.logger.Error("scheduled pool restart failed", slog.Any("error", err))
	}
}

func (s *Scheduler) pruneAlerts(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.AlertRetention)
	n, err := s.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("alert pruning failed", slog.Any("error", err))
		return
	}
	s.logger.Info("alerts pruned", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
}

// Stop stops the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.cron = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Entries returns the next run time of every registered job.
func (s *Scheduler) Entries() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
