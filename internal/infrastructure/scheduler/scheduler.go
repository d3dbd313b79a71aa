package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// Scheduler runs the periodic sweeps on cron specs. Runs of the same job
// never overlap within a process; across instances the services' locks
// decide who does the work.
type Scheduler struct {
	cron   *cron.Cron
	clock  lifecycle.Clock
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating specs in loc.
func New(loc *time.Location, clock lifecycle.Clock, l *logger.Logger) *Scheduler {
	l = l.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
		),
		clock:  clock,
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddRecurrenceSweep materializes due recurring tasks on the given cron schedule.
func (s *Scheduler) AddRecurrenceSweep(spec string, svc ports.RecurrenceService) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runSweep(svc) }); err != nil {
		return fmt.Errorf("invalid recurrence sweep schedule %q: %w", spec, err)
	}
	s.logger.Info("Recurrence sweep scheduled", "schedule", spec)
	return nil
}

// AddReconcile commits timer recovery on the given cron schedule.
func (s *Scheduler) AddReconcile(spec string, svc ports.ReconcileService) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runReconcile(svc) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	s.logger.Info("Reconciliation scheduled", "schedule", spec)
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs between work items and waits for them to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runSweep(svc ports.RecurrenceService) {
	report, err := svc.Sweep(s.ctx, s.clock.Now())
	switch {
	case errors.Is(err, entities.ErrSweepInProgress):
		s.logger.Info("Recurrence sweep skipped, another instance holds the lock")
	case err != nil:
		s.logger.Error("Recurrence sweep failed", "error", err)
	default:
		s.logger.Info("Recurrence sweep finished",
			"date", report.Date,
			"due", report.Due,
			"created", len(report.Created),
			"skipped", len(report.Skipped),
			"errors", len(report.Errors),
		)
	}
}

func (s *Scheduler) runReconcile(svc ports.ReconcileService) {
	_, err := svc.Run(s.ctx, false)
	switch {
	case errors.Is(err, entities.ErrSweepInProgress):
		s.logger.Info("Reconciliation skipped, another sweep holds the lock")
	case err != nil:
		s.logger.Error("Scheduled reconciliation failed", "error", err)
	}
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
