package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/infrastructure/metrics"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// ReconcileLockKey guards commit sweeps across processes.
const ReconcileLockKey = "lifecycle:lock:reconcile"

// ReconcileOptions tunes a ReconcileService. Zero values select defaults.
type ReconcileOptions struct {
	BatchSize  int
	SessionCap time.Duration
	LockTTL    time.Duration
}

// ReconcileService folds timers that were left running on closed tasks.
// Preview and commit compute the same plan; only commit writes.
type ReconcileService struct {
	taskRepo ports.TaskRepository
	locker   ports.Locker
	clock    lifecycle.Clock
	logger   *logger.Logger
	opts     ReconcileOptions

	// running serializes commit sweeps inside this process.
	running sync.Mutex
}

// NewReconcileService creates a new reconcile service. locker may be nil
// when only one process runs sweeps.
func NewReconcileService(taskRepo ports.TaskRepository, locker ports.Locker, clock lifecycle.Clock, logger *logger.Logger, opts ReconcileOptions) *ReconcileService {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	opts.SessionCap = lifecycle.NormalizeSessionCap(opts.SessionCap)
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &ReconcileService{
		taskRepo: taskRepo,
		locker:   locker,
		clock:    clock,
		logger:   logger.WithComponent("reconcile"),
		opts:     opts,
	}
}

// Run scans every task once. Cancellation is honoured between tasks; the
// report then has Cancelled set and covers the tasks seen so far.
func (s *ReconcileService) Run(ctx context.Context, dryRun bool) (*ports.ReconcileReport, error) {
	mode := "commit"
	if dryRun {
		mode = "preview"
	} else {
		release, err := s.acquire(ctx)
		if err != nil {
			metrics.ReconcileRunsTotal.WithLabelValues(mode, "skipped").Inc()
			return nil, err
		}
		defer release()
	}

	report := &ports.ReconcileReport{
		DryRun:      dryRun,
		StartedAt:   s.clock.Now(),
		Corrections: []lifecycle.Recovery{},
		Errors:      []ports.TaskError{},
	}

	filter := ports.TaskFilter{Limit: s.opts.BatchSize, SortBy: "created_at", SortOrder: "asc"}

scan:
	for {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		page, err := s.taskRepo.List(ctx, filter)
		if err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			metrics.ReconcileRunsTotal.WithLabelValues(mode, "failed").Inc()
			return nil, &entities.PersistenceError{Op: "list tasks", Err: err}
		}

		for _, task := range page {
			if ctx.Err() != nil {
				report.Cancelled = true
				break scan
			}
			report.TotalScanned++
			s.reconcileTask(ctx, task, report)
		}

		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	report.FinishedAt = s.clock.Now()

	result := "ok"
	if report.Cancelled {
		result = "cancelled"
	} else if len(report.Errors) > 0 {
		result = "partial"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(mode, result).Inc()
	metrics.ReconcileDurationSeconds.WithLabelValues(mode).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	if !dryRun {
		metrics.ReconcileRecoveredSeconds.Add(float64(report.RecoveredSeconds))
	}
	s.logger.LogReconcile(dryRun, report.TotalScanned, report.CandidatesFound, report.RecoveredSeconds, len(report.Errors), report.Cancelled)

	return report, nil
}

func (s *ReconcileService) reconcileTask(ctx context.Context, task *entities.Task, report *ports.ReconcileReport) {
	plan, ok := lifecycle.PlanRecovery(task, s.opts.SessionCap)
	if !ok {
		return
	}
	report.CandidatesFound++

	if plan.Skewed {
		s.logger.Warn("Timer started after the task closed, recovering zero seconds",
			"task_id", task.ID, "timer_started_at", plan.TimerStartedAt, "end", plan.EndInstant)
	}
	if plan.Capped {
		s.logger.Info("Recovered session capped", "task_id", task.ID, "seconds", plan.RecoveredSeconds)
	}

	if !report.DryRun {
		// A started write is allowed to finish even if the sweep is being cancelled.
		fixed := lifecycle.ApplyRecovery(task, plan)
		if err := s.taskRepo.Update(context.WithoutCancel(ctx), fixed); err != nil {
			report.Errors = append(report.Errors, ports.TaskError{TaskID: task.ID, Error: err.Error()})
			s.logger.Warn("Failed to commit recovery", "task_id", task.ID, "error", err)
			return
		}
	}

	report.Corrections = append(report.Corrections, plan)
	report.RecoveredSeconds += plan.RecoveredSeconds
}

func (s *ReconcileService) acquire(ctx context.Context) (func(), error) {
	if !s.running.TryLock() {
		return nil, fmt.Errorf("reconcile: %w", entities.ErrSweepInProgress)
	}
	if s.locker == nil {
		return s.running.Unlock, nil
	}

	unlock, ok, err := s.locker.TryLock(ctx, ReconcileLockKey, s.opts.LockTTL)
	if err != nil {
		s.running.Unlock()
		return nil, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	if !ok {
		s.running.Unlock()
		return nil, fmt.Errorf("reconcile: %w", entities.ErrSweepInProgress)
	}

	return func() {
		if err := unlock(context.Background()); err != nil {
			s.logger.Warn("Failed to release reconcile lock", "error", err)
		}
		s.running.Unlock()
	}, nil
}
