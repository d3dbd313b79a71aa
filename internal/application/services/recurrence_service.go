package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/domain/recurrence"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/infrastructure/metrics"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// RecurrenceLockKey guards scheduled sweeps across processes.
const RecurrenceLockKey = "lifecycle:lock:recurrence"

// RecurrenceService manages recurring definitions and turns them into tasks.
type RecurrenceService struct {
	defRepo  ports.RecurringTaskRepository
	taskRepo ports.TaskRepository
	locker   ports.Locker
	clock    lifecycle.Clock
	location *time.Location
	lockTTL  time.Duration
	logger   *logger.Logger
}

// NewRecurrenceService creates a new recurrence service. Calendar dates are
// read in loc; a nil loc means UTC.
func NewRecurrenceService(defRepo ports.RecurringTaskRepository, taskRepo ports.TaskRepository, locker ports.Locker, clock lifecycle.Clock, loc *time.Location, lockTTL time.Duration, logger *logger.Logger) *RecurrenceService {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &RecurrenceService{
		defRepo:  defRepo,
		taskRepo: taskRepo,
		locker:   locker,
		clock:    clock,
		location: loc,
		lockTTL:  lockTTL,
		logger:   logger.WithComponent("recurrence"),
	}
}

// CreateDefinition validates and stores a recurring definition
func (s *RecurrenceService) CreateDefinition(ctx context.Context, req ports.CreateRecurringRequest) (*entities.RecurringTaskDefinition, error) {
	if entities.IsBlank(req.Title) {
		return nil, fmt.Errorf("%w: title is required", entities.ErrInvalidRecurrenceRule)
	}
	rule := req.Rule.Rule()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = entities.PriorityMedium
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	now := s.clock.Now()
	def := &entities.RecurringTaskDefinition{
		ID:                      uuid.New(),
		Title:                   strings.TrimSpace(req.Title),
		Description:             req.Description,
		ClientName:              req.ClientName,
		AssigneeID:              req.AssigneeID,
		Priority:                priority,
		EstimatedMinutes:        req.EstimatedMinutes,
		RequiresTwoStepApproval: req.RequiresTwoStepApproval,
		Tags:                    tags,
		Rule:                    rule,
		IsActive:                active,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.defRepo.Create(ctx, def); err != nil {
		return nil, &entities.PersistenceError{Op: "create definition", Err: err}
	}

	s.logger.Info("Recurring definition created", "definition_id", def.ID, "type", def.Rule.Type)

	return def, nil
}

// GetDefinition retrieves a recurring definition by ID
func (s *RecurrenceService) GetDefinition(ctx context.Context, id uuid.UUID) (*entities.RecurringTaskDefinition, error) {
	def, err := s.defRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entities.ErrDefinitionNotFound) {
			return nil, err
		}
		return nil, &entities.PersistenceError{Op: "load definition", Err: err}
	}
	return def, nil
}

// UpdateDefinition applies a partial update
func (s *RecurrenceService) UpdateDefinition(ctx context.Context, id uuid.UUID, req ports.UpdateRecurringRequest) (*entities.RecurringTaskDefinition, error) {
	def, err := s.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		if entities.IsBlank(*req.Title) {
			return nil, fmt.Errorf("%w: title is required", entities.ErrInvalidRecurrenceRule)
		}
		def.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		def.Description = req.Description
	}
	if req.ClientName != nil {
		def.ClientName = req.ClientName
	}
	if req.AssigneeID != nil {
		def.AssigneeID = req.AssigneeID
	}
	if req.Priority != nil {
		def.Priority = *req.Priority
	}
	if req.EstimatedMinutes != nil {
		def.EstimatedMinutes = *req.EstimatedMinutes
	}
	if req.RequiresTwoStepApproval != nil {
		def.RequiresTwoStepApproval = *req.RequiresTwoStepApproval
	}
	if req.Tags != nil {
		def.Tags = req.Tags
	}
	if req.Rule != nil {
		rule := req.Rule.Rule()
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		def.Rule = rule
	}
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}
	def.UpdatedAt = s.clock.Now()

	if err := s.defRepo.Update(ctx, def); err != nil {
		if errors.Is(err, entities.ErrDefinitionNotFound) {
			return nil, err
		}
		return nil, &entities.PersistenceError{Op: "update definition", Err: err}
	}

	s.logger.Info("Recurring definition updated", "definition_id", def.ID, "active", def.IsActive)

	return def, nil
}

// DeleteDefinition removes a definition. Tasks already created from it keep
// their provenance ids.
func (s *RecurrenceService) DeleteDefinition(ctx context.Context, id uuid.UUID) error {
	if err := s.defRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, entities.ErrDefinitionNotFound) {
			return err
		}
		return &entities.PersistenceError{Op: "delete definition", Err: err}
	}

	s.logger.Info("Recurring definition deleted", "definition_id", id)

	return nil
}

// ListDefinitions lists recurring definitions
func (s *RecurrenceService) ListDefinitions(ctx context.Context, filter ports.RecurringFilter) ([]*entities.RecurringTaskDefinition, error) {
	defs, err := s.defRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}

// Sweep creates the tasks due on the calendar date of date. Running it twice
// for the same date creates nothing new: existing occurrences are reported
// as skipped.
func (s *RecurrenceService) Sweep(ctx context.Context, date time.Time) (*ports.SweepReport, error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, RecurrenceLockKey, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("recurrence sweep: acquire lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("recurrence sweep: %w", entities.ErrSweepInProgress)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.logger.Warn("Failed to release recurrence lock", "error", err)
			}
		}()
	}

	day := s.calendarDay(date)
	report := &ports.SweepReport{
		Date:    day.Format("2006-01-02"),
		Created: []uuid.UUID{},
		Skipped: []uuid.UUID{},
		Errors:  []ports.DefinitionError{},
	}

	defs, err := s.defRepo.ListActive(ctx)
	if err != nil {
		return nil, &entities.PersistenceError{Op: "list active definitions", Err: err}
	}

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Evaluated++
		if !recurrence.IsDue(def.Rule, day) {
			continue
		}
		report.Due++

		task, err := s.materialize(ctx, def, day, entities.RecurrenceOriginScheduled)
		switch {
		case err == nil:
			report.Created = append(report.Created, task.ID)
		case errors.Is(err, entities.ErrDuplicateOccurrence):
			metrics.RecurrenceSkippedTotal.Inc()
			report.Skipped = append(report.Skipped, def.ID)
		default:
			report.Errors = append(report.Errors, ports.DefinitionError{DefinitionID: def.ID, Error: err.Error()})
			s.logger.Warn("Failed to materialize occurrence", "definition_id", def.ID, "date", report.Date, "error", err)
		}
	}

	s.logger.Info("Recurrence sweep finished",
		"date", report.Date,
		"evaluated", report.Evaluated,
		"due", report.Due,
		"created", len(report.Created),
		"skipped", len(report.Skipped),
		"errors", len(report.Errors),
	)

	return report, nil
}

// MaterializeOn creates a task from a definition for date regardless of
// whether the rule is due then.
func (s *RecurrenceService) MaterializeOn(ctx context.Context, id uuid.UUID, date time.Time) (*entities.Task, error) {
	def, err := s.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, def, s.calendarDay(date), entities.RecurrenceOriginManual)
}

func (s *RecurrenceService) materialize(ctx context.Context, def *entities.RecurringTaskDefinition, day time.Time, origin entities.RecurrenceOrigin) (*entities.Task, error) {
	task, err := recurrence.Materialize(def, day, s.clock.Now(), origin)
	if err != nil {
		return nil, err
	}
	now := task.CreatedAt
	task.StatusChangedAt = &now

	if err := s.taskRepo.Create(ctx, task); err != nil {
		if errors.Is(err, entities.ErrDuplicateOccurrence) {
			return nil, err
		}
		return nil, &entities.PersistenceError{Op: "create task", Err: err}
	}

	metrics.RecurrenceMaterializedTotal.WithLabelValues(string(origin)).Inc()
	s.logger.Info("Task materialized", "definition_id", def.ID, "task_id", task.ID, "origin", origin, "due", task.DueDate)

	return task, nil
}

// ParseDate reads a YYYY-MM-DD calendar date in the sweep timezone. An
// empty value means today.
func (s *RecurrenceService) ParseDate(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return s.calendarDay(s.clock.Now()), nil
	}
	day, err := time.ParseInLocation("2006-01-02", value, s.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", value)
	}
	return day, nil
}

func (s *RecurrenceService) calendarDay(date time.Time) time.Time {
	local := date.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}
