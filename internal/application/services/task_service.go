package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/infrastructure/metrics"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// TaskService runs lifecycle transitions against stored tasks. Each call
// loads a fresh snapshot, applies the engine, saves with a version check and
// then dispatches the resulting instructions.
type TaskService struct {
	taskRepo   ports.TaskRepository
	dispatcher ports.InstructionDispatcher
	engine     *lifecycle.Engine
	clock      lifecycle.Clock
	logger     *logger.Logger
}

// NewTaskService creates a new task service
func NewTaskService(taskRepo ports.TaskRepository, dispatcher ports.InstructionDispatcher, engine *lifecycle.Engine, clock lifecycle.Clock, logger *logger.Logger) *TaskService {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if engine == nil {
		engine = lifecycle.NewEngine(clock, nil, nil)
	}
	return &TaskService{
		taskRepo:   taskRepo,
		dispatcher: dispatcher,
		engine:     engine,
		clock:      clock,
		logger:     logger.WithComponent("tasks"),
	}
}

// CreateTask creates a new task in todo
func (s *TaskService) CreateTask(ctx context.Context, actor entities.Actor, req ports.CreateTaskRequest) (*entities.Task, error) {
	if entities.IsBlank(req.Title) {
		return nil, fmt.Errorf("%w: title is required", entities.ErrInvalidTask)
	}

	priority := req.Priority
	if priority == "" {
		priority = entities.PriorityMedium
	}

	deps := make([]uuid.UUID, 0, len(req.Dependencies))
	seen := make(map[uuid.UUID]struct{}, len(req.Dependencies))
	for _, id := range req.Dependencies {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	if err := s.checkDependenciesExist(ctx, deps); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	task := &entities.Task{
		ID:                      uuid.New(),
		Title:                   strings.TrimSpace(req.Title),
		Description:             req.Description,
		ClientName:              req.ClientName,
		AssigneeID:              req.AssigneeID,
		Priority:                priority,
		Status:                  entities.TaskStatusTodo,
		RequiresTwoStepApproval: req.RequiresTwoStepApproval,
		Approvals:               []entities.Approval{},
		Dependencies:            deps,
		Attachments:             []entities.Attachment{},
		EstimatedMinutes:        req.EstimatedMinutes,
		DueDate:                 req.DueDate,
		Tags:                    req.Tags,
		StatusChangedAt:         &now,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, &entities.PersistenceError{Op: "create task", Err: err}
	}

	s.logger.Info("Task created", "task_id", task.ID, "title", task.Title, "created_by", actor.ID)

	return task, nil
}

// GetTask retrieves a task by ID
func (s *TaskService) GetTask(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	return s.load(ctx, id)
}

// ListTasks retrieves tasks with filtering and pagination
func (s *TaskService) ListTasks(ctx context.Context, filter ports.TaskFilter) ([]*entities.Task, int64, error) {
	tasks, err := s.taskRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	total, err := s.taskRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	return tasks, total, nil
}

func (s *TaskService) StartTimer(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandStartTimer, Actor: actor})
}

func (s *TaskService) StopTimer(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandStopTimer, Actor: actor})
}

func (s *TaskService) SubmitForApproval(ctx context.Context, id uuid.UUID, actor entities.Actor, evidence []entities.Attachment) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandSubmitForApproval, Actor: actor, Evidence: evidence})
}

func (s *TaskService) Approve(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandApprove, Actor: actor})
}

func (s *TaskService) Reject(ctx context.Context, id uuid.UUID, actor entities.Actor, reason string) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandReject, Actor: actor, Reason: reason})
}

func (s *TaskService) Cancel(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
	return s.transition(ctx, id, lifecycle.Command{Kind: lifecycle.CommandCancel, Actor: actor})
}

func (s *TaskService) transition(ctx context.Context, id uuid.UUID, cmd lifecycle.Command) (*lifecycle.Result, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if cmd.Kind == lifecycle.CommandApprove {
		view, err := s.dependencyView(ctx, task)
		if err != nil {
			return nil, err
		}
		cmd.Dependencies = view
	}

	res, err := s.engine.Apply(task, cmd)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(cmd.Kind), metrics.OutcomeRefused).Inc()
		s.logger.LogTransition(string(cmd.Kind), id.String(), cmd.Actor.ID.String(), string(task.Status), "", err)
		return nil, err
	}

	if err := s.taskRepo.Update(ctx, res.Task); err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, entities.ErrConflict) {
			outcome = metrics.OutcomeConflict
		}
		metrics.TransitionsTotal.WithLabelValues(string(cmd.Kind), outcome).Inc()
		s.logger.Warn("Failed to save transition", "op", cmd.Kind, "task_id", id, "error", err)
		return nil, &entities.PersistenceError{Op: "save task", Err: err}
	}

	metrics.TransitionsTotal.WithLabelValues(string(cmd.Kind), metrics.OutcomeApplied).Inc()
	metrics.TrackedSecondsTotal.Add(float64(res.FoldedSeconds))
	for _, w := range res.Warnings {
		if w.Kind == lifecycle.WarningClockSkew {
			metrics.ClockSkewTotal.Inc()
		}
		s.logger.Warn("Transition warning", "task_id", w.TaskID, "kind", w.Kind, "detail", w.Detail)
	}
	s.logger.LogTransition(string(cmd.Kind), id.String(), cmd.Actor.ID.String(), string(task.Status), string(res.Task.Status), nil)

	s.dispatch(ctx, res)

	return res, nil
}

// dispatch hands everything but the persist instruction to the dispatcher.
// The snapshot is already stored, so a failure here is only reported.
func (s *TaskService) dispatch(ctx context.Context, res *lifecycle.Result) {
	if s.dispatcher == nil {
		return
	}
	pending := make([]lifecycle.Instruction, 0, len(res.Instructions))
	for _, in := range res.Instructions {
		if in.Kind == lifecycle.InstructionPersist {
			continue
		}
		pending = append(pending, in)
	}
	if len(pending) == 0 {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, pending); err != nil {
		metrics.DispatchFailuresTotal.Inc()
		s.logger.Error("Failed to dispatch instructions", "task_id", res.Task.ID, "count", len(pending), "error", err)
	}
}

func (s *TaskService) load(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entities.ErrTaskNotFound) {
			return nil, err
		}
		return nil, &entities.PersistenceError{Op: "load task", Err: err}
	}
	return task, nil
}

// checkDependenciesExist refuses ids that do not name a stored task.
func (s *TaskService) checkDependenciesExist(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.taskRepo.GetMany(ctx, ids)
	if err != nil {
		return &entities.PersistenceError{Op: "load dependencies", Err: err}
	}
	if len(found) == len(ids) {
		return nil
	}

	known := make(map[uuid.UUID]struct{}, len(found))
	for _, t := range found {
		known[t.ID] = struct{}{}
	}
	missing := make([]string, 0, len(ids)-len(found))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	return fmt.Errorf("%w: unknown dependencies %s", entities.ErrInvalidTask, strings.Join(missing, ", "))
}

// dependencyView resolves the statuses of a task's prerequisites. Ids that
// no longer resolve are left out of the view and therefore block approval.
func (s *TaskService) dependencyView(ctx context.Context, task *entities.Task) (lifecycle.DependencyView, error) {
	view := lifecycle.DependencyStatuses{}
	if len(task.Dependencies) == 0 {
		return view, nil
	}
	deps, err := s.taskRepo.GetMany(ctx, task.Dependencies)
	if err != nil {
		return nil, &entities.PersistenceError{Op: "load dependencies", Err: err}
	}
	for _, d := range deps {
		view[d.ID] = d.Status
	}
	return view, nil
}
