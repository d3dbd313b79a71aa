package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// TaskHandler handles task and lifecycle transition requests
type TaskHandler struct {
	taskService ports.TaskService
	logger      *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(taskService ports.TaskService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// CreateTask godoc
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body ports.CreateTaskRequest true "Task data"
// @Success 201 {object} entities.Task
// @Failure 400 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks [post]
func (h *TaskHandler) CreateTask(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req ports.CreateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	task, err := h.taskService.CreateTask(c.Request().Context(), actor, req)
	if err != nil {
		h.logger.Error("Create task failed", "error", err, "actor_id", actor.ID)
		return domainError(err)
	}

	return c.JSON(http.StatusCreated, task)
}

// GetTask godoc
// @Summary Get task by ID
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} entities.Task
// @Failure 404 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetTask(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	task, err := h.taskService.GetTask(c.Request().Context(), id)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, task)
}

// ListTasks godoc
// @Summary List tasks
// @Tags tasks
// @Produce json
// @Param status query string false "Status filter"
// @Param assignee_id query string false "Assignee filter"
// @Param search query string false "Search in title, description and client"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} ports.PaginatedResponse[entities.Task]
// @Security BearerAuth
// @Router /tasks [get]
func (h *TaskHandler) ListTasks(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}
	filter := ports.TaskFilter{
		Limit:     limit,
		Offset:    offset,
		SortBy:    c.QueryParam("sort_by"),
		SortOrder: c.QueryParam("sort_order"),
	}

	if v := c.QueryParam("status"); v != "" {
		status := entities.TaskStatus(v)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid status parameter")
		}
		filter.Status = &status
	}
	if v := c.QueryParam("assignee_id"); v != "" {
		assignee, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid assignee_id parameter")
		}
		filter.AssigneeID = &assignee
	}
	if v := c.QueryParam("recurring_definition_id"); v != "" {
		defID, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid recurring_definition_id parameter")
		}
		filter.RecurringDefinitionID = &defID
	}
	if v := c.QueryParam("search"); v != "" {
		filter.Search = &v
	}

	tasks, total, err := h.taskService.ListTasks(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("List tasks failed", "error", err)
		return domainError(err)
	}

	return c.JSON(http.StatusOK, ports.PaginatedResponse[*entities.Task]{
		Data:   tasks,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// StartTimer godoc
// @Summary Start the task timer
// @Tags lifecycle
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} ports.TransitionResponse
// @Failure 409 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/timer/start [post]
func (h *TaskHandler) StartTimer(c echo.Context) error {
	return h.transition(c, "start_timer", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.StartTimer(c.Request().Context(), id, actor)
	})
}

// StopTimer godoc
// @Summary Stop the task timer
// @Tags lifecycle
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} ports.TransitionResponse
// @Failure 409 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/timer/stop [post]
func (h *TaskHandler) StopTimer(c echo.Context) error {
	return h.transition(c, "stop_timer", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.StopTimer(c.Request().Context(), id, actor)
	})
}

// Submit godoc
// @Summary Submit a task for approval
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body ports.SubmitRequest false "Approval evidence"
// @Success 200 {object} ports.TransitionResponse
// @Failure 409 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/submit [post]
func (h *TaskHandler) Submit(c echo.Context) error {
	var req ports.SubmitRequest
	if c.Request().ContentLength != 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
	}

	evidence := make([]entities.Attachment, 0, len(req.Evidence))
	for _, in := range req.Evidence {
		evidence = append(evidence, entities.Attachment{
			Name: in.Name,
			URL:  in.URL,
			Kind: entities.AttachmentKindApprovalEvidence,
		})
	}

	return h.transition(c, "submit_for_approval", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.SubmitForApproval(c.Request().Context(), id, actor, evidence)
	})
}

// Approve godoc
// @Summary Record an approval
// @Description Records a sign-off. Two-step tasks need two distinct approvers.
// @Tags lifecycle
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} ports.TransitionResponse
// @Failure 403 {object} ports.ErrorResponse
// @Failure 422 {object} ports.ErrorResponse "Unapproved dependencies"
// @Security BearerAuth
// @Router /tasks/{id}/approve [post]
func (h *TaskHandler) Approve(c echo.Context) error {
	return h.transition(c, "approve", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.Approve(c.Request().Context(), id, actor)
	})
}

// Reject godoc
// @Summary Reject a pending task
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body ports.RejectRequest true "Rejection reason"
// @Success 200 {object} ports.TransitionResponse
// @Failure 400 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/reject [post]
func (h *TaskHandler) Reject(c echo.Context) error {
	var req ports.RejectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	return h.transition(c, "reject", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.Reject(c.Request().Context(), id, actor, req.Reason)
	})
}

// Cancel godoc
// @Summary Cancel a task
// @Tags lifecycle
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} ports.TransitionResponse
// @Failure 409 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/cancel [post]
func (h *TaskHandler) Cancel(c echo.Context) error {
	return h.transition(c, "cancel", func(id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
		return h.taskService.Cancel(c.Request().Context(), id, actor)
	})
}

func (h *TaskHandler) transition(c echo.Context, op string, run func(uuid.UUID, entities.Actor) (*lifecycle.Result, error)) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	res, err := run(id, actor)
	if err != nil {
		if ErrorStatus(err) == http.StatusInternalServerError {
			h.logger.Error("Transition failed", "op", op, "task_id", id, "error", err)
		}
		return domainError(err)
	}

	return c.JSON(http.StatusOK, transitionResponse(res))
}
