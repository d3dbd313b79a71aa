package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// ReconcileHandler exposes timer recovery to operators
type ReconcileHandler struct {
	reconcileService ports.ReconcileService
	logger           *logger.Logger
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(reconcileService ports.ReconcileService, logger *logger.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconcileService: reconcileService,
		logger:           logger,
	}
}

// Preview godoc
// @Summary Preview timer recovery
// @Description Reports the corrections a commit would make without writing anything.
// @Tags admin
// @Produce json
// @Success 200 {object} ports.ReconcileReport
// @Security BearerAuth
// @Router /admin/reconcile/preview [post]
func (h *ReconcileHandler) Preview(c echo.Context) error {
	return h.run(c, true)
}

// Commit godoc
// @Summary Commit timer recovery
// @Tags admin
// @Produce json
// @Success 200 {object} ports.ReconcileReport
// @Failure 423 {object} ports.ErrorResponse "Another sweep is running"
// @Security BearerAuth
// @Router /admin/reconcile/commit [post]
func (h *ReconcileHandler) Commit(c echo.Context) error {
	return h.run(c, false)
}

func (h *ReconcileHandler) run(c echo.Context, dryRun bool) error {
	report, err := h.reconcileService.Run(c.Request().Context(), dryRun)
	if err != nil {
		if ErrorStatus(err) == http.StatusInternalServerError {
			h.logger.Error("Reconciliation failed", "dry_run", dryRun, "error", err)
		}
		return domainError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// RecurringHandler manages recurring task definitions and their sweeps
type RecurringHandler struct {
	recurrenceService ports.RecurrenceService
	logger            *logger.Logger
}

// NewRecurringHandler creates a new recurring definition handler
func NewRecurringHandler(recurrenceService ports.RecurrenceService, logger *logger.Logger) *RecurringHandler {
	return &RecurringHandler{
		recurrenceService: recurrenceService,
		logger:            logger,
	}
}

// CreateDefinition godoc
// @Summary Create a recurring task definition
// @Tags recurring
// @Accept json
// @Produce json
// @Param request body ports.CreateRecurringRequest true "Definition"
// @Success 201 {object} entities.RecurringTaskDefinition
// @Failure 400 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /recurring [post]
func (h *RecurringHandler) CreateDefinition(c echo.Context) error {
	var req ports.CreateRecurringRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	def, err := h.recurrenceService.CreateDefinition(c.Request().Context(), req)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, def)
}

// GetDefinition godoc
// @Summary Get a recurring task definition
// @Tags recurring
// @Produce json
// @Param id path string true "Definition ID"
// @Success 200 {object} entities.RecurringTaskDefinition
// @Failure 404 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /recurring/{id} [get]
func (h *RecurringHandler) GetDefinition(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	def, err := h.recurrenceService.GetDefinition(c.Request().Context(), id)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// UpdateDefinition godoc
// @Summary Update a recurring task definition
// @Tags recurring
// @Accept json
// @Produce json
// @Param id path string true "Definition ID"
// @Param request body ports.UpdateRecurringRequest true "Changes"
// @Success 200 {object} entities.RecurringTaskDefinition
// @Security BearerAuth
// @Router /recurring/{id} [put]
func (h *RecurringHandler) UpdateDefinition(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req ports.UpdateRecurringRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	def, err := h.recurrenceService.UpdateDefinition(c.Request().Context(), id, req)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// DeleteDefinition godoc
// @Summary Delete a recurring task definition
// @Description Tasks already materialized keep their provenance.
// @Tags recurring
// @Param id path string true "Definition ID"
// @Success 204
// @Security BearerAuth
// @Router /recurring/{id} [delete]
func (h *RecurringHandler) DeleteDefinition(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.recurrenceService.DeleteDefinition(c.Request().Context(), id); err != nil {
		return domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDefinitions godoc
// @Summary List recurring task definitions
// @Tags recurring
// @Produce json
// @Param active query bool false "Only active or inactive definitions"
// @Param type query string false "daily, weekly or monthly"
// @Success 200 {array} entities.RecurringTaskDefinition
// @Security BearerAuth
// @Router /recurring [get]
func (h *RecurringHandler) ListDefinitions(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}
	filter := ports.RecurringFilter{Limit: limit, Offset: offset}

	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid active parameter")
		}
		filter.IsActive = &active
	}
	if v := c.QueryParam("type"); v != "" {
		kind := entities.RecurrenceType(v)
		if !kind.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid type parameter")
		}
		filter.Type = &kind
	}
	if v := c.QueryParam("search"); v != "" {
		filter.Search = &v
	}

	defs, err := h.recurrenceService.ListDefinitions(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("List recurring definitions failed", "error", err)
		return domainError(err)
	}
	return c.JSON(http.StatusOK, defs)
}

// Sweep godoc
// @Summary Materialize every definition due on a date
// @Tags recurring
// @Accept json
// @Produce json
// @Param request body ports.DateRequest false "Calendar date, defaults to today"
// @Success 200 {object} ports.SweepReport
// @Failure 423 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /recurring/sweep [post]
func (h *RecurringHandler) Sweep(c echo.Context) error {
	day, err := h.dateFromBody(c)
	if err != nil {
		return err
	}

	report, err := h.recurrenceService.Sweep(c.Request().Context(), day)
	if err != nil {
		if ErrorStatus(err) == http.StatusInternalServerError {
			h.logger.Error("Recurrence sweep failed", "error", err)
		}
		return domainError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// Materialize godoc
// @Summary Materialize one definition on a date
// @Description Creates the task even when the rule is not due that day. Inactive definitions are refused.
// @Tags recurring
// @Accept json
// @Produce json
// @Param id path string true "Definition ID"
// @Param request body ports.DateRequest false "Calendar date, defaults to today"
// @Success 201 {object} entities.Task
// @Failure 409 {object} ports.ErrorResponse
// @Security BearerAuth
// @Router /recurring/{id}/materialize [post]
func (h *RecurringHandler) Materialize(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	day, err := h.dateFromBody(c)
	if err != nil {
		return err
	}

	task, err := h.recurrenceService.MaterializeOn(c.Request().Context(), id, day)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *RecurringHandler) dateFromBody(c echo.Context) (time.Time, error) {
	var req ports.DateRequest
	if c.Request().ContentLength != 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return time.Time{}, err
		}
	}

	day, err := h.recurrenceService.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
	}
	return day, nil
}
