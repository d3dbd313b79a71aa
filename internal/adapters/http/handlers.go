package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// ActorContextKey is where the auth middleware stores the calling actor.
const ActorContextKey = "actor"

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(c echo.Context) (entities.Actor, bool) {
	actor, ok := c.Get(ActorContextKey).(entities.Actor)
	return actor, ok && actor.ID != uuid.Nil
}

func requireActor(c echo.Context) (entities.Actor, error) {
	actor, ok := ActorFromContext(c)
	if !ok {
		return entities.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Missing actor")
	}
	return actor, nil
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func pagination(c echo.Context) (limit, offset int, err error) {
	limit = 20
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 200 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid limit parameter")
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid offset parameter")
		}
	}
	return limit, offset, nil
}

// ErrorStatus maps a domain error to its HTTP status.
func ErrorStatus(err error) int {
	var depErr *entities.DependencyNotMetError
	switch {
	case errors.As(err, &depErr), errors.Is(err, entities.ErrDependencyNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, entities.ErrEmptyReason),
		errors.Is(err, entities.ErrInvalidRecurrenceRule),
		errors.Is(err, entities.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrTaskNotFound), errors.Is(err, entities.ErrDefinitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrInvalidState),
		errors.Is(err, entities.ErrConflict),
		errors.Is(err, entities.ErrInactiveDefinition),
		errors.Is(err, entities.ErrDuplicateOccurrence):
		return http.StatusConflict
	case errors.Is(err, entities.ErrSweepInProgress):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// domainError turns a service error into the HTTP error the server's error
// handler renders. Internal errors keep their cause out of the body.
func domainError(err error) *echo.HTTPError {
	code := ErrorStatus(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, http.StatusText(code)).SetInternal(err)
	}

	body := ports.ErrorResponse{Message: err.Error()}
	var depErr *entities.DependencyNotMetError
	if errors.As(err, &depErr) {
		body.Details = map[string]interface{}{"blocking": depErr.Blocking}
	}
	if entities.IsRetryable(err) {
		if body.Details == nil {
			body.Details = map[string]interface{}{}
		}
		body.Details["retryable"] = true
	}
	return echo.NewHTTPError(code, body).SetInternal(err)
}

func transitionResponse(res *lifecycle.Result) ports.TransitionResponse {
	events := []lifecycle.Event{}
	for _, in := range res.Instructions {
		if in.Kind == lifecycle.InstructionNotify {
			events = append(events, in.Event)
		}
	}
	return ports.TransitionResponse{Task: res.Task, Events: events, Warnings: res.Warnings}
}
