package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/config"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

var (
	adminActor = entities.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Role: entities.UserRoleAdmin}
	devActor   = entities.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000d"), Role: entities.UserRoleDeveloper}
	taskID     = uuid.MustParse("11111111-1111-1111-1111-111111111111")
)

type fakeTokens map[string]entities.Actor

func (f fakeTokens) ValidateToken(token string) (entities.Actor, error) {
	actor, ok := f[token]
	if !ok {
		return entities.Actor{}, errors.New("unknown token")
	}
	return actor, nil
}

type fakeTasks struct {
	ports.TaskService
	err     error
	reason  string
	created []string
}

func (f *fakeTasks) CreateTask(_ context.Context, _ entities.Actor, req ports.CreateTaskRequest) (*entities.Task, error) {
	f.created = append(f.created, req.Title)
	if f.err != nil {
		return nil, f.err
	}
	return &entities.Task{ID: uuid.New(), Title: req.Title, Status: entities.TaskStatusTodo}, nil
}

func (f *fakeTasks) GetTask(_ context.Context, id uuid.UUID) (*entities.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &entities.Task{ID: id, Title: "Quarterly report", Status: entities.TaskStatusTodo}, nil
}

func (f *fakeTasks) Approve(_ context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &lifecycle.Result{
		Task: &entities.Task{ID: id, Status: entities.TaskStatusApproved},
		Instructions: []lifecycle.Instruction{
			{Kind: lifecycle.InstructionPersist, TaskID: id, ActorID: actor.ID},
			{Kind: lifecycle.InstructionNotify, Event: lifecycle.EventTaskApproved, TaskID: id, ActorID: actor.ID},
		},
	}, nil
}

func (f *fakeTasks) Reject(_ context.Context, id uuid.UUID, _ entities.Actor, reason string) (*lifecycle.Result, error) {
	f.reason = reason
	if f.err != nil {
		return nil, f.err
	}
	return &lifecycle.Result{Task: &entities.Task{ID: id, Status: entities.TaskStatusInProgress}}, nil
}

type fakeReconcile struct {
	err    error
	dryRun []bool
}

func (f *fakeReconcile) Run(_ context.Context, dryRun bool) (*ports.ReconcileReport, error) {
	f.dryRun = append(f.dryRun, dryRun)
	if f.err != nil {
		return nil, f.err
	}
	return &ports.ReconcileReport{DryRun: dryRun, TotalScanned: 3}, nil
}

type fakeRecurrence struct {
	ports.RecurrenceService
}

func (fakeRecurrence) ListDefinitions(context.Context, ports.RecurringFilter) ([]*entities.RecurringTaskDefinition, error) {
	return []*entities.RecurringTaskDefinition{}, nil
}

type harness struct {
	tasks     *fakeTasks
	reconcile *fakeReconcile
	handler   http.Handler
}

func newHarness(t *testing.T, checks map[string]HealthCheck) *harness {
	t.Helper()

	cfg := &config.Config{
		App:      config.AppConfig{Version: "test"},
		Server:   config.ServerConfig{ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		Security: config.SecurityConfig{CORSAllowedOrigins: "*"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	h := &harness{tasks: &fakeTasks{}, reconcile: &fakeReconcile{}}
	srv := New(cfg, Dependencies{
		Tasks:      h.tasks,
		Reconcile:  h.reconcile,
		Recurrence: fakeRecurrence{},
		Tokens:     fakeTokens{"admin-token": adminActor, "dev-token": devActor},
		Checks:     checks,
	}, logger.NewNop())
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ports.ErrorResponse {
	t.Helper()
	var body ports.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReady_ReportsFailingChecks(t *testing.T) {
	h := newHarness(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := h.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = h.do(http.MethodGet, "/health/detailed", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuth_RejectsMissingAndUnknownTokens(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/v1/tasks/"+taskID.String(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/tasks/"+taskID.String(), "forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/tasks/"+taskID.String(), "dev-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApprove_ReturnsEvents(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/approve", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ports.TransitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, entities.TaskStatusApproved, body.Task.Status)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventTaskApproved}, body.Events)
}

func TestApprove_BlockedByDependencies(t *testing.T) {
	h := newHarness(t, nil)
	blocker := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	h.tasks.err = &entities.DependencyNotMetError{TaskID: taskID, Blocking: []uuid.UUID{blocker}}

	rec := h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/approve", "admin-token", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, []interface{}{blocker.String()}, body.Details["blocking"])
}

func TestTransitionErrors_MapToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unauthorized", entities.ErrUnauthorized, http.StatusForbidden},
		{"invalid state", entities.ErrInvalidState, http.StatusConflict},
		{"conflict", entities.ErrConflict, http.StatusConflict},
		{"not found", entities.ErrTaskNotFound, http.StatusNotFound},
		{"storage", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.tasks.err = tc.err

			rec := h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/approve", "admin-token", "")
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestInternalErrors_HideTheCause(t *testing.T) {
	h := newHarness(t, nil)
	h.tasks.err = errors.New("pq: password authentication failed")

	rec := h.do(http.MethodGet, "/api/v1/tasks/"+taskID.String(), "dev-token", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestConflict_IsMarkedRetryable(t *testing.T) {
	h := newHarness(t, nil)
	h.tasks.err = &entities.PersistenceError{Op: "save task", Err: entities.ErrConflict}

	rec := h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/approve", "admin-token", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, true, decodeError(t, rec).Details["retryable"])
}

func TestReject_PassesReasonThrough(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/reject", "admin-token", `{"reason":"missing invoice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing invoice", h.tasks.reason)

	h.tasks.err = entities.ErrEmptyReason
	rec = h.do(http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/reject", "admin-token", `{"reason":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_TitleFitsColumn(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/tasks", "dev-token", `{"title":"`+strings.Repeat("a", 256)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.tasks.created)

	rec = h.do(http.MethodPost, "/api/v1/tasks", "dev-token", `{"title":"`+strings.Repeat("a", 255)+`"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, h.tasks.created, 1)
}

func TestCreateTask_InvalidInputIsBadRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.tasks.err = fmt.Errorf("%w: unknown dependencies %s", entities.ErrInvalidTask, uuid.New())

	rec := h.do(http.MethodPost, "/api/v1/tasks", "dev-token", `{"title":"File expenses"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidTaskID(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/tasks/not-a-uuid/approve", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcile_RequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/admin/reconcile/preview", "dev-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.reconcile.dryRun)

	rec = h.do(http.MethodPost, "/api/v1/admin/reconcile/preview", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true}, h.reconcile.dryRun)
}

func TestReconcile_CommitContention(t *testing.T) {
	h := newHarness(t, nil)
	h.reconcile.err = entities.ErrSweepInProgress

	rec := h.do(http.MethodPost, "/api/v1/admin/reconcile/commit", "admin-token", "")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, []bool{false}, h.reconcile.dryRun)
}

func TestRecurring_ReadIsOpenToAllRoles(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/v1/recurring", "dev-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/recurring/sweep", "dev-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/health", "", "")

	rec := h.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lifecycle_http_requests_total")
}
