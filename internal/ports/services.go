package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
)

// TaskService interface for task lifecycle operations
type TaskService interface {
	CreateTask(ctx context.Context, actor entities.Actor, req CreateTaskRequest) (*entities.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*entities.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*entities.Task, int64, error)
	StartTimer(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error)
	StopTimer(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error)
	SubmitForApproval(ctx context.Context, id uuid.UUID, actor entities.Actor, evidence []entities.Attachment) (*lifecycle.Result, error)
	Approve(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error)
	Reject(ctx context.Context, id uuid.UUID, actor entities.Actor, reason string) (*lifecycle.Result, error)
	Cancel(ctx context.Context, id uuid.UUID, actor entities.Actor) (*lifecycle.Result, error)
}

// ReconcileService interface for recovering timers left running on closed tasks
type ReconcileService interface {
	Run(ctx context.Context, dryRun bool) (*ReconcileReport, error)
}

// RecurrenceService interface for recurring definitions and their materialization
type RecurrenceService interface {
	CreateDefinition(ctx context.Context, req CreateRecurringRequest) (*entities.RecurringTaskDefinition, error)
	GetDefinition(ctx context.Context, id uuid.UUID) (*entities.RecurringTaskDefinition, error)
	UpdateDefinition(ctx context.Context, id uuid.UUID, req UpdateRecurringRequest) (*entities.RecurringTaskDefinition, error)
	DeleteDefinition(ctx context.Context, id uuid.UUID) error
	ListDefinitions(ctx context.Context, filter RecurringFilter) ([]*entities.RecurringTaskDefinition, error)
	Sweep(ctx context.Context, date time.Time) (*SweepReport, error)
	MaterializeOn(ctx context.Context, id uuid.UUID, date time.Time) (*entities.Task, error)
	ParseDate(value string) (time.Time, error)
}

// Request/Response Types

// Task related types
type CreateTaskRequest struct {
	Title                   string            `json:"title" validate:"required,max=255"`
	Description             *string           `json:"description" validate:"omitempty,max=2000"`
	ClientName              *string           `json:"client_name" validate:"omitempty,max=200"`
	AssigneeID              *uuid.UUID        `json:"assignee_id"`
	Priority                entities.Priority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	RequiresTwoStepApproval bool              `json:"requires_two_step_approval"`
	Dependencies            []uuid.UUID       `json:"dependencies"`
	EstimatedMinutes        int               `json:"estimated_minutes" validate:"min=0"`
	DueDate                 *time.Time        `json:"due_date"`
	Tags                    []string          `json:"tags" validate:"omitempty,dive,max=50"`
}

type AttachmentInput struct {
	Name string `json:"name" validate:"required,max=255"`
	URL  string `json:"url" validate:"required,url"`
}

type SubmitRequest struct {
	Evidence []AttachmentInput `json:"evidence" validate:"omitempty,dive"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// TransitionResponse is what every lifecycle endpoint returns.
type TransitionResponse struct {
	Task     *entities.Task      `json:"task"`
	Events   []lifecycle.Event   `json:"events"`
	Warnings []lifecycle.Warning `json:"warnings,omitempty"`
}

// Recurrence related types
type RecurrenceRuleInput struct {
	Type        entities.RecurrenceType `json:"type" validate:"required,oneof=daily weekly monthly"`
	Time        string                  `json:"time" validate:"required"`
	DayOfWeek   *int                    `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	WeekOfMonth *int                    `json:"week_of_month" validate:"omitempty,min=1,max=5"`
}

// Rule converts the wire form into the domain rule.
func (in RecurrenceRuleInput) Rule() entities.RecurrenceRule {
	rule := entities.RecurrenceRule{Type: in.Type, Time: in.Time, WeekOfMonth: in.WeekOfMonth}
	if in.DayOfWeek != nil {
		wd := time.Weekday(*in.DayOfWeek)
		rule.DayOfWeek = &wd
	}
	return rule
}

type CreateRecurringRequest struct {
	Title                   string              `json:"title" validate:"required,max=255"`
	Description             *string             `json:"description" validate:"omitempty,max=2000"`
	ClientName              *string             `json:"client_name" validate:"omitempty,max=200"`
	AssigneeID              *uuid.UUID          `json:"assignee_id"`
	Priority                entities.Priority   `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	EstimatedMinutes        int                 `json:"estimated_minutes" validate:"min=0"`
	RequiresTwoStepApproval bool                `json:"requires_two_step_approval"`
	Tags                    []string            `json:"tags" validate:"omitempty,dive,max=50"`
	Rule                    RecurrenceRuleInput `json:"recurrence_rule" validate:"required"`
	IsActive                *bool               `json:"is_active"`
}

type UpdateRecurringRequest struct {
	Title                   *string              `json:"title" validate:"omitempty,max=255"`
	Description             *string              `json:"description" validate:"omitempty,max=2000"`
	ClientName              *string              `json:"client_name" validate:"omitempty,max=200"`
	AssigneeID              *uuid.UUID           `json:"assignee_id"`
	Priority                *entities.Priority   `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	EstimatedMinutes        *int                 `json:"estimated_minutes" validate:"omitempty,min=0"`
	RequiresTwoStepApproval *bool                `json:"requires_two_step_approval"`
	Tags                    []string             `json:"tags" validate:"omitempty,dive,max=50"`
	Rule                    *RecurrenceRuleInput `json:"recurrence_rule"`
	IsActive                *bool                `json:"is_active"`
}

// DateRequest carries a calendar date as YYYY-MM-DD.
type DateRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// Reconciliation report
type ReconcileReport struct {
	DryRun           bool                 `json:"dry_run"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	TotalScanned     int                  `json:"total_scanned"`
	CandidatesFound  int                  `json:"candidates_found"`
	RecoveredSeconds int64                `json:"recovered_seconds"`
	Corrections      []lifecycle.Recovery `json:"corrections"`
	Errors           []TaskError          `json:"errors"`
	Cancelled        bool                 `json:"cancelled"`
}

type TaskError struct {
	TaskID uuid.UUID `json:"task_id"`
	Error  string    `json:"error"`
}

// Recurrence sweep report
type SweepReport struct {
	Date      string            `json:"date"`
	Evaluated int               `json:"evaluated"`
	Due       int               `json:"due"`
	Created   []uuid.UUID       `json:"created"`
	Skipped   []uuid.UUID       `json:"skipped"`
	Errors    []DefinitionError `json:"errors"`
}

type DefinitionError struct {
	DefinitionID uuid.UUID `json:"definition_id"`
	Error        string    `json:"error"`
}

// Response types for pagination and common structures
type PaginatedResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
