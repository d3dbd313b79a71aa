package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums and types
type UserRole string

const (
	UserRoleAdmin          UserRole = "admin"
	UserRoleProjectManager UserRole = "project_manager"
	UserRoleTeamLead       UserRole = "team_lead"
	UserRoleDeveloper      UserRole = "developer"
	UserRoleViewer         UserRole = "viewer"
)

// TaskStatus is the closed set of lifecycle states. Every switch over it
// must handle all five values.
type TaskStatus string

const (
	TaskStatusTodo            TaskStatus = "todo"
	TaskStatusInProgress      TaskStatus = "in_progress"
	TaskStatusPendingApproval TaskStatus = "pending_approval"
	TaskStatusApproved        TaskStatus = "approved"
	TaskStatusCancelled       TaskStatus = "cancelled"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AttachmentKind tags an attachment so the engine can tell approval
// evidence apart from ordinary files.
type AttachmentKind string

const (
	AttachmentKindGeneral          AttachmentKind = "general"
	AttachmentKindApprovalEvidence AttachmentKind = "approval_evidence"
)

// RecurrenceOrigin records how a task came out of a recurring definition.
type RecurrenceOrigin string

const (
	RecurrenceOriginScheduled RecurrenceOrigin = "scheduled"
	RecurrenceOriginManual    RecurrenceOrigin = "manual"
)

// Actor is the identity performing a lifecycle operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role UserRole  `json:"role"`
}

// Approval is one sign-off in a task's approval ledger.
type Approval struct {
	ApproverID uuid.UUID `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

// Attachment is a file reference attached to a task. The file itself lives
// with the attachment collaborator.
type Attachment struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	URL        string         `json:"url"`
	Kind       AttachmentKind `json:"kind"`
	UploadedBy uuid.UUID      `json:"uploaded_by"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// Task represents a unit of trackable work moving through the lifecycle
type Task struct {
	ID                      uuid.UUID         `json:"id"`
	Title                   string            `json:"title"`
	Description             *string           `json:"description"`
	ClientName              *string           `json:"client_name"`
	AssigneeID              *uuid.UUID        `json:"assignee_id"`
	Priority                Priority          `json:"priority"`
	Status                  TaskStatus        `json:"status"`
	RequiresTwoStepApproval bool              `json:"requires_two_step_approval"`
	Approvals               []Approval        `json:"approvals"`
	Dependencies            []uuid.UUID       `json:"dependencies"`
	Attachments             []Attachment      `json:"attachments"`
	AccumulatedSeconds      int64             `json:"accumulated_seconds"`
	TimerStartedAt          *time.Time        `json:"timer_started_at"`
	TimerOwnerID            *uuid.UUID        `json:"timer_owner_id"`
	EstimatedMinutes        int               `json:"estimated_minutes"`
	RejectionReason         *string           `json:"rejection_reason"`
	DueDate                 *time.Time        `json:"due_date"`
	Tags                    []string          `json:"tags"`
	StatusChangedAt         *time.Time        `json:"status_changed_at"`
	CancelledAt             *time.Time        `json:"cancelled_at"`
	RecurringDefinitionID   *uuid.UUID        `json:"recurring_definition_id"`
	RecurrenceOrigin        *RecurrenceOrigin `json:"recurrence_origin"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
	Version                 int               `json:"version"`
}

// Business logic methods for Task

// IsTimerRunning reports whether a timer is currently running for the task.
func (t *Task) IsTimerRunning() bool {
	return t.TimerStartedAt != nil
}

// IsTerminal reports whether the task has reached its final disposition.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// RequiredApprovals is the number of distinct sign-offs needed to approve.
func (t *Task) RequiredApprovals() int {
	if t.RequiresTwoStepApproval {
		return 2
	}
	return 1
}

// HasApprovalFrom reports whether the actor already signed off in the
// current approval cycle.
func (t *Task) HasApprovalFrom(actorID uuid.UUID) bool {
	for _, a := range t.Approvals {
		if a.ApproverID == actorID {
			return true
		}
	}
	return false
}

// PendingSince is the anchor shown by "pending since" displays.
func (t *Task) PendingSince() *time.Time {
	if t.Status != TaskStatusPendingApproval {
		return nil
	}
	ts := t.UpdatedAt
	return &ts
}

// GetTrackedDuration returns the accumulated time, excluding a running session.
func (t *Task) GetTrackedDuration() time.Duration {
	return time.Duration(t.AccumulatedSeconds) * time.Second
}

// IsEstimateExceeded reports whether accumulated time is above the estimate.
func (t *Task) IsEstimateExceeded() bool {
	if t.EstimatedMinutes <= 0 {
		return false
	}
	return t.AccumulatedSeconds > int64(t.EstimatedMinutes)*60
}

// Clone returns a deep copy so callers can derive a new snapshot without
// touching the original.
func (t *Task) Clone() *Task {
	c := *t
	c.Description = cloneString(t.Description)
	c.ClientName = cloneString(t.ClientName)
	c.RejectionReason = cloneString(t.RejectionReason)
	c.AssigneeID = cloneUUID(t.AssigneeID)
	c.TimerOwnerID = cloneUUID(t.TimerOwnerID)
	c.RecurringDefinitionID = cloneUUID(t.RecurringDefinitionID)
	c.TimerStartedAt = cloneTime(t.TimerStartedAt)
	c.DueDate = cloneTime(t.DueDate)
	c.StatusChangedAt = cloneTime(t.StatusChangedAt)
	c.CancelledAt = cloneTime(t.CancelledAt)
	if t.RecurrenceOrigin != nil {
		o := *t.RecurrenceOrigin
		c.RecurrenceOrigin = &o
	}
	if t.Approvals != nil {
		c.Approvals = append([]Approval(nil), t.Approvals...)
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]uuid.UUID(nil), t.Dependencies...)
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// Utility methods
func (ur UserRole) IsValid() bool {
	switch ur {
	case UserRoleAdmin, UserRoleProjectManager, UserRoleTeamLead, UserRoleDeveloper, UserRoleViewer:
		return true
	default:
		return false
	}
}

func (ts TaskStatus) IsValid() bool {
	switch ts {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusPendingApproval, TaskStatusApproved, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions are possible.
func (ts TaskStatus) IsTerminal() bool {
	switch ts {
	case TaskStatusApproved, TaskStatusCancelled:
		return true
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusPendingApproval:
		return false
	default:
		return false
	}
}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

func (k AttachmentKind) IsValid() bool {
	switch k {
	case AttachmentKindGeneral, AttachmentKindApprovalEvidence:
		return true
	default:
		return false
	}
}

// IsBlank reports whether s carries no visible characters.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
