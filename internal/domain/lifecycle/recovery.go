package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// End instant sources for a recovery plan.
const (
	EndSourceStatusChange = "status_changed_at"
	EndSourceUpdatedAt    = "updated_at"
)

// Recovery is the correction computed for a task whose timer was left
// running across a terminal transition.
type Recovery struct {
	TaskID           uuid.UUID           `json:"task_id"`
	Status           entities.TaskStatus `json:"status"`
	TimerStartedAt   time.Time           `json:"timer_started_at"`
	TimerOwnerID     *uuid.UUID          `json:"timer_owner_id,omitempty"`
	EndInstant       time.Time           `json:"end_instant"`
	EndSource        string              `json:"end_source"`
	RecoveredSeconds int64               `json:"recovered_seconds"`
	Capped           bool                `json:"capped"`
	Skewed           bool                `json:"skewed"`
}

// NormalizeSessionCap keeps a configured cap within (0, MaxRecoveredSession].
func NormalizeSessionCap(limit time.Duration) time.Duration {
	if limit <= 0 || limit > MaxRecoveredSession {
		return MaxRecoveredSession
	}
	return limit
}

// PlanRecovery decides whether t needs a timer correction and computes it.
// Non-terminal tasks and tasks with no running timer are never candidates.
// Preview and commit both go through this function.
func PlanRecovery(t *entities.Task, limit time.Duration) (Recovery, bool) {
	if t == nil || !t.IsTerminal() || t.TimerStartedAt == nil {
		return Recovery{}, false
	}

	end, source := t.UpdatedAt, EndSourceUpdatedAt
	if t.StatusChangedAt != nil {
		end, source = *t.StatusChangedAt, EndSourceStatusChange
	}

	seconds, skewed, capped := CappedElapsed(*t.TimerStartedAt, end, NormalizeSessionCap(limit))

	plan := Recovery{
		TaskID:           t.ID,
		Status:           t.Status,
		TimerStartedAt:   *t.TimerStartedAt,
		EndInstant:       end,
		EndSource:        source,
		RecoveredSeconds: seconds,
		Capped:           capped,
		Skewed:           skewed,
	}
	if t.TimerOwnerID != nil {
		owner := *t.TimerOwnerID
		plan.TimerOwnerID = &owner
	}
	return plan, true
}

// ApplyRecovery returns a copy of t with the plan folded in and the timer
// cleared. UpdatedAt is left alone so the status anchor is preserved.
func ApplyRecovery(t *entities.Task, plan Recovery) *entities.Task {
	next := t.Clone()
	next.AccumulatedSeconds += plan.RecoveredSeconds
	next.TimerStartedAt = nil
	next.TimerOwnerID = nil
	return next
}
