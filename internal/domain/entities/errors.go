package entities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidState          = errors.New("invalid state")
	ErrInvalidTask           = errors.New("invalid task")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyNotMet      = errors.New("dependency not met")
	ErrEmptyReason           = errors.New("rejection reason is required")
	ErrTaskNotFound          = errors.New("task not found")
	ErrDefinitionNotFound    = errors.New("recurring task definition not found")
	ErrConflict              = errors.New("task was modified concurrently")
	ErrDuplicateOccurrence   = errors.New("occurrence already materialized")
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
	ErrInactiveDefinition    = errors.New("recurring task definition is inactive")
	ErrSweepInProgress       = errors.New("reconciliation sweep already in progress")
)

// TransitionError describes a lifecycle operation refused by the engine.
type TransitionError struct {
	Op     string
	TaskID uuid.UUID
	Status TaskStatus
	Err    error
	Detail string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s task %s (status %s): %v", e.Op, e.TaskID, e.Status, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// DependencyNotMetError carries the prerequisite tasks that block approval.
type DependencyNotMetError struct {
	TaskID   uuid.UUID
	Blocking []uuid.UUID
}

func (e *DependencyNotMetError) Error() string {
	ids := make([]string, 0, len(e.Blocking))
	for _, id := range e.Blocking {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("task %s blocked by unapproved dependencies: %s", e.TaskID, strings.Join(ids, ", "))
}

func (e *DependencyNotMetError) Unwrap() error {
	return ErrDependencyNotMet
}

// PersistenceError wraps storage failures. The whole operation is safe to
// retry from a freshly loaded snapshot.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry the operation unchanged
// after reloading. Refusals that need a different input are not retryable.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
