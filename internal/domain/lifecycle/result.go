package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// InstructionKind names a side effect the caller carries out. A persist
// instruction always comes first; the others run only once it succeeded.
type InstructionKind string

const (
	InstructionPersist           InstructionKind = "persist"
	InstructionNotify            InstructionKind = "notify"
	InstructionDiscardAttachment InstructionKind = "discard_attachment"
)

// Event is the lifecycle event carried by a notify instruction.
type Event string

const (
	EventTimerStarted     Event = "timer_started"
	EventTimerStopped     Event = "timer_stopped"
	EventTaskSubmitted    Event = "task_submitted"
	EventApprovalRecorded Event = "approval_recorded"
	EventTaskApproved     Event = "task_approved"
	EventTaskRejected     Event = "task_rejected"
	EventTaskCancelled    Event = "task_cancelled"
)

// Instruction describes one side effect. The engine never performs it.
type Instruction struct {
	Kind         InstructionKind `json:"kind"`
	Event        Event           `json:"event,omitempty"`
	TaskID       uuid.UUID       `json:"task_id"`
	ActorID      uuid.UUID       `json:"actor_id"`
	AttachmentID *uuid.UUID      `json:"attachment_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	At           time.Time       `json:"at"`
}

// WarningKind classifies a non-fatal anomaly noticed during a transition.
type WarningKind string

const (
	WarningClockSkew WarningKind = "clock_skew"
)

type Warning struct {
	Kind   WarningKind `json:"kind"`
	TaskID uuid.UUID   `json:"task_id"`
	Detail string      `json:"detail"`
}

// Result is the outcome of a successful transition: the new snapshot and
// the side effects to run once it is stored.
type Result struct {
	Task         *entities.Task `json:"task"`
	Instructions []Instruction  `json:"instructions"`
	Warnings     []Warning      `json:"warnings,omitempty"`
	// FoldedSeconds is the time moved from a running timer into the
	// accumulated counter by this transition.
	FoldedSeconds int64 `json:"folded_seconds"`
}

func (r *Result) persist(actor entities.Actor, at time.Time) {
	r.Instructions = append([]Instruction{{
		Kind:    InstructionPersist,
		TaskID:  r.Task.ID,
		ActorID: actor.ID,
		At:      at,
	}}, r.Instructions...)
}

func (r *Result) notify(event Event, actor entities.Actor, at time.Time, reason string) {
	r.Instructions = append(r.Instructions, Instruction{
		Kind:    InstructionNotify,
		Event:   event,
		TaskID:  r.Task.ID,
		ActorID: actor.ID,
		Reason:  reason,
		At:      at,
	})
}

func (r *Result) discard(attachmentID uuid.UUID, actor entities.Actor, at time.Time) {
	id := attachmentID
	r.Instructions = append(r.Instructions, Instruction{
		Kind:         InstructionDiscardAttachment,
		TaskID:       r.Task.ID,
		ActorID:      actor.ID,
		AttachmentID: &id,
		At:           at,
	})
}

// Events returns the notify events in emission order.
func (r *Result) Events() []Event {
	var events []Event
	for _, in := range r.Instructions {
		if in.Kind == InstructionNotify {
			events = append(events, in.Event)
		}
	}
	return events
}
