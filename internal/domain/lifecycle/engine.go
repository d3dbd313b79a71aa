package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// CommandKind names a lifecycle transition.
type CommandKind string

const (
	CommandStartTimer        CommandKind = "start_timer"
	CommandStopTimer         CommandKind = "stop_timer"
	CommandSubmitForApproval CommandKind = "submit_for_approval"
	CommandApprove           CommandKind = "approve"
	CommandReject            CommandKind = "reject"
	CommandCancel            CommandKind = "cancel"
)

// Command is the input of a transition. Only the fields relevant to Kind
// are read.
type Command struct {
	Kind  CommandKind
	Actor entities.Actor
	// Reason is required by reject.
	Reason string
	// Evidence is attached by submit_for_approval.
	Evidence []entities.Attachment
	// Dependencies resolves prerequisite statuses for approve.
	Dependencies DependencyView
}

// Engine is the task lifecycle state machine. It is a pure reducer over
// task snapshots: (Task, Command) -> (Result, error). It holds no per-task
// state and never performs side effects.
type Engine struct {
	clock      Clock
	capability CapabilityChecker
	evidence   EvidenceClassifier
}

// NewEngine creates an engine. Nil collaborators fall back to the system
// clock, the default approver roles and kind-based evidence classification.
func NewEngine(clock Clock, capability CapabilityChecker, evidence EvidenceClassifier) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if capability == nil {
		capability = RoleCapability{Roles: DefaultApproverRoles}
	}
	if evidence == nil {
		evidence = KindEvidenceClassifier{}
	}
	return &Engine{clock: clock, capability: capability, evidence: evidence}
}

// Apply runs cmd against a copy of task. The input snapshot is left untouched.
func (e *Engine) Apply(task *entities.Task, cmd Command) (*Result, error) {
	if task == nil {
		return nil, fmt.Errorf("%s: %w: nil task", cmd.Kind, entities.ErrInvalidState)
	}

	now := e.clock.Now()
	res := &Result{Task: task.Clone()}

	var err error
	switch cmd.Kind {
	case CommandStartTimer:
		err = e.startTimer(res, cmd, now)
	case CommandStopTimer:
		err = e.stopTimer(res, cmd, now)
	case CommandSubmitForApproval:
		err = e.submitForApproval(res, cmd, now)
	case CommandApprove:
		err = e.approve(res, cmd, now)
	case CommandReject:
		err = e.reject(res, cmd, now)
	case CommandCancel:
		err = e.cancel(res, cmd, now)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", entities.ErrInvalidState, cmd.Kind)
	}
	if err != nil {
		return nil, err
	}
	res.persist(cmd.Actor, now)
	return res, nil
}

func (e *Engine) StartTimer(task *entities.Task, actor entities.Actor) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandStartTimer, Actor: actor})
}

func (e *Engine) StopTimer(task *entities.Task, actor entities.Actor) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandStopTimer, Actor: actor})
}

func (e *Engine) SubmitForApproval(task *entities.Task, actor entities.Actor, evidence []entities.Attachment) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandSubmitForApproval, Actor: actor, Evidence: evidence})
}

func (e *Engine) Approve(task *entities.Task, actor entities.Actor, deps DependencyView) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandApprove, Actor: actor, Dependencies: deps})
}

func (e *Engine) Reject(task *entities.Task, actor entities.Actor, reason string) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandReject, Actor: actor, Reason: reason})
}

func (e *Engine) Cancel(task *entities.Task, actor entities.Actor) (*Result, error) {
	return e.Apply(task, Command{Kind: CommandCancel, Actor: actor})
}

func (e *Engine) startTimer(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	if t.IsTerminal() {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "task is closed")
	}
	if t.IsTimerRunning() {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "a timer is already running")
	}

	startedAt := now
	owner := cmd.Actor.ID
	t.TimerStartedAt = &startedAt
	t.TimerOwnerID = &owner
	if t.Status == entities.TaskStatusTodo {
		setStatus(t, entities.TaskStatusInProgress, now)
	}
	t.UpdatedAt = now

	res.notify(EventTimerStarted, cmd.Actor, now, "")
	return nil
}

func (e *Engine) stopTimer(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	if !t.IsTimerRunning() {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "no timer is running")
	}

	e.fold(res, now)
	t.UpdatedAt = now

	res.notify(EventTimerStopped, cmd.Actor, now, "")
	return nil
}

func (e *Engine) submitForApproval(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	switch t.Status {
	case entities.TaskStatusTodo, entities.TaskStatusInProgress:
	case entities.TaskStatusPendingApproval, entities.TaskStatusApproved, entities.TaskStatusCancelled:
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "only todo or in-progress tasks can be submitted")
	default:
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "unknown status")
	}

	// Prior evidence is kept; new evidence is appended.
	for _, a := range cmd.Evidence {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Kind == "" {
			a.Kind = entities.AttachmentKindApprovalEvidence
		}
		if a.UploadedBy == uuid.Nil {
			a.UploadedBy = cmd.Actor.ID
		}
		if a.UploadedAt.IsZero() {
			a.UploadedAt = now
		}
		t.Attachments = append(t.Attachments, a)
	}

	e.fold(res, now)
	t.RejectionReason = nil
	setStatus(t, entities.TaskStatusPendingApproval, now)
	t.UpdatedAt = now

	res.notify(EventTaskSubmitted, cmd.Actor, now, "")
	return nil
}

func (e *Engine) approve(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	if t.Status != entities.TaskStatusPendingApproval {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "task is not pending approval")
	}
	if !e.capability.CanApprove(cmd.Actor, t) {
		return refuse(cmd.Kind, t, entities.ErrUnauthorized, "actor cannot approve this task")
	}
	if blocking := blockingDependencies(t, cmd.Dependencies); len(blocking) > 0 {
		return &entities.TransitionError{
			Op:     string(cmd.Kind),
			TaskID: t.ID,
			Status: t.Status,
			Err:    &entities.DependencyNotMetError{TaskID: t.ID, Blocking: blocking},
		}
	}
	if t.HasApprovalFrom(cmd.Actor.ID) {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "actor already approved this cycle")
	}

	t.Approvals = append(t.Approvals, entities.Approval{ApproverID: cmd.Actor.ID, ApprovedAt: now})

	if len(t.Approvals) < t.RequiredApprovals() {
		// First sign-off of two; updatedAt stays as the pending-since anchor.
		res.notify(EventApprovalRecorded, cmd.Actor, now, "")
		return nil
	}

	e.fold(res, now)
	setStatus(t, entities.TaskStatusApproved, now)
	t.UpdatedAt = now

	res.notify(EventTaskApproved, cmd.Actor, now, "")
	return nil
}

func (e *Engine) reject(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	if t.Status != entities.TaskStatusPendingApproval {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "task is not pending approval")
	}
	if !e.capability.CanApprove(cmd.Actor, t) {
		return refuse(cmd.Kind, t, entities.ErrUnauthorized, "actor cannot reject this task")
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return refuse(cmd.Kind, t, entities.ErrEmptyReason, "")
	}

	kept := t.Attachments[:0:0]
	for _, a := range t.Attachments {
		if e.evidence.IsApprovalEvidence(a) {
			res.discard(a.ID, cmd.Actor, now)
			continue
		}
		kept = append(kept, a)
	}
	t.Attachments = kept

	t.Approvals = []entities.Approval{}
	t.RejectionReason = &reason
	setStatus(t, entities.TaskStatusInProgress, now)
	t.UpdatedAt = now

	res.notify(EventTaskRejected, cmd.Actor, now, reason)
	return nil
}

func (e *Engine) cancel(res *Result, cmd Command, now time.Time) error {
	t := res.Task
	if t.IsTerminal() {
		return refuse(cmd.Kind, t, entities.ErrInvalidState, "task is already closed")
	}

	e.fold(res, now)
	cancelledAt := now
	t.CancelledAt = &cancelledAt
	setStatus(t, entities.TaskStatusCancelled, now)
	t.UpdatedAt = now

	res.notify(EventTaskCancelled, cmd.Actor, now, "")
	return nil
}

// fold stops a running timer with the live-stop arithmetic (no cap).
func (e *Engine) fold(res *Result, now time.Time) {
	t := res.Task
	if !t.IsTimerRunning() {
		return
	}
	startedAt := *t.TimerStartedAt
	folded, skewed, _ := foldTimer(t, now, 0)
	res.FoldedSeconds += folded
	if skewed {
		res.Warnings = append(res.Warnings, Warning{
			Kind:   WarningClockSkew,
			TaskID: t.ID,
			Detail: fmt.Sprintf("now %s precedes timer start %s; elapsed clamped to zero",
				now.Format(time.RFC3339), startedAt.Format(time.RFC3339)),
		})
	}
}

func setStatus(t *entities.Task, status entities.TaskStatus, now time.Time) {
	t.Status = status
	changedAt := now
	t.StatusChangedAt = &changedAt
}

func refuse(kind CommandKind, t *entities.Task, err error, detail string) error {
	return &entities.TransitionError{
		Op:     string(kind),
		TaskID: t.ID,
		Status: t.Status,
		Err:    err,
		Detail: detail,
	}
}
