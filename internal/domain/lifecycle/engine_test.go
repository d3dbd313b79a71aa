package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
)

// ── helpers ──────────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }
func (c *stepClock) Set(t time.Time) { c.now = t }
func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newEngine(clock lifecycle.Clock) *lifecycle.Engine {
	return lifecycle.NewEngine(clock, nil, nil)
}

func member() entities.Actor {
	return entities.Actor{ID: uuid.New(), Role: entities.UserRoleDeveloper}
}

func approver() entities.Actor {
	return entities.Actor{ID: uuid.New(), Role: entities.UserRoleProjectManager}
}

func newTask(status entities.TaskStatus) *entities.Task {
	return &entities.Task{
		ID:        uuid.New(),
		Title:     "Spring campaign banner",
		Status:    status,
		Priority:  entities.PriorityMedium,
		CreatedAt: t0.Add(-time.Hour),
		UpdatedAt: t0.Add(-time.Hour),
	}
}

// ── start / stop ─────────────────────────────────────────────────────────────

func TestStartTimer_FromTodoAdvancesToInProgress(t *testing.T) {
	clock := &stepClock{now: t0}
	actor := member()

	res, err := newEngine(clock).StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)

	assert.Equal(t, entities.TaskStatusInProgress, res.Task.Status)
	require.NotNil(t, res.Task.TimerStartedAt)
	require.NotNil(t, res.Task.TimerOwnerID)
	assert.Equal(t, t0, *res.Task.TimerStartedAt)
	assert.Equal(t, actor.ID, *res.Task.TimerOwnerID)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventTimerStarted}, res.Events())
	require.NotEmpty(t, res.Instructions)
	assert.Equal(t, lifecycle.InstructionPersist, res.Instructions[0].Kind)
}

func TestStartTimer_KeepsPendingApprovalStatus(t *testing.T) {
	res, err := newEngine(lifecycle.FixedClock(t0)).StartTimer(newTask(entities.TaskStatusPendingApproval), member())
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusPendingApproval, res.Task.Status)
	assert.True(t, res.Task.IsTimerRunning())
}

func TestStartTimer_RefusedStates(t *testing.T) {
	running := newTask(entities.TaskStatusInProgress)
	started := t0.Add(-time.Minute)
	owner := uuid.New()
	running.TimerStartedAt = &started
	running.TimerOwnerID = &owner

	tests := []struct {
		name string
		task *entities.Task
	}{
		{"approved", newTask(entities.TaskStatusApproved)},
		{"cancelled", newTask(entities.TaskStatusCancelled)},
		{"timer already running", running},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine(lifecycle.FixedClock(t0)).StartTimer(tt.task, member())
			require.Error(t, err)
			assert.True(t, errors.Is(err, entities.ErrInvalidState), "got %v", err)
		})
	}
}

func TestStopTimer_FoldsElapsedSeconds(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	actor := member()

	res, err := engine.StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)

	clock.Advance(1500 * time.Second)
	res, err = engine.StopTimer(res.Task, actor)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), res.Task.AccumulatedSeconds)
	assert.Equal(t, int64(1500), res.FoldedSeconds)
	assert.Nil(t, res.Task.TimerStartedAt)
	assert.Nil(t, res.Task.TimerOwnerID)
	assert.Empty(t, res.Warnings)
}

func TestStopTimer_SecondCallFailsWithoutPanicking(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	actor := member()

	res, err := engine.StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	res, err = engine.StopTimer(res.Task, actor)
	require.NoError(t, err)

	_, err = engine.StopTimer(res.Task, actor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrInvalidState))
}

func TestStopTimer_ClockSkewClampsToZero(t *testing.T) {
	task := newTask(entities.TaskStatusInProgress)
	started := t0.Add(10 * time.Minute)
	owner := uuid.New()
	task.TimerStartedAt = &started
	task.TimerOwnerID = &owner
	task.AccumulatedSeconds = 42

	res, err := newEngine(lifecycle.FixedClock(t0)).StopTimer(task, member())
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.Task.AccumulatedSeconds)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, lifecycle.WarningClockSkew, res.Warnings[0].Kind)
	assert.Nil(t, res.Task.TimerStartedAt)
}

func TestTimer_AdditivityAcrossSessions(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	actor := member()

	res, err := engine.StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)
	clock.Advance(700 * time.Second)
	res, err = engine.StopTimer(res.Task, actor)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err = engine.StartTimer(res.Task, actor)
	require.NoError(t, err)
	clock.Advance(1234 * time.Second)
	res, err = engine.StopTimer(res.Task, actor)
	require.NoError(t, err)

	assert.Equal(t, int64(700+1234), res.Task.AccumulatedSeconds)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	task := newTask(entities.TaskStatusTodo)
	before := task.Clone()

	_, err := newEngine(lifecycle.FixedClock(t0)).StartTimer(task, member())
	require.NoError(t, err)

	assert.Equal(t, before, task)
}

// ── submit ───────────────────────────────────────────────────────────────────

func TestScenario_StartStopSubmit(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	actor := member()

	res, err := engine.StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)
	clock.Set(t0.Add(1500 * time.Second))
	res, err = engine.StopTimer(res.Task, actor)
	require.NoError(t, err)
	clock.Set(t0.Add(1600 * time.Second))
	res, err = engine.SubmitForApproval(res.Task, actor, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), res.Task.AccumulatedSeconds)
	assert.Equal(t, entities.TaskStatusPendingApproval, res.Task.Status)
	assert.Equal(t, t0.Add(1600*time.Second), res.Task.UpdatedAt)
}

func TestSubmit_StopsRunningTimer(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	actor := member()

	res, err := engine.StartTimer(newTask(entities.TaskStatusTodo), actor)
	require.NoError(t, err)
	clock.Advance(90 * time.Second)

	res, err = engine.SubmitForApproval(res.Task, actor, nil)
	require.NoError(t, err)
	assert.False(t, res.Task.IsTimerRunning())
	assert.Equal(t, int64(90), res.Task.AccumulatedSeconds)
}

func TestSubmit_IgnoresUnmetDependencies(t *testing.T) {
	task := newTask(entities.TaskStatusInProgress)
	task.Dependencies = []uuid.UUID{uuid.New()}

	res, err := newEngine(lifecycle.FixedClock(t0)).SubmitForApproval(task, member(), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusPendingApproval, res.Task.Status)
}

func TestSubmit_AppendsEvidenceAndKeepsPrior(t *testing.T) {
	task := newTask(entities.TaskStatusInProgress)
	prior := entities.Attachment{ID: uuid.New(), Name: "draft.pdf", Kind: entities.AttachmentKindApprovalEvidence}
	task.Attachments = []entities.Attachment{prior}
	actor := member()

	res, err := newEngine(lifecycle.FixedClock(t0)).SubmitForApproval(task, actor, []entities.Attachment{
		{Name: "final.png", URL: "https://files.example/final.png"},
	})
	require.NoError(t, err)

	require.Len(t, res.Task.Attachments, 2)
	assert.Equal(t, prior, res.Task.Attachments[0])
	added := res.Task.Attachments[1]
	assert.NotEqual(t, uuid.Nil, added.ID)
	assert.Equal(t, entities.AttachmentKindApprovalEvidence, added.Kind)
	assert.Equal(t, actor.ID, added.UploadedBy)
	assert.Equal(t, t0, added.UploadedAt)
}

func TestSubmit_RefusedFromPendingAndTerminal(t *testing.T) {
	for _, s := range []entities.TaskStatus{
		entities.TaskStatusPendingApproval, entities.TaskStatusApproved, entities.TaskStatusCancelled,
	} {
		t.Run(string(s), func(t *testing.T) {
			_, err := newEngine(lifecycle.FixedClock(t0)).SubmitForApproval(newTask(s), member(), nil)
			assert.True(t, errors.Is(err, entities.ErrInvalidState), "got %v", err)
		})
	}
}

// ── approve ──────────────────────────────────────────────────────────────────

func TestScenario_TwoStepApproval(t *testing.T) {
	clock := &stepClock{now: t0}
	engine := newEngine(clock)
	task := newTask(entities.TaskStatusPendingApproval)
	task.RequiresTwoStepApproval = true
	a, b := approver(), approver()

	res, err := engine.Approve(task, a, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusPendingApproval, res.Task.Status)
	assert.Len(t, res.Task.Approvals, 1)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventApprovalRecorded}, res.Events())
	assert.Equal(t, task.UpdatedAt, res.Task.UpdatedAt, "first sign-off keeps the pending-since anchor")

	clock.Advance(time.Hour)
	res, err = engine.Approve(res.Task, b, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusApproved, res.Task.Status)
	require.Len(t, res.Task.Approvals, 2)
	assert.Equal(t, a.ID, res.Task.Approvals[0].ApproverID)
	assert.Equal(t, b.ID, res.Task.Approvals[1].ApproverID)
	assert.True(t, res.Task.Approvals[0].ApprovedAt.Before(res.Task.Approvals[1].ApprovedAt))
	assert.Equal(t, []lifecycle.Event{lifecycle.EventTaskApproved}, res.Events())
}

func TestApprove_SingleStepCompletesImmediately(t *testing.T) {
	res, err := newEngine(lifecycle.FixedClock(t0)).Approve(newTask(entities.TaskStatusPendingApproval), approver(), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusApproved, res.Task.Status)
	require.NotNil(t, res.Task.StatusChangedAt)
	assert.Equal(t, t0, *res.Task.StatusChangedAt)
}

func TestApprove_SameApproverTwiceIsRefused(t *testing.T) {
	engine := newEngine(lifecycle.FixedClock(t0))
	task := newTask(entities.TaskStatusPendingApproval)
	task.RequiresTwoStepApproval = true
	a := approver()

	res, err := engine.Approve(task, a, nil)
	require.NoError(t, err)

	_, err = engine.Approve(res.Task, a, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrInvalidState))
}

func TestScenario_ApproveWithUnmetDependency(t *testing.T) {
	dep := uuid.New()
	task := newTask(entities.TaskStatusPendingApproval)
	task.Dependencies = []uuid.UUID{dep}
	view := lifecycle.DependencyStatuses{dep: entities.TaskStatusInProgress}

	res, err := newEngine(lifecycle.FixedClock(t0)).Approve(task, approver(), view)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, entities.ErrDependencyNotMet))

	var depErr *entities.DependencyNotMetError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []uuid.UUID{dep}, depErr.Blocking)
	assert.Equal(t, entities.TaskStatusPendingApproval, task.Status)
}

func TestApprove_DependencyCheckedOnSecondStep(t *testing.T) {
	dep := uuid.New()
	engine := newEngine(lifecycle.FixedClock(t0))
	task := newTask(entities.TaskStatusPendingApproval)
	task.RequiresTwoStepApproval = true
	task.Dependencies = []uuid.UUID{dep}

	res, err := engine.Approve(task, approver(), lifecycle.DependencyStatuses{dep: entities.TaskStatusApproved})
	require.NoError(t, err)

	// The prerequisite was reopened between the two sign-offs.
	_, err = engine.Approve(res.Task, approver(), lifecycle.DependencyStatuses{dep: entities.TaskStatusInProgress})
	assert.True(t, errors.Is(err, entities.ErrDependencyNotMet))
}

func TestApprove_UnknownDependencyBlocks(t *testing.T) {
	task := newTask(entities.TaskStatusPendingApproval)
	task.Dependencies = []uuid.UUID{uuid.New()}

	_, err := newEngine(lifecycle.FixedClock(t0)).Approve(task, approver(), lifecycle.DependencyStatuses{})
	assert.True(t, errors.Is(err, entities.ErrDependencyNotMet))
}

func TestApprove_Unauthorized(t *testing.T) {
	_, err := newEngine(lifecycle.FixedClock(t0)).Approve(newTask(entities.TaskStatusPendingApproval), member(), nil)
	assert.True(t, errors.Is(err, entities.ErrUnauthorized))
}

func TestApprove_RequiresPendingApproval(t *testing.T) {
	_, err := newEngine(lifecycle.FixedClock(t0)).Approve(newTask(entities.TaskStatusInProgress), approver(), nil)
	assert.True(t, errors.Is(err, entities.ErrInvalidState))
}

func TestApprove_StopsRunningTimer(t *testing.T) {
	task := newTask(entities.TaskStatusPendingApproval)
	started := t0.Add(-5 * time.Minute)
	owner := uuid.New()
	task.TimerStartedAt = &started
	task.TimerOwnerID = &owner

	res, err := newEngine(lifecycle.FixedClock(t0)).Approve(task, approver(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Task.TimerStartedAt)
	assert.Equal(t, int64(300), res.Task.AccumulatedSeconds)
}

// ── reject ───────────────────────────────────────────────────────────────────

func TestScenario_RejectWithReason(t *testing.T) {
	task := newTask(entities.TaskStatusPendingApproval)
	task.RequiresTwoStepApproval = true
	task.Approvals = []entities.Approval{{ApproverID: uuid.New(), ApprovedAt: t0.Add(-time.Minute)}}
	evidence := entities.Attachment{ID: uuid.New(), Name: "proof.png", Kind: entities.AttachmentKindApprovalEvidence}
	brief := entities.Attachment{ID: uuid.New(), Name: "brief.docx", Kind: entities.AttachmentKindGeneral}
	task.Attachments = []entities.Attachment{evidence, brief}

	res, err := newEngine(lifecycle.FixedClock(t0)).Reject(task, approver(), "needs colors fixed")
	require.NoError(t, err)

	assert.Equal(t, entities.TaskStatusInProgress, res.Task.Status)
	assert.Empty(t, res.Task.Approvals)
	require.NotNil(t, res.Task.RejectionReason)
	assert.Equal(t, "needs colors fixed", *res.Task.RejectionReason)
	assert.Equal(t, []entities.Attachment{brief}, res.Task.Attachments)

	var discarded []uuid.UUID
	for _, in := range res.Instructions {
		if in.Kind == lifecycle.InstructionDiscardAttachment {
			discarded = append(discarded, *in.AttachmentID)
		}
	}
	assert.Equal(t, []uuid.UUID{evidence.ID}, discarded)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventTaskRejected}, res.Events())
}

func TestReject_EmptyReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\n\t"} {
		_, err := newEngine(lifecycle.FixedClock(t0)).Reject(newTask(entities.TaskStatusPendingApproval), approver(), reason)
		assert.True(t, errors.Is(err, entities.ErrEmptyReason), "reason %q: got %v", reason, err)
	}
}

func TestReject_Unauthorized(t *testing.T) {
	_, err := newEngine(lifecycle.FixedClock(t0)).Reject(newTask(entities.TaskStatusPendingApproval), member(), "nope")
	assert.True(t, errors.Is(err, entities.ErrUnauthorized))
}

func TestReject_ThenSubmitClearsReason(t *testing.T) {
	engine := newEngine(lifecycle.FixedClock(t0))
	res, err := engine.Reject(newTask(entities.TaskStatusPendingApproval), approver(), "wrong font")
	require.NoError(t, err)
	require.NotNil(t, res.Task.RejectionReason)

	res, err = engine.SubmitForApproval(res.Task, member(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Task.RejectionReason)
	assert.Empty(t, res.Task.Approvals)
}

// ── cancel ───────────────────────────────────────────────────────────────────

func TestCancel_FromEveryNonTerminalState(t *testing.T) {
	for _, s := range []entities.TaskStatus{
		entities.TaskStatusTodo, entities.TaskStatusInProgress, entities.TaskStatusPendingApproval,
	} {
		t.Run(string(s), func(t *testing.T) {
			task := newTask(s)
			started := t0.Add(-2 * time.Minute)
			owner := uuid.New()
			task.TimerStartedAt = &started
			task.TimerOwnerID = &owner

			res, err := newEngine(lifecycle.FixedClock(t0)).Cancel(task, member())
			require.NoError(t, err)
			assert.Equal(t, entities.TaskStatusCancelled, res.Task.Status)
			require.NotNil(t, res.Task.CancelledAt)
			assert.Equal(t, t0, *res.Task.CancelledAt)
			assert.Nil(t, res.Task.TimerStartedAt)
			assert.Equal(t, int64(120), res.Task.AccumulatedSeconds)
		})
	}
}

func TestCancel_TerminalRefused(t *testing.T) {
	for _, s := range []entities.TaskStatus{entities.TaskStatusApproved, entities.TaskStatusCancelled} {
		_, err := newEngine(lifecycle.FixedClock(t0)).Cancel(newTask(s), member())
		assert.True(t, errors.Is(err, entities.ErrInvalidState))
	}
}

// ── invariants ───────────────────────────────────────────────────────────────

// Every reachable sequence of commands keeps the terminal-timer invariant and
// never approves a two-step task with fewer than two distinct approvers.
func TestInvariants_ExhaustiveShortSequences(t *testing.T) {
	kinds := []lifecycle.CommandKind{
		lifecycle.CommandStartTimer, lifecycle.CommandStopTimer, lifecycle.CommandSubmitForApproval,
		lifecycle.CommandApprove, lifecycle.CommandReject, lifecycle.CommandCancel,
	}
	actors := []entities.Actor{approver(), approver()}

	var walk func(task *entities.Task, depth int)
	walk = func(task *entities.Task, depth int) {
		if task.IsTerminal() {
			assert.Nil(t, task.TimerStartedAt, "terminal task %s has a running timer", task.Status)
			assert.Nil(t, task.TimerOwnerID)
		}
		assert.Equal(t, task.TimerStartedAt == nil, task.TimerOwnerID == nil, "timer pair out of sync")
		if task.Status == entities.TaskStatusApproved {
			assert.GreaterOrEqual(t, len(task.Approvals), task.RequiredApprovals())
		}
		assert.LessOrEqual(t, len(task.Approvals), task.RequiredApprovals())
		if depth == 0 {
			return
		}
		for _, kind := range kinds {
			for _, actor := range actors {
				clock := &stepClock{now: task.UpdatedAt.Add(time.Minute)}
				res, err := newEngine(clock).Apply(task, lifecycle.Command{Kind: kind, Actor: actor, Reason: "redo"})
				if err != nil {
					continue
				}
				walk(res.Task, depth-1)
			}
		}
	}

	single := newTask(entities.TaskStatusTodo)
	double := newTask(entities.TaskStatusTodo)
	double.RequiresTwoStepApproval = true
	walk(single, 4)
	walk(double, 4)
}

func TestApply_UnknownCommand(t *testing.T) {
	_, err := newEngine(lifecycle.FixedClock(t0)).Apply(newTask(entities.TaskStatusTodo), lifecycle.Command{Kind: "teleport"})
	assert.True(t, errors.Is(err, entities.ErrInvalidState))
}
