package services_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// ── task repository ──────────────────────────────────────────────────────────

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*entities.Task

	// failUpdate makes Update fail for the given ids.
	failUpdate map[uuid.UUID]error
	// afterUpdate runs after every successful Update.
	afterUpdate func(*entities.Task)
	updates     int
}

func newMemTaskRepo(tasks ...*entities.Task) *memTaskRepo {
	r := &memTaskRepo{tasks: map[uuid.UUID]*entities.Task{}, failUpdate: map[uuid.UUID]error{}}
	for _, t := range tasks {
		c := t.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		r.tasks[c.ID] = c
	}
	return r
}

func (r *memTaskRepo) Create(_ context.Context, task *entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.RecurringDefinitionID != nil && task.RecurrenceOrigin != nil &&
		*task.RecurrenceOrigin == entities.RecurrenceOriginScheduled && task.DueDate != nil {
		for _, t := range r.tasks {
			if t.RecurringDefinitionID != nil && *t.RecurringDefinitionID == *task.RecurringDefinitionID &&
				t.RecurrenceOrigin != nil && *t.RecurrenceOrigin == entities.RecurrenceOriginScheduled &&
				t.DueDate != nil && t.DueDate.Equal(*task.DueDate) {
				return entities.ErrDuplicateOccurrence
			}
		}
	}
	task.Version = 1
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, entities.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (r *memTaskRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]*entities.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Task
	for _, id := range ids {
		if t, ok := r.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *memTaskRepo) Update(_ context.Context, task *entities.Task) error {
	r.mu.Lock()
	if err, ok := r.failUpdate[task.ID]; ok {
		r.mu.Unlock()
		return err
	}
	stored, ok := r.tasks[task.ID]
	if !ok {
		r.mu.Unlock()
		return entities.ErrTaskNotFound
	}
	if stored.Version != task.Version {
		r.mu.Unlock()
		return entities.ErrConflict
	}
	task.Version++
	r.tasks[task.ID] = task.Clone()
	r.updates++
	hook := r.afterUpdate
	r.mu.Unlock()

	if hook != nil {
		hook(task)
	}
	return nil
}

func (r *memTaskRepo) sorted() []*entities.Task {
	all := make([]*entities.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return all
}

func (r *memTaskRepo) List(_ context.Context, filter ports.TaskFilter) ([]*entities.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	if filter.Offset >= len(all) {
		return []*entities.Task{}, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	out := make([]*entities.Task, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}
	return out, nil
}

func (r *memTaskRepo) Count(_ context.Context, _ ports.TaskFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.tasks)), nil
}

func (r *memTaskRepo) get(id uuid.UUID) *entities.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id].Clone()
}

// ── recurring repository ─────────────────────────────────────────────────────

type memDefRepo struct {
	defs map[uuid.UUID]*entities.RecurringTaskDefinition
}

func newMemDefRepo(defs ...*entities.RecurringTaskDefinition) *memDefRepo {
	r := &memDefRepo{defs: map[uuid.UUID]*entities.RecurringTaskDefinition{}}
	for _, d := range defs {
		r.defs[d.ID] = d
	}
	return r
}

func (r *memDefRepo) Create(_ context.Context, def *entities.RecurringTaskDefinition) error {
	r.defs[def.ID] = def
	return nil
}

func (r *memDefRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.RecurringTaskDefinition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, entities.ErrDefinitionNotFound
	}
	c := *d
	return &c, nil
}

func (r *memDefRepo) Update(_ context.Context, def *entities.RecurringTaskDefinition) error {
	if _, ok := r.defs[def.ID]; !ok {
		return entities.ErrDefinitionNotFound
	}
	r.defs[def.ID] = def
	return nil
}

func (r *memDefRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.defs[id]; !ok {
		return entities.ErrDefinitionNotFound
	}
	delete(r.defs, id)
	return nil
}

func (r *memDefRepo) List(_ context.Context, _ ports.RecurringFilter) ([]*entities.RecurringTaskDefinition, error) {
	var out []*entities.RecurringTaskDefinition
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out, nil
}

func (r *memDefRepo) ListActive(_ context.Context) ([]*entities.RecurringTaskDefinition, error) {
	var out []*entities.RecurringTaskDefinition
	for _, d := range r.defs {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ── locker ───────────────────────────────────────────────────────────────────

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
	// gate, when set, blocks TryLock until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.entered != nil {
		close(l.entered)
	}
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}

// ── dispatcher ───────────────────────────────────────────────────────────────

type recordingDispatcher struct {
	mu    sync.Mutex
	batch [][]lifecycle.Instruction
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, in []lifecycle.Instruction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batch = append(d.batch, in)
	return d.err
}

func (d *recordingDispatcher) all() []lifecycle.Instruction {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []lifecycle.Instruction
	for _, b := range d.batch {
		out = append(out, b...)
	}
	return out
}

// ── clock ────────────────────────────────────────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")
