package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
)

// TaskRepository defines the interface for task data operations.
// Update is a compare-and-set on Task.Version: it fails with
// entities.ErrConflict when the stored version moved on, and bumps the
// version of the passed task on success.
type TaskRepository interface {
	Create(ctx context.Context, task *entities.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*entities.Task, error)
	Update(ctx context.Context, task *entities.Task) error
	List(ctx context.Context, filter TaskFilter) ([]*entities.Task, error)
	Count(ctx context.Context, filter TaskFilter) (int64, error)
}

// RecurringTaskRepository defines the interface for recurring definition data operations
type RecurringTaskRepository interface {
	Create(ctx context.Context, def *entities.RecurringTaskDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.RecurringTaskDefinition, error)
	Update(ctx context.Context, def *entities.RecurringTaskDefinition) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter RecurringFilter) ([]*entities.RecurringTaskDefinition, error)
	ListActive(ctx context.Context) ([]*entities.RecurringTaskDefinition, error)
}

// Locker is a cross-process mutual exclusion primitive. TryLock never
// blocks: ok is false when somebody else holds key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// InstructionDispatcher hands engine instructions to the collaborators that
// carry them out. It is called only after the snapshot has been saved.
type InstructionDispatcher interface {
	Dispatch(ctx context.Context, instructions []lifecycle.Instruction) error
}

// Collaborators consulted by the engine.
type (
	CapabilityChecker  = lifecycle.CapabilityChecker
	EvidenceClassifier = lifecycle.EvidenceClassifier
)

// Filter types for repository queries
type TaskFilter struct {
	Status                *entities.TaskStatus
	Statuses              []entities.TaskStatus
	AssigneeID            *uuid.UUID
	RecurringDefinitionID *uuid.UUID
	TimerRunning          *bool
	Search                *string
	Limit                 int
	Offset                int
	SortBy                string
	SortOrder             string
}

type RecurringFilter struct {
	IsActive *bool
	Type     *entities.RecurrenceType
	Search   *string
	Limit    int
	Offset   int
}
