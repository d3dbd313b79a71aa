package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// scheduledOccurrenceIndex is the partial unique index that keeps one
// scheduled task per definition and due instant.
const scheduledOccurrenceIndex = "tasks_scheduled_occurrence_key"

const uniqueViolation = "23505"

const taskColumns = `id, title, description, client_name, assignee_id, priority, status,
	requires_two_step_approval, approvals, dependencies, attachments, accumulated_seconds,
	timer_started_at, timer_owner_id, estimated_minutes, rejection_reason, due_date, tags,
	status_changed_at, cancelled_at, recurring_definition_id, recurrence_origin,
	created_at, updated_at, version`

// taskRow is the storage shape of a task. Approvals and attachments are
// JSONB documents, dependencies and tags are arrays.
type taskRow struct {
	ID                      uuid.UUID      `db:"id"`
	Title                   string         `db:"title"`
	Description             *string        `db:"description"`
	ClientName              *string        `db:"client_name"`
	AssigneeID              *uuid.UUID     `db:"assignee_id"`
	Priority                string         `db:"priority"`
	Status                  string         `db:"status"`
	RequiresTwoStepApproval bool           `db:"requires_two_step_approval"`
	Approvals               []byte         `db:"approvals"`
	Dependencies            pq.StringArray `db:"dependencies"`
	Attachments             []byte         `db:"attachments"`
	AccumulatedSeconds      int64          `db:"accumulated_seconds"`
	TimerStartedAt          *time.Time     `db:"timer_started_at"`
	TimerOwnerID            *uuid.UUID     `db:"timer_owner_id"`
	EstimatedMinutes        int            `db:"estimated_minutes"`
	RejectionReason         *string        `db:"rejection_reason"`
	DueDate                 *time.Time     `db:"due_date"`
	Tags                    pq.StringArray `db:"tags"`
	StatusChangedAt         *time.Time     `db:"status_changed_at"`
	CancelledAt             *time.Time     `db:"cancelled_at"`
	RecurringDefinitionID   *uuid.UUID     `db:"recurring_definition_id"`
	RecurrenceOrigin        *string        `db:"recurrence_origin"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
	Version                 int            `db:"version"`
}

func toTaskRow(t *entities.Task) (*taskRow, error) {
	approvals := t.Approvals
	if approvals == nil {
		approvals = []entities.Approval{}
	}
	approvalsJSON, err := json.Marshal(approvals)
	if err != nil {
		return nil, fmt.Errorf("encode approvals: %w", err)
	}

	attachments := t.Attachments
	if attachments == nil {
		attachments = []entities.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	deps := make(pq.StringArray, len(t.Dependencies))
	for i, id := range t.Dependencies {
		deps[i] = id.String()
	}
	tags := pq.StringArray(t.Tags)
	if tags == nil {
		tags = pq.StringArray{}
	}

	row := &taskRow{
		ID:                      t.ID,
		Title:                   t.Title,
		Description:             t.Description,
		ClientName:              t.ClientName,
		AssigneeID:              t.AssigneeID,
		Priority:                string(t.Priority),
		Status:                  string(t.Status),
		RequiresTwoStepApproval: t.RequiresTwoStepApproval,
		Approvals:               approvalsJSON,
		Dependencies:            deps,
		Attachments:             attachmentsJSON,
		AccumulatedSeconds:      t.AccumulatedSeconds,
		TimerStartedAt:          t.TimerStartedAt,
		TimerOwnerID:            t.TimerOwnerID,
		EstimatedMinutes:        t.EstimatedMinutes,
		RejectionReason:         t.RejectionReason,
		DueDate:                 t.DueDate,
		Tags:                    tags,
		StatusChangedAt:         t.StatusChangedAt,
		CancelledAt:             t.CancelledAt,
		RecurringDefinitionID:   t.RecurringDefinitionID,
		CreatedAt:               t.CreatedAt,
		UpdatedAt:               t.UpdatedAt,
		Version:                 t.Version,
	}
	if t.RecurrenceOrigin != nil {
		origin := string(*t.RecurrenceOrigin)
		row.RecurrenceOrigin = &origin
	}
	return row, nil
}

func (row *taskRow) toEntity() (*entities.Task, error) {
	t := &entities.Task{
		ID:                      row.ID,
		Title:                   row.Title,
		Description:             row.Description,
		ClientName:              row.ClientName,
		AssigneeID:              row.AssigneeID,
		Priority:                entities.Priority(row.Priority),
		Status:                  entities.TaskStatus(row.Status),
		RequiresTwoStepApproval: row.RequiresTwoStepApproval,
		Approvals:               []entities.Approval{},
		Dependencies:            make([]uuid.UUID, 0, len(row.Dependencies)),
		Attachments:             []entities.Attachment{},
		AccumulatedSeconds:      row.AccumulatedSeconds,
		TimerStartedAt:          row.TimerStartedAt,
		TimerOwnerID:            row.TimerOwnerID,
		EstimatedMinutes:        row.EstimatedMinutes,
		RejectionReason:         row.RejectionReason,
		DueDate:                 row.DueDate,
		Tags:                    []string(row.Tags),
		StatusChangedAt:         row.StatusChangedAt,
		CancelledAt:             row.CancelledAt,
		RecurringDefinitionID:   row.RecurringDefinitionID,
		CreatedAt:               row.CreatedAt,
		UpdatedAt:               row.UpdatedAt,
		Version:                 row.Version,
	}
	if !t.Status.IsValid() {
		return nil, fmt.Errorf("task %s: unknown status %q", row.ID, row.Status)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if len(row.Approvals) > 0 {
		if err := json.Unmarshal(row.Approvals, &t.Approvals); err != nil {
			return nil, fmt.Errorf("task %s: decode approvals: %w", row.ID, err)
		}
	}
	if len(row.Attachments) > 0 {
		if err := json.Unmarshal(row.Attachments, &t.Attachments); err != nil {
			return nil, fmt.Errorf("task %s: decode attachments: %w", row.ID, err)
		}
	}
	for _, raw := range row.Dependencies {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: decode dependency %q: %w", row.ID, raw, err)
		}
		t.Dependencies = append(t.Dependencies, id)
	}
	if row.RecurrenceOrigin != nil {
		origin := entities.RecurrenceOrigin(*row.RecurrenceOrigin)
		t.RecurrenceOrigin = &origin
	}
	return t, nil
}

// TaskRepositoryImpl implements the TaskRepository interface on PostgreSQL
type TaskRepositoryImpl struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB) *TaskRepositoryImpl {
	return &TaskRepositoryImpl{db: db}
}

var _ ports.TaskRepository = (*TaskRepositoryImpl)(nil)

func (r *TaskRepositoryImpl) Create(ctx context.Context, task *entities.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.Version = 1

	row, err := toTaskRow(task)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (:id, :title, :description, :client_name, :assignee_id, :priority, :status,
			:requires_two_step_approval, :approvals, :dependencies, :attachments, :accumulated_seconds,
			:timer_started_at, :timer_owner_id, :estimated_minutes, :rejection_reason, :due_date, :tags,
			:status_changed_at, :cancelled_at, :recurring_definition_id, :recurrence_origin,
			:created_at, :updated_at, :version)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == scheduledOccurrenceIndex {
			return entities.ErrDuplicateOccurrence
		}
		return fmt.Errorf("create task: %w", err)
	}

	return nil
}

func (r *TaskRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	var row taskRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}

	return row.toEntity()
}

func (r *TaskRepositoryImpl) GetMany(ctx context.Context, ids []uuid.UUID) ([]*entities.Task, error) {
	if len(ids) == 0 {
		return []*entities.Task{}, nil
	}
	keys := make(pq.StringArray, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ANY($1::uuid[])`

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, keys); err != nil {
		return nil, fmt.Errorf("get tasks by ids: %w", err)
	}

	return toEntities(rows)
}

// Update writes task if the stored version still equals task.Version, then
// bumps task.Version. A lost race yields entities.ErrConflict.
func (r *TaskRepositoryImpl) Update(ctx context.Context, task *entities.Task) error {
	row, err := toTaskRow(task)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	query := `
		UPDATE tasks
		SET title = :title, description = :description, client_name = :client_name,
			assignee_id = :assignee_id, priority = :priority, status = :status,
			approvals = :approvals, dependencies = :dependencies, attachments = :attachments,
			accumulated_seconds = :accumulated_seconds, timer_started_at = :timer_started_at,
			timer_owner_id = :timer_owner_id, estimated_minutes = :estimated_minutes,
			rejection_reason = :rejection_reason, due_date = :due_date, tags = :tags,
			status_changed_at = :status_changed_at, cancelled_at = :cancelled_at,
			updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, task.ID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if !exists {
			return entities.ErrTaskNotFound
		}
		return fmt.Errorf("update task %s at version %d: %w", task.ID, task.Version, entities.ErrConflict)
	}

	task.Version++
	return nil
}

func (r *TaskRepositoryImpl) List(ctx context.Context, filter ports.TaskFilter) ([]*entities.Task, error) {
	whereClause, args := taskWhere(filter)
	argIndex := len(args) + 1

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks %s
		ORDER BY %s %s, id ASC
		LIMIT $%d OFFSET $%d`,
		taskColumns, whereClause, taskSortColumn(filter.SortBy), sortDirection(filter.SortOrder), argIndex, argIndex+1)

	args = append(args, limit, filter.Offset)

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	return toEntities(rows)
}

func (r *TaskRepositoryImpl) Count(ctx context.Context, filter ports.TaskFilter) (int64, error) {
	whereClause, args := taskWhere(filter)
	query := `SELECT COUNT(*) FROM tasks ` + whereClause

	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}

	return count, nil
}

func taskWhere(filter ports.TaskFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(*filter.Status))
		argIndex++
	}

	if len(filter.Statuses) > 0 {
		statuses := make(pq.StringArray, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statuses)
		argIndex++
	}

	if filter.AssigneeID != nil {
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", argIndex))
		args = append(args, *filter.AssigneeID)
		argIndex++
	}

	if filter.RecurringDefinitionID != nil {
		conditions = append(conditions, fmt.Sprintf("recurring_definition_id = $%d", argIndex))
		args = append(args, *filter.RecurringDefinitionID)
		argIndex++
	}

	if filter.TimerRunning != nil {
		if *filter.TimerRunning {
			conditions = append(conditions, "timer_started_at IS NOT NULL")
		} else {
			conditions = append(conditions, "timer_started_at IS NULL")
		}
	}

	if filter.Search != nil && *filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d OR client_name ILIKE $%d)", argIndex, argIndex, argIndex))
		args = append(args, "%"+*filter.Search+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func taskSortColumn(sortBy string) string {
	switch sortBy {
	case "updated_at", "due_date", "priority", "status", "title", "created_at":
		return sortBy
	default:
		return "created_at"
	}
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "desc") {
		return "DESC"
	}
	return "ASC"
}

func toEntities(rows []taskRow) ([]*entities.Task, error) {
	tasks := make([]*entities.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
