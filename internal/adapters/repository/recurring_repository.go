package repository

import (
	"context"
	"database/sql"
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

const definitionColumns = `id, title, description, client_name, assignee_id, priority, estimated_minutes,
	requires_two_step_approval, tags, recurrence_type, recurrence_time, day_of_week, week_of_month,
	is_active, created_at, updated_at`

type definitionRow struct {
	ID                      uuid.UUID      `db:"id"`
	Title                   string         `db:"title"`
	Description             *string        `db:"description"`
	ClientName              *string        `db:"client_name"`
	AssigneeID              *uuid.UUID     `db:"assignee_id"`
	Priority                string         `db:"priority"`
	EstimatedMinutes        int            `db:"estimated_minutes"`
	RequiresTwoStepApproval bool           `db:"requires_two_step_approval"`
	Tags                    pq.StringArray `db:"tags"`
	RecurrenceType          string         `db:"recurrence_type"`
	RecurrenceTime          string         `db:"recurrence_time"`
	DayOfWeek               *int16         `db:"day_of_week"`
	WeekOfMonth             *int16         `db:"week_of_month"`
	IsActive                bool           `db:"is_active"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

func toDefinitionRow(d *entities.RecurringTaskDefinition) *definitionRow {
	row := &definitionRow{
		ID:                      d.ID,
		Title:                   d.Title,
		Description:             d.Description,
		ClientName:              d.ClientName,
		AssigneeID:              d.AssigneeID,
		Priority:                string(d.Priority),
		EstimatedMinutes:        d.EstimatedMinutes,
		RequiresTwoStepApproval: d.RequiresTwoStepApproval,
		Tags:                    pq.StringArray(d.Tags),
		RecurrenceType:          string(d.Rule.Type),
		RecurrenceTime:          d.Rule.Time,
		IsActive:                d.IsActive,
		CreatedAt:               d.CreatedAt,
		UpdatedAt:               d.UpdatedAt,
	}
	if row.Tags == nil {
		row.Tags = pq.StringArray{}
	}
	if d.Rule.DayOfWeek != nil {
		v := int16(*d.Rule.DayOfWeek)
		row.DayOfWeek = &v
	}
	if d.Rule.WeekOfMonth != nil {
		v := int16(*d.Rule.WeekOfMonth)
		row.WeekOfMonth = &v
	}
	return row
}

func (row *definitionRow) toEntity() *entities.RecurringTaskDefinition {
	d := &entities.RecurringTaskDefinition{
		ID:                      row.ID,
		Title:                   row.Title,
		Description:             row.Description,
		ClientName:              row.ClientName,
		AssigneeID:              row.AssigneeID,
		Priority:                entities.Priority(row.Priority),
		EstimatedMinutes:        row.EstimatedMinutes,
		RequiresTwoStepApproval: row.RequiresTwoStepApproval,
		Tags:                    []string(row.Tags),
		Rule: entities.RecurrenceRule{
			Type: entities.RecurrenceType(row.RecurrenceType),
			Time: strings.TrimSpace(row.RecurrenceTime),
		},
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if row.DayOfWeek != nil {
		wd := time.Weekday(*row.DayOfWeek)
		d.Rule.DayOfWeek = &wd
	}
	if row.WeekOfMonth != nil {
		w := int(*row.WeekOfMonth)
		d.Rule.WeekOfMonth = &w
	}
	return d
}

// RecurringRepositoryImpl stores recurring task definitions on PostgreSQL
type RecurringRepositoryImpl struct {
	db *sqlx.DB
}

// NewRecurringRepository creates a new recurring definition repository
func NewRecurringRepository(db *sqlx.DB) *RecurringRepositoryImpl {
	return &RecurringRepositoryImpl{db: db}
}

var _ ports.RecurringTaskRepository = (*RecurringRepositoryImpl)(nil)

func (r *RecurringRepositoryImpl) Create(ctx context.Context, def *entities.RecurringTaskDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}

	query := `
		INSERT INTO recurring_task_definitions (` + definitionColumns + `)
		VALUES (:id, :title, :description, :client_name, :assignee_id, :priority, :estimated_minutes,
			:requires_two_step_approval, :tags, :recurrence_type, :recurrence_time, :day_of_week,
			:week_of_month, :is_active, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, toDefinitionRow(def)); err != nil {
		return fmt.Errorf("create recurring definition: %w", err)
	}
	return nil
}

func (r *RecurringRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.RecurringTaskDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM recurring_task_definitions WHERE id = $1`

	var row definitionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("get recurring definition by id: %w", err)
	}
	return row.toEntity(), nil
}

func (r *RecurringRepositoryImpl) Update(ctx context.Context, def *entities.RecurringTaskDefinition) error {
	query := `
		UPDATE recurring_task_definitions
		SET title = :title, description = :description, client_name = :client_name,
			assignee_id = :assignee_id, priority = :priority, estimated_minutes = :estimated_minutes,
			requires_two_step_approval = :requires_two_step_approval, tags = :tags,
			recurrence_type = :recurrence_type, recurrence_time = :recurrence_time,
			day_of_week = :day_of_week, week_of_month = :week_of_month,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, toDefinitionRow(def))
	if err != nil {
		return fmt.Errorf("update recurring definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entities.ErrDefinitionNotFound
	}
	return nil
}

func (r *RecurringRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM recurring_task_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recurring definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entities.ErrDefinitionNotFound
	}
	return nil
}

func (r *RecurringRepositoryImpl) List(ctx context.Context, filter ports.RecurringFilter) ([]*entities.RecurringTaskDefinition, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argIndex))
		args = append(args, *filter.IsActive)
		argIndex++
	}

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("recurrence_type = $%d", argIndex))
		args = append(args, string(*filter.Type))
		argIndex++
	}

	if filter.Search != nil && *filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR client_name ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+*filter.Search+"%")
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM recurring_task_definitions %s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d OFFSET $%d`, definitionColumns, whereClause, argIndex, argIndex+1)

	args = append(args, limit, filter.Offset)

	return r.selectDefinitions(ctx, query, args...)
}

// ListActive returns every active definition in a stable order.
func (r *RecurringRepositoryImpl) ListActive(ctx context.Context) ([]*entities.RecurringTaskDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM recurring_task_definitions
		WHERE is_active = TRUE
		ORDER BY created_at ASC, id ASC`

	return r.selectDefinitions(ctx, query)
}

func (r *RecurringRepositoryImpl) selectDefinitions(ctx context.Context, query string, args ...interface{}) ([]*entities.RecurringTaskDefinition, error) {
	var rows []definitionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list recurring definitions: %w", err)
	}

	defs := make([]*entities.RecurringTaskDefinition, 0, len(rows))
	for i := range rows {
		defs = append(defs, rows[i].toEntity())
	}
	return defs, nil
}
