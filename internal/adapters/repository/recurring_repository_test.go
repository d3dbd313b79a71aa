package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/ports"
)

var definitionColumnNames = []string{
	"id", "title", "description", "client_name", "assignee_id", "priority", "estimated_minutes",
	"requires_two_step_approval", "tags", "recurrence_type", "recurrence_time", "day_of_week", "week_of_month",
	"is_active", "created_at", "updated_at",
}

func TestRecurringRepository_GetByIDMapsRule(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`FROM recurring_task_definitions WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(definitionColumnNames).AddRow(
			id.String(), "Invoice run", nil, nil, nil, "high", 90,
			false, []byte(`{billing}`), "monthly", "09:00", int64(1), int64(5),
			true, now, now,
		))

	def, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.RecurrenceMonthly, def.Rule.Type)
	assert.Equal(t, time.Monday, *def.Rule.DayOfWeek)
	assert.Equal(t, 5, *def.Rule.WeekOfMonth)
	assert.Equal(t, []string{"billing"}, def.Tags)
	assert.NoError(t, def.Rule.Validate())
}

func TestRecurringRepository_GetByIDTrimsPaddedTime(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`FROM recurring_task_definitions WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(definitionColumnNames).AddRow(
			id.String(), "Standup notes", nil, nil, nil, "medium", 15,
			false, []byte(`{}`), "daily", "09:30 ", nil, nil,
			true, now, now,
		))

	def, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "09:30", def.Rule.Time)
	assert.NoError(t, def.Rule.Validate())
}

func TestRecurringRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	mock.ExpectQuery(`FROM recurring_task_definitions`).
		WillReturnRows(sqlmock.NewRows(definitionColumnNames))

	_, err := repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, entities.ErrDefinitionNotFound)
}

func TestRecurringRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	mock.ExpectExec(`INSERT INTO recurring_task_definitions`).WillReturnResult(sqlmock.NewResult(0, 1))

	wd := time.Friday
	def := &entities.RecurringTaskDefinition{
		Title: "Newsletter", Priority: entities.PriorityMedium, IsActive: true,
		Rule: entities.RecurrenceRule{Type: entities.RecurrenceWeekly, Time: "07:00", DayOfWeek: &wd},
	}
	require.NoError(t, repo.Create(ctx, def))
	assert.NotEqual(t, uuid.Nil, def.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepository_UpdateAndDeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	mock.ExpectExec(`UPDATE recurring_task_definitions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM recurring_task_definitions WHERE id = \$1`).WillReturnResult(sqlmock.NewResult(0, 0))

	def := &entities.RecurringTaskDefinition{ID: uuid.New(), Rule: entities.RecurrenceRule{Type: entities.RecurrenceDaily, Time: "08:00"}}
	assert.ErrorIs(t, repo.Update(ctx, def), entities.ErrDefinitionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, def.ID), entities.ErrDefinitionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepository_ListFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	active := true
	kind := entities.RecurrenceWeekly
	mock.ExpectQuery(`WHERE is_active = \$1 AND recurrence_type = \$2 ORDER BY created_at ASC, id ASC LIMIT \$3 OFFSET \$4`).
		WithArgs(true, "weekly", 50, 0).
		WillReturnRows(sqlmock.NewRows(definitionColumnNames))

	defs, err := repo.List(ctx, ports.RecurringFilter{IsActive: &active, Type: &kind})
	require.NoError(t, err)
	assert.Empty(t, defs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepository_ListActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecurringRepository(db)

	mock.ExpectQuery(`WHERE is_active = TRUE ORDER BY created_at ASC, id ASC`).
		WillReturnRows(sqlmock.NewRows(definitionColumnNames).AddRow(
			uuid.New().String(), "Stand-up notes", nil, nil, nil, "low", 0,
			false, []byte(`{}`), "daily", "08:30", nil, nil,
			true, now, now,
		))

	defs, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Nil(t, defs[0].Rule.DayOfWeek)
	assert.Equal(t, []string{}, defs[0].Tags)
}
