// Package recurrence expands recurring task templates into concrete tasks.
package recurrence

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// IsDue reports whether rule fires on the calendar date of date, read in
// date's own location. Invalid rules are never due.
func IsDue(rule entities.RecurrenceRule, date time.Time) bool {
	switch rule.Type {
	case entities.RecurrenceDaily:
		return true
	case entities.RecurrenceWeekly:
		return rule.DayOfWeek != nil && date.Weekday() == *rule.DayOfWeek
	case entities.RecurrenceMonthly:
		if rule.DayOfWeek == nil || rule.WeekOfMonth == nil {
			return false
		}
		return date.Weekday() == *rule.DayOfWeek && OccurrenceInMonth(date) == *rule.WeekOfMonth
	default:
		return false
	}
}

// OccurrenceInMonth returns which occurrence of its weekday date is within
// its month: 1 for days 1-7, 2 for days 8-14, and so on.
func OccurrenceInMonth(date time.Time) int {
	return (date.Day()-1)/7 + 1
}

// NthWeekday returns the n-th given weekday of a month. ok is false when the
// month has no such occurrence; there is no wraparound into the next month.
func NthWeekday(year int, month time.Month, weekday time.Weekday, n int, loc *time.Location) (date time.Time, ok bool) {
	if n < 1 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	date = first.AddDate(0, 0, offset+(n-1)*7)
	if date.Month() != month {
		return time.Time{}, false
	}
	return date, true
}

// DueDates lists the dates in [from, to] on which rule fires. Both bounds
// are calendar dates in from's location.
func DueDates(rule entities.RecurrenceRule, from, to time.Time) []time.Time {
	var dates []time.Time
	day := startOfDay(from)
	last := startOfDay(to.In(from.Location()))
	for !day.After(last) {
		if IsDue(rule, day) {
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates
}

// Materialize builds a new todo task from def for the calendar date of
// target. Template fields are copied verbatim and the definition itself is
// not touched.
func Materialize(def *entities.RecurringTaskDefinition, target time.Time, now time.Time, origin entities.RecurrenceOrigin) (*entities.Task, error) {
	if def == nil {
		return nil, fmt.Errorf("materialize: nil definition")
	}
	if !def.IsActive {
		return nil, fmt.Errorf("materialize %s: %w", def.ID, entities.ErrInactiveDefinition)
	}
	if err := def.Rule.Validate(); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", def.ID, err)
	}

	due, err := DueAt(def.Rule, target)
	if err != nil {
		return nil, err
	}

	defID := def.ID
	o := origin
	task := &entities.Task{
		ID:                      uuid.New(),
		Title:                   def.Title,
		Description:             copyString(def.Description),
		ClientName:              copyString(def.ClientName),
		Priority:                def.Priority,
		Status:                  entities.TaskStatusTodo,
		RequiresTwoStepApproval: def.RequiresTwoStepApproval,
		Approvals:               []entities.Approval{},
		Dependencies:            []uuid.UUID{},
		Attachments:             []entities.Attachment{},
		AccumulatedSeconds:      0,
		EstimatedMinutes:        def.EstimatedMinutes,
		DueDate:                 &due,
		Tags:                    append([]string(nil), def.Tags...),
		RecurringDefinitionID:   &defID,
		RecurrenceOrigin:        &o,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if def.AssigneeID != nil {
		assignee := *def.AssigneeID
		task.AssigneeID = &assignee
	}
	return task, nil
}

// DueAt combines the calendar date of target with the rule's time of day.
func DueAt(rule entities.RecurrenceRule, target time.Time) (time.Time, error) {
	hour, minute, err := rule.ClockTime()
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, target.Location()), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
