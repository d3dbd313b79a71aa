package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecurrenceType is the cadence of a recurring task template.
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

func (rt RecurrenceType) IsValid() bool {
	switch rt {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// MaxWeekOfMonth is the highest week selector a monthly rule accepts. A
// fifth occurrence only exists in some months.
const MaxWeekOfMonth = 5

// RecurrenceRule describes when a recurring definition is due.
type RecurrenceRule struct {
	Type        RecurrenceType `json:"type"`
	Time        string         `json:"time"`
	DayOfWeek   *time.Weekday  `json:"day_of_week,omitempty"`
	WeekOfMonth *int           `json:"week_of_month,omitempty"`
}

// Validate checks the selector combination required by each cadence.
func (r RecurrenceRule) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecurrenceRule, r.Type)
	}
	if _, _, err := r.ClockTime(); err != nil {
		return err
	}

	if r.DayOfWeek != nil && (*r.DayOfWeek < time.Sunday || *r.DayOfWeek > time.Saturday) {
		return fmt.Errorf("%w: day_of_week %d out of range 0-6", ErrInvalidRecurrenceRule, *r.DayOfWeek)
	}

	switch r.Type {
	case RecurrenceDaily:
		if r.DayOfWeek != nil || r.WeekOfMonth != nil {
			return fmt.Errorf("%w: daily rules take no selectors", ErrInvalidRecurrenceRule)
		}
	case RecurrenceWeekly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("%w: weekly rules need day_of_week", ErrInvalidRecurrenceRule)
		}
		if r.WeekOfMonth != nil {
			return fmt.Errorf("%w: week_of_month is only valid for monthly rules", ErrInvalidRecurrenceRule)
		}
	case RecurrenceMonthly:
		if r.DayOfWeek == nil || r.WeekOfMonth == nil {
			return fmt.Errorf("%w: monthly rules need day_of_week and week_of_month", ErrInvalidRecurrenceRule)
		}
		if *r.WeekOfMonth < 1 || *r.WeekOfMonth > MaxWeekOfMonth {
			return fmt.Errorf("%w: week_of_month %d out of range 1-%d", ErrInvalidRecurrenceRule, *r.WeekOfMonth, MaxWeekOfMonth)
		}
	}
	return nil
}

// ClockTime parses the rule's "HH:MM" time of day. Both fields must be two
// digits wide.
func (r RecurrenceRule) ClockTime() (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", r.Time)
	if err != nil || len(r.Time) != len("15:04") {
		return 0, 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidRecurrenceRule, r.Time)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// RecurringTaskDefinition is a template materialized into concrete tasks.
// It owns no runtime state.
type RecurringTaskDefinition struct {
	ID                      uuid.UUID      `json:"id"`
	Title                   string         `json:"title"`
	Description             *string        `json:"description"`
	ClientName              *string        `json:"client_name"`
	AssigneeID              *uuid.UUID     `json:"assignee_id"`
	Priority                Priority       `json:"priority"`
	EstimatedMinutes        int            `json:"estimated_minutes"`
	RequiresTwoStepApproval bool           `json:"requires_two_step_approval"`
	Tags                    []string       `json:"tags"`
	Rule                    RecurrenceRule `json:"recurrence_rule"`
	IsActive                bool           `json:"is_active"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}
