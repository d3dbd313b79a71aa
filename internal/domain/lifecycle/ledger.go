package lifecycle

import (
	"time"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// MaxRecoveredSession bounds how much time a single recovered timer session
// may add to a task.
const MaxRecoveredSession = 24 * time.Hour

// Elapsed returns the whole seconds between start and end. A negative span
// (clock set backward) is clamped to zero and reported as skewed.
func Elapsed(start, end time.Time) (seconds int64, skewed bool) {
	d := end.Sub(start)
	if d < 0 {
		return 0, true
	}
	return int64(d.Round(time.Second) / time.Second), false
}

// CappedElapsed is Elapsed bounded by limit. A non-positive limit disables the cap.
func CappedElapsed(start, end time.Time, limit time.Duration) (seconds int64, skewed, capped bool) {
	seconds, skewed = Elapsed(start, end)
	if limit > 0 {
		ceiling := int64(limit / time.Second)
		if seconds > ceiling {
			return ceiling, skewed, true
		}
	}
	return seconds, skewed, false
}

// foldTimer stops the running timer on t at end and adds the elapsed
// seconds to the accumulated counter. The timer pair is cleared together.
func foldTimer(t *entities.Task, end time.Time, limit time.Duration) (folded int64, skewed, capped bool) {
	if t.TimerStartedAt == nil {
		return 0, false, false
	}
	folded, skewed, capped = CappedElapsed(*t.TimerStartedAt, end, limit)
	t.AccumulatedSeconds += folded
	t.TimerStartedAt = nil
	t.TimerOwnerID = nil
	return folded, skewed, capped
}
