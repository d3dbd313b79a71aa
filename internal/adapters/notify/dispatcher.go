package notify

import (
	"context"
	"errors"

	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// LogDispatcher writes every instruction to the application log. It is the
// default collaborator when no broker is configured.
type LogDispatcher struct {
	logger *logger.Logger
}

func NewLogDispatcher(l *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logger: l.WithComponent("notify")}
}

var _ ports.InstructionDispatcher = (*LogDispatcher)(nil)

func (d *LogDispatcher) Dispatch(_ context.Context, instructions []lifecycle.Instruction) error {
	for _, in := range instructions {
		fields := []interface{}{
			"kind", string(in.Kind),
			"task_id", in.TaskID.String(),
			"actor_id", in.ActorID.String(),
			"at", in.At,
		}
		if in.Event != "" {
			fields = append(fields, "event", string(in.Event))
		}
		if in.AttachmentID != nil {
			fields = append(fields, "attachment_id", in.AttachmentID.String())
		}
		if in.Reason != "" {
			fields = append(fields, "reason", in.Reason)
		}
		d.logger.Info("Lifecycle instruction", fields...)
	}
	return nil
}

// FanOut hands the same batch to every dispatcher and joins their errors.
// One failing dispatcher does not stop the others.
type FanOut []ports.InstructionDispatcher

func (f FanOut) Dispatch(ctx context.Context, instructions []lifecycle.Instruction) error {
	var errs []error
	for _, d := range f {
		if err := d.Dispatch(ctx, instructions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
