package worker

import (
	"context"
	"errors"
	"math"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// ErrPaused is returned by Checkpoint once the run no longer owns its record:
// the record was paused or failed elsewhere, or the scheduler is stopping. The
// unit must return without further writes.
var ErrPaused = errors.New("run interrupted")

// Checkpointer is the unit's only channel back to the queue.
type Checkpointer interface {
	// Checkpoint records progress (0-100, never decreasing within a run) and an
	// optional status message.
	Checkpoint(progress float64, message string) error
	// SetResult sets the message stored when the run completes.
	SetResult(message string)
}

type checkpoint struct {
	ctx    context.Context
	s      *Scheduler
	run    *run
	key    domain.Key
	result string
}

func (c *checkpoint) Checkpoint(progress float64, message string) error {
	if c.ctx.Err() != nil {
		return ErrPaused
	}

	_, err := c.s.queue.Update(c.ctx, c.key.Kind, c.key.ID, func(r *domain.JobRecord) error {
		if r.Status != domain.StatusInProgress {
			return ErrPaused
		}
		r.Progress = math.Max(r.Progress, domain.ClampProgress(progress))
		if message != "" {
			r.Message = message
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaused) || c.ctx.Err() != nil {
			return ErrPaused
		}
		return err
	}

	c.s.heartbeat(c.run)
	return nil
}

func (c *checkpoint) SetResult(message string) {
	c.result = message
}
