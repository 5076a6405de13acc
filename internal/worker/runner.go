package worker

import (
	"context"
	"sync"
	"time"

	"github.com/parametriq/settlement-core/internal/logger"
)

// Runner drives a cooperative polling loop: one cycle at a time, a fixed
// sleep between cycles, and a stop signal checked only between cycles so an
// in-flight cycle always runs to completion. A cycle error is logged and the
// loop continues; one bad cycle must never take the process down.
type Runner struct {
	name     string
	interval time.Duration
	cycle    func(context.Context) error

	stopOnce sync.Once
	stop     chan struct{}
}

func NewRunner(name string, interval time.Duration, cycle func(context.Context) error) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		cycle:    cycle,
		stop:     make(chan struct{}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	logger.Info("worker started", logger.Fields{
		"worker":   r.name,
		"interval": r.interval.String(),
	})

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", logger.Fields{"worker": r.name})
			return nil
		case <-r.stop:
			logger.Info("worker stopped", logger.Fields{"worker": r.name})
			return nil
		case <-timer.C:
		}

		if err := r.cycle(ctx); err != nil {
			logger.Error("worker cycle failed", err, logger.Fields{
				"worker": r.name,
			})
		}

		timer.Reset(r.interval)
	}
}

// Stop requests a shutdown after the current cycle finishes. Safe to call
// more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}
