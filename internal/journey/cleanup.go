package journey

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// cleanupStack is the compensation log of a run: every created entity pushes
// its delete, and Run unwinds in reverse order. Cleanup failures are logged
// and aggregated but never change the journey outcome.
type cleanupStack struct {
	log   *zap.Logger
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func(ctx context.Context) error
}

func newCleanupStack(log *zap.Logger) *cleanupStack {
	if log == nil {
		log = zap.NewNop()
	}
	return &cleanupStack{log: log}
}

func (c *cleanupStack) Add(name string, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

func (c *cleanupStack) Run(ctx context.Context) {
	var errs error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := c.runOne(ctx, step); err != nil {
			c.log.Warn("cleanup_step_failed",
				zap.String("step", step.name),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if errs != nil {
		c.log.Warn("cleanup_incomplete", zap.Error(errs))
	}
	c.steps = nil
}

func (c *cleanupStack) runOne(ctx context.Context, step cleanupStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.fn(ctx)
}
