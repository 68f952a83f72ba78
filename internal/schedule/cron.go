// Package schedule runs the dispatch cycle on a cron expression for
// deployments without an external scheduler.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	c   *cron.Cron
	log *zap.Logger
}

// Start registers fn under the given cron expression and starts ticking.
func Start(spec string, log *zap.Logger, fn func()) (*Runner, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, fn); err != nil {
		return nil, err
	}
	c.Start()
	log.Info("scheduler started", zap.String("spec", spec))
	return &Runner{c: c, log: log}, nil
}

// Stop waits for an in-flight run to finish, or gives up when ctx ends.
func (r *Runner) Stop(ctx context.Context) {
	done := r.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	r.log.Info("scheduler stopped")
}
