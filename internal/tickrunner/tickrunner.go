// Package tickrunner drives the scheduler core's periodic tick on a
// fixed cadence (spec §4.2, §2 "background-tick plumbing" — out of THE
// CORE's scope, wired here as the external driver).
package tickrunner

import (
	"context"
	"time"

	"imessage-scheduler/internal/scheduler"

	"go.uber.org/zap"
)

// Runner calls Engine.Tick on a fixed interval until its context is canceled.
type Runner struct {
	engine   *scheduler.Engine
	interval time.Duration
	logger   *zap.Logger
}

func New(engine *scheduler.Engine, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{engine: engine, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled, invoking Tick every interval.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("tick runner started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("tick runner stopped")
			return
		case <-ticker.C:
			result, err := r.engine.Tick(ctx)
			if err != nil {
				r.logger.Error("tick failed", zap.Error(err))
				continue
			}
			if result.Status == "ready" {
				r.logger.Info("tick promoted message", zap.String("message_id", result.ID.String()))
			} else {
				r.logger.Debug("tick skipped", zap.String("reason", result.Reason))
			}
		}
	}
}
