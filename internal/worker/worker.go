// SPDX-License-Identifier: Apache-2.0

// Package worker runs background maintenance for the in-process run registry.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/adiadia/promptflow/internal/metrics"
	"github.com/adiadia/promptflow/internal/runtime"
)

type Sweeper interface {
	Sweep(maxIdle time.Duration) runtime.SweepResult
}

type Deps struct {
	Target   Sweeper
	Logger   *slog.Logger
	Interval time.Duration
	MaxIdle  time.Duration
}

type Worker struct {
	target   Sweeper
	logger   *slog.Logger
	interval time.Duration
	maxIdle  time.Duration
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	maxIdle := deps.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 2 * time.Hour
	}

	return &Worker{
		target:   deps.Target,
		logger:   l,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// ProcessOnce performs a single sweep.
func (w *Worker) ProcessOnce(ctx context.Context) runtime.SweepResult {
	if w.target == nil || ctx.Err() != nil {
		return runtime.SweepResult{}
	}

	res := w.target.Sweep(w.maxIdle)
	metrics.AddRunsExpired(res.Runs)
	if res.Runs > 0 || res.Sessions > 0 {
		w.logger.Info("idle state swept",
			"runs", res.Runs,
			"sessions", res.Sessions,
			"max_idle", w.maxIdle.String(),
		)
	}
	return res
}

// Run sweeps every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("sweeper started", "interval", w.interval.String(), "max_idle", w.maxIdle.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}
