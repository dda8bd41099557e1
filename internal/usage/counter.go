// SPDX-License-Identifier: Apache-2.0

// Package usage counts completed workflow runs per identity.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/promptflow/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoLocalCounter = errors.New("anonymous identity without local counter")

// Store is the durable side of the counter for authenticated users.
type Store interface {
	CountRunsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	// RecordRunCompletion must tolerate being called twice for the same run.
	RecordRunCompletion(ctx context.Context, userID, runID uuid.UUID) error
}

// DailyAggregate tracks anonymous completions per calendar day without
// any visitor identity.
type DailyAggregate interface {
	Increment(ctx context.Context, day time.Time) (int64, error)
}

type Count struct {
	Count int `json:"count"`
	// PeriodStart is zero for anonymous identities, whose counter never resets.
	PeriodStart time.Time `json:"period_start"`
}

type Counter struct {
	store  Store
	daily  DailyAggregate
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Counter)

func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

func WithDailyAggregate(daily DailyAggregate) Option {
	return func(c *Counter) { c.daily = daily }
}

func NewCounter(store Store, logger *slog.Logger, opts ...Option) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Counter{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("promptflow/internal/usage"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PeriodStart returns the first instant of t's calendar month in t's location.
func PeriodStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func (c *Counter) GetCount(ctx context.Context, id Identity) (Count, error) {
	if !id.Authenticated() {
		if id.Local == nil {
			return Count{}, ErrNoLocalCounter
		}
		return Count{Count: id.Local.Get()}, nil
	}

	start := PeriodStart(c.now())
	n, err := c.store.CountRunsSince(ctx, id.UserID, start)
	if err != nil {
		return Count{}, fmt.Errorf("count runs since %s: %w", start.Format(time.RFC3339), err)
	}
	return Count{Count: n, PeriodStart: start}, nil
}

// RecordRun counts one completed run. Anonymous completions also bump the
// daily aggregate; a failure there is logged and otherwise ignored.
func (c *Counter) RecordRun(ctx context.Context, id Identity, runID uuid.UUID) error {
	ctx, span := c.tracer.Start(ctx, "Counter.RecordRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity", id.Kind()),
		attribute.String("run_id", runID.String()),
	)

	if !id.Authenticated() {
		if id.Local == nil {
			return ErrNoLocalCounter
		}
		id.Local.Increment()
		if c.daily != nil {
			if _, err := c.daily.Increment(ctx, c.now()); err != nil {
				c.logger.Warn("daily aggregate increment failed", "error", err)
			}
		}
		metrics.IncRunCompleted(id.Kind())
		return nil
	}

	if err := c.store.RecordRunCompletion(ctx, id.UserID, runID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record run completion")
		metrics.IncUsageRecordFailure()
		return fmt.Errorf("record run completion: %w", err)
	}
	metrics.IncRunCompleted(id.Kind())
	return nil
}
