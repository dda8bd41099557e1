// SPDX-License-Identifier: Apache-2.0

package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/adiadia/promptflow/internal/metrics"
	"github.com/adiadia/promptflow/internal/usage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, bool, error)
}

type UsageCounter interface {
	GetCount(ctx context.Context, id usage.Identity) (usage.Count, error)
}

type Gate struct {
	subscriptions SubscriptionStore
	counter       UsageCounter
	limits        Limits
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewGate(subscriptions SubscriptionStore, counter UsageCounter, limits Limits, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		subscriptions: subscriptions,
		counter:       counter,
		limits:        limits,
		logger:        logger,
		tracer:        otel.Tracer("promptflow/internal/entitlement"),
		now:           time.Now,
	}
}

func (g *Gate) Limits() Limits {
	return g.limits
}

// Check classifies a run attempt. It returns only after every lookup has
// resolved. Lookup failures allow the run and are logged as warnings.
func (g *Gate) Check(ctx context.Context, id usage.Identity, session *Session) Result {
	ctx, span := g.tracer.Start(ctx, "Gate.Check")
	defer span.End()
	span.SetAttributes(attribute.String("identity", id.Kind()))

	in := Input{Authenticated: id.Authenticated(), Overridden: session.Overridden()}
	if in.Overridden {
		return g.record(span, g.limits.Evaluate(in))
	}

	var (
		sub              domain.Subscription
		hasSub           bool
		count            usage.Count
		subErr, countErr error
	)
	// Lookups do not cancel each other: an entitling subscription makes a
	// failed count irrelevant.
	var grp errgroup.Group
	if in.Authenticated {
		grp.Go(func() error {
			sub, hasSub, subErr = g.subscriptions.GetSubscription(ctx, id.UserID)
			return nil
		})
	}
	grp.Go(func() error {
		count, countErr = g.counter.GetCount(ctx, id)
		return nil
	})
	_ = grp.Wait()

	if subErr == nil {
		in.Entitling = hasSub && sub.Entitling(g.now())
	}
	if countErr == nil {
		in.Count = count.Count
	}
	if in.Entitling {
		return g.record(span, g.limits.Evaluate(in))
	}

	if err := errors.Join(subErr, countErr); err != nil {
		span.RecordError(err)
		g.logger.Warn("entitlement check failed, allowing run",
			"identity", id.Kind(),
			"user_id", id.UserID,
			"error", err,
		)
		metrics.IncGateFailOpen()
		res := g.limits.Evaluate(Input{Authenticated: in.Authenticated, Entitling: true})
		res.FailedOpen = true
		return g.record(span, res)
	}

	return g.record(span, g.limits.Evaluate(in))
}

func (g *Gate) record(span trace.Span, res Result) Result {
	span.SetAttributes(
		attribute.String("decision", string(res.Decision)),
		attribute.String("reason", string(res.Reason)),
		attribute.Int("count", res.Count),
	)
	metrics.IncGateDecision(string(res.Decision), string(res.Reason))
	return res
}
