// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSubscriptionRepository(pool *pgxpool.Pool, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SubscriptionRepository{
		pool:   pool,
		logger: logger,
	}
}

// GetSubscription returns found=false for users billing never wrote a row for.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, bool, error) {
	sub := domain.Subscription{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT status, current_period_end
		FROM subscriptions
		WHERE user_id=$1
	`, userID).Scan(&sub.Status, &sub.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, false, nil
		}
		r.logger.Error("get subscription failed", "user_id", userID, "error", err)
		return domain.Subscription{}, false, err
	}

	return sub, true, nil
}
