// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewUsageRepository(pool *pgxpool.Pool, logger *slog.Logger) *UsageRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &UsageRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *UsageRepository) CountRunsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM run_completions
		WHERE user_id=$1 AND completed_at >= $2
	`, userID, since).Scan(&n); err != nil {
		r.logger.Error("count runs failed", "user_id", userID, "error", err)
		return 0, err
	}
	return n, nil
}

// RecordRunCompletion inserts one completion per run id; a retried request
// for the same run is a no-op.
func (r *UsageRepository) RecordRunCompletion(ctx context.Context, userID, runID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO run_completions (run_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, userID)
	if err != nil {
		r.logger.Error("record run completion failed", "user_id", userID, "run_id", runID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("run completion already recorded", "run_id", runID)
	}
	return nil
}
