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

type PresetRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPresetRepository(pool *pgxpool.Pool, logger *slog.Logger) *PresetRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PresetRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *PresetRepository) GetProfile(ctx context.Context, userID uuid.UUID) (domain.Profile, bool, error) {
	p := domain.Profile{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT display_name, attributes, updated_at
		FROM profiles
		WHERE user_id=$1
	`, userID).Scan(&p.DisplayName, &p.Attributes, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, false, nil
		}
		r.logger.Error("get profile failed", "user_id", userID, "error", err)
		return domain.Profile{}, false, err
	}
	return p, true, nil
}

func (r *PresetRepository) ListClientPresets(ctx context.Context, userID uuid.UUID) ([]domain.ClientPreset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, attributes, created_at
		FROM client_presets
		WHERE user_id=$1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		r.logger.Error("list client presets query failed", "user_id", userID, "error", err)
		return nil, err
	}

	presets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClientPreset, error) {
		var p domain.ClientPreset
		err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Attributes, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		r.logger.Error("scan client presets failed", "user_id", userID, "error", err)
		return nil, err
	}
	return presets, nil
}
