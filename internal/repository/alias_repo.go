// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AliasRepository stores field aliases added by operators after deploy.
// Rows are never updated or deleted.
type AliasRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAliasRepository(pool *pgxpool.Pool, logger *slog.Logger) *AliasRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &AliasRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *AliasRepository) ListAliases(ctx context.Context) ([]prefill.Alias, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scope, alias, canonical_key
		FROM field_aliases
		ORDER BY created_at ASC, scope ASC, alias ASC
	`)
	if err != nil {
		r.logger.Error("list aliases query failed", "error", err)
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (prefill.Alias, error) {
		var a prefill.Alias
		err := row.Scan(&a.Scope, &a.Alias, &a.Key)
		return a, err
	})
}

// AddAlias inserts a, treating an identical existing row as success and a
// different mapping for the same alias as prefill.ErrAliasConflict.
func (r *AliasRepository) AddAlias(ctx context.Context, a prefill.Alias) error {
	var stored string
	err := r.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO field_aliases (scope, alias, canonical_key)
			VALUES ($1, $2, $3)
			ON CONFLICT (scope, alias) DO NOTHING
			RETURNING canonical_key
		)
		SELECT canonical_key FROM inserted
		UNION ALL
		SELECT canonical_key FROM field_aliases WHERE scope=$1 AND alias=$2
		LIMIT 1
	`, string(a.Scope), a.Alias, a.Key).Scan(&stored)
	if err != nil {
		r.logger.Error("add alias failed", "scope", a.Scope, "alias", a.Alias, "error", err)
		return err
	}
	if stored != a.Key {
		return fmt.Errorf("%w: %q -> %q", prefill.ErrAliasConflict, a.Alias, stored)
	}
	return nil
}
