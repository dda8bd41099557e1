// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/promptflow/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x50464c575f4d4752 // "PFLW_MGR"

var requiredTables = []string{
	"users",
	"sessions",
	"subscriptions",
	"profiles",
	"client_presets",
	"field_aliases",
	"run_completions",
}

type requiredColumn struct {
	Table  string
	Column string
}

var requiredColumns = []requiredColumn{
	{Table: "sessions", Column: "token_hash"},
	{Table: "subscriptions", Column: "current_period_end"},
	{Table: "profiles", Column: "attributes"},
	{Table: "client_presets", Column: "attributes"},
	{Table: "field_aliases", Column: "canonical_key"},
	{Table: "run_completions", Column: "completed_at"},
}

// ErrMigrationDrift reports an applied migration whose file content changed.
var ErrMigrationDrift = errors.New("applied migration changed")

// SchemaHealthChecker backs /healthz with SchemaReady.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// appliedMigration is a schema_migrations row. Checksum is empty for rows
// written before checksums were recorded.
type appliedMigration struct {
	Checksum string
}

// EnsureSchema applies pending embedded migrations under a session advisory
// lock so concurrent API replicas bootstrap once. An applied file whose
// checksum no longer matches fails the bootstrap with ErrMigrationDrift.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()
	logger.Info("schema bootstrap starting", "migrations", len(files))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	unlock, err := advisoryLock(ctx, conn, logger)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''
	`, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("prepare schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	var ran, skipped int
	for _, file := range files {
		prev, ok := applied[file.Name]
		if ok {
			if err := checkDrift(ctx, conn, file, prev, logger); err != nil {
				return err
			}
			skipped++
			continue
		}

		logger.Info("applying migration", "file", file.Name, "version", file.Version)
		if err := applyMigration(ctx, conn, file); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		ran++
	}

	logger.Info("schema bootstrap complete",
		"applied", ran,
		"skipped", skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func advisoryLock(ctx context.Context, conn *pgxpool.Conn, logger *slog.Logger) (func(), error) {
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return nil, fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}, nil
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedMigration)
	for rows.Next() {
		var name string
		var m appliedMigration
		if err := rows.Scan(&name, &m.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return out, nil
}

// checkDrift backfills a missing checksum and rejects a changed file.
func checkDrift(ctx context.Context, conn *pgxpool.Conn, file embeddedmigrations.File, prev appliedMigration, logger *slog.Logger) error {
	switch prev.Checksum {
	case file.Checksum:
		return nil
	case "":
		if _, err := conn.Exec(ctx,
			`UPDATE schema_migrations SET checksum = $2 WHERE filename = $1`,
			file.Name, file.Checksum,
		); err != nil {
			return fmt.Errorf("record checksum for %s: %w", file.Name, err)
		}
		logger.Info("migration checksum recorded", "file", file.Name)
		return nil
	default:
		logger.Error("migration drift detected",
			"file", file.Name,
			"recorded", prev.Checksum,
			"embedded", file.Checksum,
		)
		return fmt.Errorf("%w: %s", ErrMigrationDrift, file.Name)
	}
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, file embeddedmigrations.File) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
			file.Name, file.Checksum,
		)
		return err
	})
}

// SchemaReady reports every required table and column that is missing.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	var missingTables []string
	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(t ORDER BY t), '{}')
		FROM unnest($1::text[]) AS t
		WHERE to_regclass('public.' || t) IS NULL
	`, requiredTables).Scan(&missingTables); err != nil {
		return fmt.Errorf("check required tables: %w", err)
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}

	tables := make([]string, len(requiredColumns))
	columns := make([]string, len(requiredColumns))
	for i, c := range requiredColumns {
		tables[i], columns[i] = c.Table, c.Column
	}

	var missingColumns []string
	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(r.tbl || '.' || r.col ORDER BY r.tbl, r.col), '{}')
		FROM unnest($1::text[], $2::text[]) AS r(tbl, col)
		WHERE NOT EXISTS (
			SELECT 1
			FROM information_schema.columns c
			WHERE c.table_schema = 'public'
			  AND c.table_name = r.tbl
			  AND c.column_name = r.col
		)
	`, tables, columns).Scan(&missingColumns); err != nil {
		return fmt.Errorf("check required columns: %w", err)
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}
