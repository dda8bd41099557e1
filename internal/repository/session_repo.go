// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/adiadia/promptflow/internal/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository resolves bearer session tokens issued by the sign-in
// service. Only the sha256 of a token is ever stored.
type SessionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSessionRepository(pool *pgxpool.Pool, logger *slog.Logger) *SessionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *SessionRepository) ResolveSession(ctx context.Context, bearerToken string) (auth.Principal, bool, error) {
	if bearerToken == "" {
		return auth.Principal{}, false, nil
	}

	var p auth.Principal
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, expires_at
		 FROM sessions
		 WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()`,
		sha256Hex(bearerToken),
	).Scan(&p.SessionID, &p.UserID, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Principal{}, false, nil
		}
		r.logger.Error("resolve session failed", "error", err)
		return auth.Principal{}, false, err
	}

	return p, true, nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
