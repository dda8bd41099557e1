// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewRepositoriesKeepReferences(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	sessions := NewSessionRepository(pool, logger)
	if sessions.pool != pool || sessions.logger != logger {
		t.Fatal("expected session repository to keep pool and logger")
	}
	subs := NewSubscriptionRepository(pool, logger)
	if subs.pool != pool || subs.logger != logger {
		t.Fatal("expected subscription repository to keep pool and logger")
	}
	usage := NewUsageRepository(pool, logger)
	if usage.pool != pool || usage.logger != logger {
		t.Fatal("expected usage repository to keep pool and logger")
	}
	presets := NewPresetRepository(pool, logger)
	if presets.pool != pool || presets.logger != logger {
		t.Fatal("expected preset repository to keep pool and logger")
	}
	aliases := NewAliasRepository(pool, logger)
	if aliases.pool != pool || aliases.logger != logger {
		t.Fatal("expected alias repository to keep pool and logger")
	}
}

func TestNewRepositoriesDefaultLogger(t *testing.T) {
	if repo := NewSessionRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected default logger")
	}
	if repo := NewUsageRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestResolveSessionEmptyTokenSkipsDatabase(t *testing.T) {
	repo := NewSessionRepository(nil, nil)

	_, found, err := repo.ResolveSession(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found {
		t.Fatal("expected empty token to be unresolved")
	}
}

func TestSHA256Hex(t *testing.T) {
	got := sha256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}
