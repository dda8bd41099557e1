// SPDX-License-Identifier: Apache-2.0

package prefill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Alias struct {
	Scope Scope  `json:"scope"`
	Alias string `json:"alias"`
	Key   string `json:"key"`
}

// AliasStore persists aliases added at runtime.
type AliasStore interface {
	ListAliases(ctx context.Context) ([]Alias, error)
	AddAlias(ctx context.Context, a Alias) error
}

// Registry keeps an AliasTable and its store in step.
type Registry struct {
	table  *AliasTable
	store  AliasStore
	logger *slog.Logger
}

func NewRegistry(table *AliasTable, store AliasStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{table: table, store: store, logger: logger}
}

func (r *Registry) Table() *AliasTable {
	return r.table
}

// Load applies persisted aliases on top of the table. Rows that conflict
// with an existing entry are skipped with a warning.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	aliases, err := r.store.ListAliases(ctx)
	if err != nil {
		return 0, fmt.Errorf("list aliases: %w", err)
	}

	loaded := 0
	for _, a := range aliases {
		if err := r.table.Add(a.Scope, a.Alias, a.Key); err != nil {
			r.logger.Warn("skipping stored alias", "scope", a.Scope, "alias", a.Alias, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Add validates a against the table before persisting it, so a conflicting
// alias is never stored.
func (r *Registry) Add(ctx context.Context, a Alias) error {
	if err := r.table.Add(a.Scope, a.Alias, a.Key); err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}
	if err := r.store.AddAlias(ctx, a); err != nil {
		if errors.Is(err, ErrAliasConflict) {
			return err
		}
		return fmt.Errorf("persist alias %q: %w", a.Alias, err)
	}
	return nil
}
