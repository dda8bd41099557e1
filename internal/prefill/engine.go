// SPDX-License-Identifier: Apache-2.0

package prefill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/google/uuid"
)

// Source is a preset record that can supply canonical attribute values.
type Source interface {
	PresetName() string
	Attribute(key string) string
}

type Provenance struct {
	SourceName string `json:"source_name"`
}

type Result struct {
	Values     map[string]string     `json:"values"`
	Provenance map[string]Provenance `json:"provenance"`
}

// ComputePrefill returns the values source supplies for fields. A field is
// only emitted when its name resolves in scope and the source holds a
// non-empty value for the resolved key.
func ComputePrefill(resolver Resolver, fields []workflow.Field, source Source, scope Scope) Result {
	res := Result{
		Values:     make(map[string]string),
		Provenance: make(map[string]Provenance),
	}
	if resolver == nil || source == nil {
		return res
	}

	for _, f := range fields {
		key, ok := resolver.Resolve(f.Name, scope)
		if !ok {
			continue
		}
		v := source.Attribute(key)
		if strings.TrimSpace(v) == "" {
			continue
		}
		res.Values[f.Name] = v
		res.Provenance[f.Name] = Provenance{SourceName: source.PresetName()}
	}

	return res
}

// ErrInvalidSelection reports a malformed preset selection.
var ErrInvalidSelection = errors.New("invalid preset selection")

// Selection is the per-run choice of which preset feeds auto-fill.
type Selection struct {
	Scope    Scope     `json:"type"`
	ClientID uuid.UUID `json:"client_id,omitempty"`
}

func (s Selection) Validate() error {
	switch s.Scope {
	case ScopeSelf:
		return nil
	case ScopeClient:
		if s.ClientID == uuid.Nil {
			return fmt.Errorf("%w: client selection without client id", ErrInvalidSelection)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown preset scope %q", ErrInvalidSelection, s.Scope)
	}
}

// PresetStore is the slice of storage that holds presets.
type PresetStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (domain.Profile, bool, error)
	ListClientPresets(ctx context.Context, userID uuid.UUID) ([]domain.ClientPreset, error)
}

// LoadSource fetches the preset named by sel. A user without a profile gets
// (nil, nil): no prefill, not an error.
func LoadSource(ctx context.Context, store PresetStore, userID uuid.UUID, sel Selection) (Source, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	if sel.Scope == ScopeSelf {
		profile, ok, err := store.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		if !ok {
			return nil, nil
		}
		return profile, nil
	}

	presets, err := store.ListClientPresets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list client presets: %w", err)
	}
	for _, p := range presets {
		if p.ID == sel.ClientID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPresetNotFound, sel.ClientID)
}
