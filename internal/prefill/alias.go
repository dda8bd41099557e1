// SPDX-License-Identifier: Apache-2.0

// Package prefill maps workflow field names onto canonical preset attributes
// and computes the values a step should start with.
package prefill

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/adiadia/promptflow/internal/domain"
)

// Scope selects which preset kind feeds a run: the user's own profile or
// one of their client presets.
type Scope string

const (
	ScopeSelf   Scope = "self"
	ScopeClient Scope = "client"
)

var ErrAliasConflict = errors.New("alias already mapped to a different key")

// Resolver maps an authored field name to a canonical attribute key.
type Resolver interface {
	Resolve(field string, scope Scope) (string, bool)
}

// AliasTable is an append-only alias -> canonical key table, one per scope.
// Lookups are exact and case-sensitive.
type AliasTable struct {
	mu     sync.RWMutex
	tables map[Scope]map[string]string
}

func NewAliasTable(self, client map[string]string) *AliasTable {
	return &AliasTable{
		tables: map[Scope]map[string]string{
			ScopeSelf:   maps.Clone(nonNil(self)),
			ScopeClient: maps.Clone(nonNil(client)),
		},
	}
}

// DefaultAliasTable returns the production alias set.
func DefaultAliasTable() *AliasTable {
	return NewAliasTable(defaultSelfAliases, defaultClientAliases)
}

func (t *AliasTable) Resolve(field string, scope Scope) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key, ok := t.tables[scope][field]
	return key, ok
}

// Add registers alias for key in scope. Existing entries are never changed:
// re-adding the same mapping is a no-op and remapping fails.
func (t *AliasTable) Add(scope Scope, alias, key string) error {
	alias = strings.TrimSpace(alias)
	key = strings.TrimSpace(key)
	if alias == "" || key == "" {
		return fmt.Errorf("%w: alias and key are required", domain.ErrInvalidAlias)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table, ok := t.tables[scope]
	if !ok {
		return fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidAlias, scope)
	}
	if existing, ok := table[alias]; ok {
		if existing == key {
			return nil
		}
		return fmt.Errorf("%w: %q -> %q", ErrAliasConflict, alias, existing)
	}
	table[alias] = key
	return nil
}

// Aliases returns a copy of one scope's table.
func (t *AliasTable) Aliases(scope Scope) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.tables[scope])
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var defaultSelfAliases = map[string]string{
	"name":        domain.AttrName,
	"full_name":   domain.AttrName,
	"your_name":   domain.AttrName,
	"my_name":     domain.AttrName,
	"sender_name": domain.AttrName,
	"host_name":   domain.AttrName,
	"author_name": domain.AttrName,
	"coach_name":  domain.AttrName,

	"email":        domain.AttrEmail,
	"your_email":   domain.AttrEmail,
	"my_email":     domain.AttrEmail,
	"sender_email": domain.AttrEmail,

	"company":         domain.AttrCompany,
	"company_name":    domain.AttrCompany,
	"your_company":    domain.AttrCompany,
	"business_name":   domain.AttrCompany,
	"organization":    domain.AttrCompany,
	"brand_name":      domain.AttrCompany,
	"sender_company":  domain.AttrCompany,
	"website":         domain.AttrWebsite,
	"your_website":    domain.AttrWebsite,
	"company_website": domain.AttrWebsite,
	"website_url":     domain.AttrWebsite,

	"industry":      domain.AttrIndustry,
	"your_industry": domain.AttrIndustry,
	"niche":         domain.AttrIndustry,

	"tone":         domain.AttrTone,
	"brand_voice":  domain.AttrTone,
	"writing_tone": domain.AttrTone,
	"voice":        domain.AttrTone,

	"role":      domain.AttrRole,
	"job_title": domain.AttrRole,
	"your_role": domain.AttrRole,

	"location":      domain.AttrLocation,
	"your_location": domain.AttrLocation,
	"city":          domain.AttrLocation,

	"target_audience": domain.AttrTargetAudience,
	"audience":        domain.AttrTargetAudience,
	"ideal_customer":  domain.AttrTargetAudience,
}

var defaultClientAliases = map[string]string{
	"client_name":    domain.AttrName,
	"recipient_name": domain.AttrName,
	"contact_name":   domain.AttrName,
	"customer_name":  domain.AttrName,
	"prospect_name":  domain.AttrName,
	"guest_name":     domain.AttrName,

	"client_email":    domain.AttrEmail,
	"recipient_email": domain.AttrEmail,
	"contact_email":   domain.AttrEmail,
	"prospect_email":  domain.AttrEmail,

	"client_company":    domain.AttrCompany,
	"recipient_company": domain.AttrCompany,
	"prospect_company":  domain.AttrCompany,
	"customer_company":  domain.AttrCompany,

	"client_website":   domain.AttrWebsite,
	"prospect_website": domain.AttrWebsite,

	"client_industry":   domain.AttrIndustry,
	"prospect_industry": domain.AttrIndustry,

	"client_tone":     domain.AttrTone,
	"client_role":     domain.AttrRole,
	"recipient_role":  domain.AttrRole,
	"contact_title":   domain.AttrRole,
	"client_location": domain.AttrLocation,

	"client_audience": domain.AttrTargetAudience,
	"client_notes":    domain.AttrNotes,
	"client_context":  domain.AttrNotes,
}
