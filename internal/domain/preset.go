// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical attribute keys shared by profiles and client presets.
const (
	AttrName           = "name"
	AttrEmail          = "email"
	AttrCompany        = "company"
	AttrWebsite        = "website"
	AttrIndustry       = "industry"
	AttrTone           = "tone"
	AttrRole           = "role"
	AttrLocation       = "location"
	AttrTargetAudience = "target_audience"
	AttrNotes          = "notes"
)

// Profile is the user's own canonical attribute record ("self").
type Profile struct {
	UserID      uuid.UUID         `json:"user_id"`
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ClientPreset is a saved attribute record describing one of the user's clients.
type ClientPreset struct {
	ID         uuid.UUID         `json:"id"`
	UserID     uuid.UUID         `json:"user_id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (p Profile) PresetName() string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return "My profile"
}

func (p Profile) Attribute(key string) string { return p.Attributes[key] }

func (c ClientPreset) PresetName() string { return c.Name }

func (c ClientPreset) Attribute(key string) string { return c.Attributes[key] }
