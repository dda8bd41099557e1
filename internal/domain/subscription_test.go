// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"testing"
	"time"
)

func TestSubscriptionStatusConstants(t *testing.T) {
	if SubscriptionFree != "free" {
		t.Fatalf("unexpected SubscriptionFree value: %s", SubscriptionFree)
	}
	if SubscriptionActive != "active" {
		t.Fatalf("unexpected SubscriptionActive value: %s", SubscriptionActive)
	}
	if SubscriptionPastDue != "past_due" {
		t.Fatalf("unexpected SubscriptionPastDue value: %s", SubscriptionPastDue)
	}
	if SubscriptionCanceled != "canceled" {
		t.Fatalf("unexpected SubscriptionCanceled value: %s", SubscriptionCanceled)
	}
	if SubscriptionPaused != "paused" {
		t.Fatalf("unexpected SubscriptionPaused value: %s", SubscriptionPaused)
	}
}

func TestSubscriptionEntitling(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Second)

	cases := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{name: "active no end", sub: Subscription{Status: SubscriptionActive}, want: true},
		{name: "active future end", sub: Subscription{Status: SubscriptionActive, CurrentPeriodEnd: &future}, want: true},
		{name: "active past end", sub: Subscription{Status: SubscriptionActive, CurrentPeriodEnd: &past}, want: false},
		{name: "active end now", sub: Subscription{Status: SubscriptionActive, CurrentPeriodEnd: &now}, want: false},
		{name: "past due", sub: Subscription{Status: SubscriptionPastDue, CurrentPeriodEnd: &future}, want: true},
		{name: "free", sub: Subscription{Status: SubscriptionFree}, want: false},
		{name: "canceled future end", sub: Subscription{Status: SubscriptionCanceled, CurrentPeriodEnd: &future}, want: false},
		{name: "paused", sub: Subscription{Status: SubscriptionPaused}, want: false},
	}

	for _, tc := range cases {
		if got := tc.sub.Entitling(now); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestPresetNames(t *testing.T) {
	if got := (Profile{}).PresetName(); got != "My profile" {
		t.Fatalf("expected default profile name, got %q", got)
	}
	if got := (Profile{DisplayName: "Dana"}).PresetName(); got != "Dana" {
		t.Fatalf("expected display name, got %q", got)
	}
	if got := (ClientPreset{Name: "Acme"}).PresetName(); got != "Acme" {
		t.Fatalf("expected client preset name, got %q", got)
	}
	if got := (ClientPreset{}).Attribute(AttrEmail); got != "" {
		t.Fatalf("expected empty attribute on nil map, got %q", got)
	}
}
