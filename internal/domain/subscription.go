// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionFree     SubscriptionStatus = "free"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPaused   SubscriptionStatus = "paused"
)

type Subscription struct {
	UserID           uuid.UUID          `json:"user_id"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
}

// Entitling reports whether the subscription grants unlimited runs at now:
// active or past_due, with no period end or one still in the future.
func (s Subscription) Entitling(now time.Time) bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionPastDue:
	default:
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}
