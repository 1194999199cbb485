package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

type Subscription struct {
	UserID             int64                     `json:"user_id"`
	ExternalID         string                    `json:"external_id,omitempty"`
	Plan               string                    `json:"plan,omitempty"`
	Status             *enums.SubscriptionStatus `json:"status,omitempty"`
	CurrentPeriodStart *time.Time                `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                      `json:"cancel_at_period_end"`
	LegacyPaidFlag     bool                      `json:"legacy_paid_flag"`
	PendingSessionRef  *string                   `json:"pending_session_ref,omitempty"`
	PendingSince       *time.Time                `json:"pending_since,omitempty"`
	LastEventAt        *time.Time                `json:"last_event_at,omitempty"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}
