package dto

import "time"

type SubscriptionEventRequest struct {
	UserID            int64      `json:"user_id,omitempty"`
	ExternalID        string     `json:"external_id,omitempty"`
	Plan              string     `json:"plan,omitempty"`
	Status            string     `json:"status"`
	PeriodStart       *time.Time `json:"current_period_start,omitempty"`
	PeriodEnd         *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	EventAt           time.Time  `json:"event_at"`
}

type SubscriptionEventResponse struct {
	OK      bool `json:"ok"`
	Applied bool `json:"applied"`
}
