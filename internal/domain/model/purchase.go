package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

type Purchase struct {
	ID                int64                `json:"id"`
	BuyerID           int64                `json:"buyer_id"`
	ResourceID        int64                `json:"resource_id"`
	RequestID         *int64               `json:"request_id,omitempty"`
	Amount            int64                `json:"amount"`
	ExternalSessionID *string              `json:"external_session_id,omitempty"`
	Status            enums.PurchaseStatus `json:"status"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	ConfirmedAt       *time.Time           `json:"confirmed_at,omitempty"`
}
