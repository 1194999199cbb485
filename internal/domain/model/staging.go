package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

// StagingRecord marks a checkout in flight so it can be resumed after the
// processor redirects the viewer back.
type StagingRecord struct {
	OperationID        string              `json:"operation_id"`
	Kind               enums.OperationKind `json:"kind"`
	ViewerID           int64               `json:"viewer_id"`
	ResourceID         *int64              `json:"resource_id,omitempty"`
	RequestID          *int64              `json:"request_id,omitempty"`
	PurchaseID         *int64              `json:"purchase_id,omitempty"`
	SubscriptionUserID *int64              `json:"subscription_user_id,omitempty"`
	SessionRef         string              `json:"session_ref"`
	CreatedAt          time.Time           `json:"created_at"`
}
