package dto

import (
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	paymentsvc "github.com/funnytutor6/tutorconnect/internal/services/payments"
)

// PurchaseStartRequest selects a direct purchase when ResourceID is set and a
// subscription checkout when Plan is set.
type PurchaseStartRequest struct {
	ResourceID int64  `json:"resource_id,omitempty"`
	RequestID  *int64 `json:"request_id,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

type PurchaseResumeRequest struct {
	SessionID string `json:"session_id"`
}

type PurchaseResumeResponse struct {
	paymentsvc.ResumeResult
	Code string `json:"code,omitempty"`
}

type PendingOperationResponse struct {
	Pending   bool                 `json:"pending"`
	Operation *model.StagingRecord `json:"operation,omitempty"`
}
