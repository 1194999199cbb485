package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

type ConnectionRequest struct {
	ID          int64                  `json:"id"`
	RequesterID int64                  `json:"requester_id"`
	ProviderID  int64                  `json:"provider_id"`
	ResourceID  int64                  `json:"resource_id"`
	Status      enums.ConnectionStatus `json:"status"`
	GrantReason enums.GrantReason      `json:"grant_reason"`
	Message     string                 `json:"message"`
	CreatedAt   time.Time              `json:"created_at"`
	GrantedAt   *time.Time             `json:"granted_at,omitempty"`
	RejectedAt  *time.Time             `json:"rejected_at,omitempty"`
}

func (r ConnectionRequest) IsParticipant(userID int64) bool {
	return userID > 0 && (userID == r.RequesterID || userID == r.ProviderID)
}

// Counterparty returns the other side of the request for the given participant.
func (r ConnectionRequest) Counterparty(userID int64) int64 {
	if userID == r.RequesterID {
		return r.ProviderID
	}
	return r.RequesterID
}
