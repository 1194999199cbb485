package dto

import "github.com/funnytutor6/tutorconnect/internal/domain/model"

type ConnectionCreateRequest struct {
	ProviderID int64  `json:"provider_id"`
	ResourceID int64  `json:"resource_id"`
	Message    string `json:"message"`
}

type ConnectionResponse struct {
	Request model.ConnectionRequest `json:"request"`
}

type ContactResponse struct {
	RequestID int64         `json:"request_id"`
	Contact   model.Contact `json:"contact"`
}
