package dto

import (
	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

type ResourceWriteRequest struct {
	Kind        enums.ResourceKind `json:"kind,omitempty"`
	Headline    string             `json:"headline"`
	Subject     string             `json:"subject"`
	Description string             `json:"description"`
}

type DisclosureResponse struct {
	ResourceID int64          `json:"resource_id"`
	Decision   model.Decision `json:"decision"`
}
