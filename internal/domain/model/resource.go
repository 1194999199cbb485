package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

type Resource struct {
	ID          int64              `json:"id"`
	OwnerID     int64              `json:"owner_id"`
	OwnerRole   enums.Role         `json:"owner_role"`
	Kind        enums.ResourceKind `json:"kind"`
	Headline    string             `json:"headline"`
	Subject     string             `json:"subject"`
	Description string             `json:"description"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// FreeTextField is a user-authored field that must pass contact sanitizing.
type FreeTextField struct {
	Name  string
	Value string
}

func (r Resource) FreeTextFields() []FreeTextField {
	return []FreeTextField{
		{Name: "headline", Value: r.Headline},
		{Name: "subject", Value: r.Subject},
		{Name: "description", Value: r.Description},
	}
}
