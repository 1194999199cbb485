package model

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

type User struct {
	ID        int64      `json:"id"`
	Role      enums.Role `json:"role"`
	Contact   Contact    `json:"contact"`
	CreatedAt time.Time  `json:"created_at"`
}

// Contact is the private part of a user profile that disclosure gating protects.
type Contact struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}
