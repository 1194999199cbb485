package auth

import (
	"errors"
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

var ErrUnauthorized = errors.New("unauthorized")

type AccessClaims struct {
	UserID    int64
	Role      enums.Role
	ExpiresAt time.Time
}
