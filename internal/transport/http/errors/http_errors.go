package errors

import (
	"encoding/json"
	"net/http"

	"github.com/funnytutor6/tutorconnect/internal/services/sanitizer"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RateLimitError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int64  `json:"retry_after_sec"`
}

// ValidationError carries every sanitizer violation so the client can mark
// the offending fields.
type ValidationError struct {
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	Violations []sanitizer.Violation `json:"violations"`
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
