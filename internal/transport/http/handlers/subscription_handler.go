package handlers

import (
	"errors"
	"net/http"

	subsvc "github.com/funnytutor6/tutorconnect/internal/services/subscriptions"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/dto"
	httperrors "github.com/funnytutor6/tutorconnect/internal/transport/http/errors"
)

type SubscriptionHandler struct {
	service *subsvc.Service
}

func NewSubscriptionHandler(service *subsvc.Service) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTIONS_SERVICE_UNAVAILABLE", "subscriptions service is unavailable")
		return
	}

	view, err := h.service.Get(r.Context(), identity.UserID)
	if err != nil {
		handleSubscriptionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, view)
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTIONS_SERVICE_UNAVAILABLE", "subscriptions service is unavailable")
		return
	}

	sub, err := h.service.Cancel(r.Context(), identity.UserID)
	if err != nil {
		handleSubscriptionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTIONS_SERVICE_UNAVAILABLE", "subscriptions service is unavailable")
		return
	}

	sub, err := h.service.Reactivate(r.Context(), identity.UserID)
	if err != nil {
		handleSubscriptionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, sub)
}

// Events accepts lifecycle notifications pushed by the payment processor.
// Stale and repeated events are acknowledged without being applied.
func (h *SubscriptionHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "SUBSCRIPTIONS_SERVICE_UNAVAILABLE", "subscriptions service is unavailable")
		return
	}

	var req dto.SubscriptionEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	_, applied, err := h.service.ApplyEvent(r.Context(), subsvc.Event{
		UserID:            req.UserID,
		ExternalID:        req.ExternalID,
		Plan:              req.Plan,
		Status:            req.Status,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		EventAt:           req.EventAt,
	})
	if err != nil {
		handleSubscriptionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.SubscriptionEventResponse{OK: true, Applied: applied})
}

func handleSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid subscription payload")
	case errors.Is(err, subsvc.ErrNotFound):
		writeNotFound(w, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	case errors.Is(err, subsvc.ErrNotActive):
		writeError(w, http.StatusConflict, "SUBSCRIPTION_NOT_ACTIVE", "subscription is not active")
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to process subscription")
	}
}
