package handlers

import (
	"errors"
	"net/http"
	"strings"

	paymentsvc "github.com/funnytutor6/tutorconnect/internal/services/payments"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/dto"
	httperrors "github.com/funnytutor6/tutorconnect/internal/transport/http/errors"
)

type PurchaseHandler struct {
	payments *paymentsvc.Service
}

func NewPurchaseHandler(payments *paymentsvc.Service) *PurchaseHandler {
	return &PurchaseHandler{payments: payments}
}

func (h *PurchaseHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.PurchaseStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.payments.Start(r.Context(), identity.UserID, paymentsvc.Target{
		ResourceID: req.ResourceID,
		RequestID:  req.RequestID,
		Plan:       req.Plan,
	})
	if err != nil {
		handlePaymentError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, result)
}

// Pending lets a client that lost its redirect find the checkout it started.
func (h *PurchaseHandler) Pending(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	rec, found, err := h.payments.PendingOperation(r.Context(), identity.UserID)
	if err != nil {
		handlePaymentError(w, err)
		return
	}
	resp := dto.PendingOperationResponse{Pending: found}
	if found {
		resp.Operation = &rec
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PurchaseHandler) Resume(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.PurchaseResumeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}
	// The processor redirect carries the session as a query parameter.
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "session_id is required")
		return
	}

	result, err := h.payments.Resume(r.Context(), identity.UserID, req.SessionID)
	switch {
	case err == nil:
		httperrors.Write(w, http.StatusOK, dto.PurchaseResumeResponse{ResumeResult: result})
	case errors.Is(err, paymentsvc.ErrPaymentFailed):
		httperrors.Write(w, http.StatusPaymentRequired, dto.PurchaseResumeResponse{ResumeResult: result, Code: "PAYMENT_FAILED"})
	case errors.Is(err, paymentsvc.ErrPaymentUnknown):
		httperrors.Write(w, http.StatusAccepted, dto.PurchaseResumeResponse{ResumeResult: result, Code: "PAYMENT_UNKNOWN"})
	case errors.Is(err, paymentsvc.ErrStaleOperation):
		httperrors.Write(w, http.StatusGone, dto.PurchaseResumeResponse{ResumeResult: result, Code: "STALE_OPERATION"})
	default:
		handlePaymentError(w, err)
	}
}

// Reconcile re-checks the caller's open checkouts. Clients call it when the
// app is opened.
func (h *PurchaseHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	result, err := h.payments.ReconcileBuyer(r.Context(), identity.UserID)
	if err != nil {
		handlePaymentError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, result)
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paymentsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase payload")
	case errors.Is(err, paymentsvc.ErrUnknownPlan):
		writeBadRequest(w, "UNKNOWN_PLAN", "unknown subscription plan")
	case errors.Is(err, paymentsvc.ErrResourceNotFound):
		writeNotFound(w, "RESOURCE_NOT_FOUND", "resource not found")
	case errors.Is(err, paymentsvc.ErrOperationNotFound):
		writeNotFound(w, "OPERATION_NOT_FOUND", "payment operation not found")
	case errors.Is(err, paymentsvc.ErrForbidden):
		writeForbidden(w)
	case errors.Is(err, paymentsvc.ErrRequestClosed):
		writeError(w, http.StatusConflict, "REQUEST_CLOSED", "connection request is closed")
	case errors.Is(err, paymentsvc.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "PAYMENT_FAILED", "payment failed")
	case errors.Is(err, paymentsvc.ErrPaymentUnknown):
		writeError(w, http.StatusAccepted, "PAYMENT_UNKNOWN", "payment outcome is not known yet")
	case errors.Is(err, paymentsvc.ErrStaleOperation):
		writeError(w, http.StatusGone, "STALE_OPERATION", "payment operation expired")
	case errors.Is(err, paymentsvc.ErrProcessorUnavailable):
		writeError(w, http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", "payment processor is unavailable")
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to process payment")
	}
}
