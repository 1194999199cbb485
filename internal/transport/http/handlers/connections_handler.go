package handlers

import (
	"errors"
	"net/http"

	connsvc "github.com/funnytutor6/tutorconnect/internal/services/connections"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/dto"
	httperrors "github.com/funnytutor6/tutorconnect/internal/transport/http/errors"
)

type ConnectionsHandler struct {
	service *connsvc.Service
}

func NewConnectionsHandler(service *connsvc.Service) *ConnectionsHandler {
	return &ConnectionsHandler{service: service}
}

func (h *ConnectionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	var req dto.ConnectionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	created, err := h.service.Submit(r.Context(), connsvc.SubmitInput{
		RequesterID: identity.UserID,
		ProviderID:  req.ProviderID,
		ResourceID:  req.ResourceID,
		Message:     req.Message,
	})
	if err != nil {
		handleConnectionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusCreated, dto.ConnectionResponse{Request: created})
}

func (h *ConnectionsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	updated, err := h.service.EvaluateForViewer(r.Context(), requestID, identity.UserID)
	if err != nil {
		handleConnectionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ConnectionResponse{Request: updated})
}

func (h *ConnectionsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	rejected, err := h.service.Reject(r.Context(), requestID, identity.UserID)
	if err != nil {
		handleConnectionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ConnectionResponse{Request: rejected})
}

func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	found, err := h.service.Get(r.Context(), requestID, identity.UserID)
	if err != nil {
		handleConnectionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ConnectionResponse{Request: found})
}

func (h *ConnectionsHandler) Contact(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "CONNECTIONS_SERVICE_UNAVAILABLE", "connections service is unavailable")
		return
	}

	contact, err := h.service.Contact(r.Context(), requestID, identity.UserID)
	if err != nil {
		handleConnectionError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ContactResponse{RequestID: requestID, Contact: contact})
}

func handleConnectionError(w http.ResponseWriter, err error) {
	if writeViolations(w, err) {
		return
	}
	switch {
	case errors.Is(err, connsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid connection request")
	case errors.Is(err, connsvc.ErrNotFound):
		writeNotFound(w, "REQUEST_NOT_FOUND", "connection request not found")
	case errors.Is(err, connsvc.ErrResourceNotFound):
		writeNotFound(w, "RESOURCE_NOT_FOUND", "resource not found")
	case errors.Is(err, connsvc.ErrForbidden):
		writeForbidden(w)
	case errors.Is(err, connsvc.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "DUPLICATE_REQUEST", "a request for this resource already exists")
	case errors.Is(err, connsvc.ErrEntitlementConflict):
		writeError(w, http.StatusConflict, "ENTITLEMENT_CONFLICT", "request changed concurrently, retry")
	case errors.Is(err, connsvc.ErrContactLocked):
		writeError(w, http.StatusForbidden, "CONTACT_LOCKED", "contact is locked until the request is granted")
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to process connection request")
	}
}
