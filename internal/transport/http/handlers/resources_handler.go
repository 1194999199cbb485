package handlers

import (
	"errors"
	"net/http"

	entsvc "github.com/funnytutor6/tutorconnect/internal/services/entitlements"
	resourcesvc "github.com/funnytutor6/tutorconnect/internal/services/resources"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/dto"
	httperrors "github.com/funnytutor6/tutorconnect/internal/transport/http/errors"
)

type ResourcesHandler struct {
	resources    *resourcesvc.Service
	entitlements *entsvc.Service
}

func NewResourcesHandler(resources *resourcesvc.Service, entitlements *entsvc.Service) *ResourcesHandler {
	return &ResourcesHandler{resources: resources, entitlements: entitlements}
}

func (h *ResourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.resources == nil {
		writeInternal(w, "RESOURCES_SERVICE_UNAVAILABLE", "resources service is unavailable")
		return
	}

	var req dto.ResourceWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	created, err := h.resources.Create(r.Context(), identity.UserID, resourceInput(req))
	if err != nil {
		handleResourceError(w, err)
		return
	}
	httperrors.Write(w, http.StatusCreated, created)
}

func (h *ResourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	resourceID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.resources == nil {
		writeInternal(w, "RESOURCES_SERVICE_UNAVAILABLE", "resources service is unavailable")
		return
	}

	var req dto.ResourceWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	updated, err := h.resources.Update(r.Context(), identity.UserID, resourceID, resourceInput(req))
	if err != nil {
		handleResourceError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, updated)
}

// Disclosure answers whether the caller may see the owner's contact without
// revealing it.
func (h *ResourcesHandler) Disclosure(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	resourceID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return
	}

	decision, err := h.entitlements.GetDisclosure(r.Context(), identity.UserID, resourceID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.DisclosureResponse{ResourceID: resourceID, Decision: decision})
}

func (h *ResourcesHandler) Contact(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	resourceID, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return
	}

	disclosure, err := h.entitlements.Reveal(r.Context(), identity.UserID, resourceID)
	if err != nil {
		handleEntitlementError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, disclosure)
}

func resourceInput(req dto.ResourceWriteRequest) resourcesvc.Input {
	return resourcesvc.Input{
		Kind:        req.Kind,
		Headline:    req.Headline,
		Subject:     req.Subject,
		Description: req.Description,
	}
}

func handleResourceError(w http.ResponseWriter, err error) {
	if writeViolations(w, err) {
		return
	}
	switch {
	case errors.Is(err, resourcesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid resource payload")
	case errors.Is(err, resourcesvc.ErrNotFound):
		writeNotFound(w, "RESOURCE_NOT_FOUND", "resource not found")
	case errors.Is(err, resourcesvc.ErrForbidden):
		writeForbidden(w)
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to save resource")
	}
}

func handleEntitlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid resource id")
	case errors.Is(err, entsvc.ErrResourceNotFound):
		writeNotFound(w, "RESOURCE_NOT_FOUND", "resource not found")
	case errors.Is(err, entsvc.ErrNotEntitled):
		writeError(w, http.StatusPaymentRequired, "NOT_ENTITLED", "purchase access or subscribe to see this contact")
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to resolve disclosure")
	}
}
