package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	coreerrors "github.com/uniauth/identity-core/pkg/errors"
	"github.com/uniauth/identity-core/pkg/idmapping"
	"github.com/uniauth/identity-core/pkg/tenant"
)

// Handler handles HTTP requests for user id mappings
type Handler struct {
	service *idmapping.MappingService
}

// NewHandler creates a new user id mapping handler
func NewHandler(service *idmapping.MappingService) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the user id mapping routes
// These routes should be mounted under an authenticated admin route group
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateMapping)
	r.Get("/{userId}", h.GetMapping)
	r.Delete("/{userId}", h.DeleteMapping)
}

// CreateMapping handles POST / - map an internal user id to an external one
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req CreateMappingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if req.InternalUserID == "" || req.ExternalUserID == "" {
		h.badRequest(w, r, "internalUserId and externalUserId are required")
		return
	}

	app := tenant.AppFromRequest(r)
	err := h.service.CreateMapping(r.Context(), app, req.InternalUserID, req.ExternalUserID, req.ExternalUserIDInfo, req.Force)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, MappingResponse{
		InternalUserID:     req.InternalUserID,
		ExternalUserID:     req.ExternalUserID,
		ExternalUserIDInfo: req.ExternalUserIDInfo,
	})
}

// GetMapping handles GET /{userId} - lookup by either side, steered by the
// userIdType query parameter (INTERNAL, EXTERNAL, or ANY)
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	app := tenant.AppFromRequest(r)
	userID := chi.URLParam(r, "userId")

	mapping, err := h.service.GetMapping(r.Context(), app, userID, parseIDType(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, MappingResponse{
		InternalUserID:     mapping.InternalUserID,
		ExternalUserID:     mapping.ExternalUserID,
		ExternalUserIDInfo: mapping.ExternalInfo,
	})
}

// DeleteMapping handles DELETE /{userId} - remove a mapping by either side
func (h *Handler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	app := tenant.AppFromRequest(r)
	userID := chi.URLParam(r, "userId")
	force := r.URL.Query().Get("force") == "true"

	existed, err := h.service.DeleteMapping(r.Context(), app, userID, parseIDType(r), force)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	slog.Info("Mapping deletion handled", "userId", userID, "existed", existed)
	render.JSON(w, r, DeleteMappingResponse{Existed: existed})
}

func parseIDType(r *http.Request) idmapping.IDType {
	switch r.URL.Query().Get("userIdType") {
	case "INTERNAL":
		return idmapping.IDTypeInternal
	case "EXTERNAL":
		return idmapping.IDTypeExternal
	default:
		return idmapping.IDTypeAny
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Code: string(coreerrors.ErrCodeInvalidInput), Message: message})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	coded := classifyError(err)
	if coded.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.Error("Mapping request failed", "error", err)
	}
	render.Status(r, coded.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{Code: string(coded.Code), Message: coded.Message})
}

// classifyError translates mapping errors into the coded form the HTTP
// surface serializes
func classifyError(err error) *coreerrors.Error {
	var (
		unknownInternal idmapping.ErrUnknownInternalUserID
		alreadyExists   idmapping.ErrMappingAlreadyExists
		stillInUse      idmapping.ErrExternalIDStillInUse
		isInternal      idmapping.ErrExternalIDIsInternalID
	)
	switch {
	case errors.Is(err, idmapping.ErrMappingNotFound):
		return coreerrors.Wrap(err, coreerrors.ErrCodeMappingNotFound, "user id mapping not found")
	case errors.As(err, &unknownInternal):
		return coreerrors.Wrap(err, coreerrors.ErrCodeUnknownInternalUserID, unknownInternal.Error())
	case errors.As(err, &alreadyExists):
		return coreerrors.Wrap(err, coreerrors.ErrCodeMappingAlreadyExists, alreadyExists.Error())
	case errors.As(err, &stillInUse):
		return coreerrors.Wrap(err, coreerrors.ErrCodeConflict, stillInUse.Error())
	case errors.As(err, &isInternal):
		return coreerrors.Wrap(err, coreerrors.ErrCodeInvalidInput, isInternal.Error())
	default:
		return coreerrors.InternalWrap(err, "request failed")
	}
}
