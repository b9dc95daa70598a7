package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	coreerrors "github.com/uniauth/identity-core/pkg/errors"
	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/linking"
	"github.com/uniauth/identity-core/pkg/tenant"
)

// Handler handles HTTP requests for account linking
type Handler struct {
	service *linking.LinkingService
}

// NewHandler creates a new account linking handler
func NewHandler(service *linking.LinkingService) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the account linking routes
// These routes should be mounted under an authenticated admin route group
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/primary", h.CreatePrimaryUser)
	r.Post("/link", h.LinkAccounts)
	r.Post("/unlink", h.UnlinkAccount)
	r.Post("/import", h.ImportUsers)
}

// CreatePrimaryUser handles POST /primary - promote a cluster to primary
func (h *Handler) CreatePrimaryUser(w http.ResponseWriter, r *http.Request) {
	var req CreatePrimaryUserRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if req.RecipeUserID == "" {
		h.badRequest(w, r, "recipeUserId is required")
		return
	}

	result, err := h.service.CreatePrimaryUser(r.Context(), tenant.AppFromRequest(r), req.RecipeUserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	render.JSON(w, r, CreatePrimaryUserResponse{
		User:              result.User,
		WasAlreadyPrimary: result.WasAlreadyPrimary,
	})
}

// LinkAccounts handles POST /link - link a cluster into a primary user
func (h *Handler) LinkAccounts(w http.ResponseWriter, r *http.Request) {
	var req LinkAccountsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if req.RecipeUserID == "" || req.PrimaryUserID == "" {
		h.badRequest(w, r, "recipeUserId and primaryUserId are required")
		return
	}

	result, err := h.service.LinkAccounts(r.Context(), tenant.AppFromRequest(r), req.RecipeUserID, req.PrimaryUserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	slog.Info("Accounts linked via API", "recipeUserId", req.RecipeUserID, "primaryUserId", req.PrimaryUserID,
		"alreadyLinked", result.AccountsAlreadyLinked)
	render.JSON(w, r, LinkAccountsResponse{
		User:                  result.User,
		AccountsAlreadyLinked: result.AccountsAlreadyLinked,
		NewEmails:             result.NewEmails,
		NewPhoneNumbers:       result.NewPhoneNumbers,
		NewThirdParties:       result.NewThirdParties,
	})
}

// UnlinkAccount handles POST /unlink - detach a login method from its cluster
func (h *Handler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	var req UnlinkAccountRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if req.RecipeUserID == "" {
		h.badRequest(w, r, "recipeUserId is required")
		return
	}

	result, err := h.service.UnlinkAccount(r.Context(), tenant.AppFromRequest(r), req.RecipeUserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := UnlinkAccountResponse{
		DetachedUser:        result.DetachedUser,
		HasRemaining:        result.HasRemaining,
		RemovedEmails:       result.RemovedEmails,
		RemovedPhoneNumbers: result.RemovedPhoneNumbers,
	}
	if result.HasRemaining {
		resp.RemainingUser = &result.RemainingUser
	}
	render.JSON(w, r, resp)
}

// ImportUsers handles POST /import - bulk import of staged users
func (h *Handler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	var req ImportUsersRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	defaultTenant := tenant.FromRequest(r)
	staged := make([]linking.StagedUser, 0, len(req.Users))
	for _, user := range req.Users {
		record := linking.StagedUser{
			Tenant: defaultTenant,
			Link:   user.Link,
		}
		for _, tenantID := range user.TenantIDs {
			record.Tenants = append(record.Tenants, defaultTenant.ToAppIdentifier().WithTenant(tenantID))
		}
		for _, method := range user.Methods {
			record.Methods = append(record.Methods, identity.LoginMethodDraft{
				RecipeID:    method.RecipeID,
				Email:       method.Email,
				PhoneNumber: method.PhoneNumber,
				ThirdParty:  method.ThirdParty,
				Verified:    method.Verified,
				TimeJoined:  method.TimeJoined,
			})
		}
		staged = append(staged, record)
	}

	results := h.service.ImportUsers(r.Context(), staged)
	resp := ImportUsersResponse{Results: make([]ImportResultResponse, 0, len(results))}
	for _, result := range results {
		converted := ImportResultResponse{User: result.User}
		for _, err := range result.Errors {
			converted.Errors = append(converted.Errors, err.Error())
		}
		resp.Results = append(resp.Results, converted)
	}
	slog.Info("Bulk import handled", "records", len(staged))
	render.JSON(w, r, resp)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Code: string(coreerrors.ErrCodeInvalidInput), Message: message})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	coded := classifyError(err)
	if coded.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.Error("Linking request failed", "error", err)
	}
	render.Status(r, coded.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{Code: string(coded.Code), Message: coded.Message})
}

// classifyError translates linking engine errors into the coded form the
// HTTP surface serializes
func classifyError(err error) *coreerrors.Error {
	var (
		alreadyLinked     linking.ErrRecipeUserIDAlreadyLinked
		alreadyAssociated linking.ErrAccountInfoAlreadyAssociated
		notPrimary        linking.ErrInputUserNotPrimary
		crossPool         linking.ErrCrossPoolLink
	)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return coreerrors.Wrap(err, coreerrors.ErrCodeUserNotFound, "user not found")
	case errors.As(err, &alreadyLinked):
		return coreerrors.Wrap(err, coreerrors.ErrCodeRecipeUserIDAlreadyLinked, alreadyLinked.Error())
	case errors.As(err, &alreadyAssociated):
		return coreerrors.Wrap(err, coreerrors.ErrCodeAccountInfoAlreadyAssociated, alreadyAssociated.Error())
	case errors.As(err, &notPrimary):
		return coreerrors.Wrap(err, coreerrors.ErrCodeInputUserNotPrimary, notPrimary.Error())
	case errors.As(err, &crossPool):
		return coreerrors.Wrap(err, coreerrors.ErrCodeStorageShardMismatch, crossPool.Error())
	case errors.Is(err, linking.ErrStorageContention):
		return coreerrors.Wrap(err, coreerrors.ErrCodeTransient, "storage contention, retry the request")
	default:
		return coreerrors.InternalWrap(err, "request failed")
	}
}
