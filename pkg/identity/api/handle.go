package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"
	"github.com/uniauth/identity-core/pkg/cascade"
	coreerrors "github.com/uniauth/identity-core/pkg/errors"
	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/idmapping"
	"github.com/uniauth/identity-core/pkg/pagination"
	"github.com/uniauth/identity-core/pkg/tenant"
)

// Handler handles HTTP requests for the user admin surface
type Handler struct {
	repo     identity.Repository
	pages    *pagination.PaginationService
	deleter  *cascade.CascadeService
	mappings *idmapping.MappingService
}

// NewHandler creates a new user admin handler
func NewHandler(repo identity.Repository, pages *pagination.PaginationService, deleter *cascade.CascadeService, mappings *idmapping.MappingService) *Handler {
	return &Handler{
		repo:     repo,
		pages:    pages,
		deleter:  deleter,
		mappings: mappings,
	}
}

// RegisterRoutes registers the user admin routes
// These routes should be mounted under an authenticated admin route group
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListUsers)
	r.Get("/count", h.CountUsers)
	r.Get("/{userId}", h.GetUser)
	r.Delete("/{userId}", h.DeleteUser)
}

// ListUsers handles GET / - one page of users in the requesting tenant
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := pagination.ListRequest{
		Tenant:          tenant.FromRequest(r),
		AllTenants:      q.Get("includeAllTenants") == "true",
		Limit:           parseInt(q.Get("limit")),
		Ascending:       strings.EqualFold(q.Get("order"), "ASC"),
		PaginationToken: q.Get("paginationToken"),
		SearchTags: pagination.SearchTags{
			Email:    q.Get("email"),
			Phone:    q.Get("phone"),
			Provider: q.Get("provider"),
		},
	}
	for _, recipe := range strings.Split(q.Get("includeRecipeIds"), ",") {
		if recipe = strings.TrimSpace(recipe); recipe != "" {
			req.IncludeRecipeIDs = append(req.IncludeRecipeIDs, identity.RecipeID(recipe))
		}
	}

	page, err := h.pages.ListUsers(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := ListUsersResponse{
		Users:               make([]UserResponse, 0, len(page.Users)),
		NextPaginationToken: page.NextPaginationToken,
	}
	for _, u := range page.Users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	render.JSON(w, r, resp)
}

// CountUsers handles GET /count - filtered user count without rows
func (h *Handler) CountUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := pagination.CountRequest{
		Tenant:     tenant.FromRequest(r),
		AllTenants: q.Get("includeAllTenants") == "true",
		SearchTags: pagination.SearchTags{
			Email:    q.Get("email"),
			Phone:    q.Get("phone"),
			Provider: q.Get("provider"),
		},
	}
	for _, recipe := range strings.Split(q.Get("includeRecipeIds"), ",") {
		if recipe = strings.TrimSpace(recipe); recipe != "" {
			req.IncludeRecipeIDs = append(req.IncludeRecipeIDs, identity.RecipeID(recipe))
		}
	}

	count, err := h.pages.CountUsers(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, CountUsersResponse{Count: count})
}

// GetUser handles GET /{userId} - lookup by internal or external id
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	app := tenant.AppFromRequest(r)
	userID := chi.URLParam(r, "userId")

	internalID, _, err := h.mappings.Resolve(r.Context(), app, userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.repo.GetUserByRecipeUserID(r.Context(), app, internalID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err = h.mappings.ExternalizeUser(r.Context(), app, user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, toUserResponse(user))
}

// DeleteUser handles DELETE /{userId} - full or single-method deletion
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	app := tenant.AppFromRequest(r)
	userID := chi.URLParam(r, "userId")
	removeAll := r.URL.Query().Get("removeAllLinkedAccounts") != "false"

	result, err := h.deleter.DeleteUser(r.Context(), app, userID, removeAll)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	slog.Info("User deletion handled", "userId", userID, "existed", result.Existed, "removeAllLinkedAccounts", removeAll)
	render.JSON(w, r, DeleteUserResponse{
		Existed:              result.Existed,
		DeletedRecipeUserIDs: result.DeletedRecipeUserIDs,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	coded := classifyError(err)
	if coded.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.Error("User admin request failed", "error", err)
	}
	render.Status(r, coded.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{Code: string(coded.Code), Message: coded.Message})
}

// classifyError translates domain errors into the coded form the HTTP
// surface serializes
func classifyError(err error) *coreerrors.Error {
	var (
		tenantNotFound tenant.ErrTenantOrAppNotFound
		limitTooLarge  pagination.ErrLimitTooLarge
		unknownRecipe  pagination.ErrUnknownRecipeID
	)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return coreerrors.Wrap(err, coreerrors.ErrCodeUserNotFound, "user not found")
	case errors.Is(err, identity.ErrLoginMethodNotFound):
		return coreerrors.Wrap(err, coreerrors.ErrCodeLoginMethodNotFound, "login method not found")
	case errors.Is(err, pagination.ErrInvalidPaginationToken):
		return coreerrors.Wrap(err, coreerrors.ErrCodeInvalidPaginationToken, "invalid pagination token")
	case errors.As(err, &limitTooLarge):
		return coreerrors.Wrap(err, coreerrors.ErrCodeLimitTooLarge, limitTooLarge.Error())
	case errors.As(err, &unknownRecipe):
		return coreerrors.Wrap(err, coreerrors.ErrCodeUnknownRecipeID, unknownRecipe.Error())
	case errors.As(err, &tenantNotFound):
		return coreerrors.Wrap(err, coreerrors.ErrCodeTenantOrAppNotFound, tenantNotFound.Error())
	case errors.Is(err, identity.ErrTransactionConflict):
		return coreerrors.Wrap(err, coreerrors.ErrCodeTransient, "storage contention, retry the request")
	default:
		return coreerrors.InternalWrap(err, "request failed")
	}
}

func toUserResponse(user identity.User) UserResponse {
	var resp UserResponse
	if err := copier.Copy(&resp, &user); err != nil {
		slog.Error("Failed to convert user response", "error", err)
	}
	resp.Emails = user.Emails()
	resp.PhoneNumbers = user.PhoneNumbers()
	for _, tp := range user.ThirdParties() {
		resp.ThirdParties = append(resp.ThirdParties, ThirdPartyResponse{ID: tp.ID, UserID: tp.UserID})
	}
	return resp
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
