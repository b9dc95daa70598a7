package pagination

import (
	"context"

	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
)

const (
	// DefaultLimit is the page size used when the caller passes none
	DefaultLimit = 100
	// MaxLimit caps the page size a single request may ask for
	MaxLimit = 500
)

// UserExternalizer rewrites internal cluster ids to their mapped external
// form before serialization; satisfied by idmapping.MappingService
type UserExternalizer interface {
	ExternalizeUser(ctx context.Context, app tenant.AppIdentifier, user identity.User) (identity.User, error)
}

// PaginationService enumerates and counts users with cursor-based paging
type PaginationService struct {
	repo         identity.Repository
	externalizer UserExternalizer
}

// NewPaginationService creates a new pagination service
func NewPaginationService(repo identity.Repository) *PaginationService {
	return &PaginationService{repo: repo}
}

// WithExternalizer translates every returned cluster id through the user id
// mapping overlay
func (s *PaginationService) WithExternalizer(e UserExternalizer) *PaginationService {
	s.externalizer = e
	return s
}

// ListRequest describes one listUsers call
type ListRequest struct {
	Tenant tenant.TenantIdentifier
	// AllTenants expands the listing to every tenant sharing the app's user
	// pool instead of the requesting tenant only
	AllTenants bool
	// Limit defaults to DefaultLimit when zero
	Limit     int
	Ascending bool
	// PaginationToken resumes from a previous page's NextPaginationToken
	PaginationToken  string
	IncludeRecipeIDs []identity.RecipeID
	SearchTags       SearchTags
}

// ListResponse is one page of users plus the cursor for the next one
type ListResponse struct {
	Users []identity.User
	// NextPaginationToken is empty when this page exhausted the listing
	NextPaginationToken string
}

// ListUsers returns one ordered page of user clusters.
//
// Ordering is (timeJoined, clusterId) in the requested direction; the
// tie-break guarantees a total order, so resuming from the token never
// re-emits or skips a row even when many users share one timeJoined. The
// page is fetched with one extra row to decide whether a next token is due;
// the token carries the watermark of the last returned row.
func (s *PaginationService) ListUsers(ctx context.Context, req ListRequest) (ListResponse, error) {
	limit, err := normalizeLimit(req.Limit)
	if err != nil {
		return ListResponse{}, err
	}
	recipes, err := validateRecipes(req.IncludeRecipeIDs)
	if err != nil {
		return ListResponse{}, err
	}

	params := identity.ListParams{
		Tenant:     req.Tenant.Normalize(),
		AllTenants: req.AllTenants,
		Limit:      limit + 1,
		Ascending:  req.Ascending,
		Recipes:    recipes,
		Search:     req.SearchTags.Filter(),
	}
	if req.PaginationToken != "" {
		token, err := DecodeToken(req.PaginationToken)
		if err != nil {
			return ListResponse{}, err
		}
		if token.Ascending != req.Ascending {
			return ListResponse{}, ErrInvalidPaginationToken
		}
		params.Watermark = &token.Watermark
	}

	users, err := s.repo.ListUsers(ctx, params)
	if err != nil {
		return ListResponse{}, err
	}

	resp := ListResponse{Users: users}
	if len(users) > limit {
		resp.Users = users[:limit]
		last := resp.Users[limit-1]
		resp.NextPaginationToken = Token{
			Ascending: req.Ascending,
			Watermark: identity.Watermark{TimeJoined: last.TimeJoined, RecipeUserID: last.ID},
		}.Encode()
	}

	if s.externalizer != nil {
		app := req.Tenant.Normalize().ToAppIdentifier()
		for i, u := range resp.Users {
			translated, err := s.externalizer.ExternalizeUser(ctx, app, u)
			if err != nil {
				return ListResponse{}, err
			}
			resp.Users[i] = translated
		}
	}
	return resp, nil
}

// CountRequest describes one getUsersCount call; same filters as listing
// without pagination
type CountRequest struct {
	Tenant           tenant.TenantIdentifier
	AllTenants       bool
	IncludeRecipeIDs []identity.RecipeID
	SearchTags       SearchTags
}

// CountUsers counts clusters under the given filters without materializing
// rows
func (s *PaginationService) CountUsers(ctx context.Context, req CountRequest) (int64, error) {
	recipes, err := validateRecipes(req.IncludeRecipeIDs)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUsers(ctx, identity.CountParams{
		Tenant:     req.Tenant.Normalize(),
		AllTenants: req.AllTenants,
		Recipes:    recipes,
		Search:     req.SearchTags.Filter(),
	})
}

func normalizeLimit(limit int) (int, error) {
	if limit <= 0 {
		return DefaultLimit, nil
	}
	if limit > MaxLimit {
		return 0, ErrLimitTooLarge{Limit: limit}
	}
	return limit, nil
}

func validateRecipes(recipes []identity.RecipeID) ([]identity.RecipeID, error) {
	for _, r := range recipes {
		if !r.IsValid() {
			return nil, ErrUnknownRecipeID{RecipeID: string(r)}
		}
	}
	return recipes, nil
}
