package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/uniauth/identity-core/pkg/tenant"
)

// PoolResolver resolves tenant tuples to user pools. *tenant.Registry
// satisfies it.
type PoolResolver interface {
	ResolveStorage(t tenant.TenantIdentifier) (tenant.PoolID, error)
	PoolsForApp(app tenant.AppIdentifier) []tenant.PoolID
}

// Router implements Repository across multiple user pools. Tenant-scoped
// calls resolve the pool through the topology snapshot; app-scoped calls fan
// out over the app's pools, first match wins. Both clusters of a link always
// live in one pool (the engine asserts that before calling), so compound
// mutations never span pools.
type Router struct {
	resolver PoolResolver
	pools    map[tenant.PoolID]Repository
}

// NewRouter creates a router over the given pool repositories
func NewRouter(resolver PoolResolver, pools map[tenant.PoolID]Repository) *Router {
	return &Router{resolver: resolver, pools: pools}
}

func (r *Router) forTenant(t tenant.TenantIdentifier) (Repository, error) {
	pool, err := r.resolver.ResolveStorage(t)
	if err != nil {
		return nil, err
	}
	repo, ok := r.pools[pool]
	if !ok {
		return nil, fmt.Errorf("no repository registered for pool %s", pool)
	}
	return repo, nil
}

func (r *Router) appRepos(app tenant.AppIdentifier) ([]Repository, error) {
	pools := r.resolver.PoolsForApp(app)
	if len(pools) == 0 {
		return nil, tenant.ErrTenantOrAppNotFound{Tenant: app.WithTenant("")}
	}
	repos := make([]Repository, 0, len(pools))
	for _, pool := range pools {
		repo, ok := r.pools[pool]
		if !ok {
			return nil, fmt.Errorf("no repository registered for pool %s", pool)
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// appRepoOwning finds the pool repository owning the given user id
func (r *Router) appRepoOwning(ctx context.Context, app tenant.AppIdentifier, userID string) (Repository, error) {
	repos, err := r.appRepos(app)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		exists, err := repo.DoesUserIDExist(ctx, app, userID)
		if err != nil {
			return nil, err
		}
		if exists {
			return repo, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *Router) CreateLoginMethod(ctx context.Context, t tenant.TenantIdentifier, draft LoginMethodDraft) (LoginMethod, error) {
	repo, err := r.forTenant(t)
	if err != nil {
		return LoginMethod{}, err
	}
	return repo.CreateLoginMethod(ctx, t, draft)
}

func (r *Router) GetUserByRecipeUserID(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (User, error) {
	repo, err := r.appRepoOwning(ctx, app, recipeUserID)
	if err != nil {
		return User{}, err
	}
	return repo.GetUserByRecipeUserID(ctx, app, recipeUserID)
}

func (r *Router) GetUserByAccountInfo(ctx context.Context, t tenant.TenantIdentifier, recipe RecipeID, info AccountInfo) (User, error) {
	repo, err := r.forTenant(t)
	if err != nil {
		return User{}, err
	}
	return repo.GetUserByAccountInfo(ctx, t, recipe, info)
}

func (r *Router) ListPrimaryUsersByAccountInfo(ctx context.Context, app tenant.AppIdentifier, info AccountInfo) ([]User, error) {
	repos, err := r.appRepos(app)
	if err != nil {
		return nil, err
	}
	var users []User
	for _, repo := range repos {
		found, err := repo.ListPrimaryUsersByAccountInfo(ctx, app, info)
		if err != nil {
			return nil, err
		}
		users = append(users, found...)
	}
	return users, nil
}

func (r *Router) DoesUserIDExist(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	repos, err := r.appRepos(app)
	if err != nil {
		return false, err
	}
	for _, repo := range repos {
		exists, err := repo.DoesUserIDExist(ctx, app, userID)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (r *Router) MakePrimary(ctx context.Context, app tenant.AppIdentifier, recipeUserID string, guard ConflictGuard) (User, error) {
	repo, err := r.appRepoOwning(ctx, app, recipeUserID)
	if err != nil {
		return User{}, err
	}
	return repo.MakePrimary(ctx, app, recipeUserID, guard)
}

func (r *Router) LinkClusters(ctx context.Context, app tenant.AppIdentifier, sourceClusterID, targetPrimaryID string, guard ConflictGuard) (User, error) {
	repo, err := r.appRepoOwning(ctx, app, targetPrimaryID)
	if err != nil {
		return User{}, err
	}
	return repo.LinkClusters(ctx, app, sourceClusterID, targetPrimaryID, guard)
}

func (r *Router) UnlinkMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (UnlinkOutcome, error) {
	repo, err := r.appRepoOwning(ctx, app, recipeUserID)
	if err != nil {
		return UnlinkOutcome{}, err
	}
	return repo.UnlinkMethod(ctx, app, recipeUserID)
}

func (r *Router) RemoveLoginMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (RemoveOutcome, error) {
	repo, err := r.appRepoOwning(ctx, app, recipeUserID)
	if errors.Is(err, ErrUserNotFound) {
		return RemoveOutcome{Existed: false}, nil
	}
	if err != nil {
		return RemoveOutcome{}, err
	}
	return repo.RemoveLoginMethod(ctx, app, recipeUserID)
}

func (r *Router) DeleteCluster(ctx context.Context, app tenant.AppIdentifier, clusterID string) (DeleteOutcome, error) {
	repo, err := r.appRepoOwning(ctx, app, clusterID)
	if errors.Is(err, ErrUserNotFound) {
		return DeleteOutcome{Existed: false}, nil
	}
	if err != nil {
		return DeleteOutcome{}, err
	}
	return repo.DeleteCluster(ctx, app, clusterID)
}

func (r *Router) ListUsers(ctx context.Context, params ListParams) ([]User, error) {
	repo, err := r.forTenant(params.Tenant)
	if err != nil {
		return nil, err
	}
	return repo.ListUsers(ctx, params)
}

func (r *Router) CountUsers(ctx context.Context, params CountParams) (int64, error) {
	repo, err := r.forTenant(params.Tenant)
	if err != nil {
		return 0, err
	}
	return repo.CountUsers(ctx, params)
}
