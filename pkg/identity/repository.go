package identity

import (
	"context"

	"github.com/uniauth/identity-core/pkg/tenant"
)

// Watermark is the resume point of a paginated listing: the ordering key of
// the last row the previous page returned.
type Watermark struct {
	TimeJoined   int64
	RecipeUserID string
}

// SearchFilter restricts a listing to clusters matching identifier
// substrings. Within one field the terms are OR'd; across fields the filters
// are AND'd. An empty slice means no filter on that field.
type SearchFilter struct {
	Emails    []string
	Phones    []string
	Providers []string
}

// IsEmpty reports whether no field carries a filter
func (f SearchFilter) IsEmpty() bool {
	return len(f.Emails) == 0 && len(f.Phones) == 0 && len(f.Providers) == 0
}

// ListParams describes one page fetch. When TenantID is empty the listing
// spans every tenant sharing the resolved pool, deduplicated per cluster.
type ListParams struct {
	Tenant     tenant.TenantIdentifier
	AllTenants bool
	Limit      int
	Ascending  bool
	Watermark  *Watermark
	Recipes    []RecipeID
	Search     SearchFilter
}

// CountParams describes a filtered count; same filters as ListParams without
// pagination
type CountParams struct {
	Tenant     tenant.TenantIdentifier
	AllTenants bool
	Recipes    []RecipeID
	Search     SearchFilter
}

// UnlinkOutcome reports the result of detaching a login method from its
// cluster
type UnlinkOutcome struct {
	// DetachedUser is the removed method as its own single-method cluster
	DetachedUser User
	// RemainingUser is the cluster after removal; zero when the detached
	// method was the cluster's only member
	RemainingUser User
	// HasRemaining is false when the cluster ceased to exist
	HasRemaining bool
	// WasClusterID is true when the detached method was the cluster's
	// address and a successor id was chosen
	WasClusterID bool
}

// ConflictGuard is consulted inside the storage transaction of MakePrimary
// and LinkClusters, once per other primary cluster claiming one of the
// candidate methods' identifiers. Returning false aborts the mutation with
// ErrAccountInfoConflict. A nil guard skips the probe.
type ConflictGuard func(candidate LoginMethod, claimant User) bool

// RemoveOutcome reports the result of deleting a single login method
type RemoveOutcome struct {
	Existed bool
	// RemainingUser is the surviving cluster, if any methods remain
	RemainingUser User
	HasRemaining  bool
}

// DeleteOutcome reports the result of deleting a whole cluster
type DeleteOutcome struct {
	Existed bool
	// RecipeUserIDs lists every member method id, for cascade by the caller
	RecipeUserIDs []string
}

// Repository is the full storage contract of the identity data model. Each
// implementation is scoped to one user pool; Router multiplexes pools behind
// the same interface.
//
// The compound mutations (MakePrimary, LinkClusters, UnlinkMethod,
// RemoveLoginMethod, DeleteCluster) must each execute as one storage
// transaction with at least repeatable-read isolation, locking the touched
// identifier rows in canonical recipeUserId order. They re-validate the
// structural preconditions inside the transaction and return the typed
// errors of this package. The identifier-conflict probe also runs inside the
// transaction, through the caller's ConflictGuard, so concurrent promotions
// over a shared identifier cannot both pass it; only the cross-pool check
// belongs to the linking engine.
type Repository interface {
	// CreateLoginMethod allocates a fresh recipeUserId and creates a new
	// non-primary single-method cluster usable in the given tenant
	CreateLoginMethod(ctx context.Context, t tenant.TenantIdentifier, draft LoginMethodDraft) (LoginMethod, error)

	// GetUserByRecipeUserID returns the cluster owning the given id, whether
	// as its address or as a member method
	GetUserByRecipeUserID(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (User, error)

	// GetUserByAccountInfo is the recipe-specific uniqueness probe backing
	// per-recipe sign-in/sign-up idempotence. The probe switches on the
	// recipe tag: emailpassword and passwordless match email/phone,
	// thirdparty matches the provider pair.
	GetUserByAccountInfo(ctx context.Context, t tenant.TenantIdentifier, recipe RecipeID, info AccountInfo) (User, error)

	// ListPrimaryUsersByAccountInfo returns every primary cluster claiming
	// any of the given identifiers anywhere in the app. Used by the linking
	// engine's conflict probe.
	ListPrimaryUsersByAccountInfo(ctx context.Context, app tenant.AppIdentifier, info AccountInfo) ([]User, error)

	// DoesUserIDExist reports whether any cluster owns the id
	DoesUserIDExist(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error)

	// MakePrimary promotes a single-method non-primary cluster, running the
	// guard against every other primary cluster claiming its identifiers
	MakePrimary(ctx context.Context, app tenant.AppIdentifier, recipeUserID string, guard ConflictGuard) (User, error)

	// LinkClusters atomically re-parents every method of the source cluster
	// into the target primary cluster, demoting the source. Methods keep
	// their own recipeUserId and timeJoined. Never delete-then-insert: the
	// identifiers must at no point be owned by neither cluster. The guard
	// runs against primary clusters other than source and target claiming
	// the source's identifiers.
	LinkClusters(ctx context.Context, app tenant.AppIdentifier, sourceClusterID, targetPrimaryID string, guard ConflictGuard) (User, error)

	// UnlinkMethod detaches one method from its cluster; the method becomes
	// its own non-primary single-method cluster again. When it was the
	// cluster's address, the successor is the remaining method with the
	// earliest timeJoined, ties broken by smallest recipeUserId.
	UnlinkMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (UnlinkOutcome, error)

	// RemoveLoginMethod deletes a single method outright, applying the same
	// successor semantics to the surviving cluster. Idempotent.
	RemoveLoginMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (RemoveOutcome, error)

	// DeleteCluster deletes the cluster addressed by the id together with
	// all member methods. Idempotent.
	DeleteCluster(ctx context.Context, app tenant.AppIdentifier, clusterID string) (DeleteOutcome, error)

	// ListUsers fetches one ordered page of clusters. Ordering is
	// (timeJoined, clusterId) in the requested direction; the watermark row
	// itself is excluded.
	ListUsers(ctx context.Context, params ListParams) ([]User, error)

	// CountUsers counts clusters under the same filters without
	// materializing rows
	CountUsers(ctx context.Context, params CountParams) (int64, error)
}
