package linking

import (
	"context"
	"errors"

	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
	"golang.org/x/exp/slog"
)

// transaction retry bound before surfacing ErrStorageContention
const maxTxRetries = 3

// PoolAsserter verifies storage-shard compatibility; *tenant.Registry
// satisfies it
type PoolAsserter interface {
	AssertSameUserPool(tenants []tenant.TenantIdentifier) error
}

// LinkingService is the account linking engine: a state machine over a
// cluster's primary flag and login method membership. It composes the
// identity repository's transactional primitives with the cross-pool check
// and the identifier conflict policy.
type LinkingService struct {
	repo   identity.Repository
	pools  PoolAsserter
	policy ConflictPolicy
}

// NewLinkingService creates a linking service with the strict conflict
// policy
func NewLinkingService(repo identity.Repository, pools PoolAsserter) *LinkingService {
	return &LinkingService{
		repo:   repo,
		pools:  pools,
		policy: StrictConflictPolicy,
	}
}

// WithConflictPolicy installs a custom conflict policy
func (s *LinkingService) WithConflictPolicy(policy ConflictPolicy) *LinkingService {
	s.policy = policy
	return s
}

// CreatePrimaryUserResult reports the outcome of a promotion
type CreatePrimaryUserResult struct {
	User              identity.User
	WasAlreadyPrimary bool
}

// LinkResult reports the outcome of a link, including the identifiers newly
// associated with the target cluster so the session/claims collaborator can
// recompute cached claims.
type LinkResult struct {
	User                  identity.User
	AccountsAlreadyLinked bool
	NewEmails             []string
	NewPhoneNumbers       []string
	NewThirdParties       []identity.ThirdParty
}

// UnlinkResult reports the outcome of an unlink
type UnlinkResult struct {
	// DetachedUser is the removed method as its own non-primary cluster
	DetachedUser identity.User
	// RemainingUser is the surviving cluster, if one remains
	RemainingUser identity.User
	HasRemaining  bool
	// RemovedEmails etc. list identifiers the remaining cluster no longer
	// carries
	RemovedEmails       []string
	RemovedPhoneNumbers []string
}

func withRetries[T any](fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		result, err := fn()
		if errors.Is(err, identity.ErrTransactionConflict) {
			slog.Info("Retrying linking transaction after conflict", "attempt", attempt+1)
			continue
		}
		return result, err
	}
	return zero, ErrStorageContention
}

// guard adapts the conflict policy to the repository's in-transaction probe.
// Running the probe inside the storage transaction keeps two concurrent
// promotions over a shared identifier from both passing it.
func (s *LinkingService) guard() identity.ConflictGuard {
	return identity.ConflictGuard(s.policy)
}

// CreatePrimaryUser promotes a single-method, non-primary cluster to
// primary. The cluster's id becomes the stable address future links attach
// to.
func (s *LinkingService) CreatePrimaryUser(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (CreatePrimaryUserResult, error) {
	app = app.Normalize()
	user, err := s.repo.GetUserByRecipeUserID(ctx, app, recipeUserID)
	if err != nil {
		return CreatePrimaryUserResult{}, err
	}
	if user.IsPrimaryUser {
		if user.ID == recipeUserID {
			return CreatePrimaryUserResult{User: user, WasAlreadyPrimary: true}, nil
		}
		return CreatePrimaryUserResult{}, ErrRecipeUserIDAlreadyLinked{RecipeUserID: recipeUserID, PrimaryUserID: user.ID}
	}

	promoted, err := withRetries(func() (identity.User, error) {
		return s.repo.MakePrimary(ctx, app, recipeUserID, s.guard())
	})
	if err != nil {
		var already identity.ErrAlreadyPrimary
		if errors.As(err, &already) {
			return CreatePrimaryUserResult{}, ErrRecipeUserIDAlreadyLinked{RecipeUserID: recipeUserID, PrimaryUserID: already.PrimaryUserID}
		}
		var conflict identity.ErrAccountInfoConflict
		if errors.As(err, &conflict) {
			return CreatePrimaryUserResult{}, ErrAccountInfoAlreadyAssociated{PrimaryUserID: conflict.PrimaryUserID}
		}
		return CreatePrimaryUserResult{}, err
	}
	slog.Info("Created primary user", "userId", promoted.ID)
	return CreatePrimaryUserResult{User: promoted}, nil
}

// LinkAccounts moves the login methods of the cluster owning
// recipeUserIDToLink into the primary cluster addressed by primaryUserID.
// The source cluster's address is absorbed; every method keeps its own
// recipeUserId and timeJoined. Preconditions are checked in order, first
// failure wins.
func (s *LinkingService) LinkAccounts(ctx context.Context, app tenant.AppIdentifier, recipeUserIDToLink, primaryUserID string) (LinkResult, error) {
	app = app.Normalize()

	target, err := s.repo.GetUserByRecipeUserID(ctx, app, primaryUserID)
	if err != nil {
		return LinkResult{}, err
	}
	if !target.IsPrimaryUser {
		return LinkResult{}, ErrInputUserNotPrimary{UserID: primaryUserID}
	}

	source, err := s.repo.GetUserByRecipeUserID(ctx, app, recipeUserIDToLink)
	if err != nil {
		return LinkResult{}, err
	}
	if source.ID == target.ID {
		return LinkResult{User: target, AccountsAlreadyLinked: true}, nil
	}
	if source.IsPrimaryUser && len(source.LoginMethods) > 1 {
		return LinkResult{}, ErrRecipeUserIDAlreadyLinked{RecipeUserID: recipeUserIDToLink, PrimaryUserID: source.ID}
	}

	// all tenants of both clusters must share one user pool
	union := append(source.TenantIdentifiers(app), target.TenantIdentifiers(app)...)
	if err := s.pools.AssertSameUserPool(union); err != nil {
		return LinkResult{}, ErrCrossPoolLink{Cause: err}
	}

	linked, err := withRetries(func() (identity.User, error) {
		return s.repo.LinkClusters(ctx, app, source.ID, target.ID, s.guard())
	})
	if err != nil {
		var notPrimary identity.ErrNotPrimary
		if errors.As(err, &notPrimary) {
			return LinkResult{}, ErrInputUserNotPrimary{UserID: notPrimary.UserID}
		}
		var multi identity.ErrSourceHasMultipleMethods
		if errors.As(err, &multi) {
			return LinkResult{}, ErrRecipeUserIDAlreadyLinked{RecipeUserID: recipeUserIDToLink, PrimaryUserID: multi.UserID}
		}
		var conflict identity.ErrAccountInfoConflict
		if errors.As(err, &conflict) {
			return LinkResult{}, ErrAccountInfoAlreadyAssociated{PrimaryUserID: conflict.PrimaryUserID}
		}
		return LinkResult{}, err
	}

	result := LinkResult{User: linked}
	result.NewEmails = diffStrings(linked.Emails(), target.Emails())
	result.NewPhoneNumbers = diffStrings(linked.PhoneNumbers(), target.PhoneNumbers())
	result.NewThirdParties = diffThirdParties(linked.ThirdParties(), target.ThirdParties())
	slog.Info("Linked accounts", "primaryUserId", linked.ID, "recipeUserId", recipeUserIDToLink,
		"newEmails", len(result.NewEmails))
	return result, nil
}

// UnlinkAccount removes one login method from its cluster. The method
// becomes its own non-primary cluster again; if it was the cluster's
// address, the successor rule picks a new one.
func (s *LinkingService) UnlinkAccount(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (UnlinkResult, error) {
	app = app.Normalize()

	before, err := s.repo.GetUserByRecipeUserID(ctx, app, recipeUserID)
	if err != nil {
		return UnlinkResult{}, err
	}

	outcome, err := withRetries(func() (identity.UnlinkOutcome, error) {
		return s.repo.UnlinkMethod(ctx, app, recipeUserID)
	})
	if err != nil {
		return UnlinkResult{}, err
	}

	result := UnlinkResult{
		DetachedUser:  outcome.DetachedUser,
		RemainingUser: outcome.RemainingUser,
		HasRemaining:  outcome.HasRemaining,
	}
	if outcome.HasRemaining {
		result.RemovedEmails = diffStrings(before.Emails(), outcome.RemainingUser.Emails())
		result.RemovedPhoneNumbers = diffStrings(before.PhoneNumbers(), outcome.RemainingUser.PhoneNumbers())
	}
	slog.Info("Unlinked account", "recipeUserId", recipeUserID, "hasRemaining", outcome.HasRemaining)
	return result, nil
}

func diffStrings(after, before []string) []string {
	seen := make(map[string]bool, len(before))
	for _, s := range before {
		seen[s] = true
	}
	var diff []string
	for _, s := range after {
		if !seen[s] {
			diff = append(diff, s)
		}
	}
	return diff
}

func diffThirdParties(after, before []identity.ThirdParty) []identity.ThirdParty {
	seen := make(map[identity.ThirdParty]bool, len(before))
	for _, tp := range before {
		seen[tp] = true
	}
	var diff []identity.ThirdParty
	for _, tp := range after {
		if !seen[tp] {
			diff = append(diff, tp)
		}
	}
	return diff
}
