package linking

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
)

func newTestService(t *testing.T) (*LinkingService, *identity.InMemoryIdentityRepository) {
	t.Helper()
	repo := identity.NewInMemoryIdentityRepository()
	registry := tenant.NewRegistry(tenant.SinglePoolTopology("pool1"))
	return NewLinkingService(repo, registry), repo
}

func createUser(t *testing.T, repo identity.Repository, tn tenant.TenantIdentifier, draft identity.LoginMethodDraft) identity.LoginMethod {
	t.Helper()
	method, err := repo.CreateLoginMethod(context.Background(), tn, draft)
	require.NoError(t, err)
	return method
}

func TestCreatePrimaryUser(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})

	result, err := svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, result.User.IsPrimaryUser)
	assert.False(t, result.WasAlreadyPrimary)

	// promoting again is idempotent
	result, err = svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, result.WasAlreadyPrimary)

	_, err = svc.CreatePrimaryUser(ctx, app, "missing")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestCreatePrimaryUserOnLinkedMember(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})
	b := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "b@x.com", TimeJoined: 200})

	_, err := svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	_, err = svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	require.NoError(t, err)

	_, err = svc.CreatePrimaryUser(ctx, app, b.RecipeUserID)
	var linked ErrRecipeUserIDAlreadyLinked
	require.ErrorAs(t, err, &linked)
	assert.Equal(t, b.RecipeUserID, linked.RecipeUserID)
	assert.Equal(t, a.RecipeUserID, linked.PrimaryUserID)
}

// Two sign-ups with the same email under different recipes stay separate
// identities until explicitly linked; afterwards the cluster answers to the
// earlier user's address and timeJoined.
func TestLinkAccountsSameEmailDifferentRecipes(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})
	b := createUser(t, repo, tn, identity.LoginMethodDraft{
		RecipeID:   identity.RecipeThirdParty,
		Email:      "a@x.com",
		ThirdParty: &identity.ThirdParty{ID: "google", UserID: "g-1"},
		TimeJoined: 200,
	})

	_, err := svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)

	result, err := svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	require.NoError(t, err)
	assert.Equal(t, a.RecipeUserID, result.User.ID)
	assert.Equal(t, int64(100), result.User.TimeJoined)
	assert.Len(t, result.User.LoginMethods, 2)

	// the email was already present on the target; only the provider is new
	assert.Empty(t, result.NewEmails)
	assert.Equal(t, []identity.ThirdParty{{ID: "google", UserID: "g-1"}}, result.NewThirdParties)

	// linking again reports the accounts as already linked
	result, err = svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, result.AccountsAlreadyLinked)
}

func TestLinkAccountsTargetNotPrimary(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})
	b := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "b@x.com", TimeJoined: 200})

	_, err := svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	var notPrimary ErrInputUserNotPrimary
	require.ErrorAs(t, err, &notPrimary)
	assert.Equal(t, a.RecipeUserID, notPrimary.UserID)
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})
	b := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "b@x.com", TimeJoined: 200})

	_, err := svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	_, err = svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	require.NoError(t, err)

	result, err := svc.UnlinkAccount(ctx, app, b.RecipeUserID)
	require.NoError(t, err)

	// the detached method is addressable again under its original id, as a
	// non-primary single-method cluster
	assert.Equal(t, b.RecipeUserID, result.DetachedUser.ID)
	assert.False(t, result.DetachedUser.IsPrimaryUser)
	require.Len(t, result.DetachedUser.LoginMethods, 1)
	assert.Equal(t, int64(200), result.DetachedUser.TimeJoined)

	require.True(t, result.HasRemaining)
	assert.Equal(t, a.RecipeUserID, result.RemainingUser.ID)
	assert.Equal(t, []string{"b@x.com"}, result.RemovedEmails)

	// linking again restores the original cluster
	linked, err := svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	require.NoError(t, err)
	assert.Equal(t, a.RecipeUserID, linked.User.ID)
	assert.Len(t, linked.User.LoginMethods, 2)
}

func TestLinkAccountsCrossPool(t *testing.T) {
	ctx := context.Background()
	repo := identity.NewInMemoryIdentityRepository()
	registry := tenant.NewRegistry(tenant.NewTopology(map[tenant.TenantIdentifier]tenant.PoolID{
		{}:               "pool1",
		{TenantID: "t2"}: "pool2",
	}))
	svc := NewLinkingService(repo, registry)

	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100})
	b := createUser(t, repo, tenant.TenantIdentifier{TenantID: "t2"}, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "b@x.com", TimeJoined: 200})

	_, err := svc.CreatePrimaryUser(ctx, app, a.RecipeUserID)
	require.NoError(t, err)

	_, err = svc.LinkAccounts(ctx, app, b.RecipeUserID, a.RecipeUserID)
	var crossPool ErrCrossPoolLink
	require.ErrorAs(t, err, &crossPool)

	var mismatch tenant.ErrStorageShardMismatch
	assert.ErrorAs(t, err, &mismatch, "the shard mismatch cause is preserved")
}

func TestConflictPolicyStrict(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	claimant := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "shared@x.com", TimeJoined: 100})
	_, err := svc.CreatePrimaryUser(ctx, app, claimant.RecipeUserID)
	require.NoError(t, err)

	candidate := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeThirdParty, Email: "shared@x.com", ThirdParty: &identity.ThirdParty{ID: "google", UserID: "g-1"}, TimeJoined: 200})

	// strict policy blocks regardless of verification state
	_, err = svc.CreatePrimaryUser(ctx, app, candidate.RecipeUserID)
	var associated ErrAccountInfoAlreadyAssociated
	require.ErrorAs(t, err, &associated)
	assert.Equal(t, claimant.RecipeUserID, associated.PrimaryUserID)
}

// The conflict probe runs inside the storage mutation, so two promotions
// racing over a shared email can never both see a clear probe: exactly one
// wins, the other gets the conflict error.
func TestCreatePrimaryUserConcurrentSharedEmail(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "shared@x.com", TimeJoined: 100})
	b := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeThirdParty, Email: "shared@x.com", ThirdParty: &identity.ThirdParty{ID: "google", UserID: "g-1"}, TimeJoined: 200})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.RecipeUserID, b.RecipeUserID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.CreatePrimaryUser(ctx, app, id)
		}(i, id)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var associated ErrAccountInfoAlreadyAssociated
		require.ErrorAs(t, err, &associated)
		losers++
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	ua, err := repo.GetUserByRecipeUserID(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	ub, err := repo.GetUserByRecipeUserID(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.False(t, ua.IsPrimaryUser && ub.IsPrimaryUser, "only one cluster may claim shared@x.com")
}

func TestConflictPolicyVerifiedOnly(t *testing.T) {
	ctx := context.Background()
	repo := identity.NewInMemoryIdentityRepository()
	registry := tenant.NewRegistry(tenant.SinglePoolTopology("pool1"))
	svc := NewLinkingService(repo, registry).WithConflictPolicy(VerifiedOnlyConflictPolicy)

	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	// the claimant holds the shared email unverified: it does not reserve
	// the identifier under this policy
	claimant := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "shared@x.com", Verified: false, TimeJoined: 100})
	_, err := svc.CreatePrimaryUser(ctx, app, claimant.RecipeUserID)
	require.NoError(t, err)

	candidate := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeThirdParty, Email: "shared@x.com", ThirdParty: &identity.ThirdParty{ID: "google", UserID: "g-1"}, TimeJoined: 200})
	_, err = svc.CreatePrimaryUser(ctx, app, candidate.RecipeUserID)
	require.NoError(t, err)

	// a verified claim still blocks
	verified := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: "locked@x.com", Verified: true, TimeJoined: 300})
	_, err = svc.CreatePrimaryUser(ctx, app, verified.RecipeUserID)
	require.NoError(t, err)

	blocked := createUser(t, repo, tn, identity.LoginMethodDraft{RecipeID: identity.RecipePasswordless, Email: "locked@x.com", TimeJoined: 400})
	_, err = svc.CreatePrimaryUser(ctx, app, blocked.RecipeUserID)
	var associated ErrAccountInfoAlreadyAssociated
	require.ErrorAs(t, err, &associated)
}

func TestImportUsers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tn := tenant.TenantIdentifier{}

	results := svc.ImportUsers(ctx, []StagedUser{
		{
			Tenant: tn,
			Link:   true,
			Methods: []identity.LoginMethodDraft{
				{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com", TimeJoined: 100},
				{RecipeID: identity.RecipeThirdParty, Email: "a@x.com", ThirdParty: &identity.ThirdParty{ID: "google", UserID: "g-1"}, TimeJoined: 200},
			},
		},
		{
			Tenant:  tn,
			Methods: []identity.LoginMethodDraft{{RecipeID: "magiclink", Email: "bad@x.com"}},
		},
		{
			Tenant: tn,
		},
	})
	require.Len(t, results, 3)

	// first record imported and linked as one identity
	assert.Empty(t, results[0].Errors)
	assert.True(t, results[0].User.IsPrimaryUser)
	assert.Len(t, results[0].User.LoginMethods, 2)

	// a bad record collects its errors without aborting the batch
	require.Len(t, results[1].Errors, 1)
	var invalid identity.ErrInvalidDraft
	assert.ErrorAs(t, results[1].Errors[0], &invalid)

	require.Len(t, results[2].Errors, 1)
	assert.ErrorAs(t, results[2].Errors[0], &invalid)
}

func TestImportSingleMethodLinked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tn := tenant.TenantIdentifier{}

	// Link applies to sole-method records too: the imported identity is
	// promoted so later sign-ups can link onto its address
	results := svc.ImportUsers(ctx, []StagedUser{
		{
			Tenant:  tn,
			Link:    true,
			Methods: []identity.LoginMethodDraft{{RecipeID: identity.RecipeEmailPassword, Email: "solo@x.com", TimeJoined: 100}},
		},
	})
	require.Len(t, results, 1)
	require.Empty(t, results[0].Errors)
	assert.True(t, results[0].User.IsPrimaryUser)
	require.Len(t, results[0].User.LoginMethods, 1)
}

func TestValidateStagedUserCrossPool(t *testing.T) {
	repo := identity.NewInMemoryIdentityRepository()
	registry := tenant.NewRegistry(tenant.NewTopology(map[tenant.TenantIdentifier]tenant.PoolID{
		{}:               "pool1",
		{TenantID: "t2"}: "pool2",
	}))
	svc := NewLinkingService(repo, registry)

	errs := svc.ValidateStagedUser(context.Background(), StagedUser{
		Tenant:  tenant.TenantIdentifier{},
		Tenants: []tenant.TenantIdentifier{{TenantID: "t2"}},
		Methods: []identity.LoginMethodDraft{{RecipeID: identity.RecipeEmailPassword, Email: "a@x.com"}},
	})
	require.Len(t, errs, 1)

	var mismatch tenant.ErrStorageShardMismatch
	assert.ErrorAs(t, errs[0], &mismatch)
}
