package identity

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniauth/identity-core/pkg/tenant"
)

func createMethod(t *testing.T, repo Repository, tn tenant.TenantIdentifier, draft LoginMethodDraft) LoginMethod {
	t.Helper()
	method, err := repo.CreateLoginMethod(context.Background(), tn, draft)
	require.NoError(t, err)
	return method
}

func emailDraft(email string, timeJoined int64) LoginMethodDraft {
	return LoginMethodDraft{RecipeID: RecipeEmailPassword, Email: email, TimeJoined: timeJoined}
}

func TestCreateLoginMethod(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}

	method := createMethod(t, repo, tn, emailDraft("Alice@Example.com", 100))
	assert.NotEmpty(t, method.RecipeUserID)
	assert.Equal(t, "alice@example.com", method.Email, "email is lowercased on create")
	assert.Equal(t, []string{tenant.DefaultTenantID}, method.TenantIDs)

	user, err := repo.GetUserByRecipeUserID(ctx, tn.ToAppIdentifier(), method.RecipeUserID)
	require.NoError(t, err)
	assert.Equal(t, method.RecipeUserID, user.ID)
	assert.False(t, user.IsPrimaryUser)
	assert.Equal(t, int64(100), user.TimeJoined)
	require.Len(t, user.LoginMethods, 1)
}

func TestCreateLoginMethodValidation(t *testing.T) {
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}

	_, err := repo.CreateLoginMethod(context.Background(), tn, LoginMethodDraft{RecipeID: "magiclink", Email: "a@x.com"})
	var invalid ErrInvalidDraft
	require.ErrorAs(t, err, &invalid)

	_, err = repo.CreateLoginMethod(context.Background(), tn, LoginMethodDraft{RecipeID: RecipeEmailPassword})
	require.ErrorAs(t, err, &invalid)
}

func TestGetUserByRecipeUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	_, err := repo.GetUserByRecipeUserID(ctx, app, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 200))

	_, err = repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)

	// a member id resolves to the whole cluster
	user, err := repo.GetUserByRecipeUserID(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.Equal(t, a.RecipeUserID, user.ID)
	assert.Len(t, user.LoginMethods, 2)
}

func TestGetUserByAccountInfo(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}

	createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	tp := createMethod(t, repo, tn, LoginMethodDraft{
		RecipeID:   RecipeThirdParty,
		Email:      "a@x.com",
		ThirdParty: &ThirdParty{ID: "google", UserID: "g-1"},
		TimeJoined: 200,
	})

	// the probe is recipe-scoped: the same email under a different recipe
	// does not match
	user, err := repo.GetUserByAccountInfo(ctx, tn, RecipeThirdParty, AccountInfo{ThirdParty: &ThirdParty{ID: "google", UserID: "g-1"}})
	require.NoError(t, err)
	assert.Equal(t, tp.RecipeUserID, user.ID)

	_, err = repo.GetUserByAccountInfo(ctx, tn, RecipePasswordless, AccountInfo{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	// lookups normalize the email the same way create does
	user, err = repo.GetUserByAccountInfo(ctx, tn, RecipeEmailPassword, AccountInfo{Email: " A@X.com "})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.LoginMethods[0].Email)

	// tenant-scoped: another tenant does not see the method
	other := tenant.TenantIdentifier{TenantID: "t2"}
	_, err = repo.GetUserByAccountInfo(ctx, other, RecipeEmailPassword, AccountInfo{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMakePrimary(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))

	user, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	assert.True(t, user.IsPrimaryUser)
	assert.Equal(t, a.RecipeUserID, user.ID)

	_, err = repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	var already ErrAlreadyPrimary
	require.ErrorAs(t, err, &already)
	assert.Equal(t, a.RecipeUserID, already.PrimaryUserID)

	_, err = repo.MakePrimary(ctx, app, "missing", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLinkClusters(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 200))

	// target must be primary
	_, err := repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	var notPrimary ErrNotPrimary
	require.ErrorAs(t, err, &notPrimary)

	_, err = repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)

	user, err := repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)
	assert.Equal(t, a.RecipeUserID, user.ID, "cluster keeps the primary's address")
	assert.Equal(t, int64(100), user.TimeJoined)
	require.Len(t, user.LoginMethods, 2)
	assert.Equal(t, a.RecipeUserID, user.LoginMethods[0].RecipeUserID, "link order is preserved")
	assert.Equal(t, b.RecipeUserID, user.LoginMethods[1].RecipeUserID)

	// the absorbed source address no longer exists as a cluster, but the
	// member id still resolves
	exists, err := repo.DoesUserIDExist(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMakePrimaryConflictGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("shared@x.com", 100))
	b := createMethod(t, repo, tn, LoginMethodDraft{
		RecipeID:   RecipeThirdParty,
		Email:      "shared@x.com",
		ThirdParty: &ThirdParty{ID: "google", UserID: "g-1"},
		TimeJoined: 200,
	})

	block := func(candidate LoginMethod, claimant User) bool { return false }

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, block)
	require.NoError(t, err, "no other primary claims the email yet")

	// the probe runs inside the mutation, so the second promotion over the
	// shared email is rejected
	_, err = repo.MakePrimary(ctx, app, b.RecipeUserID, block)
	var conflict ErrAccountInfoConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, a.RecipeUserID, conflict.PrimaryUserID)

	// an allowing guard lets the promotion through
	allow := func(candidate LoginMethod, claimant User) bool { return true }
	user, err := repo.MakePrimary(ctx, app, b.RecipeUserID, allow)
	require.NoError(t, err)
	assert.True(t, user.IsPrimaryUser)
}

func TestLinkClustersConflictGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	claimant := createMethod(t, repo, tn, emailDraft("shared@x.com", 100))
	_, err := repo.MakePrimary(ctx, app, claimant.RecipeUserID, nil)
	require.NoError(t, err)

	target := createMethod(t, repo, tn, emailDraft("t@x.com", 200))
	_, err = repo.MakePrimary(ctx, app, target.RecipeUserID, nil)
	require.NoError(t, err)

	source := createMethod(t, repo, tn, LoginMethodDraft{
		RecipeID:   RecipeThirdParty,
		Email:      "shared@x.com",
		ThirdParty: &ThirdParty{ID: "google", UserID: "g-1"},
		TimeJoined: 300,
	})

	block := func(candidate LoginMethod, claimedBy User) bool { return false }
	_, err = repo.LinkClusters(ctx, app, source.RecipeUserID, target.RecipeUserID, block)
	var conflict ErrAccountInfoConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, claimant.RecipeUserID, conflict.PrimaryUserID)

	// the target's own claims never count as conflicts
	own := createMethod(t, repo, tn, LoginMethodDraft{
		RecipeID:   RecipePasswordless,
		Email:      "t@x.com",
		TimeJoined: 400,
	})
	user, err := repo.LinkClusters(ctx, app, own.RecipeUserID, target.RecipeUserID, block)
	require.NoError(t, err)
	assert.Len(t, user.LoginMethods, 2)
}

func TestLinkClustersRejectsMultiMethodPrimarySource(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 200))
	c := createMethod(t, repo, tn, emailDraft("c@x.com", 300))

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.MakePrimary(ctx, app, c.RecipeUserID, nil)
	require.NoError(t, err)

	_, err = repo.LinkClusters(ctx, app, a.RecipeUserID, c.RecipeUserID, nil)
	var multi ErrSourceHasMultipleMethods
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, 2, multi.Methods)
}

func TestUnlinkMethodSuccessorRule(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 50))
	c := createMethod(t, repo, tn, emailDraft("c@x.com", 50))

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, c.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)

	// detaching the address re-keys the cluster: earliest timeJoined wins,
	// ties broken by the smaller recipe user id
	outcome, err := repo.UnlinkMethod(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, outcome.WasClusterID)
	require.True(t, outcome.HasRemaining)

	expected := b.RecipeUserID
	if c.RecipeUserID < expected {
		expected = c.RecipeUserID
	}
	assert.Equal(t, expected, outcome.RemainingUser.ID)
	assert.True(t, outcome.RemainingUser.IsPrimaryUser, "the surviving cluster keeps its primary flag")
	assert.Len(t, outcome.RemainingUser.LoginMethods, 2)

	// the detached method is its own non-primary cluster again
	assert.Equal(t, a.RecipeUserID, outcome.DetachedUser.ID)
	assert.False(t, outcome.DetachedUser.IsPrimaryUser)
	require.Len(t, outcome.DetachedUser.LoginMethods, 1)
}

func TestUnlinkLastMethod(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))

	outcome, err := repo.UnlinkMethod(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.False(t, outcome.HasRemaining)
	assert.Equal(t, a.RecipeUserID, outcome.DetachedUser.ID)

	_, err = repo.UnlinkMethod(ctx, app, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRemoveLoginMethod(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 200))

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)

	outcome, err := repo.RemoveLoginMethod(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, outcome.Existed)
	require.True(t, outcome.HasRemaining)
	assert.Equal(t, a.RecipeUserID, outcome.RemainingUser.ID)

	// the removed method is gone entirely
	exists, err := repo.DoesUserIDExist(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.False(t, exists)

	// idempotent
	outcome, err = repo.RemoveLoginMethod(ctx, app, b.RecipeUserID)
	require.NoError(t, err)
	assert.False(t, outcome.Existed)
}

func TestDeleteCluster(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("a@x.com", 100))
	b := createMethod(t, repo, tn, emailDraft("b@x.com", 200))

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)
	_, err = repo.LinkClusters(ctx, app, b.RecipeUserID, a.RecipeUserID, nil)
	require.NoError(t, err)

	outcome, err := repo.DeleteCluster(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, outcome.Existed)
	assert.ElementsMatch(t, []string{a.RecipeUserID, b.RecipeUserID}, outcome.RecipeUserIDs)

	for _, id := range []string{a.RecipeUserID, b.RecipeUserID} {
		exists, err := repo.DoesUserIDExist(ctx, app, id)
		require.NoError(t, err)
		assert.False(t, exists)
	}

	outcome, err = repo.DeleteCluster(ctx, app, a.RecipeUserID)
	require.NoError(t, err)
	assert.False(t, outcome.Existed)
}

func TestListPrimaryUsersByAccountInfo(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}
	app := tn.ToAppIdentifier()

	a := createMethod(t, repo, tn, emailDraft("shared@x.com", 100))
	createMethod(t, repo, tn, emailDraft("shared@x.com", 200)) // non-primary, must not appear

	_, err := repo.MakePrimary(ctx, app, a.RecipeUserID, nil)
	require.NoError(t, err)

	users, err := repo.ListPrimaryUsersByAccountInfo(ctx, app, AccountInfo{Email: "shared@x.com"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, a.RecipeUserID, users[0].ID)

	users, err = repo.ListPrimaryUsersByAccountInfo(ctx, app, AccountInfo{Email: "other@x.com"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestListUsersOrderingAndWatermark(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}

	for i := 0; i < 10; i++ {
		createMethod(t, repo, tn, emailDraft("u@x.com", int64(1000+i%3)))
	}

	asc, err := repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100})
	require.NoError(t, err)
	require.Len(t, asc, 10)
	assert.True(t, sort.SliceIsSorted(asc, func(i, j int) bool {
		if asc[i].TimeJoined != asc[j].TimeJoined {
			return asc[i].TimeJoined < asc[j].TimeJoined
		}
		return asc[i].ID < asc[j].ID
	}))

	// resuming from the third row's watermark excludes it and everything
	// before it
	w := Watermark{TimeJoined: asc[2].TimeJoined, RecipeUserID: asc[2].ID}
	rest, err := repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100, Watermark: &w})
	require.NoError(t, err)
	require.Len(t, rest, 7)
	assert.Equal(t, asc[3].ID, rest[0].ID)

	desc, err := repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: false, Limit: 100})
	require.NoError(t, err)
	require.Len(t, desc, 10)
	assert.Equal(t, asc[9].ID, desc[0].ID)
	assert.Equal(t, asc[0].ID, desc[9].ID)
}

func TestListUsersFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIdentityRepository()
	tn := tenant.TenantIdentifier{}

	createMethod(t, repo, tn, emailDraft("alice@x.com", 100))
	createMethod(t, repo, tn, LoginMethodDraft{
		RecipeID:   RecipeThirdParty,
		ThirdParty: &ThirdParty{ID: "google", UserID: "g-1"},
		TimeJoined: 200,
	})
	createMethod(t, repo, tn, LoginMethodDraft{RecipeID: RecipePasswordless, PhoneNumber: "+15551234", TimeJoined: 300})
	createMethod(t, repo, tenant.TenantIdentifier{TenantID: "t2"}, emailDraft("bob@x.com", 400))

	// tenant scoping
	users, err := repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, users, 3)

	users, err = repo.ListUsers(ctx, ListParams{Tenant: tn, AllTenants: true, Ascending: true, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, users, 4)

	// recipe filter
	users, err = repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100, Recipes: []RecipeID{RecipeThirdParty, RecipePasswordless}})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	// search is a case-insensitive substring match
	users, err = repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100, Search: SearchFilter{Emails: []string{"ALICE"}}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice@x.com", users[0].LoginMethods[0].Email)

	users, err = repo.ListUsers(ctx, ListParams{Tenant: tn, Ascending: true, Limit: 100, Search: SearchFilter{Providers: []string{"goo"}}})
	require.NoError(t, err)
	assert.Len(t, users, 1)

	count, err := repo.CountUsers(ctx, CountParams{Tenant: tn, Search: SearchFilter{Phones: []string{"555"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
