package pagination

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/idmapping"
	"github.com/uniauth/identity-core/pkg/tenant"
)

func newTestService(t *testing.T) (*PaginationService, *identity.InMemoryIdentityRepository) {
	t.Helper()
	repo := identity.NewInMemoryIdentityRepository()
	return NewPaginationService(repo), repo
}

func seedUsers(t *testing.T, repo identity.Repository, count int, draft func(i int) identity.LoginMethodDraft) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		method, err := repo.CreateLoginMethod(context.Background(), tenant.TenantIdentifier{}, draft(i))
		require.NoError(t, err)
		ids = append(ids, method.RecipeUserID)
	}
	return ids
}

// collectAllPages walks the listing to exhaustion and returns every id seen,
// failing if any id comes back twice
func collectAllPages(t *testing.T, svc *PaginationService, req ListRequest) []string {
	t.Helper()
	seen := make(map[string]bool)
	var ids []string
	for {
		resp, err := svc.ListUsers(context.Background(), req)
		require.NoError(t, err)
		for _, u := range resp.Users {
			require.False(t, seen[u.ID], "user %s returned twice", u.ID)
			seen[u.ID] = true
			ids = append(ids, u.ID)
		}
		if resp.NextPaginationToken == "" {
			return ids
		}
		req.PaginationToken = resp.NextPaginationToken
	}
}

// Many users sharing one timeJoined is the worst case for cursor paging: the
// tie-break on cluster id must keep the order total so no row is skipped or
// repeated in either direction.
func TestListUsersIdenticalTimeJoined(t *testing.T) {
	svc, repo := newTestService(t)

	created := seedUsers(t, repo, 100, func(i int) identity.LoginMethodDraft {
		return identity.LoginMethodDraft{
			RecipeID:   identity.RecipeEmailPassword,
			Email:      fmt.Sprintf("user%d@x.com", i),
			TimeJoined: 1700000000000,
		}
	})

	forward := collectAllPages(t, svc, ListRequest{Tenant: tenant.TenantIdentifier{}, Limit: 7, Ascending: true})
	require.Len(t, forward, 100)
	assert.ElementsMatch(t, created, forward)

	backward := collectAllPages(t, svc, ListRequest{Tenant: tenant.TenantIdentifier{}, Limit: 7, Ascending: false})
	require.Len(t, backward, 100)

	// backward is exactly forward reversed
	for i := range forward {
		assert.Equal(t, forward[i], backward[len(backward)-1-i])
	}
}

func TestListUsersRecipeFilterAcrossPages(t *testing.T) {
	svc, repo := newTestService(t)

	recipes := []identity.RecipeID{identity.RecipeEmailPassword, identity.RecipeThirdParty, identity.RecipePasswordless}
	seedUsers(t, repo, 150, func(i int) identity.LoginMethodDraft {
		draft := identity.LoginMethodDraft{RecipeID: recipes[i%3], TimeJoined: int64(1000 + i)}
		switch draft.RecipeID {
		case identity.RecipeEmailPassword:
			draft.Email = fmt.Sprintf("user%d@x.com", i)
		case identity.RecipeThirdParty:
			draft.ThirdParty = &identity.ThirdParty{ID: "google", UserID: fmt.Sprintf("g-%d", i)}
		case identity.RecipePasswordless:
			draft.PhoneNumber = fmt.Sprintf("+1555%07d", i)
		}
		return draft
	})

	ids := collectAllPages(t, svc, ListRequest{
		Tenant:           tenant.TenantIdentifier{},
		Limit:            20,
		Ascending:        true,
		IncludeRecipeIDs: []identity.RecipeID{identity.RecipeEmailPassword, identity.RecipeThirdParty},
	})
	assert.Len(t, ids, 100, "50 emailpassword plus 50 thirdparty users")

	count, err := svc.CountUsers(context.Background(), CountRequest{
		Tenant:           tenant.TenantIdentifier{},
		IncludeRecipeIDs: []identity.RecipeID{identity.RecipePasswordless},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestListUsersEmptySearchTagsArePermissive(t *testing.T) {
	svc, repo := newTestService(t)
	seedUsers(t, repo, 5, func(i int) identity.LoginMethodDraft {
		return identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: fmt.Sprintf("user%d@x.com", i), TimeJoined: int64(100 + i)}
	})

	// whitespace and separators alone never mean "match nothing"
	for _, tag := range []string{"", "   ", ";;;", " ; ; "} {
		resp, err := svc.ListUsers(context.Background(), ListRequest{
			Tenant:     tenant.TenantIdentifier{},
			Ascending:  true,
			SearchTags: SearchTags{Email: tag},
		})
		require.NoError(t, err)
		assert.Len(t, resp.Users, 5, "tag %q must not filter", tag)
	}

	resp, err := svc.ListUsers(context.Background(), ListRequest{
		Tenant:     tenant.TenantIdentifier{},
		Ascending:  true,
		SearchTags: SearchTags{Email: "user3; nomatch"},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Users, 1)
}

func TestListUsersLimitValidation(t *testing.T) {
	svc, repo := newTestService(t)
	seedUsers(t, repo, 3, func(i int) identity.LoginMethodDraft {
		return identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: fmt.Sprintf("user%d@x.com", i), TimeJoined: int64(100 + i)}
	})

	// zero limit falls back to the default
	resp, err := svc.ListUsers(context.Background(), ListRequest{Tenant: tenant.TenantIdentifier{}, Ascending: true})
	require.NoError(t, err)
	assert.Len(t, resp.Users, 3)
	assert.Empty(t, resp.NextPaginationToken)

	_, err = svc.ListUsers(context.Background(), ListRequest{Tenant: tenant.TenantIdentifier{}, Limit: MaxLimit + 1})
	var tooLarge ErrLimitTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, MaxLimit+1, tooLarge.Limit)

	_, err = svc.ListUsers(context.Background(), ListRequest{
		Tenant:           tenant.TenantIdentifier{},
		IncludeRecipeIDs: []identity.RecipeID{"magiclink"},
	})
	var unknown ErrUnknownRecipeID
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "magiclink", unknown.RecipeID)
}

func TestListUsersRejectsDirectionMismatch(t *testing.T) {
	svc, repo := newTestService(t)
	seedUsers(t, repo, 10, func(i int) identity.LoginMethodDraft {
		return identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: fmt.Sprintf("user%d@x.com", i), TimeJoined: int64(100 + i)}
	})

	resp, err := svc.ListUsers(context.Background(), ListRequest{Tenant: tenant.TenantIdentifier{}, Limit: 4, Ascending: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.NextPaginationToken)

	// a token issued for one direction cannot resume the other
	_, err = svc.ListUsers(context.Background(), ListRequest{
		Tenant:          tenant.TenantIdentifier{},
		Limit:           4,
		Ascending:       false,
		PaginationToken: resp.NextPaginationToken,
	})
	assert.ErrorIs(t, err, ErrInvalidPaginationToken)

	_, err = svc.ListUsers(context.Background(), ListRequest{
		Tenant:          tenant.TenantIdentifier{},
		Ascending:       true,
		PaginationToken: "garbage!!!",
	})
	assert.ErrorIs(t, err, ErrInvalidPaginationToken)
}

func TestListUsersExternalizesClusterIDs(t *testing.T) {
	ctx := context.Background()
	repo := identity.NewInMemoryIdentityRepository()
	mappings := idmapping.NewMappingService(idmapping.NewInMemoryMappingRepository(), repo)
	svc := NewPaginationService(repo).WithExternalizer(mappings)

	ids := seedUsers(t, repo, 2, func(i int) identity.LoginMethodDraft {
		return identity.LoginMethodDraft{RecipeID: identity.RecipeEmailPassword, Email: fmt.Sprintf("user%d@x.com", i), TimeJoined: int64(100 + i)}
	})
	require.NoError(t, mappings.CreateMapping(ctx, tenant.AppIdentifier{}, ids[0], "ext-0", "", false))

	resp, err := svc.ListUsers(ctx, ListRequest{Tenant: tenant.TenantIdentifier{}, Ascending: true})
	require.NoError(t, err)
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "ext-0", resp.Users[0].ID)
	assert.Equal(t, ids[1], resp.Users[1].ID)
}

func TestSearchTagsFilter(t *testing.T) {
	filter := SearchTags{Email: " John; DOE ;", Phone: ";", Provider: "google"}.Filter()
	assert.Equal(t, []string{"john", "doe"}, filter.Emails)
	assert.Empty(t, filter.Phones)
	assert.Equal(t, []string{"google"}, filter.Providers)

	assert.True(t, SearchTags{}.Filter().IsEmpty())
	assert.True(t, SearchTags{Email: " ; ; "}.Filter().IsEmpty())
}
