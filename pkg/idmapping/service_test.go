package idmapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
)

func newTestService(t *testing.T) (*MappingService, *identity.InMemoryIdentityRepository) {
	t.Helper()
	users := identity.NewInMemoryIdentityRepository()
	return NewMappingService(NewInMemoryMappingRepository(), users), users
}

func createInternalUser(t *testing.T, users *identity.InMemoryIdentityRepository) string {
	t.Helper()
	method, err := users.CreateLoginMethod(context.Background(), tenant.TenantIdentifier{}, identity.LoginMethodDraft{
		RecipeID:   identity.RecipeEmailPassword,
		Email:      "user@x.com",
		TimeJoined: 100,
	})
	require.NoError(t, err)
	return method.RecipeUserID
}

func TestCreateMapping(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)

	err := svc.CreateMapping(ctx, app, internalID, "ext-1", "legacy crm id", false)
	require.NoError(t, err)

	mapping, err := svc.GetMapping(ctx, app, internalID, IDTypeInternal)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", mapping.ExternalUserID)
	assert.Equal(t, "legacy crm id", mapping.ExternalInfo)

	mapping, err = svc.GetMapping(ctx, app, "ext-1", IDTypeExternal)
	require.NoError(t, err)
	assert.Equal(t, internalID, mapping.InternalUserID)

	// ANY resolves either side
	mapping, err = svc.GetMapping(ctx, app, "ext-1", IDTypeAny)
	require.NoError(t, err)
	assert.Equal(t, internalID, mapping.InternalUserID)
}

func TestCreateMappingUnknownInternalID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	app := tenant.AppIdentifier{}

	err := svc.CreateMapping(ctx, app, "no-such-user", "ext-1", "", false)
	var unknown ErrUnknownInternalUserID
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no-such-user", unknown.InternalUserID)

	// force skips the existence check for migration flows
	err = svc.CreateMapping(ctx, app, "no-such-user", "ext-1", "", true)
	require.NoError(t, err)
}

func TestCreateMappingExternalIDIsInternalID(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalA := createInternalUser(t, users)
	internalB := createInternalUser(t, users)

	err := svc.CreateMapping(ctx, app, internalA, internalB, "", false)
	var isInternal ErrExternalIDIsInternalID
	require.ErrorAs(t, err, &isInternal)
	assert.Equal(t, internalB, isInternal.ExternalUserID)

	require.NoError(t, svc.CreateMapping(ctx, app, internalA, internalB, "", true))
}

func TestCreateMappingAlreadyExists(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalA := createInternalUser(t, users)
	internalB := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalA, "ext-1", "", false))

	// internal side taken
	err := svc.CreateMapping(ctx, app, internalA, "ext-2", "", false)
	var exists ErrMappingAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.True(t, exists.InternalIDMapped)
	assert.False(t, exists.ExternalIDMapped)

	// external side taken
	err = svc.CreateMapping(ctx, app, internalB, "ext-1", "", false)
	require.ErrorAs(t, err, &exists)
	assert.False(t, exists.InternalIDMapped)
	assert.True(t, exists.ExternalIDMapped)

	// exact duplicate reports both sides mapped
	err = svc.CreateMapping(ctx, app, internalA, "ext-1", "", false)
	require.ErrorAs(t, err, &exists)
	assert.True(t, exists.InternalIDMapped)
	assert.True(t, exists.ExternalIDMapped)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalID, "ext-1", "", false))

	resolved, wasMapped, err := svc.Resolve(ctx, app, "ext-1")
	require.NoError(t, err)
	assert.True(t, wasMapped)
	assert.Equal(t, internalID, resolved)

	// unmapped ids pass through unchanged
	resolved, wasMapped, err = svc.Resolve(ctx, app, "plain-id")
	require.NoError(t, err)
	assert.False(t, wasMapped)
	assert.Equal(t, "plain-id", resolved)
}

func TestExternalizeUser(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalID, "ext-1", "", false))

	user, err := users.GetUserByRecipeUserID(ctx, app, internalID)
	require.NoError(t, err)

	translated, err := svc.ExternalizeUser(ctx, app, user)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", translated.ID)
	// member recipe user ids stay internal
	assert.Equal(t, internalID, translated.LoginMethods[0].RecipeUserID)

	// unmapped users come back unchanged
	otherID := createInternalUser(t, users)
	other, err := users.GetUserByRecipeUserID(ctx, app, otherID)
	require.NoError(t, err)
	translated, err = svc.ExternalizeUser(ctx, app, other)
	require.NoError(t, err)
	assert.Equal(t, otherID, translated.ID)
}

func TestDeleteMapping(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalID, "ext-1", "", false))

	existed, err := svc.DeleteMapping(ctx, app, "ext-1", IDTypeAny, false)
	require.NoError(t, err)
	assert.True(t, existed)

	// idempotent: deleting again reports not existed instead of failing
	existed, err = svc.DeleteMapping(ctx, app, "ext-1", IDTypeAny, false)
	require.NoError(t, err)
	assert.False(t, existed)

	// the underlying user is untouched
	exists, err := users.DoesUserIDExist(ctx, app, internalID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteMappingByExternalSide(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalID, "ext-1", "", false))

	// addressing the external side deletes through the external index
	existed, err := svc.DeleteMapping(ctx, app, "ext-1", IDTypeExternal, false)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = svc.GetMapping(ctx, app, internalID, IDTypeInternal)
	assert.ErrorIs(t, err, ErrMappingNotFound)
	_, err = svc.GetMapping(ctx, app, "ext-1", IDTypeExternal)
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestDeleteMappingInUseCheck(t *testing.T) {
	ctx := context.Background()
	users := identity.NewInMemoryIdentityRepository()
	inUse := map[string]bool{"ext-1": true}
	svc := NewMappingService(NewInMemoryMappingRepository(), users).
		WithExternalIDInUseCheck(func(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error) {
			return inUse[externalID], nil
		})
	app := tenant.AppIdentifier{}

	internalID := createInternalUser(t, users)
	require.NoError(t, svc.CreateMapping(ctx, app, internalID, "ext-1", "", false))

	_, err := svc.DeleteMapping(ctx, app, internalID, IDTypeInternal, false)
	var stillInUse ErrExternalIDStillInUse
	require.ErrorAs(t, err, &stillInUse)
	assert.Equal(t, "ext-1", stillInUse.ExternalUserID)

	// force overrides the probe
	existed, err := svc.DeleteMapping(ctx, app, internalID, IDTypeInternal, true)
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestMappingsAreAppScoped(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)

	internalID := createInternalUser(t, users)
	appA := tenant.AppIdentifier{}
	appB := tenant.AppIdentifier{AppID: "other"}

	require.NoError(t, svc.CreateMapping(ctx, appA, internalID, "ext-1", "", false))

	_, err := svc.GetMapping(ctx, appB, "ext-1", IDTypeAny)
	assert.ErrorIs(t, err, ErrMappingNotFound)
}
