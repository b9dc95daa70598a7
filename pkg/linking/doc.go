// Package linking implements the account linking engine: the only component
// allowed to merge independently-created login methods into one identity
// cluster.
//
// The engine is a state machine over a cluster's primary flag and login
// method membership. Promotion (CreatePrimaryUser) pins the cluster's
// address; linking (LinkAccounts) re-parents the source cluster's methods
// into the target in one storage transaction; unlinking (UnlinkAccount)
// detaches a method back into its own cluster with a deterministic successor
// rule for the cluster address.
//
// # Basic Usage
//
//	registry := tenant.NewRegistry(tenant.SinglePoolTopology("pool-1"))
//	repo := identity.NewInMemoryIdentityRepository()
//	service := linking.NewLinkingService(repo, registry)
//
//	a, _ := repo.CreateLoginMethod(ctx, tenantID, draftA)
//	b, _ := repo.CreateLoginMethod(ctx, tenantID, draftB)
//
//	_, err := service.CreatePrimaryUser(ctx, appID, a.RecipeUserID)
//	result, err := service.LinkAccounts(ctx, appID, b.RecipeUserID, a.RecipeUserID)
//	// result.NewEmails feeds the session/claims collaborator
//
// The verified/unverified handling of shared identifiers is pluggable via
// WithConflictPolicy; the default StrictConflictPolicy blocks whenever a
// different primary cluster claims the identifier.
//
// # Related Packages
//
//   - pkg/identity - data model and storage primitives
//   - pkg/cascade - user deletion built on the same primitives
package linking
