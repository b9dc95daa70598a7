// Package identity defines the identity data model of the core: login
// methods, identity clusters, and the storage contract implementations must
// satisfy.
//
// A LoginMethod is one validated credential record. One or more methods form
// a cluster (User) addressed by a single id equal to the recipeUserId of the
// method that was designated primary. Recipe user ids are permanent: they
// never change, even after the method is linked into another cluster.
//
// # Basic Usage
//
//	repo := identity.NewInMemoryIdentityRepository()
//	// or identity.NewPostgresIdentityRepository(pool)
//
//	method, err := repo.CreateLoginMethod(ctx, tenantID, identity.LoginMethodDraft{
//		RecipeID:   identity.RecipeEmailPassword,
//		Email:      "a@x.com",
//		TimeJoined: time.Now().UnixMilli(),
//	})
//
//	user, err := repo.GetUserByRecipeUserID(ctx, appID, method.RecipeUserID)
//
// Repository primitives are non-policy: they re-validate structural
// preconditions inside their storage transaction but leave cross-pool and
// identifier-conflict checks to the linking engine (pkg/linking).
//
// Router multiplexes several pool-scoped repositories behind the same
// interface, resolving pools through the tenant topology snapshot.
//
// # Related Packages
//
//   - pkg/tenant - tenant addressing and pool resolution
//   - pkg/linking - account linking engine
//   - pkg/pagination - cursor-based user enumeration
package identity
