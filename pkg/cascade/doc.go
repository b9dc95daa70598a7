// Package cascade coordinates user deletion across the identity graph and
// every store keyed by a user id.
//
// Deletion comes in two tiers. The full tier removes the whole linked user:
// every login method, the id mappings of every member, and the non-auth data
// (metadata, sessions) keyed by each member id or its mapped external id.
// The single-method tier removes one login method only and deliberately
// leaves everything else in place, including the method's own id mapping.
//
//	svc := cascade.NewCascadeService(repo, mappings).
//		WithUserDataStores(metadataStore).
//		WithSessionStores(sessionStore)
//
//	result, err := svc.DeleteUser(ctx, appID, userID, true)
//
// Non-auth rows are always removed before auth rows so a mid-cascade failure
// leaves a user that still resolves, never a dangling half-identity. Both
// tiers are idempotent; deleting an id that matches nothing reports
// Existed=false and no error.
package cascade
