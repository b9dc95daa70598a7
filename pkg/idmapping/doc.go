// Package idmapping overlays an externally-chosen user id namespace on top
// of the internally-generated ids.
//
// A mapping is app-scoped and 1:1 in both directions. It is purely a
// presentation concern: account linking, deletion, and pagination all join
// on internal ids; Resolve translates inbound ids at the boundary and
// Externalize translates outbound ones.
//
//	service := idmapping.NewMappingService(idmapping.NewInMemoryMappingRepository(), identityRepo)
//
//	err := service.CreateMapping(ctx, appID, internalID, "ext-42", "", false)
//	internal, mapped, err := service.Resolve(ctx, appID, "ext-42")
//
// Deleting a mapping never cascades to the underlying user, and deleting the
// user does not implicitly remove the mapping; a mapping may deliberately
// outlive a partially-deleted identity during migrations.
package idmapping
