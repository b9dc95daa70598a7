// Package pagination enumerates user clusters with opaque cursor tokens and
// filtered counts.
//
// A page is ordered by (timeJoined, clusterId) in the requested direction;
// the tie-break gives a total order so resuming from a token visits every
// row exactly once even when timestamps collide. Tokens are opaque to the
// caller but carry a versioned binary layout internally; unknown versions
// are rejected outright instead of best-effort decoded.
//
//	svc := pagination.NewPaginationService(router).WithExternalizer(mappings)
//
//	page, err := svc.ListUsers(ctx, pagination.ListRequest{
//		Tenant:    tenantID,
//		Limit:     50,
//		Ascending: true,
//		SearchTags: pagination.SearchTags{Email: "john;jane"},
//	})
//
// Listing is lock-free: each page reads a consistent snapshot, and writes
// landing after a page's watermark show up on a later page rather than being
// skipped.
package pagination
