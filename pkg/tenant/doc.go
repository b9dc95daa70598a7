// Package tenant provides tenant addressing for the multi-tenant identity
// core.
//
// Every tenant is addressed by the triple (connectionUriDomain, appId,
// tenantId) and resolves to exactly one user pool (storage shard). Multiple
// tenants of one app may share a pool; all tenants a single user is
// associated with must share one pool, which is enforced at link and
// associate time via AssertSameUserPool.
//
// # Basic Usage
//
//	topology := tenant.SinglePoolTopology("pool-1",
//		tenant.NewTenantIdentifier("", "public", "public"),
//		tenant.NewTenantIdentifier("", "public", "t1"),
//	)
//	registry := tenant.NewRegistry(topology)
//
//	pool, err := registry.ResolveStorage(tenant.NewTenantIdentifier("", "public", "t1"))
//
// The registry holds an immutable snapshot that a refresh job swaps out
// whole; concurrent readers never observe a partially updated topology. A
// reader holding a slightly stale snapshot fails closed with
// ErrTenantOrAppNotFound rather than writing to a wrong shard.
package tenant
