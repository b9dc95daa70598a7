package tenant

import "fmt"

// ErrTenantOrAppNotFound is returned when a tenant tuple does not resolve to
// any known user pool. Callers must treat this as "fail closed": a stale
// topology snapshot must never cause a write to a wrong shard.
type ErrTenantOrAppNotFound struct {
	Tenant TenantIdentifier
}

func (e ErrTenantOrAppNotFound) Error() string {
	return fmt.Sprintf("tenant or app not found: %s", e.Tenant)
}

// ErrStorageShardMismatch is returned when an operation spans tenants that
// resolve to different user pools
type ErrStorageShardMismatch struct {
	TenantA TenantIdentifier
	PoolA   PoolID
	TenantB TenantIdentifier
	PoolB   PoolID
}

func (e ErrStorageShardMismatch) Error() string {
	return fmt.Sprintf("tenants resolve to different user pools: %s -> %s, %s -> %s",
		e.TenantA, e.PoolA, e.TenantB, e.PoolB)
}
