package tenant

import (
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// Topology is an immutable snapshot of the tenant-to-user-pool mapping.
// A snapshot is built once and never mutated; refreshes swap the whole
// snapshot through a Registry so concurrent readers never see a torn view.
type Topology struct {
	pools map[TenantIdentifier]PoolID
}

// NewTopology builds a snapshot from a tenant-to-pool mapping. Tenant keys
// are normalized before insertion.
func NewTopology(pools map[TenantIdentifier]PoolID) *Topology {
	normalized := make(map[TenantIdentifier]PoolID, len(pools))
	for t, p := range pools {
		normalized[t.Normalize()] = p
	}
	return &Topology{pools: normalized}
}

// SinglePoolTopology builds a snapshot where every listed tenant shares one
// pool. Convenient for single-shard deployments and tests.
func SinglePoolTopology(pool PoolID, tenants ...TenantIdentifier) *Topology {
	if len(tenants) == 0 {
		tenants = []TenantIdentifier{{}}
	}
	pools := make(map[TenantIdentifier]PoolID, len(tenants))
	for _, t := range tenants {
		pools[t.Normalize()] = pool
	}
	return NewTopology(pools)
}

// ResolveStorage resolves a tenant tuple to its user pool
func (s *Topology) ResolveStorage(t TenantIdentifier) (PoolID, error) {
	pool, ok := s.pools[t.Normalize()]
	if !ok {
		return "", ErrTenantOrAppNotFound{Tenant: t.Normalize()}
	}
	return pool, nil
}

// PoolsForApp returns every distinct pool used by the app's tenants
func (s *Topology) PoolsForApp(app AppIdentifier) []PoolID {
	app = app.Normalize()
	seen := make(map[PoolID]bool)
	var pools []PoolID
	for t, p := range s.pools {
		if t.ToAppIdentifier() != app {
			continue
		}
		if !seen[p] {
			seen[p] = true
			pools = append(pools, p)
		}
	}
	return pools
}

// TenantsForApp returns every tenant of the app present in the snapshot
func (s *Topology) TenantsForApp(app AppIdentifier) []TenantIdentifier {
	app = app.Normalize()
	var tenants []TenantIdentifier
	for t := range s.pools {
		if t.ToAppIdentifier() == app {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// AssertSameUserPool verifies that all given tenants resolve to one user
// pool. Linking and tenant association must call this before touching
// storage.
func (s *Topology) AssertSameUserPool(tenants []TenantIdentifier) error {
	if len(tenants) == 0 {
		return nil
	}
	first := tenants[0].Normalize()
	firstPool, err := s.ResolveStorage(first)
	if err != nil {
		return err
	}
	for _, t := range tenants[1:] {
		pool, err := s.ResolveStorage(t)
		if err != nil {
			return err
		}
		if pool != firstPool {
			return ErrStorageShardMismatch{
				TenantA: first,
				PoolA:   firstPool,
				TenantB: t.Normalize(),
				PoolB:   pool,
			}
		}
	}
	return nil
}

// Registry hands out the current topology snapshot. An external refresh job
// replaces the snapshot periodically; readers racing a refresh see either
// the old or the new snapshot in full.
type Registry struct {
	current atomic.Pointer[Topology]
}

// NewRegistry creates a registry seeded with an initial snapshot
func NewRegistry(initial *Topology) *Registry {
	r := &Registry{}
	r.current.Store(initial)
	return r
}

// Snapshot returns the current topology snapshot
func (r *Registry) Snapshot() *Topology {
	return r.current.Load()
}

// Refresh swaps in a new snapshot
func (r *Registry) Refresh(next *Topology) {
	r.current.Store(next)
	slog.Info("Tenant topology refreshed", "tenants", len(next.pools))
}

// ResolveStorage resolves against the current snapshot
func (r *Registry) ResolveStorage(t TenantIdentifier) (PoolID, error) {
	return r.Snapshot().ResolveStorage(t)
}

// PoolsForApp resolves against the current snapshot
func (r *Registry) PoolsForApp(app AppIdentifier) []PoolID {
	return r.Snapshot().PoolsForApp(app)
}

// TenantsForApp resolves against the current snapshot
func (r *Registry) TenantsForApp(app AppIdentifier) []TenantIdentifier {
	return r.Snapshot().TenantsForApp(app)
}

// AssertSameUserPool resolves against the current snapshot
func (r *Registry) AssertSameUserPool(tenants []TenantIdentifier) error {
	return r.Snapshot().AssertSameUserPool(tenants)
}
