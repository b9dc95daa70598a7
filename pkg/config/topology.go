package config

import (
	"fmt"
	"strings"

	"github.com/uniauth/identity-core/pkg/tenant"
)

// TopologyConfig holds the tenant-to-pool assignment loaded at startup and
// refreshed periodically by an external cron.
type TopologyConfig struct {
	// DefaultPool backs every tenant not listed in TenantPools
	DefaultPool string `env:"IDC_DEFAULT_POOL" env-default:"default"`
	// TenantPools is a ";"-separated list of entries of the form
	// "connectionUriDomain/appId/tenantId=pool". Empty tuple fields take
	// their defaults, so "/app1/=pool1" assigns every request for app1's
	// public tenant to pool1.
	TenantPools string `env:"IDC_TENANT_POOLS" env-default:""`
}

// NewTopologyConfigFromEnv creates a TopologyConfig from environment variables
func NewTopologyConfigFromEnv() TopologyConfig {
	return TopologyConfig{
		DefaultPool: GetEnvOrDefault("IDC_DEFAULT_POOL", "default"),
		TenantPools: GetEnv("IDC_TENANT_POOLS"),
	}
}

// ParseAssignments parses TenantPools into the explicit tenant-to-pool map.
// The default tenant tuple is always present, mapped to DefaultPool unless an
// entry overrides it.
func (c TopologyConfig) ParseAssignments() (map[tenant.TenantIdentifier]tenant.PoolID, error) {
	assignments := map[tenant.TenantIdentifier]tenant.PoolID{
		{}: tenant.PoolID(c.DefaultPool),
	}
	if strings.TrimSpace(c.TenantPools) == "" {
		return assignments, nil
	}

	for _, entry := range strings.Split(c.TenantPools, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tuple, pool, found := strings.Cut(entry, "=")
		if !found || strings.TrimSpace(pool) == "" {
			return nil, fmt.Errorf("invalid tenant pool entry: %s", entry)
		}
		fields := strings.Split(tuple, "/")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tenant tuple must have three fields: %s", entry)
		}
		t := tenant.NewTenantIdentifier(
			strings.TrimSpace(fields[0]),
			strings.TrimSpace(fields[1]),
			strings.TrimSpace(fields[2]),
		)
		assignments[t] = tenant.PoolID(strings.TrimSpace(pool))
	}
	return assignments, nil
}

// PoolDatabaseURL returns the connection URL for a pool. A pool-specific
// IDC_POOL_<POOL>_PG_URL wins; otherwise the shared DatabaseConfig applies.
func PoolDatabaseURL(pool tenant.PoolID) string {
	key := fmt.Sprintf("IDC_POOL_%s_PG_URL", strings.ToUpper(string(pool)))
	if url := GetEnv(key); url != "" {
		return url
	}
	return NewDatabaseConfigFromEnv().ToDatabaseURL()
}
