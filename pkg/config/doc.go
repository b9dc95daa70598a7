// Package config provides common configuration utilities and patterns for
// identity-core.
//
// This package centralizes configuration loading and validation so every
// binary handles environment variables the same way.
//
// # Environment Variable Helpers
//
// Load configuration from environment variables with automatic type
// conversion and defaults:
//
//	// String values
//	host := config.GetEnvOrDefault("IDC_PG_HOST", "localhost")
//	secret := config.MustGetEnv("IDC_ADMIN_KEY") // Panics if not set
//
//	// Integer values
//	port := config.GetEnvInt("IDC_PG_PORT", 5432)
//
//	// Boolean values
//	debug := config.GetEnvBool("DEBUG", false)
//
//	// Duration values
//	timeout := config.GetEnvDuration("TIMEOUT", 30*time.Second)
//
//	// Slice values (comma-separated)
//	tags := config.GetEnvSlice("IDC_EXTRA_TAGS", nil)
//
// # Database Configuration
//
// DatabaseConfig carries the connection settings for one user pool and
// converts to both a connection URL and a db-utils DbConfig:
//
//	dbConfig := config.NewDatabaseConfigFromEnv()
//	pool, err := pgxpool.New(ctx, dbConfig.ToDatabaseURL())
//
// Pool-specific overrides use IDC_POOL_<POOL>_PG_URL; see PoolDatabaseURL.
//
// # Tenant Topology
//
// TopologyConfig describes which user pool backs each tenant tuple. The
// assignment list is a ";"-separated set of "domain/app/tenant=pool" entries
// with empty fields defaulting:
//
//	IDC_DEFAULT_POOL=default
//	IDC_TENANT_POOLS=/app1/=pool1;/app1/staging=pool1
//
//	topo := config.NewTopologyConfigFromEnv()
//	assignments, err := topo.ParseAssignments()
//
// # API Prefixes
//
// PrefixConfig makes every route group's mount point configurable for API
// gateway routing; see LoadPrefixConfig for the environment variables.
package config
