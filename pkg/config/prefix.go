package config

import "fmt"

// PrefixConfig holds configurable API endpoint prefixes for all route groups.
// This allows flexible API gateway routing and versioning support.
//
// Example environment variables:
//
//	API_PREFIX_USERS=/api/v1/identity/users
//	API_PREFIX_LINKING=/api/v1/identity/linking
//	API_PREFIX_MAPPINGS=/api/v1/identity/mappings
type PrefixConfig struct {
	Users    string // User listing, counting, lookup, and deletion endpoints (admin)
	Linking  string // Account linking endpoints (primary, link, unlink)
	Mappings string // User id mapping endpoints (admin)
}

// DefaultV1Prefixes returns the default v1 prefix configuration
func DefaultV1Prefixes() PrefixConfig {
	return PrefixConfig{
		Users:    "/api/v1/identity/users",
		Linking:  "/api/v1/identity/linking",
		Mappings: "/api/v1/identity/mappings",
	}
}

// BuildPrefixesFromBase builds prefix configuration from a base path.
//
// Appends route segments to the base path for each route group.
// This provides a simple way to configure all endpoints with one prefix.
func BuildPrefixesFromBase(basePath string) PrefixConfig {
	// Remove trailing slash if present
	if len(basePath) > 0 && basePath[len(basePath)-1] == '/' {
		basePath = basePath[:len(basePath)-1]
	}

	return PrefixConfig{
		Users:    basePath + "/users",
		Linking:  basePath + "/linking",
		Mappings: basePath + "/mappings",
	}
}

// LoadPrefixConfig loads prefix configuration from environment variables.
// Falls back to DefaultV1Prefixes() for any unset variables.
//
// Environment variables:
//   - API_PREFIX_BASE: Base path for all endpoints (e.g., "/api/v1/identity")
//   - API_PREFIX_USERS: User management endpoint prefix (overrides base)
//   - API_PREFIX_LINKING: Account linking endpoint prefix (overrides base)
//   - API_PREFIX_MAPPINGS: User id mapping endpoint prefix (overrides base)
func LoadPrefixConfig() PrefixConfig {
	var defaults PrefixConfig
	if basePath := GetEnv("API_PREFIX_BASE"); basePath != "" {
		defaults = BuildPrefixesFromBase(basePath)
	} else {
		defaults = DefaultV1Prefixes()
	}

	return PrefixConfig{
		Users:    GetEnvOrDefault("API_PREFIX_USERS", defaults.Users),
		Linking:  GetEnvOrDefault("API_PREFIX_LINKING", defaults.Linking),
		Mappings: GetEnvOrDefault("API_PREFIX_MAPPINGS", defaults.Mappings),
	}
}

// Validate checks that all prefix paths are valid (non-empty and start with /)
func (p PrefixConfig) Validate() error {
	prefixes := map[string]string{
		"Users":    p.Users,
		"Linking":  p.Linking,
		"Mappings": p.Mappings,
	}

	for name, prefix := range prefixes {
		if prefix == "" {
			return fmt.Errorf("prefix configuration missing: %s", name)
		}
		if prefix[0] != '/' {
			return fmt.Errorf("prefix must start with '/': %s = %s", name, prefix)
		}
	}

	return nil
}
