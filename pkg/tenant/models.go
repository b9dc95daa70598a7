package tenant

import "fmt"

// Default values used when a tenant tuple field is omitted
const (
	DefaultConnectionURIDomain = ""
	DefaultAppID               = "public"
	DefaultTenantID            = "public"
)

// PoolID identifies a user pool (storage shard). All identifiers within one
// pool are globally unique and linkable.
type PoolID string

// TenantIdentifier addresses a single tenant as the triple
// (connectionUriDomain, appId, tenantId). Zero values are normalized to the
// defaults, so the zero TenantIdentifier addresses the default public tenant.
type TenantIdentifier struct {
	ConnectionURIDomain string `json:"connection_uri_domain,omitempty"`
	AppID               string `json:"app_id"`
	TenantID            string `json:"tenant_id"`
}

// NewTenantIdentifier creates a normalized tenant identifier
func NewTenantIdentifier(connectionURIDomain, appID, tenantID string) TenantIdentifier {
	return TenantIdentifier{
		ConnectionURIDomain: connectionURIDomain,
		AppID:               appID,
		TenantID:            tenantID,
	}.Normalize()
}

// Normalize fills omitted fields with their default values
func (t TenantIdentifier) Normalize() TenantIdentifier {
	if t.AppID == "" {
		t.AppID = DefaultAppID
	}
	if t.TenantID == "" {
		t.TenantID = DefaultTenantID
	}
	return t
}

// ToAppIdentifier projects the tenant identifier down to its app scope
func (t TenantIdentifier) ToAppIdentifier() AppIdentifier {
	t = t.Normalize()
	return AppIdentifier{
		ConnectionURIDomain: t.ConnectionURIDomain,
		AppID:               t.AppID,
	}
}

func (t TenantIdentifier) String() string {
	t = t.Normalize()
	return fmt.Sprintf("%s/%s/%s", t.ConnectionURIDomain, t.AppID, t.TenantID)
}

// AppIdentifier addresses an app: the projection of a TenantIdentifier that
// drops the tenantId. UserIdMappings and account linking are app-scoped.
type AppIdentifier struct {
	ConnectionURIDomain string `json:"connection_uri_domain,omitempty"`
	AppID               string `json:"app_id"`
}

// NewAppIdentifier creates a normalized app identifier
func NewAppIdentifier(connectionURIDomain, appID string) AppIdentifier {
	return AppIdentifier{
		ConnectionURIDomain: connectionURIDomain,
		AppID:               appID,
	}.Normalize()
}

// Normalize fills omitted fields with their default values
func (a AppIdentifier) Normalize() AppIdentifier {
	if a.AppID == "" {
		a.AppID = DefaultAppID
	}
	return a
}

// WithTenant re-attaches a tenantId to the app scope
func (a AppIdentifier) WithTenant(tenantID string) TenantIdentifier {
	a = a.Normalize()
	return NewTenantIdentifier(a.ConnectionURIDomain, a.AppID, tenantID)
}

func (a AppIdentifier) String() string {
	a = a.Normalize()
	return fmt.Sprintf("%s/%s", a.ConnectionURIDomain, a.AppID)
}
