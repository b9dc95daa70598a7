package tenant

import "net/http"

// Query parameter names used by every admin endpoint to address a tenant
const (
	ParamConnectionURIDomain = "connectionUriDomain"
	ParamAppID               = "appId"
	ParamTenantID            = "tenantId"
)

// FromRequest extracts the normalized tenant identifier from the request's
// query parameters. Missing parameters fall back to the defaults, so an
// unscoped request addresses the default public tenant.
func FromRequest(r *http.Request) TenantIdentifier {
	q := r.URL.Query()
	return NewTenantIdentifier(
		q.Get(ParamConnectionURIDomain),
		q.Get(ParamAppID),
		q.Get(ParamTenantID),
	)
}

// AppFromRequest extracts the normalized app identifier from the request's
// query parameters
func AppFromRequest(r *http.Request) AppIdentifier {
	return FromRequest(r).ToAppIdentifier()
}
