package idmapping

// Mapping is one internal-to-external user id translation, app-scoped and
// 1:1 in both directions. All internal joins and links keep using the
// internal id; translation happens only at the serialization boundary.
type Mapping struct {
	InternalUserID string `json:"internal_user_id"`
	ExternalUserID string `json:"external_user_id"`
	ExternalInfo   string `json:"external_user_id_info,omitempty"`
}

// IDType says which side of a mapping an input id is expected on
type IDType string

const (
	IDTypeInternal IDType = "internal"
	IDTypeExternal IDType = "external"
	IDTypeAny      IDType = "any"
)
