package api

// CreateMappingRequest maps an internal user id to an externally-chosen id.
// Force skips the existence checks for migration flows.
type CreateMappingRequest struct {
	InternalUserID     string `json:"internalUserId"`
	ExternalUserID     string `json:"externalUserId"`
	ExternalUserIDInfo string `json:"externalUserIdInfo,omitempty"`
	Force              bool   `json:"force,omitempty"`
}

// MappingResponse is the wire form of one mapping
type MappingResponse struct {
	InternalUserID     string `json:"internalUserId"`
	ExternalUserID     string `json:"externalUserId"`
	ExternalUserIDInfo string `json:"externalUserIdInfo,omitempty"`
}

// DeleteMappingResponse reports whether a mapping existed; deleting an
// unmapped id is not an error
type DeleteMappingResponse struct {
	Existed bool `json:"existed"`
}

// ErrorResponse is the uniform error body of the mapping surface
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
