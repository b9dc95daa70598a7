package idmapping

import (
	"errors"
	"fmt"
)

// ErrMappingNotFound is returned when no mapping matches the given id
var ErrMappingNotFound = errors.New("user id mapping not found")

// ErrUnknownInternalUserID is returned when creating a mapping for an
// internal user id that does not exist (and force was not supplied)
type ErrUnknownInternalUserID struct {
	InternalUserID string
}

func (e ErrUnknownInternalUserID) Error() string {
	return fmt.Sprintf("unknown internal user id: %s", e.InternalUserID)
}

// ErrMappingAlreadyExists is returned when either side of the requested
// mapping is already mapped
type ErrMappingAlreadyExists struct {
	InternalIDMapped bool
	ExternalIDMapped bool
}

func (e ErrMappingAlreadyExists) Error() string {
	return fmt.Sprintf("user id mapping already exists (internal mapped: %t, external mapped: %t)",
		e.InternalIDMapped, e.ExternalIDMapped)
}

// ErrExternalIDStillInUse is returned when deleting a mapping whose external
// id still keys non-auth data and force was not supplied
type ErrExternalIDStillInUse struct {
	ExternalUserID string
}

func (e ErrExternalIDStillInUse) Error() string {
	return fmt.Sprintf("external user id %s is still in use by non-auth data", e.ExternalUserID)
}

// ErrExternalIDIsInternalID is returned when the requested external id is
// itself an existing internal user id. Allowed only with force, for
// migration flows.
type ErrExternalIDIsInternalID struct {
	ExternalUserID string
}

func (e ErrExternalIDIsInternalID) Error() string {
	return fmt.Sprintf("external user id %s is an existing internal user id", e.ExternalUserID)
}
