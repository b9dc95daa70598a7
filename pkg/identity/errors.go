package identity

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrUserNotFound is returned when no cluster owns the requested id
	ErrUserNotFound = errors.New("user not found")

	// ErrLoginMethodNotFound is returned when no login method matches
	ErrLoginMethodNotFound = errors.New("login method not found")

	// ErrTransactionConflict is returned by storage implementations when a
	// transaction lost a lock race and should be retried by the caller
	ErrTransactionConflict = errors.New("storage transaction conflict")
)

// ErrAlreadyPrimary is returned when promoting a cluster that is already
// primary, or part of one
type ErrAlreadyPrimary struct {
	RecipeUserID  string
	PrimaryUserID string
}

func (e ErrAlreadyPrimary) Error() string {
	return fmt.Sprintf("recipe user id %s already belongs to primary user %s", e.RecipeUserID, e.PrimaryUserID)
}

// ErrNotPrimary is returned when a link target is not a primary cluster
type ErrNotPrimary struct {
	UserID string
}

func (e ErrNotPrimary) Error() string {
	return fmt.Sprintf("user %s is not a primary user", e.UserID)
}

// ErrAccountInfoConflict is returned when the in-transaction conflict probe
// finds another primary cluster claiming one of the candidate's identifiers
// and the guard rejects the pairing
type ErrAccountInfoConflict struct {
	PrimaryUserID string
}

func (e ErrAccountInfoConflict) Error() string {
	return fmt.Sprintf("account info already associated with primary user %s", e.PrimaryUserID)
}

// ErrSourceHasMultipleMethods is returned when a link source is itself a
// primary cluster with more than one login method
type ErrSourceHasMultipleMethods struct {
	UserID  string
	Methods int
}

func (e ErrSourceHasMultipleMethods) Error() string {
	return fmt.Sprintf("user %s is a primary user with %d login methods and cannot be merged", e.UserID, e.Methods)
}

// ErrInvalidDraft is returned when a login method draft is malformed
type ErrInvalidDraft struct {
	Reason string
}

func (e ErrInvalidDraft) Error() string {
	return fmt.Sprintf("invalid login method draft: %s", e.Reason)
}
