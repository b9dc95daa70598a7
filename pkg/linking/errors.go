package linking

import (
	"errors"
	"fmt"
)

// ErrStorageContention is returned when a linking transaction kept losing
// lock races after the bounded retries. The caller may retry the whole
// operation.
var ErrStorageContention = errors.New("storage contention: linking transaction retries exhausted")

// ErrRecipeUserIDAlreadyLinked is returned when the recipe user id already
// belongs to a primary cluster
type ErrRecipeUserIDAlreadyLinked struct {
	RecipeUserID  string
	PrimaryUserID string
}

func (e ErrRecipeUserIDAlreadyLinked) Error() string {
	return fmt.Sprintf("recipe user id %s is already linked to primary user %s", e.RecipeUserID, e.PrimaryUserID)
}

// ErrAccountInfoAlreadyAssociated is returned when one of the candidate's
// identifiers is already claimed by a different primary cluster and the
// conflict policy blocks the operation
type ErrAccountInfoAlreadyAssociated struct {
	PrimaryUserID string
}

func (e ErrAccountInfoAlreadyAssociated) Error() string {
	return fmt.Sprintf("account info is already associated with primary user %s", e.PrimaryUserID)
}

// ErrInputUserNotPrimary is returned when a link target is not a primary
// cluster
type ErrInputUserNotPrimary struct {
	UserID string
}

func (e ErrInputUserNotPrimary) Error() string {
	return fmt.Sprintf("input user %s is not a primary user", e.UserID)
}

// ErrCrossPoolLink is returned when the two clusters' tenants resolve to
// different user pools. This indicates a caller logic error upstream; no
// partial mutation has happened.
type ErrCrossPoolLink struct {
	Cause error
}

func (e ErrCrossPoolLink) Error() string {
	return fmt.Sprintf("accounts cannot be linked across user pools: %v", e.Cause)
}

func (e ErrCrossPoolLink) Unwrap() error {
	return e.Cause
}
