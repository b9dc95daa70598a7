package pagination

import (
	"errors"
	"fmt"
)

// ErrInvalidPaginationToken is returned when a token cannot be decoded, has
// an unknown version, or was issued for the opposite direction. Stale but
// well-formed tokens are not an error; they simply resume from their
// watermark.
var ErrInvalidPaginationToken = errors.New("invalid pagination token")

// ErrLimitTooLarge is returned when the requested page size exceeds MaxLimit
type ErrLimitTooLarge struct {
	Limit int
}

func (e ErrLimitTooLarge) Error() string {
	return fmt.Sprintf("limit %d exceeds the maximum of %d", e.Limit, MaxLimit)
}

// ErrUnknownRecipeID is returned when includeRecipeIds names a recipe this
// core does not know
type ErrUnknownRecipeID struct {
	RecipeID string
}

func (e ErrUnknownRecipeID) Error() string {
	return fmt.Sprintf("unknown recipe id: %s", e.RecipeID)
}
