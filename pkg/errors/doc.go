// Package errors provides structured error handling with error codes for
// identity-core.
//
// This package standardizes error handling across all services with typed
// error codes, structured error details, and automatic HTTP status code
// mapping.
//
// # Basic Usage
//
// Creating errors with codes:
//
//	import "github.com/uniauth/identity-core/pkg/errors"
//
//	// Create a simple error
//	err := errors.New(errors.ErrCodeUserNotFound, "user not found")
//
//	// Create error with formatted message
//	err := errors.Newf(errors.ErrCodeInvalidInput, "invalid recipe id: %s", recipeID)
//
//	// Wrap an existing error
//	err := errors.Wrap(dbErr, errors.ErrCodeInternal, "failed to query database")
//
//	// Use convenience constructors
//	err := errors.NotFound("user", userID)
//	err := errors.AlreadyExists("user id mapping", externalID)
//
// # Error Codes
//
// All error codes are strongly typed and organized by category:
//
// Generic:
//   - ErrCodeInternal
//   - ErrCodeInvalidInput
//   - ErrCodeNotFound
//   - ErrCodeAlreadyExists
//   - ErrCodeConflict
//   - ErrCodeInvariantViolation
//   - ErrCodeTransient
//
// Tenant addressing:
//   - ErrCodeTenantOrAppNotFound
//   - ErrCodeStorageShardMismatch
//
// Account linking:
//   - ErrCodeRecipeUserIDAlreadyLinked
//   - ErrCodeAccountInfoAlreadyAssociated
//   - ErrCodeInputUserNotPrimary
//
// See errors.go for the complete list of error codes.
//
// # HTTP Status Code Mapping
//
// Automatically map errors to HTTP status codes:
//
//	func handleError(w http.ResponseWriter, err error) {
//		var structuredErr *errors.Error
//		if errors.As(err, &structuredErr) {
//			statusCode := structuredErr.HTTPStatusCode()
//			http.Error(w, structuredErr.Message, statusCode)
//			return
//		}
//		http.Error(w, "Internal server error", 500)
//	}
//
// Error code to HTTP status mapping:
//   - ErrCodeInvalidInput → 400 Bad Request
//   - ErrCodeNotFound → 404 Not Found
//   - ErrCodeConflict → 409 Conflict
//   - ErrCodeTransient → 503 Service Unavailable
//   - ErrCodeInternal → 500 Internal Server Error
//
// The domain packages return their own typed errors (identity.ErrUserNotFound,
// linking.ErrRecipeUserIDAlreadyLinked and friends); the HTTP layer translates
// those into this package's coded form at the boundary. Standard error
// wrapping with errors.Is and errors.As keeps working through the translation.
package errors
