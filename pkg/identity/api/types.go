package api

import "github.com/uniauth/identity-core/pkg/identity"

// ThirdPartyResponse mirrors identity.ThirdParty on the wire
type ThirdPartyResponse struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// LoginMethodResponse is the wire form of one login method
type LoginMethodResponse struct {
	RecipeUserID string              `json:"recipeUserId"`
	RecipeID     identity.RecipeID   `json:"recipeId"`
	Email        string              `json:"email,omitempty"`
	PhoneNumber  string              `json:"phoneNumber,omitempty"`
	ThirdParty   *ThirdPartyResponse `json:"thirdParty,omitempty"`
	Verified     bool                `json:"verified"`
	TimeJoined   int64               `json:"timeJoined"`
	TenantIDs    []string            `json:"tenantIds"`
}

// UserResponse is the wire form of one user cluster
type UserResponse struct {
	ID            string                `json:"id"`
	IsPrimaryUser bool                  `json:"isPrimaryUser"`
	TimeJoined    int64                 `json:"timeJoined"`
	LoginMethods  []LoginMethodResponse `json:"loginMethods"`
	Emails        []string              `json:"emails"`
	PhoneNumbers  []string              `json:"phoneNumbers"`
	ThirdParties  []ThirdPartyResponse  `json:"thirdParties"`
}

// ListUsersResponse is one page of users
type ListUsersResponse struct {
	Users               []UserResponse `json:"users"`
	NextPaginationToken string         `json:"nextPaginationToken,omitempty"`
}

// CountUsersResponse carries a filtered user count
type CountUsersResponse struct {
	Count int64 `json:"count"`
}

// DeleteUserResponse reports what a deletion removed
type DeleteUserResponse struct {
	Existed              bool     `json:"existed"`
	DeletedRecipeUserIDs []string `json:"deletedRecipeUserIds,omitempty"`
}

// ErrorResponse is the uniform error body of the admin surface
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
