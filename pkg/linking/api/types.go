package api

import "github.com/uniauth/identity-core/pkg/identity"

// CreatePrimaryUserRequest promotes a single-method cluster to primary
type CreatePrimaryUserRequest struct {
	RecipeUserID string `json:"recipeUserId"`
}

// CreatePrimaryUserResponse carries the promoted user
type CreatePrimaryUserResponse struct {
	User              identity.User `json:"user"`
	WasAlreadyPrimary bool          `json:"wasAlreadyPrimary"`
}

// LinkAccountsRequest links the cluster owning recipeUserId into the primary
// user addressed by primaryUserId
type LinkAccountsRequest struct {
	RecipeUserID  string `json:"recipeUserId"`
	PrimaryUserID string `json:"primaryUserId"`
}

// LinkAccountsResponse carries the merged cluster and the identifiers it
// newly gained
type LinkAccountsResponse struct {
	User                  identity.User        `json:"user"`
	AccountsAlreadyLinked bool                 `json:"accountsAlreadyLinked"`
	NewEmails             []string             `json:"newEmails,omitempty"`
	NewPhoneNumbers       []string             `json:"newPhoneNumbers,omitempty"`
	NewThirdParties       []identity.ThirdParty `json:"newThirdParties,omitempty"`
}

// UnlinkAccountRequest detaches one login method from its cluster
type UnlinkAccountRequest struct {
	RecipeUserID string `json:"recipeUserId"`
}

// UnlinkAccountResponse carries both halves of the split
type UnlinkAccountResponse struct {
	DetachedUser        identity.User  `json:"detachedUser"`
	RemainingUser       *identity.User `json:"remainingUser,omitempty"`
	HasRemaining        bool           `json:"hasRemaining"`
	RemovedEmails       []string       `json:"removedEmails,omitempty"`
	RemovedPhoneNumbers []string       `json:"removedPhoneNumbers,omitempty"`
}

// StagedMethodRequest is one login method of a bulk import record
type StagedMethodRequest struct {
	RecipeID    identity.RecipeID    `json:"recipeId"`
	Email       string               `json:"email,omitempty"`
	PhoneNumber string               `json:"phoneNumber,omitempty"`
	ThirdParty  *identity.ThirdParty `json:"thirdParty,omitempty"`
	Verified    bool                 `json:"verified"`
	TimeJoined  int64                `json:"timeJoined"`
}

// StagedUserRequest is one record of a bulk import
type StagedUserRequest struct {
	TenantIDs []string              `json:"tenantIds,omitempty"`
	Methods   []StagedMethodRequest `json:"methods"`
	Link      bool                  `json:"link"`
}

// ImportUsersRequest is a batch of staged users
type ImportUsersRequest struct {
	Users []StagedUserRequest `json:"users"`
}

// ImportResultResponse reports the outcome for one record
type ImportResultResponse struct {
	User   identity.User `json:"user"`
	Errors []string      `json:"errors,omitempty"`
}

// ImportUsersResponse carries per-record outcomes; failed records never
// abort the batch
type ImportUsersResponse struct {
	Results []ImportResultResponse `json:"results"`
}

// ErrorResponse is the uniform error body of the linking surface
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
