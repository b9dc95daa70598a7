package identity

import (
	"strings"

	"github.com/uniauth/identity-core/pkg/tenant"
)

// RecipeID identifies the auth recipe a login method was created by. The set
// of recipes is closed; storage implementations switch on the tag for their
// uniqueness probes instead of relying on dynamic dispatch.
type RecipeID string

const (
	RecipeEmailPassword RecipeID = "emailpassword"
	RecipeThirdParty    RecipeID = "thirdparty"
	RecipePasswordless  RecipeID = "passwordless"
)

// AllRecipeIDs lists every known recipe
var AllRecipeIDs = []RecipeID{RecipeEmailPassword, RecipeThirdParty, RecipePasswordless}

// IsValid reports whether the recipe id is one of the known recipes
func (r RecipeID) IsValid() bool {
	switch r {
	case RecipeEmailPassword, RecipeThirdParty, RecipePasswordless:
		return true
	}
	return false
}

// ThirdParty identifies a social/OIDC provider account
type ThirdParty struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// AccountInfo carries the recipe-specific identifiers of a login method.
// Which fields are meaningful depends on the recipe tag the probe switches
// on.
type AccountInfo struct {
	Email       string      `json:"email,omitempty"`
	PhoneNumber string      `json:"phone_number,omitempty"`
	ThirdParty  *ThirdParty `json:"third_party,omitempty"`
}

// Normalize lower-cases and trims the email; phone numbers are stored as
// given by the recipe collaborator, which has already canonicalized them.
func (a AccountInfo) Normalize() AccountInfo {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
	return a
}

// IsEmpty reports whether no identifier is set
func (a AccountInfo) IsEmpty() bool {
	return a.Email == "" && a.PhoneNumber == "" && a.ThirdParty == nil
}

// LoginMethod is the immutable identity of a single credential. The
// RecipeUserID is assigned at creation and never changes, even after the
// method is linked into another cluster.
type LoginMethod struct {
	RecipeUserID string      `json:"recipe_user_id"`
	RecipeID     RecipeID    `json:"recipe_id"`
	Email        string      `json:"email,omitempty"`
	PhoneNumber  string      `json:"phone_number,omitempty"`
	ThirdParty   *ThirdParty `json:"third_party,omitempty"`
	Verified     bool        `json:"verified"`
	TimeJoined   int64       `json:"time_joined"`
	TenantIDs    []string    `json:"tenant_ids"`
}

// AccountInfo extracts the identifiers of this method
func (m LoginMethod) AccountInfo() AccountInfo {
	return AccountInfo{
		Email:       m.Email,
		PhoneNumber: m.PhoneNumber,
		ThirdParty:  m.ThirdParty,
	}
}

// HasTenant reports whether the method is usable in the given tenant
func (m LoginMethod) HasTenant(tenantID string) bool {
	for _, t := range m.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// LoginMethodDraft is the validated input a recipe collaborator supplies to
// create a new login method. Credential verification has already happened;
// the core only persists the result.
type LoginMethodDraft struct {
	RecipeID    RecipeID
	Email       string
	PhoneNumber string
	ThirdParty  *ThirdParty
	Verified    bool
	TimeJoined  int64
}

// User is an identity cluster: one or more login methods addressed by a
// single id. The id equals the RecipeUserID of whichever method was
// designated primary; linking further methods never changes it. LoginMethods
// keeps link order, and the first element's TimeJoined is the cluster's
// TimeJoined.
type User struct {
	ID            string        `json:"id"`
	IsPrimaryUser bool          `json:"is_primary_user"`
	TimeJoined    int64         `json:"time_joined"`
	LoginMethods  []LoginMethod `json:"login_methods"`
}

// Emails returns the distinct emails across all login methods, in link order
func (u User) Emails() []string {
	var emails []string
	seen := make(map[string]bool)
	for _, m := range u.LoginMethods {
		if m.Email != "" && !seen[m.Email] {
			seen[m.Email] = true
			emails = append(emails, m.Email)
		}
	}
	return emails
}

// PhoneNumbers returns the distinct phone numbers across all login methods
func (u User) PhoneNumbers() []string {
	var phones []string
	seen := make(map[string]bool)
	for _, m := range u.LoginMethods {
		if m.PhoneNumber != "" && !seen[m.PhoneNumber] {
			seen[m.PhoneNumber] = true
			phones = append(phones, m.PhoneNumber)
		}
	}
	return phones
}

// ThirdParties returns the third-party accounts across all login methods
func (u User) ThirdParties() []ThirdParty {
	var parties []ThirdParty
	for _, m := range u.LoginMethods {
		if m.ThirdParty != nil {
			parties = append(parties, *m.ThirdParty)
		}
	}
	return parties
}

// LoginMethodsOfRecipe returns the methods created by the given recipe
func (u User) LoginMethodsOfRecipe(recipe RecipeID) []LoginMethod {
	var methods []LoginMethod
	for _, m := range u.LoginMethods {
		if m.RecipeID == recipe {
			methods = append(methods, m)
		}
	}
	return methods
}

// HasRecipe reports whether any login method belongs to the given recipe
func (u User) HasRecipe(recipe RecipeID) bool {
	for _, m := range u.LoginMethods {
		if m.RecipeID == recipe {
			return true
		}
	}
	return false
}

// TenantIDs returns the union of tenant ids across all login methods
func (u User) TenantIDs() []string {
	var tenants []string
	seen := make(map[string]bool)
	for _, m := range u.LoginMethods {
		for _, t := range m.TenantIDs {
			if !seen[t] {
				seen[t] = true
				tenants = append(tenants, t)
			}
		}
	}
	return tenants
}

// TenantIdentifiers expands TenantIDs into full tenant identifiers under the
// given app
func (u User) TenantIdentifiers(app tenant.AppIdentifier) []tenant.TenantIdentifier {
	ids := u.TenantIDs()
	tenants := make([]tenant.TenantIdentifier, 0, len(ids))
	for _, id := range ids {
		tenants = append(tenants, app.WithTenant(id))
	}
	return tenants
}

// HasRecipeUserID reports whether the cluster owns the given recipe user id
func (u User) HasRecipeUserID(recipeUserID string) bool {
	for _, m := range u.LoginMethods {
		if m.RecipeUserID == recipeUserID {
			return true
		}
	}
	return false
}

// LoginMethodByRecipeUserID returns the method with the given id, if owned
func (u User) LoginMethodByRecipeUserID(recipeUserID string) (LoginMethod, bool) {
	for _, m := range u.LoginMethods {
		if m.RecipeUserID == recipeUserID {
			return m, true
		}
	}
	return LoginMethod{}, false
}
