package linking

import "github.com/uniauth/identity-core/pkg/identity"

// ConflictPolicy decides whether a link or promotion may proceed when one of
// the candidate method's identifiers is already claimed by a different
// primary cluster. Returning true allows the operation.
//
// The verified/unverified handling of shared identifiers is deliberately
// pluggable: deployments differ on whether an unverified email on one side
// should block linking.
type ConflictPolicy func(candidate identity.LoginMethod, claimedBy identity.User) bool

// StrictConflictPolicy blocks whenever another primary cluster claims the
// identifier, regardless of verification state. This is the default.
func StrictConflictPolicy(candidate identity.LoginMethod, claimedBy identity.User) bool {
	return false
}

// VerifiedOnlyConflictPolicy blocks only when the claiming cluster holds the
// shared identifier in verified form; unverified claims do not reserve the
// identifier.
func VerifiedOnlyConflictPolicy(candidate identity.LoginMethod, claimedBy identity.User) bool {
	info := candidate.AccountInfo()
	for _, m := range claimedBy.LoginMethods {
		if !m.Verified {
			continue
		}
		if info.Email != "" && m.Email == info.Email {
			return false
		}
		if info.PhoneNumber != "" && m.PhoneNumber == info.PhoneNumber {
			return false
		}
		if info.ThirdParty != nil && m.ThirdParty != nil &&
			m.ThirdParty.ID == info.ThirdParty.ID && m.ThirdParty.UserID == info.ThirdParty.UserID {
			return false
		}
	}
	return true
}
