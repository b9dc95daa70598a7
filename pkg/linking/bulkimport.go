package linking

import (
	"context"

	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
)

// StagedUser is one record of a bulk import: the login methods of a single
// identity and the tenants it should be associated with. The first method
// becomes the primary address when Link is true.
type StagedUser struct {
	Tenant  tenant.TenantIdentifier
	Tenants []tenant.TenantIdentifier
	Methods []identity.LoginMethodDraft
	Link    bool
}

// ImportResult reports the outcome for one staged user. Errors lists every
// violation found for the record; a record with errors is skipped without
// aborting the batch.
type ImportResult struct {
	User   identity.User
	Errors []error
}

// ValidateStagedUser runs the pre-flight checks a bulk importer needs:
// recipe validity and storage-shard compatibility across the declared
// tenants. Errors are typed, one per violation.
func (s *LinkingService) ValidateStagedUser(ctx context.Context, staged StagedUser) []error {
	var errs []error
	if len(staged.Methods) == 0 {
		errs = append(errs, identity.ErrInvalidDraft{Reason: "no login methods"})
	}
	for _, draft := range staged.Methods {
		if !draft.RecipeID.IsValid() {
			errs = append(errs, identity.ErrInvalidDraft{Reason: "unknown recipe id: " + string(draft.RecipeID)})
		}
	}
	tenants := append([]tenant.TenantIdentifier{staged.Tenant}, staged.Tenants...)
	if err := s.pools.AssertSameUserPool(tenants); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// ImportUsers imports staged users one record at a time. Each unit of work
// is one of the engine's atomic operations, so a crash mid-batch leaves no
// half-linked identity. Per-record failures are collected, never aborting
// the batch.
func (s *LinkingService) ImportUsers(ctx context.Context, staged []StagedUser) []ImportResult {
	results := make([]ImportResult, len(staged))
	for i, record := range staged {
		results[i] = s.importOne(ctx, record)
	}
	return results
}

func (s *LinkingService) importOne(ctx context.Context, record StagedUser) ImportResult {
	if errs := s.ValidateStagedUser(ctx, record); len(errs) > 0 {
		return ImportResult{Errors: errs}
	}

	app := record.Tenant.ToAppIdentifier()
	var primaryID string
	var result ImportResult
	for i, draft := range record.Methods {
		method, err := s.repo.CreateLoginMethod(ctx, record.Tenant, draft)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if i == 0 {
			primaryID = method.RecipeUserID
			if record.Link {
				if _, err := s.CreatePrimaryUser(ctx, app, primaryID); err != nil {
					result.Errors = append(result.Errors, err)
				}
			}
			continue
		}
		if record.Link {
			if _, err := s.LinkAccounts(ctx, app, method.RecipeUserID, primaryID); err != nil {
				result.Errors = append(result.Errors, err)
			}
		}
	}
	if primaryID != "" && len(result.Errors) == 0 {
		user, err := s.repo.GetUserByRecipeUserID(ctx, app, primaryID)
		if err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.User = user
		}
	}
	return result
}
