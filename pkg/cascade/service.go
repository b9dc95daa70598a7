package cascade

import (
	"context"
	"errors"

	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/idmapping"
	"github.com/uniauth/identity-core/pkg/tenant"
	"golang.org/x/exp/slog"
)

// CascadeService deletes users with well-defined partial-failure semantics.
//
// Non-auth data is cleaned up before the auth rows: if a cascade step fails,
// the user still exists and the caller sees an error with nothing
// half-deleted from the identity graph itself.
type CascadeService struct {
	repo     identity.Repository
	mappings *idmapping.MappingService
	userData []UserDataStore
	sessions []SessionStore
}

// NewCascadeService creates a new cascade service
func NewCascadeService(repo identity.Repository, mappings *idmapping.MappingService) *CascadeService {
	return &CascadeService{repo: repo, mappings: mappings}
}

// WithUserDataStores registers non-auth data stores to cascade into
func (s *CascadeService) WithUserDataStores(stores ...UserDataStore) *CascadeService {
	s.userData = append(s.userData, stores...)
	return s
}

// WithSessionStores registers session stores to cascade into
func (s *CascadeService) WithSessionStores(stores ...SessionStore) *CascadeService {
	s.sessions = append(s.sessions, stores...)
	return s
}

// DeleteResult reports what a deletion removed
type DeleteResult struct {
	// Existed is false when nothing matched the target id; deletion is
	// idempotent and "already gone" is not an error
	Existed bool
	// DeletedRecipeUserIDs lists the removed login method ids
	DeletedRecipeUserIDs []string
}

// DeleteUser removes a user or a single login method.
//
// With removeAllLinkedAccounts the whole cluster addressed by targetID goes
// away: every login method, plus the mappings, metadata, and sessions keyed
// by any member id. Without it only the login method matching targetID is
// removed, with unlink successor semantics; data keyed by sibling ids and
// the target's own still-existing mapping are left untouched, producing the
// documented intermediate state.
//
// targetID may be an external id; it is resolved through the mapping
// overlay first.
func (s *CascadeService) DeleteUser(ctx context.Context, app tenant.AppIdentifier, targetID string, removeAllLinkedAccounts bool) (DeleteResult, error) {
	app = app.Normalize()

	mapping, hasMapping, err := s.lookupMapping(ctx, app, targetID)
	if err != nil {
		return DeleteResult{}, err
	}
	internalID := targetID
	if hasMapping {
		internalID = mapping.InternalUserID
	}

	if !removeAllLinkedAccounts {
		return s.deleteSingleMethod(ctx, app, internalID)
	}

	user, err := s.repo.GetUserByRecipeUserID(ctx, app, internalID)
	if errors.Is(err, identity.ErrUserNotFound) {
		// auth rows may already be gone while the mapping survives; clean
		// up non-auth data keyed by the requested id, and take the orphaned
		// mapping with it since the caller asked for the full cascade
		existed, err := s.deleteNonAuthData(ctx, app, targetID)
		if err != nil {
			return DeleteResult{}, err
		}
		if hasMapping {
			removed, err := s.mappings.DeleteMapping(ctx, app, mapping.InternalUserID, idmapping.IDTypeInternal, true)
			if err != nil {
				return DeleteResult{}, err
			}
			existed = existed || removed
		}
		return DeleteResult{Existed: existed}, nil
	}
	if err != nil {
		return DeleteResult{}, err
	}

	// non-auth rows first, auth rows last: an error mid-cascade leaves the
	// user present rather than half-vanished
	for _, memberID := range memberRecipeUserIDs(user) {
		externalID, err := s.mappings.Externalize(ctx, app, memberID)
		if err != nil {
			return DeleteResult{}, err
		}
		if externalID != memberID {
			// mapped member: non-auth data lives under the external id
			// unless that id is itself another internal user (migration
			// state), in which case it must be left alone
			ownedElsewhere, err := s.repo.DoesUserIDExist(ctx, app, externalID)
			if err != nil {
				return DeleteResult{}, err
			}
			if !ownedElsewhere {
				if _, err := s.deleteNonAuthData(ctx, app, externalID); err != nil {
					return DeleteResult{}, err
				}
			}
		} else {
			if _, err := s.deleteNonAuthData(ctx, app, memberID); err != nil {
				return DeleteResult{}, err
			}
		}
		if _, err := s.mappings.DeleteMapping(ctx, app, memberID, idmapping.IDTypeInternal, true); err != nil {
			return DeleteResult{}, err
		}
	}

	outcome, err := s.repo.DeleteCluster(ctx, app, user.ID)
	if err != nil {
		return DeleteResult{}, err
	}
	slog.Info("Deleted user cluster", "userId", user.ID, "loginMethods", len(outcome.RecipeUserIDs))
	return DeleteResult{Existed: outcome.Existed, DeletedRecipeUserIDs: outcome.RecipeUserIDs}, nil
}

// deleteSingleMethod removes one login method only, leaving sibling-keyed
// data and the method's own mapping in place
func (s *CascadeService) deleteSingleMethod(ctx context.Context, app tenant.AppIdentifier, recipeUserID string) (DeleteResult, error) {
	outcome, err := s.repo.RemoveLoginMethod(ctx, app, recipeUserID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !outcome.Existed {
		return DeleteResult{Existed: false}, nil
	}
	slog.Info("Deleted login method", "recipeUserId", recipeUserID, "hasRemaining", outcome.HasRemaining)
	return DeleteResult{Existed: true, DeletedRecipeUserIDs: []string{recipeUserID}}, nil
}

func (s *CascadeService) deleteNonAuthData(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	existed := false
	for _, store := range s.userData {
		ok, err := store.DeleteForUser(ctx, app, userID)
		if err != nil {
			return existed, err
		}
		existed = existed || ok
	}
	for _, store := range s.sessions {
		revoked, err := store.DeleteSessionsOfUser(ctx, app, userID)
		if err != nil {
			return existed, err
		}
		existed = existed || revoked > 0
	}
	return existed, nil
}

func (s *CascadeService) lookupMapping(ctx context.Context, app tenant.AppIdentifier, id string) (idmapping.Mapping, bool, error) {
	m, err := s.mappings.GetMapping(ctx, app, id, idmapping.IDTypeAny)
	if errors.Is(err, idmapping.ErrMappingNotFound) {
		return idmapping.Mapping{}, false, nil
	}
	if err != nil {
		return idmapping.Mapping{}, false, err
	}
	return m, true, nil
}

func memberRecipeUserIDs(u identity.User) []string {
	ids := make([]string, 0, len(u.LoginMethods))
	for _, m := range u.LoginMethods {
		ids = append(ids, m.RecipeUserID)
	}
	return ids
}
