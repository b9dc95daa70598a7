package idmapping

import (
	"context"
	"errors"

	"github.com/uniauth/identity-core/pkg/identity"
	"github.com/uniauth/identity-core/pkg/tenant"
	"golang.org/x/exp/slog"
)

// UserIDChecker reports whether an id exists as an internal user id;
// satisfied by identity.Repository and identity.Router
type UserIDChecker interface {
	DoesUserIDExist(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error)
}

// MappingService manages the external user id overlay. Mappings are a pure
// presentation layer: creating or deleting one never touches the underlying
// identity.
type MappingService struct {
	repo  MappingRepository
	users UserIDChecker
	inUse func(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error)
}

// NewMappingService creates a new mapping service
func NewMappingService(repo MappingRepository, users UserIDChecker) *MappingService {
	return &MappingService{repo: repo, users: users}
}

// WithExternalIDInUseCheck installs a probe reporting whether non-auth data
// is still keyed by an external id; DeleteMapping consults it unless force
// is passed
func (s *MappingService) WithExternalIDInUseCheck(fn func(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error)) *MappingService {
	s.inUse = fn
	return s
}

// CreateMapping maps an internal user id to an externally-chosen id.
//
// Without force the internal id must exist and the external id must not
// itself be an internal user id. Force skips both checks; migration flows
// use it to map identities that are mid-import ("intermediate state").
func (s *MappingService) CreateMapping(ctx context.Context, app tenant.AppIdentifier, internalID, externalID, externalInfo string, force bool) error {
	app = app.Normalize()

	// either side already mapped wins over every other failure
	if existing, err := s.repo.GetByInternalID(ctx, app, internalID); err == nil {
		return ErrMappingAlreadyExists{
			InternalIDMapped: true,
			ExternalIDMapped: existing.ExternalUserID == externalID,
		}
	} else if !errors.Is(err, ErrMappingNotFound) {
		return err
	}
	if _, err := s.repo.GetByExternalID(ctx, app, externalID); err == nil {
		return ErrMappingAlreadyExists{ExternalIDMapped: true}
	} else if !errors.Is(err, ErrMappingNotFound) {
		return err
	}

	if !force {
		exists, err := s.users.DoesUserIDExist(ctx, app, internalID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUnknownInternalUserID{InternalUserID: internalID}
		}
		externalExists, err := s.users.DoesUserIDExist(ctx, app, externalID)
		if err != nil {
			return err
		}
		if externalExists {
			return ErrExternalIDIsInternalID{ExternalUserID: externalID}
		}
	}

	if err := s.repo.Create(ctx, app, Mapping{
		InternalUserID: internalID,
		ExternalUserID: externalID,
		ExternalInfo:   externalInfo,
	}); err != nil {
		return err
	}
	slog.Info("Created user id mapping", "internalUserId", internalID, "externalUserId", externalID)
	return nil
}

// GetMapping looks up a mapping by either side
func (s *MappingService) GetMapping(ctx context.Context, app tenant.AppIdentifier, id string, idType IDType) (Mapping, error) {
	app = app.Normalize()
	switch idType {
	case IDTypeInternal:
		return s.repo.GetByInternalID(ctx, app, id)
	case IDTypeExternal:
		return s.repo.GetByExternalID(ctx, app, id)
	default:
		if m, err := s.repo.GetByInternalID(ctx, app, id); err == nil {
			return m, nil
		} else if !errors.Is(err, ErrMappingNotFound) {
			return Mapping{}, err
		}
		return s.repo.GetByExternalID(ctx, app, id)
	}
}

// Resolve translates any externally-supplied id to the internal id every
// other component joins on. Returns the input unchanged when no mapping
// exists. Every read and write path of the admin surface goes through this.
func (s *MappingService) Resolve(ctx context.Context, app tenant.AppIdentifier, anyID string) (string, bool, error) {
	m, err := s.GetMapping(ctx, app, anyID, IDTypeAny)
	if errors.Is(err, ErrMappingNotFound) {
		return anyID, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.InternalUserID, true, nil
}

// Externalize translates an internal id to its external form for
// serialization, if mapped
func (s *MappingService) Externalize(ctx context.Context, app tenant.AppIdentifier, internalID string) (string, error) {
	m, err := s.repo.GetByInternalID(ctx, app, internalID)
	if errors.Is(err, ErrMappingNotFound) {
		return internalID, nil
	}
	if err != nil {
		return "", err
	}
	return m.ExternalUserID, nil
}

// ExternalizeUser rewrites a user's cluster id for external consumption.
// Member recipe user ids stay internal; only the cluster address is
// translated.
func (s *MappingService) ExternalizeUser(ctx context.Context, app tenant.AppIdentifier, user identity.User) (identity.User, error) {
	externalID, err := s.Externalize(ctx, app, user.ID)
	if err != nil {
		return identity.User{}, err
	}
	user.ID = externalID
	return user, nil
}

// DeleteMapping removes a mapping by either side. Idempotent: reports
// whether a row existed instead of failing on "already gone". Never cascades
// to the underlying user.
//
// Without force the deletion is refused while non-auth data may still be
// keyed by the external id; callers that know better pass force.
func (s *MappingService) DeleteMapping(ctx context.Context, app tenant.AppIdentifier, id string, idType IDType, force bool) (bool, error) {
	app = app.Normalize()
	m, err := s.GetMapping(ctx, app, id, idType)
	if errors.Is(err, ErrMappingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !force && s.inUse != nil {
		used, err := s.inUse(ctx, app, m.ExternalUserID)
		if err != nil {
			return false, err
		}
		if used {
			return false, ErrExternalIDStillInUse{ExternalUserID: m.ExternalUserID}
		}
	}

	// delete by the side the caller addressed
	var existed bool
	if idType == IDTypeExternal {
		existed, err = s.repo.DeleteByExternalID(ctx, app, m.ExternalUserID)
	} else {
		existed, err = s.repo.DeleteByInternalID(ctx, app, m.InternalUserID)
	}
	if err != nil {
		return false, err
	}
	if existed {
		slog.Info("Deleted user id mapping", "internalUserId", m.InternalUserID)
	}
	return existed, nil
}
