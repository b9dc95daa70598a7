package idmapping

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uniauth/identity-core/pkg/tenant"
)

// MappingRepository defines the storage contract for user id mappings. Like
// the identity repository, each implementation is scoped to one user pool.
type MappingRepository interface {
	Create(ctx context.Context, app tenant.AppIdentifier, mapping Mapping) error
	GetByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (Mapping, error)
	GetByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (Mapping, error)
	// DeleteByInternalID and DeleteByExternalID report whether a row existed
	DeleteByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (bool, error)
	DeleteByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error)
}

// InMemoryMappingRepository implements MappingRepository using in-memory
// storage
type InMemoryMappingRepository struct {
	mu       sync.RWMutex
	mappings map[tenant.AppIdentifier]map[string]Mapping // keyed by internal id
}

// NewInMemoryMappingRepository creates a new in-memory mapping repository
func NewInMemoryMappingRepository() *InMemoryMappingRepository {
	return &InMemoryMappingRepository{
		mappings: make(map[tenant.AppIdentifier]map[string]Mapping),
	}
}

func (r *InMemoryMappingRepository) app(app tenant.AppIdentifier) map[string]Mapping {
	return r.mappings[app.Normalize()]
}

// Create stores a mapping; uniqueness of both sides is the service's
// responsibility, re-checked here under the lock
func (r *InMemoryMappingRepository) Create(ctx context.Context, app tenant.AppIdentifier, mapping Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app = app.Normalize()
	byInternal, ok := r.mappings[app]
	if !ok {
		byInternal = make(map[string]Mapping)
		r.mappings[app] = byInternal
	}
	if _, exists := byInternal[mapping.InternalUserID]; exists {
		return ErrMappingAlreadyExists{InternalIDMapped: true}
	}
	for _, m := range byInternal {
		if m.ExternalUserID == mapping.ExternalUserID {
			return ErrMappingAlreadyExists{ExternalIDMapped: true}
		}
	}
	byInternal[mapping.InternalUserID] = mapping
	return nil
}

// GetByInternalID retrieves a mapping by its internal side
func (r *InMemoryMappingRepository) GetByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.app(app)[internalID]; ok {
		return m, nil
	}
	return Mapping{}, ErrMappingNotFound
}

// GetByExternalID retrieves a mapping by its external side
func (r *InMemoryMappingRepository) GetByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.app(app) {
		if m.ExternalUserID == externalID {
			return m, nil
		}
	}
	return Mapping{}, ErrMappingNotFound
}

// DeleteByInternalID removes a mapping by its internal side
func (r *InMemoryMappingRepository) DeleteByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byInternal := r.app(app)
	if _, ok := byInternal[internalID]; !ok {
		return false, nil
	}
	delete(byInternal, internalID)
	return true, nil
}

// DeleteByExternalID removes a mapping by its external side
func (r *InMemoryMappingRepository) DeleteByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byInternal := r.app(app)
	for internalID, m := range byInternal {
		if m.ExternalUserID == externalID {
			delete(byInternal, internalID)
			return true, nil
		}
	}
	return false, nil
}

// PostgresMappingRepository implements MappingRepository using PostgreSQL
type PostgresMappingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresMappingRepository creates a new PostgreSQL mapping repository
func NewPostgresMappingRepository(pool *pgxpool.Pool) *PostgresMappingRepository {
	return &PostgresMappingRepository{pool: pool}
}

// Create stores a mapping; the unique constraints on both sides turn races
// into ErrMappingAlreadyExists
func (r *PostgresMappingRepository) Create(ctx context.Context, app tenant.AppIdentifier, mapping Mapping) error {
	app = app.Normalize()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_id_mapping (conn_uri_domain, app_id, internal_user_id, external_user_id, external_user_id_info)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		app.ConnectionURIDomain, app.AppID, mapping.InternalUserID, mapping.ExternalUserID, mapping.ExternalInfo)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.GetByInternalID(ctx, app, mapping.InternalUserID)
			if getErr == nil {
				return ErrMappingAlreadyExists{
					InternalIDMapped: true,
					ExternalIDMapped: existing.ExternalUserID == mapping.ExternalUserID,
				}
			}
			return ErrMappingAlreadyExists{ExternalIDMapped: true}
		}
		return fmt.Errorf("failed to create user id mapping: %w", err)
	}
	return nil
}

func (r *PostgresMappingRepository) get(ctx context.Context, app tenant.AppIdentifier, column, id string) (Mapping, error) {
	app = app.Normalize()
	var m Mapping
	var info *string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT internal_user_id, external_user_id, external_user_id_info
		FROM user_id_mapping
		WHERE conn_uri_domain = $1 AND app_id = $2 AND %s = $3`, column),
		app.ConnectionURIDomain, app.AppID, id).Scan(&m.InternalUserID, &m.ExternalUserID, &info)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrMappingNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to get user id mapping: %w", err)
	}
	if info != nil {
		m.ExternalInfo = *info
	}
	return m, nil
}

// GetByInternalID retrieves a mapping by its internal side
func (r *PostgresMappingRepository) GetByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (Mapping, error) {
	return r.get(ctx, app, "internal_user_id", internalID)
}

// GetByExternalID retrieves a mapping by its external side
func (r *PostgresMappingRepository) GetByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (Mapping, error) {
	return r.get(ctx, app, "external_user_id", externalID)
}

func (r *PostgresMappingRepository) delete(ctx context.Context, app tenant.AppIdentifier, column, id string) (bool, error) {
	app = app.Normalize()
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM user_id_mapping
		WHERE conn_uri_domain = $1 AND app_id = $2 AND %s = $3`, column),
		app.ConnectionURIDomain, app.AppID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user id mapping: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByInternalID removes a mapping by its internal side
func (r *PostgresMappingRepository) DeleteByInternalID(ctx context.Context, app tenant.AppIdentifier, internalID string) (bool, error) {
	return r.delete(ctx, app, "internal_user_id", internalID)
}

// DeleteByExternalID removes a mapping by its external side
func (r *PostgresMappingRepository) DeleteByExternalID(ctx context.Context, app tenant.AppIdentifier, externalID string) (bool, error) {
	return r.delete(ctx, app, "external_user_id", externalID)
}

func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var state sqlState
	return errors.As(err, &state) && state.SQLState() == "23505"
}
