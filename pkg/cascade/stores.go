package cascade

import (
	"context"
	"sync"

	"github.com/uniauth/identity-core/pkg/tenant"
)

// UserDataStore is the contract for non-auth data keyed by user id (user
// metadata, roles). Recipes plug their own implementation; deletion is
// idempotent.
type UserDataStore interface {
	DeleteForUser(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error)
	HasDataForUser(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error)
}

// SessionStore is the contract for revoking the sessions of a user id
type SessionStore interface {
	DeleteSessionsOfUser(ctx context.Context, app tenant.AppIdentifier, userID string) (int, error)
}

type storeKey struct {
	app    tenant.AppIdentifier
	userID string
}

// InMemoryUserDataStore implements UserDataStore using in-memory storage
type InMemoryUserDataStore struct {
	mu   sync.RWMutex
	data map[storeKey]map[string]string
}

// NewInMemoryUserDataStore creates a new in-memory user data store
func NewInMemoryUserDataStore() *InMemoryUserDataStore {
	return &InMemoryUserDataStore{data: make(map[storeKey]map[string]string)}
}

// Put stores one metadata entry for a user
func (s *InMemoryUserDataStore) Put(app tenant.AppIdentifier, userID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{app: app.Normalize(), userID: userID}
	if s.data[k] == nil {
		s.data[k] = make(map[string]string)
	}
	s.data[k][key] = value
}

// Get retrieves one metadata entry
func (s *InMemoryUserDataStore) Get(app tenant.AppIdentifier, userID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[storeKey{app: app.Normalize(), userID: userID}][key]
	return value, ok
}

// DeleteForUser removes all metadata of a user id
func (s *InMemoryUserDataStore) DeleteForUser(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{app: app.Normalize(), userID: userID}
	if _, ok := s.data[k]; !ok {
		return false, nil
	}
	delete(s.data, k)
	return true, nil
}

// HasDataForUser reports whether any metadata is keyed by the user id
func (s *InMemoryUserDataStore) HasDataForUser(ctx context.Context, app tenant.AppIdentifier, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[storeKey{app: app.Normalize(), userID: userID}]
	return ok, nil
}

// InMemorySessionStore implements SessionStore using in-memory storage
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[storeKey][]string
}

// NewInMemorySessionStore creates a new in-memory session store
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[storeKey][]string)}
}

// Add records a session handle for a user
func (s *InMemorySessionStore) Add(app tenant.AppIdentifier, userID, sessionHandle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{app: app.Normalize(), userID: userID}
	s.sessions[k] = append(s.sessions[k], sessionHandle)
}

// Count returns the number of live sessions for a user
func (s *InMemorySessionStore) Count(app tenant.AppIdentifier, userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions[storeKey{app: app.Normalize(), userID: userID}])
}

// DeleteSessionsOfUser revokes every session of the user id
func (s *InMemorySessionStore) DeleteSessionsOfUser(ctx context.Context, app tenant.AppIdentifier, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{app: app.Normalize(), userID: userID}
	revoked := len(s.sessions[k])
	delete(s.sessions, k)
	return revoked, nil
}
