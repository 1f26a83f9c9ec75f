// ABOUTME: In-memory PrincipalStore for tests and ephemeral deployments
// ABOUTME: Allows the auth stack to run without SQLite

package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory PrincipalStore implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal // keyed by principal ID
	byUsername map[string]string     // username -> principal ID
}

// Ensure MemoryStore implements PrincipalStore.
var _ PrincipalStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*Principal),
		byUsername: make(map[string]string),
	}
}

// CreatePrincipal stores a new principal. The username check and insert
// happen under one lock.
func (m *MemoryStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if err := validatePrincipal(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[p.Username]; exists {
		return ErrUsernameExists
	}

	// Make a copy to avoid external modification
	cp := *p
	m.principals[cp.ID] = &cp
	m.byUsername[cp.Username] = cp.ID
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (m *MemoryStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

// GetPrincipalByUsername retrieves a principal by exact username.
func (m *MemoryStore) GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *m.principals[id]
	return &cp, nil
}

// CountPrincipals returns the number of stored principals.
func (m *MemoryStore) CountPrincipals(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.principals), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
