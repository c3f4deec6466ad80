// Package session defines the SessionStore collaborator contract the
// Connection Manager uses to validate client tokens and fetch display
// info (spec.md §6). Persistence of the underlying player/session
// records in a graph store is explicitly out of scope for the core; this
// package only carries the contract plus an in-memory stand-in suitable
// for tests and single-node deployments without an external store wired
// up yet.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RoleAdmin is the only role name the core elevates on; every other
// value (including empty) is treated as unprivileged per §9's "no
// elevation" default.
const RoleAdmin = "admin"

// UserSessionRecord is what a SessionStore returns for a valid token:
// enough for the Connection Manager to authenticate, fill in user_id,
// and decide whether the connection's principal is elevated.
type UserSessionRecord struct {
	UserID      string
	DisplayName string
	Role        string
	ExpiresAt   time.Time
}

// IsAdmin reports whether this record's role is elevated.
func (r *UserSessionRecord) IsAdmin() bool {
	return r != nil && r.Role == RoleAdmin
}

// Store is the external collaborator interface: Get validates a token
// and returns the session it maps to; Put/Delete manage the mapping.
// None of this is implemented by the core beyond the in-memory Store
// below — a production deployment wires its own graph/cache-backed
// implementation.
type Store interface {
	Get(ctx context.Context, token string) (*UserSessionRecord, error)
	Put(ctx context.Context, token string, rec *UserSessionRecord) error
	Delete(ctx context.Context, token string) error
}

// ErrNotFound is returned by Get when the token is unknown or expired.
var ErrNotFound = fmt.Errorf("session: token not found or expired")

// InMemoryStore is a Store backed by a guarded map, useful for local
// development and tests that do not stand up a real session backend.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*UserSessionRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*UserSessionRecord)}
}

func (s *InMemoryStore) Get(ctx context.Context, token string) (*UserSessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *InMemoryStore) Put(ctx context.Context, token string, rec *UserSessionRecord) error {
	if token == "" {
		return fmt.Errorf("session: token cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.records[token] = &copied
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}
