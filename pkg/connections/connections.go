// Package connections models downstream endpoint registrations and
// their storage.
package connections

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Status of a registered connection.
type Status string

const (
	// StatusActive means the connection accepts proxied traffic.
	StatusActive Status = "active"

	// StatusInactive means the connection is registered but refuses
	// traffic until reactivated.
	StatusInactive Status = "inactive"
)

// Configuration is the per-connection integration config. State holds the
// integration's stored values keyed by name; Scopes lists "KEY::SCOPE"
// entries used to mint delegated credentials from state values.
type Configuration struct {
	Schema map[string]any `json:"schema,omitempty"`
	State  map[string]any `json:"state,omitempty"`
	Scopes []string       `json:"scopes,omitempty"`
}

// Connection is one registered downstream endpoint.
type Connection struct {
	// ID uniquely identifies the connection.
	ID string `json:"id"`

	// TenantID scopes the connection to a tenant; empty means system scope.
	TenantID string `json:"tenant_id,omitempty"`

	// URL is the downstream endpoint address.
	URL string `json:"url"`

	// Token is the downstream credential, encrypted at rest. Decrypted
	// only at call time, never returned to callers.
	Token string `json:"token,omitempty"`

	// Headers are extra headers forwarded verbatim on downstream calls.
	Headers map[string]string `json:"headers,omitempty"`

	// Status gates whether the connection accepts traffic.
	Status Status `json:"status"`

	// Configuration carries the integration config, if any.
	Configuration *Configuration `json:"configuration,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	out.Headers = maps.Clone(c.Headers)
	if c.Configuration != nil {
		cfg := Configuration{
			Schema: maps.Clone(c.Configuration.Schema),
			State:  maps.Clone(c.Configuration.State),
			Scopes: slices.Clone(c.Configuration.Scopes),
		}
		out.Configuration = &cfg
	}
	return &out
}

// Store is the connection registry the proxy reads from.
type Store interface {
	// FindByID returns the connection, or (nil, nil) when it does not
	// exist. An error means the lookup itself failed.
	FindByID(ctx context.Context, id string) (*Connection, error)

	// List returns every connection in the given tenant scope. An empty
	// tenant id lists system-scope connections.
	List(ctx context.Context, tenantID string) ([]*Connection, error)
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]*Connection)}
}

// Put inserts or replaces a connection.
func (s *MemoryStore) Put(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID] = conn.Clone()
}

// Delete removes a connection if present.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id].Clone(), nil
}

// List implements Store. Results are ordered by id for determinism.
func (s *MemoryStore) List(_ context.Context, tenantID string) ([]*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Connection
	for _, id := range slices.Sorted(maps.Keys(s.conns)) {
		if conn := s.conns[id]; conn.TenantID == tenantID {
			out = append(out, conn.Clone())
		}
	}
	return out, nil
}
