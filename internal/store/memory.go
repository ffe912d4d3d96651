package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dearie-app/dearie/internal/domain"
)

// MemoryStore is an in-process Repository used by tests and by the server
// when no database path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	values map[string]map[string]string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		values: make(map[string]map[string]string),
	}
}

// GetUser retrieves a user by their user ID.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// UpsertUser creates or updates a user record.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.UserID]; ok {
		existing.Username = user.Username
		existing.LastSeenAt = user.LastSeenAt
		existing.UpdatedAt = user.UpdatedAt
		m.users[user.UserID] = existing
		return nil
	}
	m.users[user.UserID] = *user
	return nil
}

// UpdateLastSeen updates the last seen time of a user.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
		u.UpdatedAt = time.Now()
		m.users[userID] = u
	}
	return nil
}

// GetValue returns the value stored under key for a user.
func (m *MemoryStore) GetValue(_ context.Context, userID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[userID][key]
	return v, ok, nil
}

// SetValue stores value under key for a user.
func (m *MemoryStore) SetValue(_ context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.values[userID]
	if !ok {
		bucket = make(map[string]string)
		m.values[userID] = bucket
	}
	bucket[key] = value
	return nil
}

// DeleteValue removes key for a user.
func (m *MemoryStore) DeleteValue(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[userID], key)
	return nil
}

// ListKeys returns the user's keys starting with prefix, sorted.
func (m *MemoryStore) ListKeys(_ context.Context, userID, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.values[userID] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteUserData removes every stored value of a user.
func (m *MemoryStore) DeleteUserData(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.values[userID]))
	delete(m.values, userID)
	return n, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
