// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/dearie-app/dearie/internal/domain"
)

// Repository defines the interface for persisting devices and their
// key-value state.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetValue returns the value stored under key for a user.
	GetValue(ctx context.Context, userID, key string) (string, bool, error)

	// SetValue stores value under key for a user, replacing any previous value.
	SetValue(ctx context.Context, userID, key, value string) error

	// DeleteValue removes key for a user. Removing a missing key is not an error.
	DeleteValue(ctx context.Context, userID, key string) error

	// ListKeys returns the user's keys starting with prefix, sorted.
	ListKeys(ctx context.Context, userID, prefix string) ([]string, error)

	// DeleteUserData removes every stored value of a user.
	DeleteUserData(ctx context.Context, userID string) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
