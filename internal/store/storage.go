package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned by GetJSON when a stored value cannot be decoded.
var ErrMalformed = errors.New("malformed stored value")

// Storage is the key-value port components read and write their state
// through. Implementations are scoped to a single device.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Notifier receives storage change events.
type Notifier interface {
	Publish(change Change)
}

// ScopedStorage adapts a Repository to Storage for one user and publishes
// every successful write to an optional Notifier.
type ScopedStorage struct {
	repo     Repository
	userID   string
	notifier Notifier
}

// Scoped returns the storage of userID. notifier may be nil.
func Scoped(repo Repository, userID string, notifier Notifier) *ScopedStorage {
	return &ScopedStorage{repo: repo, userID: userID, notifier: notifier}
}

// UserID returns the owning user.
func (s *ScopedStorage) UserID() string {
	return s.userID
}

// Get returns the value stored under key.
func (s *ScopedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return s.repo.GetValue(ctx, s.userID, key)
}

// Set stores value under key.
func (s *ScopedStorage) Set(ctx context.Context, key, value string) error {
	if err := s.repo.SetValue(ctx, s.userID, key, value); err != nil {
		return err
	}
	s.publish(Change{UserID: s.userID, Key: key, Value: value})
	return nil
}

// Remove deletes key.
func (s *ScopedStorage) Remove(ctx context.Context, key string) error {
	if err := s.repo.DeleteValue(ctx, s.userID, key); err != nil {
		return err
	}
	s.publish(Change{UserID: s.userID, Key: key, Removed: true})
	return nil
}

// Keys lists keys with the given prefix.
func (s *ScopedStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.repo.ListKeys(ctx, s.userID, prefix)
}

func (s *ScopedStorage) publish(c Change) {
	if s.notifier == nil {
		return
	}
	c.At = time.Now()
	s.notifier.Publish(c)
}

// GetJSON decodes the value under key into v. It reports false when the key
// is missing. A value that is not valid JSON for v yields an error wrapping
// ErrMalformed.
func GetJSON(ctx context.Context, s Storage, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Storage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

var _ Storage = (*ScopedStorage)(nil)
