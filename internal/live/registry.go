package live

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/schedule"
)

// Component kinds.
const (
	KindCalendar = "calendar"
	KindChat     = "chat"
)

// ErrNotMounted is returned when a tab has no such component.
var ErrNotMounted = errors.New("component not mounted")

// Component is a mounted per-tab component whose timers must be stopped on
// teardown.
type Component interface {
	Close()
}

// Key addresses a component within one tab.
type Key struct {
	UserID    string
	SessionID string
	Kind      string
	ID        string
}

type entry struct {
	component Component
	lastUsed  time.Time
}

// Registry holds the components mounted by open tabs. A tab that stops
// touching its components is reclaimed by Sweep.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	clock   schedule.Clock
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(clock schedule.Clock, m *metrics.Metrics) *Registry {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	return &Registry{
		entries: make(map[Key]*entry),
		clock:   clock,
		metrics: m,
	}
}

// Mount registers c under k. A component already mounted under k is
// closed and replaced.
func (r *Registry) Mount(k Key, c Component) {
	r.mu.Lock()
	old, replaced := r.entries[k]
	r.entries[k] = &entry{component: c, lastUsed: r.clock.Now()}
	r.mu.Unlock()

	if replaced {
		old.component.Close()
	} else {
		r.metrics.IncLiveComponents(k.Kind, 1)
	}
	slog.Debug("Component mounted", "user_id", k.UserID, "session_id", k.SessionID, "kind", k.Kind, "id", k.ID, "replaced", replaced)
}

// Get returns the component under k and marks it used.
func (r *Registry) Get(k Key) (Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		return nil, ErrNotMounted
	}
	e.lastUsed = r.clock.Now()
	return e.component, nil
}

// Touch marks every component of a tab used and returns how many. A tab
// holding an open event stream calls it so components it only watches
// are not reclaimed.
func (r *Registry) Touch(userID, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for k, e := range r.entries {
		if k.UserID == userID && k.SessionID == sessionID {
			e.lastUsed = now
			n++
		}
	}
	return n
}

// Unmount closes and removes the component under k.
func (r *Registry) Unmount(k Key) bool {
	r.mu.Lock()
	e, ok := r.entries[k]
	if ok {
		delete(r.entries, k)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.component.Close()
	r.metrics.IncLiveComponents(k.Kind, -1)
	return true
}

// Keys returns the keys mounted by a tab, or by every tab of the user when
// sessionID is empty.
func (r *Registry) Keys(userID, sessionID string) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Key
	for k := range r.entries {
		if k.UserID == userID && (sessionID == "" || k.SessionID == sessionID) {
			out = append(out, k)
		}
	}
	return out
}

// CloseUser unmounts every component of a user and returns how many.
func (r *Registry) CloseUser(userID string) int {
	return r.closeMatching(func(k Key, _ *entry) bool { return k.UserID == userID })
}

// Sweep unmounts components idle for at least ttl.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.clock.Now().Add(-ttl)
	return r.closeMatching(func(_ Key, e *entry) bool { return !e.lastUsed.After(cutoff) })
}

// Len returns the number of mounted components.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll unmounts everything.
func (r *Registry) CloseAll() int {
	return r.closeMatching(func(Key, *entry) bool { return true })
}

func (r *Registry) closeMatching(match func(Key, *entry) bool) int {
	r.mu.Lock()
	var closing []Key
	var comps []Component
	for k, e := range r.entries {
		if match(k, e) {
			closing = append(closing, k)
			comps = append(comps, e.component)
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()

	for i, c := range comps {
		c.Close()
		r.metrics.IncLiveComponents(closing[i].Kind, -1)
	}
	return len(comps)
}
