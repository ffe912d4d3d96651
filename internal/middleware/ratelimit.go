package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/metrics"
)

const (
	limiterLifetime     = 5 * time.Minute
	limiterCleanupAfter = 1024
)

type deviceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per device, keyed by the anonymous user id
// or the remote IP before an identity is known.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*deviceLimiter
	rate    rate.Limit
	burst   int
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst. A non-positive rps or burst disables limiting and yields nil.
func NewRateLimiter(rps float64, burst int, m *metrics.Metrics) *RateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &RateLimiter{
		entries: make(map[string]*deviceLimiter),
		rate:    rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		metrics: m,
	}
}

// Allow reports whether key may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &deviceLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	if len(l.entries) > limiterCleanupAfter {
		l.cleanup(now)
	}
	return allowed
}

func (l *RateLimiter) cleanup(now time.Time) {
	expireBefore := now.Add(-limiterLifetime)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(expireBefore) {
			delete(l.entries, key)
		}
	}
}

// Middleware rejects throttled requests with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.UserIDFromContext(r.Context())
		if key == "" {
			key = identity.IPFromRequest(r)
		}
		if !l.Allow(key) {
			l.metrics.IncRateLimited()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
