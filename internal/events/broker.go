// Package events streams live component updates to browser tabs over
// Server-Sent Events, with per-session replay for reconnecting clients.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/metrics"
)

// Event types.
const (
	TypeCalendar     = "calendar"
	TypeChat         = "chat"
	TypeNotification = "notification"
)

// Event is addressed to one tab session of a user.
type Event struct {
	UserID    string `json:"-"`
	SessionID string `json:"-"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
}

// Config tunes the stream.
type Config struct {
	Keepalive   time.Duration
	RetryDelay  time.Duration
	ReplaySize  int
	BufferSize  int
	ReplayAfter time.Duration

	// OnActive, when set, is called on connect and on every keepalive of a
	// stream with the tab it serves.
	OnActive func(userID, sessionID string)
}

func (c Config) withDefaults() Config {
	if c.Keepalive <= 0 {
		c.Keepalive = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ReplaySize <= 0 {
		c.ReplaySize = 100
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.ReplayAfter <= 0 {
		c.ReplayAfter = 10 * time.Minute
	}
	return c
}

type connection struct {
	id        int64
	userID    string
	sessionID string
	w         http.ResponseWriter
	flusher   http.Flusher
	done      chan struct{}

	mu        sync.Mutex
	last      int64
	closeOnce sync.Once
}

// Broker fans published events out to the connected streams of the
// addressed session.
type Broker struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	broadcast chan published
	queue     *replayQueue

	connsMu sync.RWMutex
	conns   map[string]map[int64]*connection

	eventID atomic.Int64
	connID  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type published struct {
	id    int64
	event Event
}

// NewBroker starts the fan-out loop.
func NewBroker(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Broker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		broadcast: make(chan published, cfg.BufferSize),
		queue:     newReplayQueue(cfg.ReplaySize),
		conns:     make(map[string]map[int64]*connection),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

// Publish queues e for replay and delivery. It never blocks; when the
// fan-out buffer is full the live delivery is dropped but the event stays
// replayable.
func (b *Broker) Publish(e Event) {
	id := b.eventID.Add(1)
	b.queue.enqueue(id, e, time.Now())
	select {
	case <-b.done:
	case b.broadcast <- published{id: id, event: e}:
	default:
		b.metrics.IncBroadcastDrops("sse")
		b.logger.Warn("Event buffer full, dropping live delivery",
			"user_id", e.UserID, "session_id", e.SessionID, "type", e.Type)
	}
}

// Sweep forgets replay buffers idle since before.
func (b *Broker) Sweep(before time.Time) int {
	return b.queue.sweep(before)
}

// IdleTTL is the idle age after which replay buffers can be swept.
func (b *Broker) IdleTTL() time.Duration {
	return b.cfg.ReplayAfter
}

// DropUser closes every stream of a user and forgets its replay buffers.
func (b *Broker) DropUser(userID string) {
	b.queue.drop(userID)
	b.connsMu.Lock()
	defer b.connsMu.Unlock()
	for key, conns := range b.conns {
		for id, c := range conns {
			if c.userID == userID {
				c.close()
				delete(conns, id)
			}
		}
		if len(conns) == 0 {
			delete(b.conns, key)
		}
	}
}

// Close stops the fan-out loop and ends every stream.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.connsMu.Lock()
		defer b.connsMu.Unlock()
		for _, conns := range b.conns {
			for _, c := range conns {
				c.close()
			}
		}
	})
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (b *Broker) loop() {
	for {
		select {
		case <-b.done:
			return
		case p := <-b.broadcast:
			key := sessionKey(p.event.UserID, p.event.SessionID)
			b.connsMu.RLock()
			conns := make([]*connection, 0, len(b.conns[key]))
			for _, c := range b.conns[key] {
				conns = append(conns, c)
			}
			b.connsMu.RUnlock()

			for _, c := range conns {
				b.send(c, p.id, p.event)
			}
		}
	}
}

func (b *Broker) send(c *connection, id int64, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.sendLocked(c, id, e)
}

func (b *Broker) sendLocked(c *connection, id int64, e Event) {
	select {
	case <-c.done:
		return
	default:
	}
	if id <= c.last {
		return
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "type", e.Type)
		return
	}
	if err := writeSSEWithID(c.w, id, e.Type, string(data)); err != nil {
		b.logger.Debug("Failed to write event", "error", err, "conn_id", c.id, "user_id", c.userID)
		return
	}
	c.flusher.Flush()
	c.last = id
}

func (b *Broker) register(c *connection) {
	key := sessionKey(c.userID, c.sessionID)
	b.connsMu.Lock()
	defer b.connsMu.Unlock()
	if _, ok := b.conns[key]; !ok {
		b.conns[key] = make(map[int64]*connection)
	}
	b.conns[key][c.id] = c
}

func (b *Broker) unregister(c *connection) {
	key := sessionKey(c.userID, c.sessionID)
	b.connsMu.Lock()
	defer b.connsMu.Unlock()
	if conns, ok := b.conns[key]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(b.conns, key)
		}
	}
}

// ServeHTTP streams the events of the caller's tab session.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", b.cfg.RetryDelay.Milliseconds())); err != nil {
		return
	}
	flusher.Flush()

	c := &connection{
		id:        b.connID.Add(1),
		userID:    userID,
		sessionID: sessionID,
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}
	// Replay happens under the connection lock so live deliveries queued
	// meanwhile are deduplicated by ID instead of overtaking the backlog.
	c.mu.Lock()
	b.register(c)
	b.metrics.IncSSEClients(1)
	defer func() {
		b.unregister(c)
		// The fan-out loop checks done under c.mu, so no write reaches w
		// once this returns.
		c.mu.Lock()
		c.close()
		c.mu.Unlock()
		b.metrics.IncSSEClients(-1)
		b.logger.Info("Event stream closed", "user_id", userID, "session_id", sessionID, "conn_id", c.id)
	}()

	replayed := 0
	if lastEventID > 0 {
		for _, m := range b.queue.after(userID, sessionID, lastEventID) {
			b.sendLocked(c, m.ID, m.Event)
			replayed++
		}
	}
	connected := fmt.Sprintf(`{"status":"connected","session_id":%q}`, sessionID)
	err := writeSSE(w, "connected", connected)
	if err == nil {
		flusher.Flush()
	}
	c.mu.Unlock()
	if err != nil {
		return
	}
	if replayed > 0 {
		b.logger.Info("Replayed missed events", "user_id", userID, "session_id", sessionID, "count", replayed)
	}
	b.logger.Info("Event stream connected", "user_id", userID, "session_id", sessionID, "reconnect", lastEventID > 0)
	b.active(userID, sessionID)

	keepalive := time.NewTicker(b.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-keepalive.C:
			c.mu.Lock()
			err := writeSSE(w, "ping", `{"status":"alive"}`)
			if err == nil {
				flusher.Flush()
			}
			c.mu.Unlock()
			if err != nil {
				return
			}
			b.active(userID, sessionID)
		}
	}
}

func (b *Broker) active(userID, sessionID string) {
	if b.cfg.OnActive != nil {
		b.cfg.OnActive(userID, sessionID)
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
