package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/store"
)

const writeTimeout = 5 * time.Second

// Subscriber is the source of storage changes.
type Subscriber interface {
	Subscribe(userID string) (<-chan store.Change, func())
}

// WebSocketHandler pushes the caller's storage changes to the tab so
// components re-read state without polling.
type WebSocketHandler struct {
	changes       Subscriber
	conns         *ConnManager
	metrics       *metrics.Metrics
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(changes Subscriber, conns *ConnManager, m *metrics.Metrics, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		changes:       changes,
		conns:         conns,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client frame.
type wsMessage struct {
	Type string `json:"type"`
}

// changeMessage is a server frame announcing a storage write.
type changeMessage struct {
	Type string `json:"type"`
	store.Change
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)
	h.metrics.IncWSClients(1)
	defer h.metrics.IncWSClients(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, unsubscribe := h.changes.Subscribe(userID)
	defer unsubscribe()

	if err := writeJSON(ctx, ws, map[string]string{"type": "ready", "session_id": sessionID}); err != nil {
		slog.Debug("Failed to send ready", "error", err, "user_id", userID)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	h.writeLoop(ctx, ws, changes, userID)
	cancel()
	<-done
	slog.Info("Live socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Websocket closed by client", "user_id", userID)
			} else {
				slog.Warn("Websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case "close":
			return
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, changes <-chan store.Change, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, changeMessage{Type: "storage", Change: c}); err != nil {
				if ctx.Err() == nil {
					h.metrics.IncBroadcastDrops("ws")
					slog.Debug("Websocket write error", "error", err, "user_id", userID)
				}
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
