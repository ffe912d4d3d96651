// Package api provides HTTP handlers for the Dearie API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/config"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/live"
	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

const maxBodyBytes = 64 << 10

// Publisher delivers live component updates to a tab.
type Publisher interface {
	Publish(e events.Event)
}

// Disconnector drops the live connections of a user.
type Disconnector interface {
	CloseUser(userID string)
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Repo     store.Repository
	Changes  store.Notifier
	Catalog  *chatbot.CatalogSource
	Events   Publisher
	Registry *live.Registry
	Sockets  Disconnector
	Clock    schedule.Clock
	Config   *config.Config
	Sink     chatbot.ConversationSink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// AppCtx bounds live components. It must outlive single requests since
	// components keep writing from their timers.
	AppCtx context.Context
}

// Handler provides common handler utilities.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AppCtx == nil {
		deps.AppCtx = context.Background()
	}
	if deps.Registry == nil {
		deps.Registry = live.NewRegistry(deps.Clock, deps.Metrics)
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handler{Deps: deps}
}

// RegisterRoutes registers every /api route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		h.registerAccount(r)
		h.registerChallenge(r)
		h.registerChat(r)
		h.registerFeed(r)
		h.registerNotifications(r)
		h.registerFanLog(r)
	})
}

// storage returns the caller's device storage.
func (h *Handler) storage(r *http.Request) store.Storage {
	return store.Scoped(h.Repo, identity.UserIDFromContext(r.Context()), h.Changes)
}

func (h *Handler) publish(r *http.Request, typ string, data any) {
	h.publishTo(identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()), typ, data)
}

func (h *Handler) publishTo(userID, sessionID, typ string, data any) {
	if h.Events == nil {
		return
	}
	h.Events.Publish(events.Event{UserID: userID, SessionID: sessionID, Type: typ, Data: data})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serverError logs an infrastructure failure and hides its detail.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.Logger.Error(msg, "error", err,
		"user_id", identity.UserIDFromContext(r.Context()),
		"path", r.URL.Path)
	if errors.Is(err, context.Canceled) {
		return
	}
	Error(w, http.StatusInternalServerError, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func intQuery(r *http.Request, name string, fallback int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return n
	}
	return fallback
}
