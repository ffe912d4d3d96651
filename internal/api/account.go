package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/live"
	"github.com/dearie-app/dearie/internal/shell"
)

func (h *Handler) registerAccount(r chi.Router) {
	r.Get("/me", h.GetMe)
	r.Delete("/me", h.ResetDevice)
	r.Get("/account", h.GetAccount)
	r.Post("/account/login", h.Login)
	r.Post("/account/logout", h.Logout)
	r.Post("/account/visit", h.RecordVisit)
	r.Get("/background", h.GetBackground)

	r.Get("/storage", h.ListStorage)
	r.Get("/storage/{key}", h.GetStorage)
	r.Put("/storage/{key}", h.PutStorage)
	r.Delete("/storage/{key}", h.DeleteStorage)
}

func (h *Handler) shell(r *http.Request) *shell.Shell {
	return shell.New(h.storage(r), h.Logger)
}

// GetMe returns the current device identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.Repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"created_at": user.CreatedAt,
	})
}

// ResetDevice erases every stored value of the device and unmounts its
// live components.
func (h *Handler) ResetDevice(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	unmounted := h.Registry.CloseUser(userID)
	if h.Sockets != nil {
		h.Sockets.CloseUser(userID)
	}
	deleted, err := h.Repo.DeleteUserData(r.Context(), userID)
	if err != nil {
		h.serverError(w, r, "failed to reset device", err)
		return
	}

	h.Logger.Info("Device reset", "user_id", userID, "keys_deleted", deleted, "components_closed", unmounted)
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":       "reset",
		"keys_deleted": deleted,
	})
}

// GetAccount returns the login state and landing route.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.shell(r).Account(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to read account", err)
		return
	}
	JSON(w, http.StatusOK, acc)
}

// Login sets the login flag and re-hydrates open chat pages.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	acc, err := h.shell(r).Login(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to log in", err)
		return
	}
	h.restoreChats(r, true)
	JSON(w, http.StatusOK, acc)
}

// Logout clears the login flag. Open chat pages fall back to the defaults.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	acc, err := h.shell(r).Logout(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to log out", err)
		return
	}
	h.restoreChats(r, false)
	JSON(w, http.StatusOK, acc)
}

func (h *Handler) restoreChats(r *http.Request, loggedIn bool) {
	userID := identity.UserIDFromContext(r.Context())
	for _, k := range h.Registry.Keys(userID, "") {
		if k.Kind != live.KindChat {
			continue
		}
		c, err := h.Registry.Get(k)
		if err != nil {
			continue
		}
		if s, ok := c.(*chatbot.Session); ok {
			if err := s.Restore(loggedIn); err != nil {
				h.Logger.Warn("Failed to restore chat after login change", "error", err, "user_id", userID, "session_id", k.SessionID)
			}
		}
	}
}

type visitRequest struct {
	Path string `json:"path"`
}

// RecordVisit stores the route the tab navigated to.
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if !decode(w, r, &req) {
		return
	}
	recorded, err := h.shell(r).RecordVisit(r.Context(), req.Path)
	if err != nil {
		h.serverError(w, r, "failed to record visit", err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"recorded": recorded})
}

// GetBackground resolves the page background for ?path=.
func (h *Handler) GetBackground(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = shell.RootPath
	}
	bg, err := h.shell(r).Background(r.Context(), path)
	if err != nil {
		h.serverError(w, r, "failed to resolve background", err)
		return
	}
	JSON(w, http.StatusOK, bg)
}

// ListStorage returns the device's keys under ?prefix=.
func (h *Handler) ListStorage(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage(r).Keys(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.serverError(w, r, "failed to list keys", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	JSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

// GetStorage returns one raw stored value.
func (h *Handler) GetStorage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok, err := h.storage(r).Get(r.Context(), key)
	if err != nil {
		h.serverError(w, r, "failed to read key", err)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "key not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}

type storageValue struct {
	Value string `json:"value"`
}

// PutStorage replaces one raw stored value.
func (h *Handler) PutStorage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if strings.TrimSpace(key) == "" {
		Error(w, http.StatusBadRequest, "key is required")
		return
	}
	var req storageValue
	if !decode(w, r, &req) {
		return
	}
	if err := h.storage(r).Set(r.Context(), key, req.Value); err != nil {
		h.serverError(w, r, "failed to write key", err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// DeleteStorage removes one stored value.
func (h *Handler) DeleteStorage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.storage(r).Remove(r.Context(), key); err != nil {
		h.serverError(w, r, "failed to delete key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
