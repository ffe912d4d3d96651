package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/notify"
)

func (h *Handler) registerNotifications(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.GetNotifications)
		r.Post("/", h.PublishNotification)
		r.Post("/{id}/read", h.MarkNotificationRead)
		r.Get("/groups", h.GetPickedGroups)
		r.Put("/groups", h.SetPickedGroups)
	})
}

func (h *Handler) notifications(r *http.Request) *notify.Center {
	return notify.New(h.storage(r), h.Clock, h.Logger)
}

// GetNotifications renders the center for ?tab= (ALL by default).
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	if tab == "" {
		tab = notify.TabAll
	}
	page, err := h.notifications(r).Page(r.Context(), tab)
	if err != nil {
		h.serverError(w, r, "failed to read notifications", err)
		return
	}
	JSON(w, http.StatusOK, page)
}

// PublishNotification stores a notification for the device and pushes it
// to the tab.
func (h *Handler) PublishNotification(w http.ResponseWriter, r *http.Request) {
	var n domain.Notification
	if !decode(w, r, &n) {
		return
	}
	if n.Title == "" && n.Message == "" {
		Error(w, http.StatusBadRequest, "title or message is required")
		return
	}
	n.IsRead = false
	saved, err := h.notifications(r).Publish(r.Context(), n)
	if err != nil {
		h.serverError(w, r, "failed to publish notification", err)
		return
	}
	h.publish(r, events.TypeNotification, saved)
	JSON(w, http.StatusCreated, saved)
}

// MarkNotificationRead flags a notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.notifications(r).MarkAsRead(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, notify.ErrNotFound):
		Error(w, http.StatusNotFound, "notification not found")
		return
	case err != nil:
		h.serverError(w, r, "failed to mark notification", err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// GetPickedGroups returns the followed groups.
func (h *Handler) GetPickedGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.notifications(r).PickedGroups(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to read groups", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"groups": groups, "tabs": notify.Tabs(groups)})
}

type pickedGroupsRequest struct {
	Groups []domain.PickedGroup `json:"groups"`
}

// SetPickedGroups replaces the followed groups.
func (h *Handler) SetPickedGroups(w http.ResponseWriter, r *http.Request) {
	var req pickedGroupsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.notifications(r).SetPickedGroups(r.Context(), req.Groups); err != nil {
		h.serverError(w, r, "failed to save groups", err)
		return
	}
	h.GetPickedGroups(w, r)
}
