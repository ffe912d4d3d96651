package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/challenge"
	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/live"
	"github.com/dearie-app/dearie/internal/notify"
	"github.com/dearie-app/dearie/internal/store"
)

// Notification copy for a confirmed check-in.
const (
	certifiedTitle   = "챌린지 인증 완료"
	certifiedMessage = "%d월 %d일 %s 챌린지 인증 완료! %dp가 적립되었어요"
	challengePath    = "/challenge"
)

func (h *Handler) registerChallenge(r chi.Router) {
	r.Route("/challenge", func(r chi.Router) {
		r.Get("/points", h.GetPoints)
		r.Post("/calendars", h.MountCalendar)
		r.Route("/calendars/{id}", func(r chi.Router) {
			r.Get("/", h.GetCalendar)
			r.Delete("/", h.UnmountCalendar)
			r.Post("/certify", h.RequestCertification)
			r.Post("/consent", h.SetConsent)
			r.Post("/cancel", h.CancelCertification)
			r.Post("/confirm", h.ConfirmCertification)
			r.Post("/fold", h.ToggleFold)
		})
	})
}

func calendarKey(r *http.Request, id string) live.Key {
	return live.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
		Kind:      live.KindCalendar,
		ID:        id,
	}
}

// MountCalendar mounts a check-in calendar for the tab. Its view updates
// are streamed as calendar events.
func (h *Handler) MountCalendar(w http.ResponseWriter, r *http.Request) {
	var cfg challenge.Config
	if !decode(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	storage := store.Scoped(h.Repo, userID, h.Changes)
	ch := h.Config.Challenge

	cal, err := challenge.New(h.AppCtx, cfg, challenge.Deps{
		Storage: storage,
		Clock:   h.Clock,
		Timings: challenge.Timings{
			Tick:    ch.TickInterval,
			Fade:    ch.FadeDelay,
			Dismiss: ch.DismissDelay,
		},
		Rewards: challenge.Rewards{Base: ch.BasePoints, Streak: ch.StreakPoints},
		OnSuccess: func(ev challenge.SuccessEvent) {
			h.notifyCertified(storage, userID, sessionID, cfg.SelectedArtist, ev)
		},
		Emit: func(v challenge.View) {
			h.publishTo(userID, sessionID, events.TypeCalendar, v)
		},
		Metrics: h.Metrics,
		Logger:  h.Logger.With("user_id", userID, "session_id", sessionID),
	})
	if err != nil {
		h.serverError(w, r, "failed to mount calendar", err)
		return
	}

	h.Registry.Mount(calendarKey(r, cal.ID()), cal)
	JSON(w, http.StatusCreated, cal.View())
}

// notifyCertified records the check-in in the notification center and
// pushes it to the tab.
func (h *Handler) notifyCertified(storage store.Storage, userID, sessionID, artist string, ev challenge.SuccessEvent) {
	category := ev.Category
	if category == "" {
		category = "데일리"
	}
	n, err := notify.New(storage, h.Clock, h.Logger).Publish(h.AppCtx, domain.Notification{
		Type:    strings.ToUpper(artist),
		Title:   certifiedTitle,
		Message: fmt.Sprintf(certifiedMessage, ev.Month, ev.Day, category, ev.Reward.Total),
		Batch:   1,
		Payload: &domain.NotificationPayload{URL: challengePath},
	})
	if err != nil {
		h.Logger.Error("Failed to publish certification notification", "error", err, "user_id", userID, "calendar_id", ev.CalendarID)
		return
	}
	h.publishTo(userID, sessionID, events.TypeNotification, n)
}

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request) (*challenge.Calendar, bool) {
	c, err := h.Registry.Get(calendarKey(r, chi.URLParam(r, "id")))
	if err != nil {
		Error(w, http.StatusNotFound, "calendar not mounted")
		return nil, false
	}
	cal, ok := c.(*challenge.Calendar)
	if !ok {
		Error(w, http.StatusNotFound, "calendar not mounted")
		return nil, false
	}
	return cal, true
}

// calendarResult writes the calendar view, or maps err.
func (h *Handler) calendarResult(w http.ResponseWriter, r *http.Request, cal *challenge.Calendar, changed bool, err error) {
	switch {
	case errors.Is(err, challenge.ErrClosed):
		Error(w, http.StatusGone, "calendar closed")
	case err != nil:
		h.serverError(w, r, "calendar update failed", err)
	default:
		JSON(w, http.StatusOK, map[string]any{"changed": changed, "view": cal.View()})
	}
}

// GetCalendar returns the calendar's view.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	err := cal.Evaluate()
	h.calendarResult(w, r, cal, false, err)
}

// UnmountCalendar tears the calendar down.
func (h *Handler) UnmountCalendar(w http.ResponseWriter, r *http.Request) {
	if !h.Registry.Unmount(calendarKey(r, chi.URLParam(r, "id"))) {
		Error(w, http.StatusNotFound, "calendar not mounted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestCertification opens the confirmation prompt.
func (h *Handler) RequestCertification(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	opened, err := cal.RequestCertification()
	h.calendarResult(w, r, cal, opened, err)
}

type consentRequest struct {
	Consent bool `json:"consent"`
}

// SetConsent records the prompt's consent checkbox.
func (h *Handler) SetConsent(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	var req consentRequest
	if !decode(w, r, &req) {
		return
	}
	err := cal.SetConsent(req.Consent)
	h.calendarResult(w, r, cal, err == nil, err)
}

// CancelCertification closes the prompt.
func (h *Handler) CancelCertification(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	err := cal.Cancel()
	h.calendarResult(w, r, cal, err == nil, err)
}

// ConfirmCertification certifies the target day.
func (h *Handler) ConfirmCertification(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	certified, err := cal.Confirm()
	h.calendarResult(w, r, cal, certified, err)
}

// ToggleFold flips the folded month view.
func (h *Handler) ToggleFold(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	err := cal.ToggleFold()
	h.calendarResult(w, r, cal, err == nil, err)
}

// GetPoints returns the device's reward balance.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	points, err := challenge.Points(r.Context(), h.storage(r))
	if err != nil {
		h.serverError(w, r, "failed to read points", err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"points": points})
}
