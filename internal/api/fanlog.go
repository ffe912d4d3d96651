package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/fanlog"
)

func (h *Handler) registerFanLog(r chi.Router) {
	r.Route("/fanlog", func(r chi.Router) {
		r.Get("/posts", h.ListFanLogPosts)
		r.Get("/{year}/{month}", h.ListFanLogMonth)
		r.Get("/{year}/{month}/{day}", h.GetFanLogEntry)
		r.Put("/{year}/{month}/{day}", h.SaveFanLogEntry)
		r.Delete("/{year}/{month}/{day}", h.DeleteFanLogEntry)
	})
}

func (h *Handler) journal(r *http.Request) *fanlog.Journal {
	return fanlog.New(h.storage(r), h.Clock, h.Logger)
}

type fanLogEntryView struct {
	Year    int                `json:"year"`
	Month   int                `json:"month"`
	Day     int                `json:"day"`
	Entry   domain.FanLogEntry `json:"entry"`
	HTML    string             `json:"html"`
	TimeAgo string             `json:"timeAgo"`
}

func (h *Handler) entryView(d fanlog.Dated) (fanLogEntryView, error) {
	html, err := fanlog.RenderHTML(d.Entry.Text)
	if err != nil {
		return fanLogEntryView{}, err
	}
	return fanLogEntryView{
		Year:    d.Year,
		Month:   d.Month,
		Day:     d.Day,
		Entry:   d.Entry,
		HTML:    html,
		TimeAgo: fanlog.TimeAgo(d.Entry.CreatedAt, h.Clock.Now()),
	}, nil
}

func (h *Handler) entryViews(w http.ResponseWriter, r *http.Request, list []fanlog.Dated) {
	out := make([]fanLogEntryView, 0, len(list))
	for _, d := range list {
		v, err := h.entryView(d)
		if err != nil {
			h.serverError(w, r, "failed to render fan log", err)
			return
		}
		out = append(out, v)
	}
	JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func dateParams(w http.ResponseWriter, r *http.Request, withDay bool) (year, month, day int, ok bool) {
	if year, ok = intParam(w, r, "year"); !ok {
		return
	}
	if month, ok = intParam(w, r, "month"); !ok {
		return
	}
	if withDay {
		day, ok = intParam(w, r, "day")
	}
	return
}

func (h *Handler) fanLogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fanlog.ErrInvalidDate):
		Error(w, http.StatusBadRequest, "invalid date")
	case errors.Is(err, fanlog.ErrTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		h.serverError(w, r, "fan log update failed", err)
	}
}

// ListFanLogPosts lists every entry, most recent first.
func (h *Handler) ListFanLogPosts(w http.ResponseWriter, r *http.Request) {
	list, err := h.journal(r).Posts(r.Context())
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	h.entryViews(w, r, list)
}

// ListFanLogMonth lists a month's entries by day.
func (h *Handler) ListFanLogMonth(w http.ResponseWriter, r *http.Request) {
	year, month, _, ok := dateParams(w, r, false)
	if !ok {
		return
	}
	list, err := h.journal(r).Month(r.Context(), year, month)
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	h.entryViews(w, r, list)
}

// GetFanLogEntry returns one date's entry; a missing entry is empty.
func (h *Handler) GetFanLogEntry(w http.ResponseWriter, r *http.Request) {
	year, month, day, ok := dateParams(w, r, true)
	if !ok {
		return
	}
	entry, err := h.journal(r).Entry(r.Context(), year, month, day)
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	v, err := h.entryView(fanlog.Dated{Year: year, Month: month, Day: day, Entry: entry})
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// SaveFanLogEntry writes one date's entry. Saving an empty entry deletes it.
func (h *Handler) SaveFanLogEntry(w http.ResponseWriter, r *http.Request) {
	year, month, day, ok := dateParams(w, r, true)
	if !ok {
		return
	}
	var entry domain.FanLogEntry
	if !decode(w, r, &entry) {
		return
	}
	saved, err := h.journal(r).Save(r.Context(), year, month, day, entry)
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	v, err := h.entryView(fanlog.Dated{Year: year, Month: month, Day: day, Entry: saved})
	if err != nil {
		h.fanLogError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// DeleteFanLogEntry removes one date's entry.
func (h *Handler) DeleteFanLogEntry(w http.ResponseWriter, r *http.Request) {
	year, month, day, ok := dateParams(w, r, true)
	if !ok {
		return
	}
	if err := h.journal(r).Delete(r.Context(), year, month, day); err != nil {
		h.fanLogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
