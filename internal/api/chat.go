package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/live"
	"github.com/dearie-app/dearie/internal/shell"
	"github.com/dearie-app/dearie/internal/store"
)

// chatComponentID is the registry id of a tab's chat page. A tab shows at
// most one.
const chatComponentID = "chat"

func (h *Handler) registerChat(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)
		r.Post("/session", h.MountChat)
		r.Get("/session", h.GetChat)
		r.Delete("/session", h.UnmountChat)
		r.Post("/session/messages", h.SendChatMessage)
		r.Post("/session/emotions", h.SelectEmotion)
		r.Post("/session/songs", h.SelectSong)
		r.Delete("/session/options/{id}", h.DismissOption)
	})
}

func chatKey(r *http.Request) live.Key {
	return live.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
		Kind:      live.KindChat,
		ID:        chatComponentID,
	}
}

type catalogResponse struct {
	Quota  int                    `json:"quota"`
	Groups []chatbot.EmotionGroup `json:"groups"`
}

// GetCatalog returns the emotion picker contents.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.Catalog.Catalog()
	quota := cat.Quota
	if h.Config.Chat.DailyQuota > 0 {
		quota = h.Config.Chat.DailyQuota
	}
	JSON(w, http.StatusOK, catalogResponse{Quota: quota, Groups: cat.Groups})
}

// MountChat opens the chat page for the tab, restoring the persisted
// conversation when the device is logged in. Remounting replaces the
// previous session of the tab.
func (h *Handler) MountChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	storage := store.Scoped(h.Repo, userID, h.Changes)

	loggedIn, err := shell.New(storage, h.Logger).LoggedIn(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to read login state", err)
		return
	}

	cc := h.Config.Chat
	s, err := chatbot.NewSession(h.AppCtx, chatbot.Deps{
		UserID:            userID,
		SessionID:         sessionID,
		Storage:           storage,
		Catalog:           h.Catalog,
		Clock:             h.Clock,
		ReplyDelay:        cc.ReplyDelay,
		EmotionReplyDelay: cc.EmotionReplyDelay,
		Quota:             cc.DailyQuota,
		Emit: func(v chatbot.View) {
			h.publishTo(userID, sessionID, events.TypeChat, v)
		},
		Sink:    h.Sink,
		Metrics: h.Metrics,
		Logger:  h.Logger,
	})
	if err != nil {
		h.serverError(w, r, "failed to open chat", err)
		return
	}
	if err := s.Restore(loggedIn); err != nil {
		s.Close()
		h.serverError(w, r, "failed to restore chat", err)
		return
	}

	h.Registry.Mount(chatKey(r), s)
	JSON(w, http.StatusCreated, s.View())
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) (*chatbot.Session, bool) {
	c, err := h.Registry.Get(chatKey(r))
	if err != nil {
		Error(w, http.StatusNotFound, "chat not open")
		return nil, false
	}
	s, ok := c.(*chatbot.Session)
	if !ok {
		Error(w, http.StatusNotFound, "chat not open")
		return nil, false
	}
	return s, true
}

func (h *Handler) chatResult(w http.ResponseWriter, r *http.Request, s *chatbot.Session, accepted bool, err error) {
	switch {
	case errors.Is(err, chatbot.ErrSessionClosed):
		Error(w, http.StatusGone, "chat closed")
	case err != nil:
		h.serverError(w, r, "chat update failed", err)
	default:
		JSON(w, http.StatusOK, map[string]any{"accepted": accepted, "view": s.View()})
	}
}

// GetChat returns the open chat's view.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.chat(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// UnmountChat closes the tab's chat page and cancels pending replies.
func (h *Handler) UnmountChat(w http.ResponseWriter, r *http.Request) {
	if !h.Registry.Unmount(chatKey(r)) {
		Error(w, http.StatusNotFound, "chat not open")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

// SendChatMessage submits typed input.
func (h *Handler) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.chat(w, r)
	if !ok {
		return
	}
	var req chatMessageRequest
	if !decode(w, r, &req) {
		return
	}
	accepted, err := s.SendUserMessage(req.Text)
	h.chatResult(w, r, s, accepted, err)
}

type emotionRequest struct {
	Emotion string `json:"emotion"`
}

// SelectEmotion submits an emotion pick.
func (h *Handler) SelectEmotion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.chat(w, r)
	if !ok {
		return
	}
	var req emotionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Emotion == "" {
		Error(w, http.StatusBadRequest, "emotion is required")
		return
	}
	err := s.SelectEmotion(req.Emotion)
	h.chatResult(w, r, s, err == nil, err)
}

type songRequest struct {
	SongID   string `json:"song_id"`
	OptionID string `json:"option_id,omitempty"`
}

// SelectSong plays a recommended song. The song is looked up on the given
// recommendation card first, then in the catalog.
func (h *Handler) SelectSong(w http.ResponseWriter, r *http.Request) {
	s, ok := h.chat(w, r)
	if !ok {
		return
	}
	var req songRequest
	if !decode(w, r, &req) {
		return
	}
	song, found := h.findSong(s, req)
	if !found {
		Error(w, http.StatusNotFound, "song not found")
		return
	}
	err := s.SelectSong(song, req.OptionID)
	h.chatResult(w, r, s, err == nil, err)
}

func (h *Handler) findSong(s *chatbot.Session, req songRequest) (domain.Song, bool) {
	if req.OptionID != "" {
		if songs, ok := s.OptionSongs(req.OptionID); ok {
			for _, song := range songs {
				if song.ID == req.SongID {
					return song, true
				}
			}
		}
	}
	return h.Catalog.Catalog().Song(req.SongID)
}

// DismissOption hides a recommendation card.
func (h *Handler) DismissOption(w http.ResponseWriter, r *http.Request) {
	s, ok := h.chat(w, r)
	if !ok {
		return
	}
	dismissed, err := s.DismissOption(chi.URLParam(r, "id"))
	h.chatResult(w, r, s, dismissed, err)
}
