package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

// SnapshotKey holds the persisted chat session.
const SnapshotKey = "chatData"

// Fixed bot texts.
const (
	ExhaustedReply = "오늘의 대화 횟수를 모두 사용하셨어요 😭 내일 다시 찾아와 주세요!"
	FinishedNotice = "앗, 오늘은 대화가 모두 끝났어요!\n내일 또 놀러 와 주세요😉"
	OptionsPrompt  = "추천 음악을 받아보시겠어요?"
)

// Default delays.
const (
	DefaultReplyDelay        = 800 * time.Millisecond
	DefaultEmotionReplyDelay = time.Second
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("chat session closed")

// FallbackReply echoes text when no scripted response matches.
func FallbackReply(text string) string {
	return fmt.Sprintf("제가 아직 \"%s\" 에 대한 내용을 생각중이에요 😥 다른 질문을 해주시면 바로 답변드릴께요", text)
}

// Deps are the collaborators of a chat session.
type Deps struct {
	UserID            string
	SessionID         string
	Storage           store.Storage
	Catalog           *CatalogSource
	Clock             schedule.Clock
	ReplyDelay        time.Duration
	EmotionReplyDelay time.Duration
	// Quota overrides the catalog's daily quota when positive.
	Quota int
	// Emit receives a fresh View after every change. It must not block or
	// call back into the session.
	Emit    func(View)
	Sink    ConversationSink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// View is the renderable state of a chat session.
type View struct {
	Messages      []domain.ChatMessage `json:"messages"`
	Remaining     int                  `json:"remaining"`
	Emotion       string               `json:"emotion,omitempty"`
	Theme         domain.ThemeClass    `json:"theme"`
	BotName       string               `json:"bot_name"`
	Background    string               `json:"background"`
	InputDisabled bool                 `json:"input_disabled"`
	Closed        bool                 `json:"closed,omitempty"`
}

// Session is a mounted chat conversation. Every mutation is persisted while
// the device is logged in. Delayed replies are owned by a timer group that
// Close stops.
type Session struct {
	deps   Deps
	ctx    context.Context
	timers *schedule.Group
	logger *slog.Logger

	mu        sync.Mutex
	loggedIn  bool
	messages  []domain.ChatMessage
	remaining int
	emotion   string
	theme     domain.ThemeClass
	closed    bool
	// gen changes on every Restore. Replies scheduled under an older
	// generation are discarded.
	gen uint64
}

// NewSession creates a session in its default state. Call Restore to
// hydrate it from storage.
func NewSession(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Storage == nil || deps.Catalog == nil {
		return nil, errors.New("chat session requires storage and catalog")
	}
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock{}
	}
	if deps.ReplyDelay <= 0 {
		deps.ReplyDelay = DefaultReplyDelay
	}
	if deps.EmotionReplyDelay <= 0 {
		deps.EmotionReplyDelay = DefaultEmotionReplyDelay
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		deps:   deps,
		ctx:    ctx,
		timers: schedule.NewGroup(deps.Clock),
		logger: deps.Logger.With("user_id", deps.UserID, "session_id", deps.SessionID),
	}
	s.resetLocked()
	return s, nil
}

func (s *Session) quota() int {
	if s.deps.Quota > 0 {
		return s.deps.Quota
	}
	return s.deps.Catalog.Catalog().Quota
}

func (s *Session) resetLocked() {
	s.messages = []domain.ChatMessage{}
	s.remaining = s.quota()
	s.emotion = ""
	s.theme = domain.ThemeHeart
}

// Restore hydrates the session. Logged out devices always start from the
// defaults and are never persisted. A missing or malformed snapshot also
// yields the defaults.
func (s *Session) Restore(loggedIn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if n := s.timers.Cancel(); n > 0 {
		s.logger.Info("Dropped pending chat replies on restore", "count", n)
	}
	s.gen++
	s.loggedIn = loggedIn
	s.resetLocked()
	if !loggedIn {
		s.emitLocked()
		return nil
	}

	var snap domain.ChatSnapshot
	found, err := store.GetJSON(s.ctx, s.deps.Storage, SnapshotKey, &snap)
	switch {
	case errors.Is(err, store.ErrMalformed):
		s.logger.Warn("Discarding malformed chat snapshot", "error", err)
	case err != nil:
		s.deps.Metrics.IncStorageErrors()
		return fmt.Errorf("restore chat session: %w", err)
	case found:
		if snap.Messages != nil {
			s.messages = snap.Messages
		}
		s.remaining = max(snap.Remaining, 0)
		if snap.Emotion != nil {
			s.emotion = *snap.Emotion
		}
		if snap.Theme.Valid() {
			s.theme = snap.Theme
		}
	}
	s.emitLocked()
	return nil
}

// SendUserMessage handles typed input. Blank input is ignored. With no
// quota left only the exhaustion notice is appended. Otherwise the message
// is appended, the quota decremented and a scripted or fallback reply is
// scheduled with the avatar of the current emotion.
func (s *Session) SendUserMessage(text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}

	cat := s.deps.Catalog.Catalog()
	avatar := cat.AvatarURL(s.emotion)

	if s.remaining <= 0 {
		s.appendLocked(domain.ChatMessage{From: domain.SenderBot, Text: ExhaustedReply, ImageURL: avatar})
		s.deps.Metrics.IncQuotaExhausted()
		s.logEvent(EventQuotaExhausted, "outbound", ExhaustedReply)
		return true, s.persistLocked()
	}

	s.appendLocked(domain.ChatMessage{From: domain.SenderUser, Text: text})
	s.remaining = max(s.remaining-1, 0)
	s.logEvent(EventUserMessage, "inbound", text)

	reply, ok := cat.Match(text)
	if !ok {
		reply = FallbackReply(text)
	}
	gen := s.gen
	s.timers.After(s.deps.ReplyDelay, func() {
		s.deliver(gen, []domain.ChatMessage{{From: domain.SenderBot, Text: reply, ImageURL: avatar}})
	})
	return true, s.persistLocked()
}

// SelectEmotion records an emotion pick: the label is appended as a user
// message, quota is consumed, the theme follows the emotion's group and the
// scripted reply set with a song recommendation card arrives after the
// emotion reply delay. It is not gated on remaining quota.
func (s *Session) SelectEmotion(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	cat := s.deps.Catalog.Catalog()
	s.appendLocked(domain.ChatMessage{From: domain.SenderUser, Text: label})
	s.remaining = max(s.remaining-1, 0)
	s.emotion = label
	if g, ok := cat.Group(label); ok {
		s.theme = g.Theme
	} else {
		s.logger.Warn("Unknown emotion selected", "emotion", label)
	}
	s.logEvent(EventEmotion, "inbound", label)

	avatar := cat.AvatarURL(label)
	replies, songs := cat.EmotionReplies(label)
	batch := make([]domain.ChatMessage, 0, len(replies)+1)
	for _, text := range replies {
		batch = append(batch, domain.ChatMessage{From: domain.SenderBot, Text: text, ImageURL: avatar})
	}
	if len(songs) > 0 {
		batch = append(batch, domain.ChatMessage{
			From:        domain.SenderBot,
			Text:        OptionsPrompt,
			ImageURL:    avatar,
			ShowOptions: true,
			Songs:       songs,
			Emotion:     label,
		})
	}
	gen := s.gen
	s.timers.After(s.deps.EmotionReplyDelay, func() {
		s.deliver(gen, batch)
	})
	return s.persistLocked()
}

// SelectSong appends a music message for song without consuming quota. When
// optionID names a recommendation card, that card is dismissed.
func (s *Session) SelectSong(song domain.Song, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.appendLocked(domain.ChatMessage{From: domain.SenderBot, Type: domain.MessageTypeMusic, Song: &song})
	if optionID != "" {
		s.dismissLocked(optionID)
	}
	s.logEvent(EventSong, "inbound", song.Artist+" - "+song.Title)
	return s.persistLocked()
}

// DismissOption hides a recommendation card. The card stays in the log
// tagged as dismissed. It reports false when id is not an options card.
func (s *Session) DismissOption(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	if !s.dismissLocked(id) {
		return false, nil
	}
	return true, s.persistLocked()
}

// OptionSongs returns the songs offered by a recommendation card.
func (s *Session) OptionSongs(id string) ([]domain.Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && m.IsOptionsCard() {
			return append([]domain.Song(nil), m.Songs...), true
		}
	}
	return nil, false
}

// Messages returns a copy of the canonical message log.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages...)
}

// Remaining returns the remaining daily quota.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Theme returns the current theme class.
func (s *Session) Theme() domain.ThemeClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// Emotion returns the current emotion, empty when none was picked.
func (s *Session) Emotion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotion
}

// View returns the display state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// DisplayMessages returns the messages to render: dismissed cards are
// hidden and, with no quota left, the end-of-day notice is appended.
func DisplayMessages(messages []domain.ChatMessage, remaining int) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages)+1)
	for _, m := range messages {
		if m.IsOptionsCard() && m.Dismissed {
			continue
		}
		out = append(out, m)
	}
	if remaining <= 0 {
		out = append(out, domain.ChatMessage{From: domain.SenderBot, Text: FinishedNotice})
	}
	return out
}

// Close cancels pending replies. Later operations return ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.timers.Stop()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) deliver(gen uint64, batch []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	for _, m := range batch {
		s.appendLocked(m)
		s.logEvent(EventBotReply, "outbound", m.Text)
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Error("Failed to persist chat reply", "error", err)
	}
}

func (s *Session) appendLocked(m domain.ChatMessage) {
	m.ID = ulid.Make().String()
	m.CreatedAt = s.deps.Clock.Now()
	s.messages = append(s.messages, m)
	s.deps.Metrics.IncChatMessages(string(m.From))
}

func (s *Session) dismissLocked(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id && s.messages[i].IsOptionsCard() {
			s.messages[i].Dismissed = true
			return true
		}
	}
	return false
}

// persistLocked writes the snapshot and emits the new view. Logged out
// sessions are only emitted.
func (s *Session) persistLocked() error {
	s.emitLocked()
	if !s.loggedIn {
		return nil
	}
	snap := domain.ChatSnapshot{
		Messages:  s.messages,
		Remaining: s.remaining,
		Theme:     s.theme,
	}
	if s.emotion != "" {
		emotion := s.emotion
		snap.Emotion = &emotion
	}
	if err := store.SetJSON(s.ctx, s.deps.Storage, SnapshotKey, snap); err != nil {
		s.deps.Metrics.IncStorageErrors()
		return fmt.Errorf("persist chat session: %w", err)
	}
	return nil
}

func (s *Session) viewLocked() View {
	cat := s.deps.Catalog.Catalog()
	v := View{
		Messages:      DisplayMessages(s.messages, s.remaining),
		Remaining:     s.remaining,
		Emotion:       s.emotion,
		Theme:         s.theme,
		InputDisabled: s.remaining <= 0,
		Closed:        s.closed,
	}
	if g, ok := cat.ThemeGroup(s.theme); ok {
		v.BotName = g.BotName
		v.Background = g.Background
	}
	return v
}

func (s *Session) emitLocked() {
	if s.deps.Emit != nil {
		s.deps.Emit(s.viewLocked())
	}
}

func (s *Session) logEvent(eventType, direction, content string) {
	if s.deps.Sink == nil {
		return
	}
	s.deps.Sink.Log(ConversationLogEvent{
		Timestamp:  s.deps.Clock.Now().UTC(),
		UserID:     s.deps.UserID,
		SessionID:  s.deps.SessionID,
		Direction:  direction,
		EventType:  eventType,
		Emotion:    s.emotion,
		Theme:      string(s.theme),
		Remaining:  s.remaining,
		ContentRaw: content,
	})
}
