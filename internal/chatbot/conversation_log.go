package chatbot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Conversation log event types.
const (
	EventUserMessage    = "chat_user_message"
	EventBotReply       = "chat_bot_reply"
	EventEmotion        = "chat_emotion_selected"
	EventSong           = "chat_song_selected"
	EventQuotaExhausted = "chat_quota_exhausted"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  time.Time `json:"ts"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	Emotion    string    `json:"emotion,omitempty"`
	Theme      string    `json:"theme,omitempty"`
	Remaining  int       `json:"remaining"`
	ContentRaw string    `json:"content_raw"`
	Content    string    `json:"content"`
}

// ConversationSink receives conversation events.
type ConversationSink interface {
	Log(event ConversationLogEvent)
}

// ConversationLogger appends events to one NDJSON file per user session
// from a single background writer.
type ConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewConversationLogger starts the writer. A disabled config returns a
// logger that drops every event.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (*ConversationLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ConversationLogger{cfg: cfg, logger: logger, done: make(chan struct{})}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	l.queue = make(chan ConversationLogEvent, cfg.QueueSize)
	go l.run()
	return l, nil
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *ConversationLogger) Log(event ConversationLogEvent) {
	if l == nil || l.queue == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID, "session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close flushes queued events and stops the writer.
func (l *ConversationLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		if l.queue != nil {
			close(l.queue)
		}
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *ConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Error("Failed to write conversation log", "error", err,
				"user_id", event.UserID, "session_id", event.SessionID)
		}
	}
}

func (l *ConversationLogger) write(event ConversationLogEvent) error {
	dir := filepath.Join(l.cfg.Dir, safePathSegment(event.UserID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user log dir: %w", err)
	}
	path := filepath.Join(dir, safePathSegment(event.SessionID)+".ndjson")

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}

var (
	unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
	spaceRuns     = regexp.MustCompile(`[ \t]+`)
)

func safePathSegment(s string) string {
	s = unsafeSegment.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

// cleanForReadability strips control characters and collapses runs of
// blanks so log lines stay readable.
func cleanForReadability(raw string) string {
	clean := controlChars.ReplaceAllString(raw, "")
	clean = spaceRuns.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean)
}
