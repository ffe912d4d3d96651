package domain

import "time"

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// MessageType distinguishes special bot messages from plain text.
type MessageType string

// MessageTypeMusic marks a bot message that references a chosen song.
const MessageTypeMusic MessageType = "music"

// ThemeClass is the visual mode tied to an emotion group.
type ThemeClass string

const (
	ThemeHeart ThemeClass = "heart"
	ThemeFire  ThemeClass = "fire"
	ThemeGreen ThemeClass = "green"
)

// Valid reports whether t is one of the three themes.
func (t ThemeClass) Valid() bool {
	return t == ThemeHeart || t == ThemeFire || t == ThemeGreen
}

// Song is a recommendable track.
type Song struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	Artist string `json:"artist" yaml:"artist"`
	Cover  string `json:"cover,omitempty" yaml:"cover"`
	Audio  string `json:"audio,omitempty" yaml:"audio"`
}

// ChatMessage is one entry of the conversation log. It is a tagged union:
// user text, bot text (optionally an options card carrying Songs and
// Emotion), or a bot music message carrying Song.
type ChatMessage struct {
	ID          string      `json:"id"`
	From        Sender      `json:"from"`
	Text        string      `json:"text,omitempty"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	ShowOptions bool        `json:"showOptions,omitempty"`
	Type        MessageType `json:"type,omitempty"`
	Song        *Song       `json:"song,omitempty"`
	Songs       []Song      `json:"songs,omitempty"`
	Emotion     string      `json:"emotion,omitempty"`
	HideAvatar  bool        `json:"hideAvatar,omitempty"`
	Dismissed   bool        `json:"dismissed,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// IsOptionsCard reports whether the message is a song recommendation card.
func (m ChatMessage) IsOptionsCard() bool {
	return m.From == SenderBot && m.ShowOptions
}

// ChatSnapshot is the persisted form of a chat session.
type ChatSnapshot struct {
	Messages  []ChatMessage `json:"msgs"`
	Remaining int           `json:"rem"`
	Emotion   *string       `json:"emotion"`
	Theme     ThemeClass    `json:"theme"`
}
