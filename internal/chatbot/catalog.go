// Package chatbot implements the companion chat: the content catalog with
// hot reload, the per-device chat session with its daily quota, and the
// conversation log writer.
package chatbot

import (
	_ "embed"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dearie-app/dearie/internal/domain"
)

//go:embed content/catalog.yaml
var defaultCatalogYAML []byte

// EmotionItem is one selectable emotion.
type EmotionItem struct {
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
}

// EmotionGroup is a set of emotions sharing a theme, avatar and replies.
type EmotionGroup struct {
	Title      string            `yaml:"title" json:"title"`
	Theme      domain.ThemeClass `yaml:"theme" json:"theme"`
	Icon       string            `yaml:"icon" json:"icon"`
	Avatar     string            `yaml:"avatar" json:"avatar"`
	BotName    string            `yaml:"bot_name" json:"bot_name"`
	Background string            `yaml:"background" json:"background"`
	Items      []EmotionItem     `yaml:"items" json:"items"`
	Replies    []string          `yaml:"replies" json:"-"`
	Songs      []domain.Song     `yaml:"songs" json:"-"`
}

// Response is a scripted reply selected by trigger substrings.
type Response struct {
	Triggers []string `yaml:"triggers" json:"triggers"`
	Response string   `yaml:"response" json:"response"`
}

// Catalog is the static chat content.
type Catalog struct {
	AvatarBase     string         `yaml:"avatar_base" json:"avatar_base"`
	DefaultAvatar  string         `yaml:"default_avatar" json:"default_avatar"`
	Quota          int            `yaml:"quota" json:"quota"`
	Groups         []EmotionGroup `yaml:"groups" json:"groups"`
	DefaultReplies []string       `yaml:"default_replies" json:"-"`
	DefaultSongs   []domain.Song  `yaml:"default_songs" json:"-"`
	Responses      []Response     `yaml:"responses" json:"-"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate catalog")
	}
	return &c, nil
}

// Validate checks that every group maps to a known theme and that emotion
// labels are unique.
func (c *Catalog) Validate() error {
	if c.Quota <= 0 {
		return errors.Errorf("quota must be > 0, got %d", c.Quota)
	}
	if c.DefaultAvatar == "" {
		return errors.New("default_avatar is required")
	}
	seen := make(map[string]bool)
	for _, g := range c.Groups {
		if !g.Theme.Valid() {
			return errors.Errorf("group %q has unknown theme %q", g.Title, g.Theme)
		}
		for _, item := range g.Items {
			if seen[item.Label] {
				return errors.Errorf("emotion %q listed twice", item.Label)
			}
			seen[item.Label] = true
		}
	}
	for i, r := range c.Responses {
		if len(r.Triggers) == 0 || r.Response == "" {
			return errors.Errorf("response %d needs triggers and text", i)
		}
	}
	return nil
}

// Group returns the group containing emotion.
func (c *Catalog) Group(emotion string) (*EmotionGroup, bool) {
	for i := range c.Groups {
		for _, item := range c.Groups[i].Items {
			if item.Label == emotion {
				return &c.Groups[i], true
			}
		}
	}
	return nil, false
}

// IsEmotion reports whether label is a known emotion.
func (c *Catalog) IsEmotion(label string) bool {
	_, ok := c.Group(label)
	return ok
}

// AvatarURL returns the avatar for the current emotion. No emotion, or an
// unknown one, yields the default avatar.
func (c *Catalog) AvatarURL(emotion string) string {
	file := c.DefaultAvatar
	if g, ok := c.Group(emotion); ok && g.Avatar != "" {
		file = g.Avatar
	}
	return c.AvatarBase + file
}

// ThemeGroup returns the group owning a theme.
func (c *Catalog) ThemeGroup(theme domain.ThemeClass) (*EmotionGroup, bool) {
	for i := range c.Groups {
		if c.Groups[i].Theme == theme {
			return &c.Groups[i], true
		}
	}
	return nil, false
}

// Match returns the first scripted response with a trigger contained in
// text, compared case-insensitively.
func (c *Catalog) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, r := range c.Responses {
		for _, trigger := range r.Triggers {
			if strings.Contains(lower, strings.ToLower(trigger)) {
				return r.Response, true
			}
		}
	}
	return "", false
}

// EmotionReplies returns the scripted reply texts and recommended songs for
// an emotion. Unknown emotions get the default set.
func (c *Catalog) EmotionReplies(emotion string) ([]string, []domain.Song) {
	replies, songs := c.DefaultReplies, c.DefaultSongs
	if g, ok := c.Group(emotion); ok {
		replies, songs = g.Replies, g.Songs
	}
	out := make([]string, len(replies))
	for i, r := range replies {
		out[i] = strings.ReplaceAll(r, "{emotion}", emotion)
	}
	return out, append([]domain.Song(nil), songs...)
}

// Song looks up a recommendable song by id across all groups.
func (c *Catalog) Song(id string) (domain.Song, bool) {
	for _, g := range c.Groups {
		for _, s := range g.Songs {
			if s.ID == id {
				return s, true
			}
		}
	}
	for _, s := range c.DefaultSongs {
		if s.ID == id {
			return s, true
		}
	}
	return domain.Song{}, false
}
