// Package fanlog stores the fan journal: one entry per calendar date with
// text, images and links, rendered from markdown for display.
package fanlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

// KeyPrefix prefixes every entry key.
const KeyPrefix = "fanLogEntry-"

// DefaultTab labels entries saved without a group tab.
const DefaultTab = "팬로그"

// Limits on a single entry.
const (
	MaxTextLength = 5000
	MaxImages     = 10
	MaxLinks      = 10
)

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrTooLarge    = errors.New("entry exceeds size limits")
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	htmlPolicy = newEntryHTMLPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

func newEntryHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// EntryKey returns the storage key of a date.
func EntryKey(year, month, day int) string {
	return fmt.Sprintf("%s%d-%d-%d", KeyPrefix, year, month, day)
}

func parseKey(key string) (year, month, day int, ok bool) {
	parts := strings.Split(strings.TrimPrefix(key, KeyPrefix), "-")
	if !strings.HasPrefix(key, KeyPrefix) || len(parts) != 3 {
		return 0, 0, 0, false
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], validDate(nums[0], nums[1], nums[2])
}

func validDate(year, month, day int) bool {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Dated is an entry with its date.
type Dated struct {
	Year  int                `json:"year"`
	Month int                `json:"month"`
	Day   int                `json:"day"`
	Entry domain.FanLogEntry `json:"entry"`
}

// Journal reads and writes the fan log of one device.
type Journal struct {
	storage store.Storage
	clock   schedule.Clock
	logger  *slog.Logger
}

// New returns a Journal over storage.
func New(storage store.Storage, clock schedule.Clock, logger *slog.Logger) *Journal {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{storage: storage, clock: clock, logger: logger}
}

func emptyEntry() domain.FanLogEntry {
	return domain.FanLogEntry{Images: []string{}, Links: []string{}}
}

// Entry returns the entry of a date. A missing or malformed entry yields
// an empty one.
func (j *Journal) Entry(ctx context.Context, year, month, day int) (domain.FanLogEntry, error) {
	if !validDate(year, month, day) {
		return emptyEntry(), ErrInvalidDate
	}
	return j.load(ctx, EntryKey(year, month, day))
}

func (j *Journal) load(ctx context.Context, key string) (domain.FanLogEntry, error) {
	entry := emptyEntry()
	_, err := store.GetJSON(ctx, j.storage, key, &entry)
	if errors.Is(err, store.ErrMalformed) {
		j.logger.Warn("Discarding malformed fan log entry", "key", key, "error", err)
		return emptyEntry(), nil
	}
	if err != nil {
		return emptyEntry(), fmt.Errorf("read fan log entry: %w", err)
	}
	if entry.Images == nil {
		entry.Images = []string{}
	}
	if entry.Links == nil {
		entry.Links = []string{}
	}
	return entry, nil
}

// Save writes the entry of a date. Text is kept as markdown with raw HTML
// stripped. The creation time of an existing entry is preserved. Saving an
// empty entry deletes the date.
func (j *Journal) Save(ctx context.Context, year, month, day int, entry domain.FanLogEntry) (domain.FanLogEntry, error) {
	if !validDate(year, month, day) {
		return emptyEntry(), ErrInvalidDate
	}
	entry.Text = strings.TrimSpace(entry.Text)
	entry.Images = cleanList(entry.Images)
	entry.Links = cleanList(entry.Links)
	entry.SelectedTab = strings.TrimSpace(textPolicy.Sanitize(entry.SelectedTab))
	if len([]rune(entry.Text)) > MaxTextLength || len(entry.Images) > MaxImages || len(entry.Links) > MaxLinks {
		return emptyEntry(), ErrTooLarge
	}

	key := EntryKey(year, month, day)
	if entry.IsEmpty() {
		return emptyEntry(), j.Delete(ctx, year, month, day)
	}

	existing, err := j.load(ctx, key)
	if err != nil {
		return emptyEntry(), err
	}
	entry.CreatedAt = existing.CreatedAt
	if entry.CreatedAt == "" {
		entry.CreatedAt = j.clock.Now().UTC().Format(time.RFC3339)
	}
	if err := store.SetJSON(ctx, j.storage, key, entry); err != nil {
		return emptyEntry(), fmt.Errorf("write fan log entry: %w", err)
	}
	return entry, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Delete removes the entry of a date.
func (j *Journal) Delete(ctx context.Context, year, month, day int) error {
	if !validDate(year, month, day) {
		return ErrInvalidDate
	}
	if err := j.storage.Remove(ctx, EntryKey(year, month, day)); err != nil {
		return fmt.Errorf("delete fan log entry: %w", err)
	}
	return nil
}

// Month lists the entries of a month ordered by day.
func (j *Journal) Month(ctx context.Context, year, month int) ([]Dated, error) {
	if month < 1 || month > 12 {
		return nil, ErrInvalidDate
	}
	all, err := j.list(ctx, fmt.Sprintf("%s%d-%d-", KeyPrefix, year, month))
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(a, b int) bool { return all[a].Day < all[b].Day })
	return all, nil
}

// Posts lists every entry, most recently created first. Entries without a
// tab are labelled DefaultTab.
func (j *Journal) Posts(ctx context.Context) ([]Dated, error) {
	all, err := j.list(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Entry.SelectedTab == "" {
			all[i].Entry.SelectedTab = DefaultTab
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		return createdAt(all[a].Entry).After(createdAt(all[b].Entry))
	})
	return all, nil
}

func (j *Journal) list(ctx context.Context, prefix string) ([]Dated, error) {
	keys, err := j.storage.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list fan log keys: %w", err)
	}
	out := []Dated{}
	for _, key := range keys {
		y, m, d, ok := parseKey(key)
		if !ok {
			continue
		}
		entry, err := j.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry.IsEmpty() {
			continue
		}
		out = append(out, Dated{Year: y, Month: m, Day: d, Entry: entry})
	}
	return out, nil
}

func createdAt(e domain.FanLogEntry) time.Time {
	t, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RenderHTML converts entry markdown to sanitized HTML.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimSpace(htmlPolicy.Sanitize(buf.String())), nil
}

// TimeAgo labels an RFC 3339 creation time relative to now. An empty or
// unparsable time yields an empty label; anything older than thirty days
// shows the date.
func TimeAgo(created string, now time.Time) string {
	if created == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return ""
	}
	sec := int64(now.Sub(t) / time.Second)
	switch {
	case sec < 60:
		return "지금"
	case sec < 3600:
		return fmt.Sprintf("%d분 전", sec/60)
	case sec < 86400:
		return fmt.Sprintf("%d시간 전", sec/3600)
	case sec < 2592000:
		return fmt.Sprintf("%d일 전", sec/86400)
	default:
		t = t.In(now.Location())
		return fmt.Sprintf("%d. %d. %d.", t.Year(), int(t.Month()), t.Day())
	}
}
