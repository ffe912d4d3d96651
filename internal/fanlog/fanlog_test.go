package fanlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

func newTestJournal(t *testing.T) (*Journal, *schedule.FakeClock, store.Storage) {
	t.Helper()
	clock := schedule.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	storage := store.Scoped(store.NewMemory(), "anon_log", nil)
	return New(storage, clock, nil), clock, storage
}

func TestEntryKey(t *testing.T) {
	if got := EntryKey(2025, 3, 5); got != "fanLogEntry-2025-3-5" {
		t.Errorf("Unexpected key %q", got)
	}
	if _, _, _, ok := parseKey("fanLogEntry-2025-2-30"); ok {
		t.Error("Expected impossible date to be rejected")
	}
	if y, m, d, ok := parseKey("fanLogEntry-2024-2-29"); !ok || y != 2024 || m != 2 || d != 29 {
		t.Errorf("Expected leap day to parse, got %d-%d-%d %v", y, m, d, ok)
	}
}

func TestSaveAndLoad(t *testing.T) {
	j, clock, _ := newTestJournal(t)
	ctx := context.Background()

	saved, err := j.Save(ctx, 2025, 3, 15, domain.FanLogEntry{
		Text:        "  오늘 **콘서트** 다녀옴  ",
		Images:      []string{"a.png", " ", ""},
		SelectedTab: "<b>aespa</b>",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Text != "오늘 **콘서트** 다녀옴" || len(saved.Images) != 1 || saved.SelectedTab != "aespa" {
		t.Errorf("Unexpected saved entry %+v", saved)
	}
	if saved.CreatedAt != "2025-03-15T12:00:00Z" {
		t.Errorf("Unexpected created time %q", saved.CreatedAt)
	}

	clock.Advance(time.Hour)
	edited, _ := j.Save(ctx, 2025, 3, 15, domain.FanLogEntry{Text: "edited"})
	if edited.CreatedAt != saved.CreatedAt {
		t.Error("Expected creation time to survive edits")
	}

	loaded, err := j.Entry(ctx, 2025, 3, 15)
	if err != nil || loaded.Text != "edited" || loaded.Links == nil {
		t.Errorf("Unexpected loaded entry %+v, %v", loaded, err)
	}
}

func TestSaveEmptyDeletes(t *testing.T) {
	j, _, storage := newTestJournal(t)
	ctx := context.Background()

	_, _ = j.Save(ctx, 2025, 3, 1, domain.FanLogEntry{Text: "x"})
	if _, err := j.Save(ctx, 2025, 3, 1, domain.FanLogEntry{Text: "   "}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, ok, _ := storage.Get(ctx, "fanLogEntry-2025-3-1"); ok {
		t.Error("Expected empty save to delete the entry")
	}
}

func TestSaveValidation(t *testing.T) {
	j, _, _ := newTestJournal(t)
	ctx := context.Background()

	if _, err := j.Save(ctx, 2025, 2, 29, domain.FanLogEntry{Text: "x"}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Expected ErrInvalidDate, got %v", err)
	}
	long := strings.Repeat("가", MaxTextLength+1)
	if _, err := j.Save(ctx, 2025, 3, 1, domain.FanLogEntry{Text: long}); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestMalformedEntryIsEmpty(t *testing.T) {
	j, _, storage := newTestJournal(t)
	ctx := context.Background()

	_ = storage.Set(ctx, "fanLogEntry-2025-3-2", "{broken")
	entry, err := j.Entry(ctx, 2025, 3, 2)
	if err != nil || !entry.IsEmpty() {
		t.Errorf("Expected empty entry, got %+v, %v", entry, err)
	}
}

func TestMonthAndPosts(t *testing.T) {
	j, clock, storage := newTestJournal(t)
	ctx := context.Background()

	_, _ = j.Save(ctx, 2025, 3, 20, domain.FanLogEntry{Text: "late"})
	clock.Advance(time.Hour)
	_, _ = j.Save(ctx, 2025, 3, 3, domain.FanLogEntry{Text: "early", SelectedTab: "iu"})
	clock.Advance(time.Hour)
	_, _ = j.Save(ctx, 2025, 4, 1, domain.FanLogEntry{Text: "april"})
	_, _ = j.Save(ctx, 2025, 11, 1, domain.FanLogEntry{Text: "november"})
	_ = storage.Set(ctx, "fanLogEntry-bogus", `{"text":"x"}`)

	month, err := j.Month(ctx, 2025, 3)
	if err != nil {
		t.Fatalf("Month failed: %v", err)
	}
	if len(month) != 2 || month[0].Day != 3 || month[1].Day != 20 {
		t.Errorf("Unexpected month listing %+v", month)
	}

	month, _ = j.Month(ctx, 2025, 1)
	if len(month) != 0 {
		t.Errorf("Expected January to be empty, got %+v", month)
	}

	posts, err := j.Posts(ctx)
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 4 {
		t.Fatalf("Expected 4 posts, got %d", len(posts))
	}
	if posts[len(posts)-1].Entry.Text != "late" {
		t.Errorf("Expected oldest post last, got %+v", posts[len(posts)-1])
	}
	for _, p := range posts {
		if p.Entry.Text == "late" && p.Entry.SelectedTab != DefaultTab {
			t.Errorf("Expected default tab, got %q", p.Entry.SelectedTab)
		}
		if p.Entry.Text == "early" && p.Entry.SelectedTab != "iu" {
			t.Errorf("Expected stored tab, got %q", p.Entry.SelectedTab)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML("**hi** <script>alert(1)</script>\nsee https://example.com")
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if !strings.Contains(out, "<strong>hi</strong>") {
		t.Errorf("Expected markdown to render, got %q", out)
	}
	if strings.Contains(out, "<script") {
		t.Errorf("Expected script to be removed, got %q", out)
	}
	if !strings.Contains(out, `href="https://example.com"`) || !strings.Contains(out, "nofollow") {
		t.Errorf("Expected linkified nofollow link, got %q", out)
	}
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }

	tests := []struct {
		created string
		want    string
	}{
		{"", ""},
		{"not a time", ""},
		{at(59 * time.Second), "지금"},
		{at(61 * time.Second), "1분 전"},
		{at(59 * time.Minute), "59분 전"},
		{at(2 * time.Hour), "2시간 전"},
		{at(29 * 24 * time.Hour), "29일 전"},
		{at(30 * 24 * time.Hour), "2025. 2. 13."},
	}
	for _, tt := range tests {
		if got := TimeAgo(tt.created, now); got != tt.want {
			t.Errorf("TimeAgo(%q) = %q, want %q", tt.created, got, tt.want)
		}
	}
}
