package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

func newTestFeed(t *testing.T) (*Feed, *schedule.FakeClock, store.Storage) {
	t.Helper()
	clock := schedule.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	storage := store.Scoped(store.NewMemory(), "anon_feed", nil)
	return New(storage, clock, nil), clock, storage
}

func TestLikeSeedsBaseCount(t *testing.T) {
	f, _, storage := newTestFeed(t)
	ctx := context.Background()

	state, err := f.Like(ctx, "aespa", 2, 41)
	if err != nil {
		t.Fatalf("Like failed: %v", err)
	}
	if state.Likes != 41 || state.Liked {
		t.Errorf("Expected seeded 41 unliked, got %+v", state)
	}
	if v, _, _ := storage.Get(ctx, "aespa-postLikes-2"); v != "41" {
		t.Errorf("Expected seeded count persisted, got %q", v)
	}

	state, _ = f.Like(ctx, "aespa", 2, 99)
	if state.Likes != 41 {
		t.Errorf("Expected stored count to win over base, got %d", state.Likes)
	}
}

func TestToggleLike(t *testing.T) {
	f, clock, storage := newTestFeed(t)
	ctx := context.Background()

	state, err := f.ToggleLike(ctx, "iu", 0, 10)
	if err != nil {
		t.Fatalf("ToggleLike failed: %v", err)
	}
	if !state.Liked || state.Likes != 11 || state.LikedAt != clock.Now().UnixMilli() {
		t.Errorf("Unexpected liked state %+v", state)
	}
	if _, ok, _ := storage.Get(ctx, "iu-likedTime-0"); !ok {
		t.Error("Expected like time to be stored")
	}

	state, _ = f.ToggleLike(ctx, "iu", 0, 10)
	if state.Liked || state.Likes != 10 {
		t.Errorf("Unexpected unliked state %+v", state)
	}
	if _, ok, _ := storage.Get(ctx, "iu-likedTime-0"); ok {
		t.Error("Expected like time to be cleared")
	}
}

func TestUnlikeFloorsAtZero(t *testing.T) {
	f, _, storage := newTestFeed(t)
	ctx := context.Background()

	_ = storage.Set(ctx, "ive-postLikes-1", "0")
	_ = storage.Set(ctx, "ive-postLiked-1", "true")

	state, err := f.Unlike(ctx, "ive", 1)
	if err != nil {
		t.Fatalf("Unlike failed: %v", err)
	}
	if state.Liked || state.Likes != 0 {
		t.Errorf("Expected 0 unliked, got %+v", state)
	}

	state, _ = f.Unlike(ctx, "ive", 1)
	if state.Likes != 0 {
		t.Errorf("Expected no-op on second unlike, got %+v", state)
	}
}

func TestLikedPostsNewestFirst(t *testing.T) {
	f, clock, _ := newTestFeed(t)
	ctx := context.Background()

	_, _ = f.ToggleLike(ctx, "aespa", 1, 0)
	clock.Advance(time.Minute)
	_, _ = f.ToggleLike(ctx, "riize", 3, 0)
	clock.Advance(time.Minute)
	_, _ = f.ToggleLike(ctx, "txt", 0, 0)
	_, _ = f.ToggleLike(ctx, "txt", 0, 0)

	posts, err := f.LikedPosts(ctx)
	if err != nil {
		t.Fatalf("LikedPosts failed: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("Expected 2 liked posts, got %+v", posts)
	}
	if posts[0].ArtistKey != "riize" || posts[0].PostIndex != 3 || posts[1].ArtistKey != "aespa" {
		t.Errorf("Unexpected order %+v", posts)
	}
}

func TestFavorites(t *testing.T) {
	f, _, storage := newTestFeed(t)
	ctx := context.Background()

	a := domain.Favorite{TeamID: 1, ItemID: 2}
	b := domain.Favorite{TeamID: 3, ItemID: 4}
	_, _ = f.AddFavorite(ctx, a)
	_, _ = f.AddFavorite(ctx, b)
	favs, _ := f.AddFavorite(ctx, a)
	if len(favs) != 2 {
		t.Fatalf("Expected duplicate add to be ignored, got %v", favs)
	}

	favs, err := f.RemoveFavorite(ctx, a)
	if err != nil {
		t.Fatalf("RemoveFavorite failed: %v", err)
	}
	if len(favs) != 1 || favs[0] != b {
		t.Errorf("Unexpected favorites %v", favs)
	}
	if ok, _ := f.IsFavorite(ctx, a); ok {
		t.Error("Expected removed favorite to be gone")
	}

	_ = storage.Set(ctx, FavoritesKey, "not json")
	favs, err = f.Favorites(ctx)
	if err != nil || len(favs) != 0 {
		t.Errorf("Expected empty list for malformed favorites, got %v, %v", favs, err)
	}
}

func TestComments(t *testing.T) {
	f, _, _ := newTestFeed(t)
	ctx := context.Background()

	c, err := f.AddComment(ctx, "aespa", "p1", "anon_feed", "  <b>so</b> good <script>x()</script> ")
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if c.Text != "so good" {
		t.Errorf("Expected sanitized text, got %q", c.Text)
	}
	if c.Name != DefaultUserName || c.CommentImg != DefaultProfileImage {
		t.Errorf("Expected default profile, got %q %q", c.Name, c.CommentImg)
	}

	if _, err := f.AddComment(ctx, "aespa", "p1", "anon_feed", "<i></i>  "); !errors.Is(err, ErrEmptyComment) {
		t.Errorf("Expected ErrEmptyComment, got %v", err)
	}

	if _, err := f.SetUserName(ctx, "윈터팬"); err != nil {
		t.Fatalf("SetUserName failed: %v", err)
	}
	second, _ := f.AddComment(ctx, "aespa", "p1", "anon_other", "hi")
	if second.Name != "윈터팬" {
		t.Errorf("Expected stored user name, got %q", second.Name)
	}

	liked, err := f.ToggleCommentLike(ctx, "aespa", "p1", c.ID)
	if err != nil || !liked.Liked || liked.LikeCount != 1 {
		t.Errorf("Unexpected like result %+v, %v", liked, err)
	}
	liked, _ = f.ToggleCommentLike(ctx, "aespa", "p1", c.ID)
	if liked.Liked || liked.LikeCount != 0 {
		t.Errorf("Unexpected unlike result %+v", liked)
	}

	if err := f.DeleteComment(ctx, "aespa", "p1", second.ID, "anon_feed"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	if err := f.DeleteComment(ctx, "aespa", "p1", c.ID, "anon_feed"); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	if err := f.DeleteComment(ctx, "aespa", "p1", c.ID, "anon_feed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	comments, _ := f.Comments(ctx, "aespa", "p1")
	if len(comments) != 1 || comments[0].ID != second.ID {
		t.Errorf("Unexpected comments %+v", comments)
	}
}

func TestCommentsFillsLegacyFields(t *testing.T) {
	f, clock, storage := newTestFeed(t)
	ctx := context.Background()

	_ = storage.Set(ctx, "iu-comments-7", `[{"name":"old","text":"hello"}]`)
	comments, err := f.Comments(ctx, "iu", "7")
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
	if comments[0].ID == "" || comments[0].Timestamp != clock.Now().UnixMilli() {
		t.Errorf("Expected id and timestamp filled, got %+v", comments[0])
	}
}

func TestTimeDisplay(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	ms := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

	tests := []struct {
		ts   int64
		want string
	}{
		{0, "방금 전"},
		{ms(30 * time.Second), "방금 전"},
		{ms(5 * time.Minute), "5분 전"},
		{ms(3 * time.Hour), "3시간 전"},
		{ms(6 * 24 * time.Hour), "6일 전"},
		{ms(10 * 24 * time.Hour), "03/05"},
		{time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), "2024/12/01"},
	}
	for _, tt := range tests {
		if got := TimeDisplay(tt.ts, now); got != tt.want {
			t.Errorf("TimeDisplay(%d) = %q, want %q", tt.ts, got, tt.want)
		}
	}
}
