// Package feed keeps the per-device social state of the artist feed: post
// likes, the liked-posts list, closet favorites and post comments.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

// Storage keys.
const (
	FavoritesKey    = "favorites"
	UserNameKey     = "userName"
	ProfileImageKey = "profileImage"
)

// Profile defaults.
const (
	DefaultUserName     = "순간의 윈터"
	DefaultProfileImage = "artistSection/profileImg9.png"
)

// MaxCommentLength bounds the text of a comment in runes.
const MaxCommentLength = 500

var (
	ErrEmptyComment   = errors.New("comment text is empty")
	ErrCommentTooLong = errors.New("comment text is too long")
	ErrNotFound       = errors.New("not found")
	ErrNotOwner       = errors.New("comment belongs to another user")
)

var commentPolicy = bluemonday.StrictPolicy()

func likesKey(artist string, post int) string {
	return fmt.Sprintf("%s-postLikes-%d", artist, post)
}

func likedKey(artist string, post int) string {
	return fmt.Sprintf("%s-postLiked-%d", artist, post)
}

func likedTimeKey(artist string, post int) string {
	return fmt.Sprintf("%s-likedTime-%d", artist, post)
}

func commentsKey(artist, post string) string {
	return artist + "-comments-" + post
}

var likedKeyPattern = regexp.MustCompile(`^(.+)-postLiked-(\d+)$`)

// Feed reads and writes the feed state of one device.
type Feed struct {
	storage store.Storage
	clock   schedule.Clock
	logger  *slog.Logger
}

// New returns a Feed over storage.
func New(storage store.Storage, clock schedule.Clock, logger *slog.Logger) *Feed {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{storage: storage, clock: clock, logger: logger}
}

func (f *Feed) nowMillis() int64 {
	return f.clock.Now().UnixMilli()
}

func (f *Feed) getInt(ctx context.Context, key string) (int, bool, error) {
	raw, ok, err := f.storage.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		f.logger.Warn("Ignoring malformed number", "key", key, "value", raw)
		return 0, false, nil
	}
	return int(n), true, nil
}

// Like returns the like state of a post. The first read seeds the count
// with baseLikes and an unliked flag.
func (f *Feed) Like(ctx context.Context, artist string, post, baseLikes int) (domain.LikeState, error) {
	state := domain.LikeState{ArtistKey: artist, PostIndex: post}

	likes, ok, err := f.getInt(ctx, likesKey(artist, post))
	if err != nil {
		return state, fmt.Errorf("read likes: %w", err)
	}
	if !ok {
		state.Likes = max(baseLikes, 0)
		if err := f.writeLike(ctx, state); err != nil {
			return state, err
		}
		return state, nil
	}
	state.Likes = likes

	liked, _, err := f.storage.Get(ctx, likedKey(artist, post))
	if err != nil {
		return state, fmt.Errorf("read liked flag: %w", err)
	}
	state.Liked = liked == "true"
	if state.Liked {
		ts, _, err := f.getInt(ctx, likedTimeKey(artist, post))
		if err != nil {
			return state, fmt.Errorf("read like time: %w", err)
		}
		state.LikedAt = int64(ts)
	}
	return state, nil
}

// ToggleLike flips the like flag of a post, adjusting the count by one and
// recording or clearing the like time.
func (f *Feed) ToggleLike(ctx context.Context, artist string, post, baseLikes int) (domain.LikeState, error) {
	state, err := f.Like(ctx, artist, post, baseLikes)
	if err != nil {
		return state, err
	}
	if state.Liked {
		state.Liked = false
		state.Likes = max(state.Likes-1, 0)
		state.LikedAt = 0
	} else {
		state.Liked = true
		state.Likes++
		state.LikedAt = f.nowMillis()
	}
	return state, f.writeLike(ctx, state)
}

// Unlike clears the like of a post from the liked list. The count never
// goes below zero. Unliking a post that is not liked is a no-op.
func (f *Feed) Unlike(ctx context.Context, artist string, post int) (domain.LikeState, error) {
	state, err := f.Like(ctx, artist, post, 0)
	if err != nil || !state.Liked {
		return state, err
	}
	state.Liked = false
	state.Likes = max(state.Likes-1, 0)
	state.LikedAt = 0
	return state, f.writeLike(ctx, state)
}

func (f *Feed) writeLike(ctx context.Context, s domain.LikeState) error {
	if err := f.storage.Set(ctx, likesKey(s.ArtistKey, s.PostIndex), strconv.Itoa(s.Likes)); err != nil {
		return fmt.Errorf("write likes: %w", err)
	}
	if err := f.storage.Set(ctx, likedKey(s.ArtistKey, s.PostIndex), strconv.FormatBool(s.Liked)); err != nil {
		return fmt.Errorf("write liked flag: %w", err)
	}
	timeKey := likedTimeKey(s.ArtistKey, s.PostIndex)
	if s.Liked {
		if err := f.storage.Set(ctx, timeKey, strconv.FormatInt(s.LikedAt, 10)); err != nil {
			return fmt.Errorf("write like time: %w", err)
		}
		return nil
	}
	if err := f.storage.Remove(ctx, timeKey); err != nil {
		return fmt.Errorf("clear like time: %w", err)
	}
	return nil
}

// LikedPosts lists every liked post, most recently liked first.
func (f *Feed) LikedPosts(ctx context.Context) ([]domain.LikedPost, error) {
	keys, err := f.storage.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	posts := []domain.LikedPost{}
	for _, key := range keys {
		m := likedKeyPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		liked, _, err := f.storage.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if liked != "true" {
			continue
		}
		index, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		ts, _, err := f.getInt(ctx, likedTimeKey(m[1], index))
		if err != nil {
			return nil, fmt.Errorf("read like time: %w", err)
		}
		posts = append(posts, domain.LikedPost{ArtistKey: m[1], PostIndex: index, Timestamp: int64(ts)})
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Timestamp > posts[j].Timestamp
	})
	return posts, nil
}
