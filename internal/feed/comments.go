package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/store"
)

// Profile returns the display name and avatar used for new comments.
func (f *Feed) Profile(ctx context.Context) (name, image string, err error) {
	name, image = DefaultUserName, DefaultProfileImage
	if v, ok, err := f.storage.Get(ctx, UserNameKey); err != nil {
		return "", "", fmt.Errorf("read user name: %w", err)
	} else if ok && strings.TrimSpace(v) != "" {
		name = v
	}
	if v, ok, err := f.storage.Get(ctx, ProfileImageKey); err != nil {
		return "", "", fmt.Errorf("read profile image: %w", err)
	} else if ok && v != "" {
		image = v
	}
	return name, image, nil
}

// SetUserName stores the display name after stripping markup.
func (f *Feed) SetUserName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(commentPolicy.Sanitize(name))
	if name == "" {
		if err := f.storage.Remove(ctx, UserNameKey); err != nil {
			return "", fmt.Errorf("clear user name: %w", err)
		}
		return DefaultUserName, nil
	}
	if err := f.storage.Set(ctx, UserNameKey, name); err != nil {
		return "", fmt.Errorf("write user name: %w", err)
	}
	return name, nil
}

// Comments returns the comments of a post in posting order. Comments
// written without an id or timestamp get them filled in.
func (f *Feed) Comments(ctx context.Context, artist, post string) ([]domain.Comment, error) {
	comments := []domain.Comment{}
	_, err := store.GetJSON(ctx, f.storage, commentsKey(artist, post), &comments)
	if errors.Is(err, store.ErrMalformed) {
		f.logger.Warn("Discarding malformed comments", "artist", artist, "post", post, "error", err)
		return []domain.Comment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	if comments == nil {
		return []domain.Comment{}, nil
	}
	now := f.nowMillis()
	for i := range comments {
		if comments[i].ID == "" {
			comments[i].ID = ulid.Make().String()
		}
		if comments[i].Timestamp == 0 {
			comments[i].Timestamp = now
		}
	}
	return comments, nil
}

func (f *Feed) saveComments(ctx context.Context, artist, post string, comments []domain.Comment) error {
	if err := store.SetJSON(ctx, f.storage, commentsKey(artist, post), comments); err != nil {
		return fmt.Errorf("write comments: %w", err)
	}
	return nil
}

// AddComment appends a comment by userID. Markup is stripped from text
// and the author profile is read from storage.
func (f *Feed) AddComment(ctx context.Context, artist, post, userID, text string) (domain.Comment, error) {
	text = strings.TrimSpace(commentPolicy.Sanitize(text))
	if text == "" {
		return domain.Comment{}, ErrEmptyComment
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return domain.Comment{}, ErrCommentTooLong
	}

	comments, err := f.Comments(ctx, artist, post)
	if err != nil {
		return domain.Comment{}, err
	}
	name, image, err := f.Profile(ctx)
	if err != nil {
		return domain.Comment{}, err
	}

	c := domain.Comment{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Name:       name,
		Text:       text,
		CommentImg: image,
		Timestamp:  f.nowMillis(),
	}
	comments = append(comments, c)
	return c, f.saveComments(ctx, artist, post, comments)
}

// ToggleCommentLike flips the like flag of a comment.
func (f *Feed) ToggleCommentLike(ctx context.Context, artist, post, id string) (domain.Comment, error) {
	comments, err := f.Comments(ctx, artist, post)
	if err != nil {
		return domain.Comment{}, err
	}
	for i := range comments {
		if comments[i].ID != id {
			continue
		}
		c := &comments[i]
		if c.Liked {
			c.Liked = false
			c.LikeCount = max(c.LikeCount-1, 0)
		} else {
			c.Liked = true
			c.LikeCount++
		}
		return *c, f.saveComments(ctx, artist, post, comments)
	}
	return domain.Comment{}, ErrNotFound
}

// DeleteComment removes a comment written by userID.
func (f *Feed) DeleteComment(ctx context.Context, artist, post, id, userID string) error {
	comments, err := f.Comments(ctx, artist, post)
	if err != nil {
		return err
	}
	for i, c := range comments {
		if c.ID != id {
			continue
		}
		if c.UserID != userID {
			return ErrNotOwner
		}
		comments = append(comments[:i], comments[i+1:]...)
		return f.saveComments(ctx, artist, post, comments)
	}
	return ErrNotFound
}

// TimeDisplay formats a comment timestamp relative to now: 방금 전 under a
// minute, minutes, hours, days under a week, then MM/DD within the year
// and YYYY/MM/DD before it.
func TimeDisplay(timestamp int64, now time.Time) string {
	if timestamp == 0 {
		return "방금 전"
	}
	t := time.UnixMilli(timestamp).In(now.Location())
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "방금 전"
	case diff < time.Hour:
		return fmt.Sprintf("%d분 전", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d시간 전", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d일 전", int(diff/(24*time.Hour)))
	case t.Year() == now.Year():
		return t.Format("01/02")
	default:
		return t.Format("2006/01/02")
	}
}
