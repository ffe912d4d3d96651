package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/feed"
	"github.com/dearie-app/dearie/internal/identity"
)

func (h *Handler) registerFeed(r chi.Router) {
	r.Get("/profile", h.GetProfile)
	r.Put("/profile", h.UpdateProfile)
	r.Get("/likes", h.ListLikedPosts)

	r.Get("/favorites", h.ListFavorites)
	r.Post("/favorites", h.AddFavorite)
	r.Delete("/favorites/{team}/{item}", h.RemoveFavorite)

	r.Route("/feed/{artist}/posts/{post}", func(r chi.Router) {
		r.Get("/likes", h.GetLikes)
		r.Post("/likes/toggle", h.ToggleLike)
		r.Delete("/likes", h.Unlike)

		r.Get("/comments", h.ListComments)
		r.Post("/comments", h.AddComment)
		r.Post("/comments/{id}/like", h.ToggleCommentLike)
		r.Delete("/comments/{id}", h.DeleteComment)
	})
}

func (h *Handler) feed(r *http.Request) *feed.Feed {
	return feed.New(h.storage(r), h.Clock, h.Logger)
}

type profileResponse struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// GetProfile returns the comment author profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	name, image, err := h.feed(r).Profile(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to read profile", err)
		return
	}
	JSON(w, http.StatusOK, profileResponse{Name: name, Image: image})
}

type profileRequest struct {
	Name string `json:"name"`
}

// UpdateProfile renames the comment author.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	f := h.feed(r)
	name, err := f.SetUserName(r.Context(), req.Name)
	if err != nil {
		h.serverError(w, r, "failed to update profile", err)
		return
	}
	_, image, err := f.Profile(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to read profile", err)
		return
	}
	JSON(w, http.StatusOK, profileResponse{Name: name, Image: image})
}

// ListLikedPosts returns liked posts, newest like first.
func (h *Handler) ListLikedPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.feed(r).LikedPosts(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to list likes", err)
		return
	}
	if posts == nil {
		posts = []domain.LikedPost{}
	}
	JSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// GetLikes returns a post's like state. ?base= seeds the count shown before
// the device ever touched the post.
func (h *Handler) GetLikes(w http.ResponseWriter, r *http.Request) {
	post, ok := intParam(w, r, "post")
	if !ok {
		return
	}
	state, err := h.feed(r).Like(r.Context(), chi.URLParam(r, "artist"), post, intQuery(r, "base", 0))
	if err != nil {
		h.serverError(w, r, "failed to read likes", err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// ToggleLike likes or unlikes a post.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	post, ok := intParam(w, r, "post")
	if !ok {
		return
	}
	state, err := h.feed(r).ToggleLike(r.Context(), chi.URLParam(r, "artist"), post, intQuery(r, "base", 0))
	if err != nil {
		h.serverError(w, r, "failed to toggle like", err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// Unlike removes a like from the liked list page.
func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	post, ok := intParam(w, r, "post")
	if !ok {
		return
	}
	state, err := h.feed(r).Unlike(r.Context(), chi.URLParam(r, "artist"), post)
	if err != nil {
		h.serverError(w, r, "failed to unlike", err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// ListFavorites returns the favorite items.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.feed(r).Favorites(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to list favorites", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"favorites": favs})
}

// AddFavorite adds an item to the favorites.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var fav domain.Favorite
	if !decode(w, r, &fav) {
		return
	}
	favs, err := h.feed(r).AddFavorite(r.Context(), fav)
	if err != nil {
		h.serverError(w, r, "failed to add favorite", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"favorites": favs})
}

// RemoveFavorite removes an item from the favorites.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	team, ok := intParam(w, r, "team")
	if !ok {
		return
	}
	item, ok := intParam(w, r, "item")
	if !ok {
		return
	}
	favs, err := h.feed(r).RemoveFavorite(r.Context(), domain.Favorite{TeamID: team, ItemID: item})
	if err != nil {
		h.serverError(w, r, "failed to remove favorite", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"favorites": favs})
}

type commentView struct {
	domain.Comment
	TimeDisplay string `json:"timeDisplay"`
	Mine        bool   `json:"mine"`
}

func (h *Handler) commentViews(r *http.Request, comments []domain.Comment) []commentView {
	now := h.Clock.Now()
	userID := identity.UserIDFromContext(r.Context())
	out := make([]commentView, len(comments))
	for i, c := range comments {
		out[i] = commentView{
			Comment:     c,
			TimeDisplay: feed.TimeDisplay(c.Timestamp, now),
			Mine:        c.UserID != "" && c.UserID == userID,
		}
	}
	return out
}

// ListComments returns a post's comments with display times.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.feed(r).Comments(r.Context(), chi.URLParam(r, "artist"), chi.URLParam(r, "post"))
	if err != nil {
		h.serverError(w, r, "failed to list comments", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"comments": h.commentViews(r, comments)})
}

type commentRequest struct {
	Text string `json:"text"`
}

// AddComment posts a comment as the device's author.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.feed(r).AddComment(r.Context(), chi.URLParam(r, "artist"), chi.URLParam(r, "post"),
		identity.UserIDFromContext(r.Context()), req.Text)
	switch {
	case errors.Is(err, feed.ErrEmptyComment), errors.Is(err, feed.ErrCommentTooLong):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.serverError(w, r, "failed to add comment", err)
		return
	}
	JSON(w, http.StatusCreated, h.commentViews(r, []domain.Comment{c})[0])
}

// ToggleCommentLike likes or unlikes a comment.
func (h *Handler) ToggleCommentLike(w http.ResponseWriter, r *http.Request) {
	c, err := h.feed(r).ToggleCommentLike(r.Context(), chi.URLParam(r, "artist"), chi.URLParam(r, "post"), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, feed.ErrNotFound):
		Error(w, http.StatusNotFound, "comment not found")
		return
	case err != nil:
		h.serverError(w, r, "failed to like comment", err)
		return
	}
	JSON(w, http.StatusOK, h.commentViews(r, []domain.Comment{c})[0])
}

// DeleteComment removes one of the device's own comments.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	err := h.feed(r).DeleteComment(r.Context(), chi.URLParam(r, "artist"), chi.URLParam(r, "post"),
		chi.URLParam(r, "id"), identity.UserIDFromContext(r.Context()))
	switch {
	case errors.Is(err, feed.ErrNotFound):
		Error(w, http.StatusNotFound, "comment not found")
		return
	case errors.Is(err, feed.ErrNotOwner):
		Error(w, http.StatusForbidden, "not your comment")
		return
	case err != nil:
		h.serverError(w, r, "failed to delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
