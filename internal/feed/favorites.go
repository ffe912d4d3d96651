package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/store"
)

// Favorites returns the saved closet items in insertion order.
func (f *Feed) Favorites(ctx context.Context) ([]domain.Favorite, error) {
	favs := []domain.Favorite{}
	_, err := store.GetJSON(ctx, f.storage, FavoritesKey, &favs)
	if errors.Is(err, store.ErrMalformed) {
		f.logger.Warn("Discarding malformed favorites", "error", err)
		return []domain.Favorite{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read favorites: %w", err)
	}
	if favs == nil {
		favs = []domain.Favorite{}
	}
	return favs, nil
}

// AddFavorite saves an item. Saving an item twice keeps one entry.
func (f *Feed) AddFavorite(ctx context.Context, fav domain.Favorite) ([]domain.Favorite, error) {
	favs, err := f.Favorites(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range favs {
		if existing == fav {
			return favs, nil
		}
	}
	favs = append(favs, fav)
	if err := store.SetJSON(ctx, f.storage, FavoritesKey, favs); err != nil {
		return nil, fmt.Errorf("write favorites: %w", err)
	}
	return favs, nil
}

// RemoveFavorite drops an item.
func (f *Feed) RemoveFavorite(ctx context.Context, fav domain.Favorite) ([]domain.Favorite, error) {
	favs, err := f.Favorites(ctx)
	if err != nil {
		return nil, err
	}
	kept := favs[:0]
	for _, existing := range favs {
		if existing != fav {
			kept = append(kept, existing)
		}
	}
	if err := store.SetJSON(ctx, f.storage, FavoritesKey, kept); err != nil {
		return nil, fmt.Errorf("write favorites: %w", err)
	}
	return kept, nil
}

// IsFavorite reports whether an item is saved.
func (f *Feed) IsFavorite(ctx context.Context, fav domain.Favorite) (bool, error) {
	favs, err := f.Favorites(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range favs {
		if existing == fav {
			return true, nil
		}
	}
	return false, nil
}
