package repository

import (
	"context"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// checkedStore validates and normalizes inputs before they reach an engine,
// so every engine sees the same values.
type checkedStore struct {
	s domain.Store
}

// ListMovies implements domain.Store.
func (c *checkedStore) ListMovies(ctx context.Context, skip, limit int) ([]domain.Movie, error) {
	if err := domain.ValidatePage(skip, limit); err != nil {
		return nil, err
	}

	return c.s.ListMovies(ctx, skip, limit)
}

// CreateMovie implements domain.Store.
func (c *checkedStore) CreateMovie(ctx context.Context, in domain.MovieInput) (*domain.Movie, error) {
	in, err := domain.NormalizeMovie(in)
	if err != nil {
		return nil, err
	}

	return c.s.CreateMovie(ctx, in)
}

// GetMovie implements domain.Store.
func (c *checkedStore) GetMovie(ctx context.Context, id int64) (*domain.Movie, bool, error) {
	return c.s.GetMovie(ctx, id)
}

// DeleteMovie implements domain.Store.
func (c *checkedStore) DeleteMovie(ctx context.Context, id int64) (bool, error) {
	return c.s.DeleteMovie(ctx, id)
}

// AddRating implements domain.Store.
func (c *checkedStore) AddRating(ctx context.Context, movieID int64, in domain.RatingInput) (*domain.Rating, error) {
	in, err := domain.NormalizeRating(in)
	if err != nil {
		return nil, err
	}

	return c.s.AddRating(ctx, movieID, in)
}

// ListRatings implements domain.Store.
func (c *checkedStore) ListRatings(ctx context.Context, movieID int64) ([]domain.Rating, error) {
	return c.s.ListRatings(ctx, movieID)
}

// check interfaces
var (
	_ domain.Store = (*checkedStore)(nil)
)
