package domain

import (
	"context"
	"time"
)

// Movie is a catalogue entry.
type Movie struct {
	ID        int64
	Title     string
	Year      int
	Genre     string
	CreatedAt time.Time
}

// MovieInput is the caller-supplied payload for a new movie.
type MovieInput struct {
	Title string
	Year  int
	Genre string
}

// Rating is a score attached to a movie. It cannot outlive its movie.
type Rating struct {
	ID        int64
	MovieID   int64
	Score     int
	Comment   string
	CreatedAt time.Time
}

// RatingInput is the caller-supplied payload for a new rating.
type RatingInput struct {
	Score   int
	Comment string
}

// Store defines the catalogue operations every storage engine provides.
// Results are identical across engines; only timing differs.
type Store interface {
	// ListMovies returns movies ordered by normalized title, then by id.
	ListMovies(ctx context.Context, skip, limit int) ([]Movie, error)
	// CreateMovie stores a new movie and returns the stored record.
	// It fails with ErrDuplicateKey if the title collides case-insensitively.
	CreateMovie(ctx context.Context, in MovieInput) (*Movie, error)
	// GetMovie returns the movie with the given id.
	// A missing movie is reported as (nil, false, nil).
	GetMovie(ctx context.Context, id int64) (*Movie, bool, error)
	// DeleteMovie removes a movie and, by cascade, its ratings.
	// It reports whether the movie existed.
	DeleteMovie(ctx context.Context, id int64) (bool, error)
	// AddRating attaches a rating to an existing movie.
	// It fails with ErrForeignKeyViolation if the movie does not exist.
	AddRating(ctx context.Context, movieID int64, in RatingInput) (*Rating, error)
	// ListRatings returns the ratings of a movie ordered by id.
	ListRatings(ctx context.Context, movieID int64) ([]Rating, error)
}
