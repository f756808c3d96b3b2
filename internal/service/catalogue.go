package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// Repository is the persistence facade used by services.
type Repository interface {
	Update(ctx context.Context, fn func(domain.Store) error) error
	View(ctx context.Context, fn func(domain.Store) error) error
	Mode() domain.StorageMode
	Ping(ctx context.Context) error
	Migrator() domain.Migrator
}

// MovieDetails is a movie with all its ratings.
type MovieDetails struct {
	Movie   domain.Movie
	Ratings []domain.Rating
	// AverageScore is 0 for a movie without ratings.
	AverageScore float64
}

// HealthReport describes the active storage engine.
type HealthReport struct {
	Mode     domain.StorageMode
	Revision string
}

// CatalogueService handles movies and their ratings.
// Every method performs exactly one unit of work.
type CatalogueService struct {
	repo Repository
	l    *zap.Logger
}

// NewCatalogueService creates a new CatalogueService.
func NewCatalogueService(repo Repository, l *zap.Logger) *CatalogueService {
	return &CatalogueService{
		repo: repo,
		l:    l,
	}
}

// ListMovies returns a page of movies ordered by title.
func (s *CatalogueService) ListMovies(ctx context.Context, skip, limit int) ([]domain.Movie, error) {
	var res []domain.Movie
	err := s.repo.View(ctx, func(st domain.Store) error {
		var err error
		res, err = st.ListMovies(ctx, skip, limit)
		return err
	})

	return res, err
}

// CreateMovie adds a movie to the catalogue.
func (s *CatalogueService) CreateMovie(ctx context.Context, in domain.MovieInput) (*domain.Movie, error) {
	var res *domain.Movie
	err := s.repo.Update(ctx, func(st domain.Store) error {
		var err error
		res, err = st.CreateMovie(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.l.Info("Movie created.", zap.Int64("id", res.ID), zap.String("title", res.Title))

	return res, nil
}

// GetMovie returns the movie with the given id, or domain.ErrNotFound.
func (s *CatalogueService) GetMovie(ctx context.Context, id int64) (*domain.Movie, error) {
	var res *domain.Movie
	err := s.repo.View(ctx, func(st domain.Store) error {
		m, ok, err := st.GetMovie(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewError(domain.ErrNotFound, "movie", "")
		}

		res = m
		return nil
	})

	return res, err
}

// DeleteMovie removes a movie and its ratings, or returns domain.ErrNotFound.
func (s *CatalogueService) DeleteMovie(ctx context.Context, id int64) error {
	err := s.repo.Update(ctx, func(st domain.Store) error {
		deleted, err := st.DeleteMovie(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.NewError(domain.ErrNotFound, "movie", "")
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.l.Info("Movie deleted.", zap.Int64("id", id))

	return nil
}

// AddRating rates an existing movie.
// It returns domain.ErrForeignKeyViolation if the movie does not exist.
func (s *CatalogueService) AddRating(ctx context.Context, movieID int64, in domain.RatingInput) (*domain.Rating, error) {
	var res *domain.Rating
	err := s.repo.Update(ctx, func(st domain.Store) error {
		var err error
		res, err = st.AddRating(ctx, movieID, in)
		return err
	})

	return res, err
}

// ListRatings returns the ratings of a movie; it is empty for unknown movies.
func (s *CatalogueService) ListRatings(ctx context.Context, movieID int64) ([]domain.Rating, error) {
	var res []domain.Rating
	err := s.repo.View(ctx, func(st domain.Store) error {
		var err error
		res, err = st.ListRatings(ctx, movieID)
		return err
	})

	return res, err
}

// MovieDetails returns a movie with its ratings and average score,
// read in a single unit of work.
func (s *CatalogueService) MovieDetails(ctx context.Context, id int64) (*MovieDetails, error) {
	var res *MovieDetails
	err := s.repo.View(ctx, func(st domain.Store) error {
		m, ok, err := st.GetMovie(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewError(domain.ErrNotFound, "movie", "")
		}

		ratings, err := st.ListRatings(ctx, id)
		if err != nil {
			return err
		}

		res = &MovieDetails{
			Movie:        *m,
			Ratings:      ratings,
			AverageScore: average(ratings),
		}

		return nil
	})

	return res, err
}

func average(ratings []domain.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}

	var sum int
	for _, r := range ratings {
		sum += r.Score
	}

	return float64(sum) / float64(len(ratings))
}

// SeedCatalogue adds the sample movies that are not in the catalogue yet
// and returns how many were added. Running it again adds nothing.
func (s *CatalogueService) SeedCatalogue(ctx context.Context) (int, error) {
	var added int

	for _, in := range sampleMovies {
		err := s.repo.Update(ctx, func(st domain.Store) error {
			_, err := st.CreateMovie(ctx, in)
			return err
		})

		switch {
		case err == nil:
			added++
		case errors.Is(err, domain.ErrDuplicateKey):
			continue
		default:
			return added, fmt.Errorf("seed %q: %w", in.Title, err)
		}
	}

	s.l.Info("Catalogue seeded.", zap.Int("added", added), zap.Int("total", len(sampleMovies)))

	return added, nil
}

// Health performs a round-trip against the storage engine and reports
// which engine is active.
func (s *CatalogueService) Health(ctx context.Context) (*HealthReport, error) {
	res := &HealthReport{Mode: s.repo.Mode()}

	if err := s.repo.Ping(ctx); err != nil {
		return res, fmt.Errorf("ping: %w", err)
	}

	rev, err := s.repo.Migrator().CurrentRevision(ctx)
	if err != nil {
		return res, fmt.Errorf("current revision: %w", err)
	}

	res.Revision = rev

	return res, nil
}

var sampleMovies = []domain.MovieInput{
	{Title: "The Shawshank Redemption", Year: 1994, Genre: "drama"},
	{Title: "The Godfather", Year: 1972, Genre: "crime"},
	{Title: "The Dark Knight", Year: 2008, Genre: "action"},
	{Title: "Pulp Fiction", Year: 1994, Genre: "crime"},
	{Title: "Spirited Away", Year: 2001, Genre: "animation"},
	{Title: "Blade Runner", Year: 1982, Genre: "sci-fi"},
	{Title: "Parasite", Year: 2019, Genre: "thriller"},
	{Title: "Casablanca", Year: 1942, Genre: "romance"},
}
