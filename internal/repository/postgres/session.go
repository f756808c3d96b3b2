package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

var (
	errReadOnly = errors.New("write in read-only session")
	errFinished = errors.New("session already finished")
)

// session is a unit of work on a pooled connection inside one transaction.
type session struct {
	conn     *pgxpool.Conn
	tx       pgx.Tx
	writable bool
	done     bool
}

// ListMovies implements domain.Store.
// Titles are compared bytewise so that the order matches every other engine.
func (s *session) ListMovies(ctx context.Context, skip, limit int) ([]domain.Movie, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}

	rows, err := s.tx.Query(ctx,
		`SELECT id, title, year, genre, created_at FROM movies
		 ORDER BY title_key COLLATE "C", id LIMIT $1 OFFSET $2`, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", convertErr(err, "movie"))
	}

	res, err := pgx.CollectRows(rows, scanMovie)
	if err != nil {
		return nil, fmt.Errorf("scan movies: %w", convertErr(err, "movie"))
	}

	if res == nil {
		res = []domain.Movie{}
	}

	return res, nil
}

// CreateMovie implements domain.Store.
//
// A title collision is detected before the insert so that a rejected
// movie never consumes an identity value; the unique index still guards
// concurrent inserts.
func (s *session) CreateMovie(ctx context.Context, in domain.MovieInput) (*domain.Movie, error) {
	if err := s.check(true); err != nil {
		return nil, err
	}

	m := &domain.Movie{
		Title: in.Title,
		Year:  in.Year,
		Genre: in.Genre,
	}

	err := s.tx.QueryRow(ctx,
		`INSERT INTO movies (title, title_key, year, genre)
		 SELECT $1::text, $2::text, $3::integer, $4::text
		 WHERE NOT EXISTS (SELECT 1 FROM movies WHERE title_key = $2::text)
		 RETURNING id, created_at`,
		m.Title, domain.TitleKey(in.Title), m.Year, m.Genre,
	).Scan(&m.ID, &m.CreatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.NewError(domain.ErrDuplicateKey, "movie", "title")
	case err != nil:
		return nil, fmt.Errorf("insert movie: %w", convertErr(err, "movie"))
	}

	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// GetMovie implements domain.Store.
func (s *session) GetMovie(ctx context.Context, id int64) (*domain.Movie, bool, error) {
	if err := s.check(false); err != nil {
		return nil, false, err
	}

	rows, err := s.tx.Query(ctx, `SELECT id, title, year, genre, created_at FROM movies WHERE id = $1`, id)
	if err != nil {
		return nil, false, fmt.Errorf("query movie by id: %w", convertErr(err, "movie"))
	}

	m, err := pgx.CollectOneRow(rows, scanMovie)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("scan movie: %w", convertErr(err, "movie"))
	}

	return &m, true, nil
}

// DeleteMovie implements domain.Store.
// Ratings of the movie are removed by ON DELETE CASCADE.
func (s *session) DeleteMovie(ctx context.Context, id int64) (bool, error) {
	if err := s.check(true); err != nil {
		return false, err
	}

	tag, err := s.tx.Exec(ctx, "DELETE FROM movies WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete movie: %w", convertErr(err, "movie"))
	}

	return tag.RowsAffected() > 0, nil
}

// AddRating implements domain.Store.
func (s *session) AddRating(ctx context.Context, movieID int64, in domain.RatingInput) (*domain.Rating, error) {
	if err := s.check(true); err != nil {
		return nil, err
	}

	r := &domain.Rating{
		MovieID: movieID,
		Score:   in.Score,
		Comment: in.Comment,
	}

	err := s.tx.QueryRow(ctx,
		`INSERT INTO ratings (movie_id, score, comment)
		 SELECT $1::bigint, $2::integer, $3::text
		 WHERE EXISTS (SELECT 1 FROM movies WHERE id = $1::bigint)
		 RETURNING id, created_at`,
		r.MovieID, r.Score, r.Comment,
	).Scan(&r.ID, &r.CreatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.NewError(domain.ErrForeignKeyViolation, "rating", "movie_id")
	case err != nil:
		return nil, fmt.Errorf("insert rating: %w", convertErr(err, "rating"))
	}

	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// ListRatings implements domain.Store.
func (s *session) ListRatings(ctx context.Context, movieID int64) ([]domain.Rating, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}

	rows, err := s.tx.Query(ctx,
		`SELECT id, movie_id, score, comment, created_at FROM ratings
		 WHERE movie_id = $1 ORDER BY id`, movieID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", convertErr(err, "rating"))
	}

	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Rating, error) {
		var r domain.Rating
		err := row.Scan(&r.ID, &r.MovieID, &r.Score, &r.Comment, &r.CreatedAt)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan ratings: %w", convertErr(err, "rating"))
	}

	if res == nil {
		res = []domain.Rating{}
	}

	return res, nil
}

// Commit implements domain.Session.
//
// The connection goes back to the pool in any case; the pool destroys
// connections left inside a failed transaction.
func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	defer s.release()

	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", convertErr(err, ""))
	}

	return nil
}

// Rollback implements domain.Session.
func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	defer s.release()

	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", convertErr(err, ""))
	}

	return nil
}

func (s *session) release() {
	s.done = true
	s.conn.Release()
}

func (s *session) check(write bool) error {
	if s.done {
		return errFinished
	}

	if write && !s.writable {
		return errReadOnly
	}

	return nil
}

func scanMovie(row pgx.CollectableRow) (domain.Movie, error) {
	var m domain.Movie
	err := row.Scan(&m.ID, &m.Title, &m.Year, &m.Genre, &m.CreatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

// check interfaces
var (
	_ domain.Session = (*session)(nil)
)
