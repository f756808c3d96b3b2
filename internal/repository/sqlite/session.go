package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// savepoint marks the start of the work of a writable session.
const savepoint = "unit_of_work"

var (
	errReadOnly = errors.New("write in read-only session")
	errFinished = errors.New("session already finished")
)

// session is a unit of work on a single connection inside one transaction.
type session struct {
	conn     *sql.Conn
	writable bool
	done     bool
	echo     bool
	l        *zap.Logger

	// highest ids assigned by this session
	lastMovieID  int64
	lastRatingID int64
}

// ListMovies implements domain.Store.
func (s *session) ListMovies(ctx context.Context, skip, limit int) ([]domain.Movie, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx,
		`SELECT id, title, year, genre, created_at FROM movies
		 ORDER BY title_key, id LIMIT ? OFFSET ?`, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", convertErr(err, "movie"))
	}
	defer rows.Close()

	res := []domain.Movie{}
	for rows.Next() {
		var m domain.Movie
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Genre, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, convertErr(err, "movie")
	}

	return res, nil
}

// CreateMovie implements domain.Store.
//
// A title collision is detected before the insert so that a rejected
// movie never consumes an id; the unique index still guards the table.
func (s *session) CreateMovie(ctx context.Context, in domain.MovieInput) (*domain.Movie, error) {
	if err := s.check(true); err != nil {
		return nil, err
	}

	key := domain.TitleKey(in.Title)
	m := &domain.Movie{
		Title:     in.Title,
		Year:      in.Year,
		Genre:     in.Genre,
		CreatedAt: now(),
	}

	err := s.queryRow(ctx,
		`INSERT INTO movies (title, title_key, year, genre, created_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM movies WHERE title_key = ?)
		 RETURNING id`,
		m.Title, key, m.Year, m.Genre, m.CreatedAt, key,
	).Scan(&m.ID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.NewError(domain.ErrDuplicateKey, "movie", "title")
	case err != nil:
		return nil, fmt.Errorf("insert movie: %w", convertErr(err, "movie"))
	}

	s.lastMovieID = max(s.lastMovieID, m.ID)

	return m, nil
}

// GetMovie implements domain.Store.
func (s *session) GetMovie(ctx context.Context, id int64) (*domain.Movie, bool, error) {
	if err := s.check(false); err != nil {
		return nil, false, err
	}

	m := new(domain.Movie)
	err := s.queryRow(ctx,
		`SELECT id, title, year, genre, created_at FROM movies WHERE id = ?`, id,
	).Scan(&m.ID, &m.Title, &m.Year, &m.Genre, &m.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("query movie by id: %w", convertErr(err, "movie"))
	}

	m.CreatedAt = m.CreatedAt.UTC()
	return m, true, nil
}

// DeleteMovie implements domain.Store.
// Ratings of the movie are removed by ON DELETE CASCADE.
func (s *session) DeleteMovie(ctx context.Context, id int64) (bool, error) {
	if err := s.check(true); err != nil {
		return false, err
	}

	res, err := s.execResult(ctx, "DELETE FROM movies WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete movie: %w", convertErr(err, "movie"))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return n > 0, nil
}

// AddRating implements domain.Store.
func (s *session) AddRating(ctx context.Context, movieID int64, in domain.RatingInput) (*domain.Rating, error) {
	if err := s.check(true); err != nil {
		return nil, err
	}

	r := &domain.Rating{
		MovieID:   movieID,
		Score:     in.Score,
		Comment:   in.Comment,
		CreatedAt: now(),
	}

	err := s.queryRow(ctx,
		`INSERT INTO ratings (movie_id, score, comment, created_at)
		 SELECT ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM movies WHERE id = ?)
		 RETURNING id`,
		r.MovieID, r.Score, r.Comment, r.CreatedAt, r.MovieID,
	).Scan(&r.ID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.NewError(domain.ErrForeignKeyViolation, "rating", "movie_id")
	case err != nil:
		return nil, fmt.Errorf("insert rating: %w", convertErr(err, "rating"))
	}

	s.lastRatingID = max(s.lastRatingID, r.ID)

	return r, nil
}

// ListRatings implements domain.Store.
func (s *session) ListRatings(ctx context.Context, movieID int64) ([]domain.Rating, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx,
		`SELECT id, movie_id, score, comment, created_at FROM ratings
		 WHERE movie_id = ? ORDER BY id`, movieID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", convertErr(err, "rating"))
	}
	defer rows.Close()

	res := []domain.Rating{}
	for rows.Next() {
		var r domain.Rating
		if err := rows.Scan(&r.ID, &r.MovieID, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		res = append(res, r)
	}

	if err := rows.Err(); err != nil {
		return nil, convertErr(err, "rating")
	}

	return res, nil
}

// Commit implements domain.Session.
// A failed commit is rolled back before the connection is released.
func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	if err := s.exec(ctx, "COMMIT"); err != nil {
		return errors.Join(convertErr(err, ""), s.Rollback(ctx))
	}

	return s.release(nil)
}

// Rollback implements domain.Session.
func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	err := s.rollback(ctx)
	if err != nil {
		s.l.Warn("Rollback failed, discarding connection.", zap.Error(err))
	}

	return errors.Join(convertErr(err, ""), s.release(err))
}

// rollback undoes the unit of work. Ids it assigned stay consumed:
// the AUTOINCREMENT counters are rolled back with the data, so they are
// restored before the write lock is given up.
func (s *session) rollback(ctx context.Context) error {
	if s.lastMovieID == 0 && s.lastRatingID == 0 {
		return s.exec(ctx, "ROLLBACK")
	}

	err := s.exec(ctx, "ROLLBACK TO "+savepoint)
	if err == nil {
		err = s.keepSequence(ctx, "movies", s.lastMovieID)
	}
	if err == nil {
		err = s.keepSequence(ctx, "ratings", s.lastRatingID)
	}
	if err == nil {
		err = s.exec(ctx, "COMMIT")
	}

	if err != nil {
		return errors.Join(err, s.exec(ctx, "ROLLBACK"))
	}

	return nil
}

// keepSequence raises the AUTOINCREMENT counter of table to at least id.
func (s *session) keepSequence(ctx context.Context, table string, id int64) error {
	if id == 0 {
		return nil
	}

	err := s.exec(ctx, "UPDATE sqlite_sequence SET seq = max(seq, ?) WHERE name = ?", id, table)
	if err != nil {
		return fmt.Errorf("update %s sequence: %w", table, err)
	}

	err = s.exec(ctx,
		`INSERT INTO sqlite_sequence (name, seq)
		 SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = ?)`,
		table, id, table,
	)
	if err != nil {
		return fmt.Errorf("insert %s sequence: %w", table, err)
	}

	return nil
}

// release returns the connection to the pool, or discards it if the
// transaction could not be closed cleanly.
func (s *session) release(txErr error) error {
	s.done = true

	if txErr != nil {
		// the pool closes a connection that reports ErrBadConn
		_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
		return nil
	}

	return s.conn.Close()
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

func (s *session) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.execResult(ctx, query, args...)
	return err
}

func (s *session) execResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer s.trace(query, args, time.Now())
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer s.trace(query, args, time.Now())
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	defer s.trace(query, args, time.Now())
	return s.conn.QueryRowContext(ctx, query, args...)
}

// trace logs the statement if echo is enabled.
func (s *session) trace(query string, args []any, start time.Time) {
	if !s.echo {
		return
	}

	s.l.Debug("Query.", zap.String("sql", query), zap.Any("args", args), zap.Duration("duration", time.Since(start)))
}

// now returns the current time at the precision every engine stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// check interfaces
var (
	_ domain.Session = (*session)(nil)
)
