// Package memory provides the in-process storage engine.
//
// The engine keeps no state outside the process and has no schema; its
// migrator is a no-op. Writable sessions hold the engine's write lock for
// their whole unit of work, so writes are serialized and readers never
// observe a partial write. Waiting for the lock stops when the context of
// the waiting request is done.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/migrations"
)

// maxReaders bounds the number of concurrent read-only sessions.
const maxReaders = 1 << 20

var (
	errClosed   = errors.New("memory engine is closed")
	errReadOnly = errors.New("write in read-only session")
	errFinished = errors.New("session already finished")
)

type movieRow struct {
	domain.Movie
	key string
}

// Engine is the memory storage engine.
type Engine struct {
	// lock is a readers-writer lock: readers take one unit, writers all of them
	lock *semaphore.Weighted

	movies  map[int64]*movieRow
	titles  map[string]int64
	ratings map[int64]*domain.Rating

	// last assigned ids; ids are never reused, even after rollback
	lastMovieID  int64
	lastRatingID int64

	closed bool
}

// New creates an empty memory engine.
func New() *Engine {
	return &Engine{
		lock:    semaphore.NewWeighted(maxReaders),
		movies:  make(map[int64]*movieRow),
		titles:  make(map[string]int64),
		ratings: make(map[int64]*domain.Rating),
	}
}

// Mode implements domain.Engine.
func (e *Engine) Mode() domain.StorageMode {
	return domain.ModeMemory
}

// Begin implements domain.Engine.
func (e *Engine) Begin(ctx context.Context, writable bool) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &session{e: e, writable: writable}

	if err := e.lock.Acquire(ctx, s.weight()); err != nil {
		return nil, fmt.Errorf("wait for memory engine: %w", err)
	}

	if e.closed {
		s.release()
		return nil, errClosed
	}

	return s, nil
}

// Ping implements domain.Engine.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)

	if e.closed {
		return errClosed
	}

	return nil
}

// Migrator implements domain.Engine.
func (e *Engine) Migrator() domain.Migrator {
	return migrations.Noop{}
}

// Close implements domain.Engine.
// It waits for open sessions to finish.
func (e *Engine) Close() error {
	_ = e.lock.Acquire(context.Background(), maxReaders)
	defer e.lock.Release(maxReaders)

	e.closed = true
	return nil
}

// session is a unit of work holding the engine lock.
type session struct {
	e        *Engine
	writable bool
	undo     []func()
	done     bool
}

// ListMovies implements domain.Store.
func (s *session) ListMovies(ctx context.Context, skip, limit int) ([]domain.Movie, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, err
	}

	rows := make([]*movieRow, 0, len(s.e.movies))
	for _, row := range s.e.movies {
		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(a, b *movieRow) int {
		return cmp.Or(cmp.Compare(a.key, b.key), cmp.Compare(a.ID, b.ID))
	})

	res := []domain.Movie{}
	for i := max(skip, 0); i < len(rows) && len(res) < limit; i++ {
		res = append(res, rows[i].Movie)
	}

	return res, nil
}

// CreateMovie implements domain.Store.
func (s *session) CreateMovie(ctx context.Context, in domain.MovieInput) (*domain.Movie, error) {
	if err := s.check(ctx, true); err != nil {
		return nil, err
	}

	key := domain.TitleKey(in.Title)
	if _, ok := s.e.titles[key]; ok {
		return nil, domain.NewError(domain.ErrDuplicateKey, "movie", "title")
	}

	s.e.lastMovieID++

	row := &movieRow{
		Movie: domain.Movie{
			ID:        s.e.lastMovieID,
			Title:     in.Title,
			Year:      in.Year,
			Genre:     in.Genre,
			CreatedAt: now(),
		},
		key: key,
	}

	s.e.movies[row.ID] = row
	s.e.titles[key] = row.ID

	s.undo = append(s.undo, func() {
		delete(s.e.movies, row.ID)
		delete(s.e.titles, key)
	})

	m := row.Movie
	return &m, nil
}

// GetMovie implements domain.Store.
func (s *session) GetMovie(ctx context.Context, id int64) (*domain.Movie, bool, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, false, err
	}

	row, ok := s.e.movies[id]
	if !ok {
		return nil, false, nil
	}

	m := row.Movie
	return &m, true, nil
}

// DeleteMovie implements domain.Store.
// Ratings of the movie are deleted with it.
func (s *session) DeleteMovie(ctx context.Context, id int64) (bool, error) {
	if err := s.check(ctx, true); err != nil {
		return false, err
	}

	row, ok := s.e.movies[id]
	if !ok {
		return false, nil
	}

	var cascaded []*domain.Rating
	for rid, r := range s.e.ratings {
		if r.MovieID == id {
			cascaded = append(cascaded, r)
			delete(s.e.ratings, rid)
		}
	}

	delete(s.e.movies, id)
	delete(s.e.titles, row.key)

	s.undo = append(s.undo, func() {
		s.e.movies[id] = row
		s.e.titles[row.key] = id
		for _, r := range cascaded {
			s.e.ratings[r.ID] = r
		}
	})

	return true, nil
}

// AddRating implements domain.Store.
func (s *session) AddRating(ctx context.Context, movieID int64, in domain.RatingInput) (*domain.Rating, error) {
	if err := s.check(ctx, true); err != nil {
		return nil, err
	}

	if _, ok := s.e.movies[movieID]; !ok {
		return nil, domain.NewError(domain.ErrForeignKeyViolation, "rating", "movie_id")
	}

	s.e.lastRatingID++

	r := &domain.Rating{
		ID:        s.e.lastRatingID,
		MovieID:   movieID,
		Score:     in.Score,
		Comment:   in.Comment,
		CreatedAt: now(),
	}
	s.e.ratings[r.ID] = r

	s.undo = append(s.undo, func() {
		delete(s.e.ratings, r.ID)
	})

	res := *r
	return &res, nil
}

// ListRatings implements domain.Store.
func (s *session) ListRatings(ctx context.Context, movieID int64) ([]domain.Rating, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, err
	}

	res := []domain.Rating{}
	for _, r := range s.e.ratings {
		if r.MovieID == movieID {
			res = append(res, *r)
		}
	}

	slices.SortFunc(res, func(a, b domain.Rating) int { return cmp.Compare(a.ID, b.ID) })

	return res, nil
}

// Commit implements domain.Session.
func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	s.undo = nil
	s.release()

	return nil
}

// Rollback implements domain.Session.
// It undoes every write of the session in reverse order.
func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return errFinished
	}

	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}

	s.undo = nil
	s.release()

	return nil
}

func (s *session) check(ctx context.Context, write bool) error {
	if s.done {
		return errFinished
	}

	if write && !s.writable {
		return errReadOnly
	}

	return ctx.Err()
}

func (s *session) release() {
	s.done = true
	s.e.lock.Release(s.weight())
}

// weight is the share of the engine lock the session holds.
func (s *session) weight() int64 {
	if s.writable {
		return maxReaders
	}
	return 1
}

// now returns the current time at the precision every engine stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// check interfaces
var (
	_ domain.Engine  = (*Engine)(nil)
	_ domain.Session = (*session)(nil)
)
