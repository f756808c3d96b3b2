package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/movie-catalogue/internal/cache"
	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/handler"
	"github.com/msomdec/movie-catalogue/internal/repository"
	"github.com/msomdec/movie-catalogue/internal/repository/memory"
	"github.com/msomdec/movie-catalogue/internal/service"
	"github.com/msomdec/movie-catalogue/internal/testutil"
)

const testPassword = "correct horse battery staple"

// newTestRouter returns a router backed by an in-memory repository.
// opts may replace or add dependencies.
func newTestRouter(t *testing.T, opts ...func(*handler.Deps)) http.Handler {
	t.Helper()

	l := testutil.Logger(t)

	repo := repository.New(memory.New(), l)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })

	auth, err := service.NewAuthService("", "")
	require.NoError(t, err)

	d := &handler.Deps{
		Catalogue:      service.NewCatalogueService(repo, l),
		Auth:           auth,
		RequestTimeout: 5 * time.Second,
		L:              l,
	}

	for _, o := range opts {
		o(d)
	}

	return handler.NewRouter(d)
}

func do(t *testing.T, h http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}

	req := httptest.NewRequest(method, target, &b)
	req.Header.Set("Content-Type", "application/json")

	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var res T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())

	return res
}

func TestMovies(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: " Zodiac ", Year: 2007, Genre: "crime"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	zodiac := decode[handler.MovieDTO](t, w)
	assert.Equal(t, "Zodiac", zodiac.Title)
	assert.Equal(t, "Crime", zodiac.Genre)
	assert.NotEmpty(t, zodiac.CreatedAt)
	assert.Equal(t, "/movies/1", w.Header().Get("Location"))

	w = do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "alien", Year: 1979})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	alien := decode[handler.MovieDTO](t, w)
	assert.Equal(t, domain.DefaultGenre, alien.Genre)

	w = do(t, h, http.MethodGet, "/movies", nil)
	require.Equal(t, http.StatusOK, w.Code)

	movies := decode[[]handler.MovieDTO](t, w)
	require.Len(t, movies, 2)
	assert.Equal(t, "alien", movies[0].Title)
	assert.Equal(t, "Zodiac", movies[1].Title)

	w = do(t, h, http.MethodGet, "/movies?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []handler.MovieDTO{zodiac}, decode[[]handler.MovieDTO](t, w))

	w = do(t, h, http.MethodGet, "/movies/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, zodiac, decode[handler.MovieDTO](t, w))

	w = do(t, h, http.MethodDelete, "/movies/1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(t, h, http.MethodGet, "/movies/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodDelete, "/movies/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRatings(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Heat", Year: 1995, Genre: "crime"})
	require.Equal(t, http.StatusCreated, w.Code)

	for _, score := range []int{7, 10} {
		w = do(t, h, http.MethodPost, "/movies/1/ratings", handler.CreateRatingRequest{Score: score, Comment: " good "})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	rating := decode[handler.RatingDTO](t, w)
	assert.Equal(t, int64(1), rating.MovieID)
	assert.Equal(t, "good", rating.Comment)

	w = do(t, h, http.MethodGet, "/movies/1/ratings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]handler.RatingDTO](t, w), 2)

	w = do(t, h, http.MethodGet, "/movies/1/details", nil)
	require.Equal(t, http.StatusOK, w.Code)

	details := decode[handler.MovieDetailsDTO](t, w)
	assert.Equal(t, "Heat", details.Movie.Title)
	assert.Equal(t, 2, details.RatingCount)
	assert.InDelta(t, 8.5, details.AverageScore, 0.001)

	// ratings of an unknown movie are an empty list
	w = do(t, h, http.MethodGet, "/movies/42/ratings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, h, http.MethodPost, "/movies/42/ratings", handler.CreateRatingRequest{Score: 5})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/movies/42/details", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// deleting the movie removes its ratings
	w = do(t, h, http.MethodDelete, "/movies/1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/movies/1/ratings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestErrorResponses(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Heat", Year: 1995})
	require.Equal(t, http.StatusCreated, w.Code)

	for name, tc := range map[string]struct {
		method  string
		target  string
		body    any
		status  int
		message string
	}{
		"Duplicate": {
			method:  http.MethodPost,
			target:  "/movies",
			body:    handler.CreateMovieRequest{Title: "HEAT", Year: 1995},
			status:  http.StatusConflict,
			message: "duplicate key: movie.title",
		},
		"Year": {
			method:  http.MethodPost,
			target:  "/movies",
			body:    handler.CreateMovieRequest{Title: "Metropolis", Year: 1850},
			status:  http.StatusBadRequest,
			message: "validation error: movie.year",
		},
		"Score": {
			method:  http.MethodPost,
			target:  "/movies/1/ratings",
			body:    handler.CreateRatingRequest{Score: 11},
			status:  http.StatusBadRequest,
			message: "validation error: rating.score",
		},
		"UnknownField": {
			method:  http.MethodPost,
			target:  "/movies",
			body:    map[string]any{"title": "Heat 2", "year": 2026, "director": "Mann"},
			status:  http.StatusBadRequest,
			message: "invalid JSON body",
		},
		"ID": {
			method:  http.MethodGet,
			target:  "/movies/abc",
			status:  http.StatusBadRequest,
			message: "validation error: movie.id",
		},
		"Limit": {
			method:  http.MethodGet,
			target:  "/movies?limit=0",
			status:  http.StatusBadRequest,
			message: "validation error: page.limit",
		},
		"Skip": {
			method:  http.MethodGet,
			target:  "/movies?skip=x",
			status:  http.StatusBadRequest,
			message: "validation error: page.skip",
		},
		"NotFound": {
			method:  http.MethodGet,
			target:  "/movies/7",
			status:  http.StatusNotFound,
			message: "not found: movie",
		},
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.message, decode[handler.ErrorDTO](t, w).Error)
		})
	}
}

// unavailableRepo fails every storage access with a transient error.
type unavailableRepo struct {
	service.Repository
}

func (unavailableRepo) Mode() domain.StorageMode { return domain.ModePostgres }

func (unavailableRepo) Ping(context.Context) error { return domain.ErrConnectionLost }

func (unavailableRepo) View(context.Context, func(domain.Store) error) error {
	return domain.ErrPoolExhausted
}

func (unavailableRepo) Update(context.Context, func(domain.Store) error) error {
	return domain.ErrLocked
}

func TestStorageUnavailable(t *testing.T) {
	t.Parallel()

	l := testutil.Logger(t)
	h := newTestRouter(t, func(d *handler.Deps) {
		d.Catalogue = service.NewCatalogueService(unavailableRepo{}, l)
	})

	w := do(t, h, http.MethodGet, "/movies", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "storage temporarily unavailable", decode[handler.ErrorDTO](t, w).Error)

	w = do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Heat", Year: 1995})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "locked")

	w = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, handler.HealthDTO{Status: "unavailable", Mode: "postgres"}, decode[handler.HealthDTO](t, w))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, handler.HealthDTO{Status: "ok", Mode: "memory"}, decode[handler.HealthDTO](t, w))

	w = do(t, h, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCommonHeaders(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get(handler.RequestIDHeader))

	w = do(t, h, http.MethodGet, "/healthz", nil, handler.RequestIDHeader, "req-123")
	assert.Equal(t, "req-123", w.Header().Get(handler.RequestIDHeader))

	w = do(t, h, http.MethodGet, "/healthz", nil, handler.RequestIDHeader, strings.Repeat("x", 100))
	assert.Len(t, w.Header().Get(handler.RequestIDHeader), 36)
}

func TestAuth(t *testing.T) {
	t.Parallel()

	hash, err := service.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	auth, err := service.NewAuthService(strings.Repeat("s", service.MinSecretLength), hash)
	require.NoError(t, err)

	h := newTestRouter(t, func(d *handler.Deps) { d.Auth = auth })

	movie := handler.CreateMovieRequest{Title: "Heat", Year: 1995}

	w := do(t, h, http.MethodPost, "/movies", movie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = do(t, h, http.MethodPost, "/movies", movie, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/auth/token", handler.TokenRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/auth/token", handler.TokenRequest{Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	token := decode[handler.TokenDTO](t, w)
	require.NotEmpty(t, token.Token)

	w = do(t, h, http.MethodPost, "/movies", movie, "Authorization", "Bearer "+token.Token)
	assert.Equal(t, http.StatusCreated, w.Code)

	// reads stay public
	w = do(t, h, http.MethodGet, "/movies", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthDisabledHasNoTokenRoute(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/auth/token", handler.TokenRequest{Password: testPassword})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t, func(d *handler.Deps) {
		d.Limiter = service.NewTokenBucket(0, 1)
	})

	w := do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Heat", Year: 1995})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Ronin", Year: 1998})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// reads are not limited
	w = do(t, h, http.MethodGet, "/movies", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResponseCache(t *testing.T) {
	t.Parallel()

	c, err := cache.New(time.Minute, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	h := newTestRouter(t, func(d *handler.Deps) { d.Cache = c })

	w := do(t, h, http.MethodGet, "/movies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(handler.CacheHeader))

	w = do(t, h, http.MethodGet, "/movies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(handler.CacheHeader))
	assert.JSONEq(t, `[]`, w.Body.String())

	// failed responses are not cached
	for range 2 {
		w = do(t, h, http.MethodGet, "/movies/1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "MISS", w.Header().Get(handler.CacheHeader))
	}

	w = do(t, h, http.MethodPost, "/movies", handler.CreateMovieRequest{Title: "Heat", Year: 1995})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodGet, "/movies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(handler.CacheHeader))
	assert.Len(t, decode[[]handler.MovieDTO](t, w), 1)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := handler.NewMetrics()
	reg.MustRegister(m)

	h := newTestRouter(t, func(d *handler.Deps) {
		d.Metrics = m
		d.Gatherer = reg
	})

	do(t, h, http.MethodGet, "/movies", nil)
	do(t, h, http.MethodGet, "/movies/9", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `catalogue_http_requests_total{code="200",method="get",route="GET /movies"} 1`)
	assert.Contains(t, body, `catalogue_http_requests_total{code="404",method="get",route="GET /movies/{id}"} 1`)
	assert.Contains(t, body, `catalogue_http_requests_in_flight 0`)
}
