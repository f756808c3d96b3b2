package handler

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/cache"
	"github.com/msomdec/movie-catalogue/internal/service"
)

// moviesCachePrefix is the cache key prefix of every movie read.
const moviesCachePrefix = "GET /movies"

// Deps holds the dependencies of the router.
// Optional fields may be nil to disable the feature.
type Deps struct {
	Catalogue *service.CatalogueService
	Auth      *service.AuthService
	Limiter   *service.TokenBucket // optional
	Cache     *cache.Cache         // optional
	Metrics   *Metrics             // optional
	Gatherer  prometheus.Gatherer  // optional, serves /metrics

	RequestTimeout time.Duration
	L              *zap.Logger
}

// NewRouter returns the HTTP handler of the service.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	movies := NewMovieHandler(d.Catalogue, d.L.Named("movies"))
	health := NewHealthHandler(d.Catalogue, d.L.Named("health"))

	read := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, d.Metrics.Instrument(pattern,
			Timeout(d.RequestTimeout,
				CacheResponses(d.Cache, d.L, h),
			),
		))
	}

	write := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, d.Metrics.Instrument(pattern,
			Timeout(d.RequestTimeout,
				RateLimit(d.Limiter, d.L,
					RequireToken(d.Auth, d.L,
						InvalidateOnWrite(d.Cache, moviesCachePrefix, d.L, h),
					),
				),
			),
		))
	}

	mux.Handle("GET /healthz", d.Metrics.Instrument("GET /healthz",
		Timeout(d.RequestTimeout, http.HandlerFunc(health.HandleHealthz)),
	))

	read("GET /movies", movies.HandleList)
	read("GET /movies/{id}", movies.HandleGet)
	read("GET /movies/{id}/ratings", movies.HandleListRatings)
	read("GET /movies/{id}/details", movies.HandleDetails)

	write("POST /movies", movies.HandleCreate)
	write("DELETE /movies/{id}", movies.HandleDelete)
	write("POST /movies/{id}/ratings", movies.HandleAddRating)

	if d.Auth != nil && d.Auth.Enabled() {
		auth := NewAuthHandler(d.Auth, d.L.Named("auth"))
		mux.Handle("POST /auth/token", d.Metrics.Instrument("POST /auth/token",
			RateLimit(d.Limiter, d.L, http.HandlerFunc(auth.HandleToken)),
		))
	}

	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{
			ErrorLog:      zap.NewStdLog(d.L),
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}

	return SecurityHeaders(RequestID(AccessLog(d.L.Named("access"), Recover(d.L, mux))))
}
