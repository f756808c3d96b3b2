package handler

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/cache"
	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/service"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// RequestIDFromContext returns the request id, or "" outside of a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// RequestID assigns every request an id, reusing a sane client-provided one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog logs every request after it is served.
func AccessLog(l *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		l.Info("Request.",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Int("size", sw.size),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", clientIP(r)),
		)
	})
}

// Recover turns a panicking handler into a 500 response.
func Recover(l *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			v := recover()
			if v == nil {
				return
			}

			if v == http.ErrAbortHandler {
				panic(v)
			}

			l.Error("Handler panicked.",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)

			if sw.status == 0 {
				writeError(sw, l, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

// SecurityHeaders sets response headers for a JSON API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// Timeout bounds the request context. A zero duration disables it.
func Timeout(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit rejects clients that exceed the limiter with 429.
// A nil limiter disables it.
func RateLimit(limiter *service.TokenBucket, l *zap.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, l, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireToken rejects requests without a valid bearer token with 401.
// It passes everything through when authentication is disabled.
func RequireToken(auth *service.AuthService, l *zap.Logger, next http.Handler) http.Handler {
	if auth == nil || !auth.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDomainError(w, r, l, domain.ErrUnauthorized)
			return
		}

		if err := auth.ValidateToken(strings.TrimSpace(token)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeDomainError(w, r, l, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CacheHeader reports whether a response was served from the cache.
const CacheHeader = "X-Cache"

// CacheResponses serves successful GET responses from c.
// A nil cache disables it.
func CacheResponses(c *cache.Cache, l *zap.Logger, next http.Handler) http.Handler {
	if c == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := cacheKey(r)

		if body, ok := c.Get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(CacheHeader, "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)

			return
		}

		w.Header().Set(CacheHeader, "MISS")

		// a write invalidating the cache while this request runs may have
		// made the response stale
		gen := c.Generation()

		bw := &bodyWriter{statusWriter: statusWriter{ResponseWriter: w}}
		next.ServeHTTP(bw, r)

		if bw.Status() != http.StatusOK {
			return
		}

		stored, err := c.SetIfUnchanged(key, bw.body.Bytes(), gen)
		switch {
		case err != nil:
			l.Warn("Failed to cache response.", zap.String("key", key), zap.Error(err))
		case !stored:
			l.Debug("Response not cached, invalidated meanwhile.", zap.String("key", key))
		}
	})
}

// InvalidateOnWrite drops cached responses under prefix after a
// successful request. A nil cache disables it.
func InvalidateOnWrite(c *cache.Cache, prefix string, l *zap.Logger, next http.Handler) http.Handler {
	if c == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if sw.Status() >= 400 {
			return
		}

		if err := c.Invalidate(prefix); err != nil {
			l.Error("Failed to invalidate cached responses.", zap.String("prefix", prefix), zap.Error(err))
		}
	})
}

func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

// clientIP returns the address of the client without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// statusWriter records the status code and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.size += n

	return n, err
}

// Status returns the response status, defaulting to 200.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap is used by http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// bodyWriter also keeps a copy of the response body.
type bodyWriter struct {
	statusWriter
	body bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.statusWriter.Write(b)
}
