package httputil

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/ratelimit"
	"github.com/clincore/clincore-backend/pkg/tenant"
)

type contextKey string

const (
	// RequestIDKey carries the correlation ID for the request.
	RequestIDKey contextKey = "request_id"
)

// RequestID middleware assigns each request a correlation ID. An inbound
// X-Request-ID is honored so callers can correlate across systems; the ID
// is always echoed back on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			event := log.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr)

			if tenantID, err := tenant.TenantID(r.Context()); err == nil {
				event = event.Str("tenant_id", tenantID)
			}

			event.Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("request_id", GetRequestID(r.Context())).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					Error(w, r, errors.Internal("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// TenantHeader binds the request to the tenant named in the X-Tenant-ID
// header. Used by the case endpoints, which the original system addressed
// by header rather than API key. A missing or malformed header is refused;
// this never falls through to an unscoped request.
func TenantHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			Error(w, r, errors.BadRequest("X-Tenant-ID header required"))
			return
		}
		if _, err := uuid.Parse(tenantID); err != nil {
			Error(w, r, errors.BadRequest("X-Tenant-ID must be a valid UUID"))
			return
		}

		ctx := tenant.WithTenantID(r.Context(), tenantID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit applies the per-tenant sliding window. Paths in bypass are
// never limited, and neither are requests without a tenant binding (those
// are refused or allowed by the auth layer, not here).
func RateLimit(limiter *ratelimit.Limiter, bypass ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := tenant.TenantID(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(tenantID) {
				Error(w, r, errors.RateLimited("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
