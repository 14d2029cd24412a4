package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/repitbot/gateway/internal/observability"
)

// RequestIDHeader is the correlation ID header propagated to backends
// and reflected to clients.
const RequestIDHeader = "X-Request-ID"

// RequestID returns a middleware that assigns each request a
// correlation ID. An incoming X-Request-ID is kept.
func RequestID() Middleware {
	return RequestIDWithGenerator(func() string {
		return uuid.New().String()
	})
}

// RequestIDWithGenerator returns a request ID middleware using a
// custom ID generator.
func RequestIDWithGenerator(generator func() string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = generator()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			r.Header.Set(RequestIDHeader, requestID)

			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
