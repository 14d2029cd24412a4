package middleware

import (
	"net/http"
	"time"

	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/util"
)

// Logging returns a middleware that writes one structured access log
// line per request.
func Logging(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := util.NewStatusCapturingResponseWriter(w)
			next.ServeHTTP(rw, r)

			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.BytesWritten),
				observability.Duration("duration", time.Since(start)),
				observability.String("client_ip", util.ClientIP(r)),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", observability.RequestIDFromContext(r.Context())),
			)
		})
	}
}
