package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/util"
)

// Recovery returns a middleware that converts panics into a 500
// response instead of killing the connection.
func Recovery(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						observability.String("method", r.Method),
						observability.String("path", r.URL.Path),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)

					panicsRecovered.Inc()

					util.WriteJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
