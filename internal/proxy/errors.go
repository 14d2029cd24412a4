package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/repitbot/gateway/internal/util"
)

// errorResponse maps a pipeline error to the client-facing status and
// body.
func errorResponse(err error) (status int, name, message string) {
	switch {
	case errors.Is(err, util.ErrUnknownService):
		return http.StatusNotFound, "not_found", "no service matches the request path"
	case errors.Is(err, util.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "missing or invalid credentials"
	case errors.Is(err, util.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded"
	case errors.Is(err, util.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "circuit_open", "service is temporarily unavailable"
	case errors.Is(err, util.ErrNoHealthyInstance):
		return http.StatusServiceUnavailable, "no_healthy_instance", "no healthy backend available"
	case errors.Is(err, util.ErrDownstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout", "backend did not respond in time"
	default:
		return http.StatusBadGateway, "bad_gateway", "failed to reach backend"
	}
}

// writeError writes the mapped error response. Rate limit rejections
// carry a Retry-After header.
func writeError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	status, name, message := errorResponse(err)

	if status == http.StatusTooManyRequests && retryAfter > 0 {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	util.WriteJSONError(w, status, name, message)
}
