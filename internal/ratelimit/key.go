package ratelimit

import (
	"net/http"

	"github.com/repitbot/gateway/internal/auth"
	"github.com/repitbot/gateway/internal/util"
)

// KeyFunc extracts the rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys requests by client IP.
func IPKeyFunc(r *http.Request) string {
	return util.ClientIP(r)
}

// HeaderKeyFunc keys requests by a header value, falling back to the
// client IP when the header is absent.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if value := r.Header.Get(header); value != "" {
			return value
		}
		return util.ClientIP(r)
	}
}

// SubjectKeyFunc keys requests by the authenticated subject, falling
// back to base for anonymous requests. Subjects and fallback keys are
// namespaced separately so they can never collide.
func SubjectKeyFunc(base KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
			return "sub:" + identity.Subject
		}
		return "ip:" + base(r)
	}
}

// PerServiceKeyFunc scopes a base key to a service so that each
// service budget is tracked independently.
func PerServiceKeyFunc(service string, base KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return service + ":" + base(r)
	}
}
