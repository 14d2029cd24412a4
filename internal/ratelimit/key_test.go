package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repitbot/gateway/internal/auth"
)

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.RemoteAddr = "10.0.0.5:41234"

	assert.Equal(t, "10.0.0.5", IPKeyFunc(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", IPKeyFunc(r))
}

func TestHeaderKeyFunc(t *testing.T) {
	fn := HeaderKeyFunc("X-API-Key")

	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.RemoteAddr = "10.0.0.5:41234"
	assert.Equal(t, "10.0.0.5", fn(r), "missing header falls back to client IP")

	r.Header.Set("X-API-Key", "abc123")
	assert.Equal(t, "abc123", fn(r))
}

func TestSubjectKeyFunc(t *testing.T) {
	fn := SubjectKeyFunc(IPKeyFunc)

	r := httptest.NewRequest("GET", "/api/v1/lessons", nil)
	r.RemoteAddr = "10.0.0.5:41234"
	assert.Equal(t, "ip:10.0.0.5", fn(r), "anonymous requests key by client IP")

	r = r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{Subject: "user-42"}))
	assert.Equal(t, "sub:user-42", fn(r))
}

func TestPerServiceKeyFunc(t *testing.T) {
	fn := PerServiceKeyFunc("lesson-service", IPKeyFunc)

	r := httptest.NewRequest("GET", "/api/v1/lessons", nil)
	r.RemoteAddr = "10.0.0.5:41234"

	assert.Equal(t, "lesson-service:10.0.0.5", fn(r))
}
