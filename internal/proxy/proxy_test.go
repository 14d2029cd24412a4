package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repitbot/gateway/internal/auth"
	"github.com/repitbot/gateway/internal/balancer"
	"github.com/repitbot/gateway/internal/circuitbreaker"
	gwconfig "github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/ratelimit"
	"github.com/repitbot/gateway/internal/registry"
)

const testSecret = "proxy-test-secret-for-hs256"

func backendAddr(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTestRegistry(t *testing.T, services ...gwconfig.Service) *registry.Registry {
	t.Helper()

	reg := registry.New(nil)
	for _, svc := range services {
		require.NoError(t, reg.Register(svc))
	}
	return reg
}

func newTestHandler(t *testing.T, reg *registry.Registry, opts ...Option) *Handler {
	t.Helper()

	bal := balancer.New(gwconfig.StrategyRoundRobin, reg)

	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
	}, nil)

	return New(reg, bal, breakers, opts...)
}

func signTestToken(t *testing.T, subject, role string) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Subject(subject).
		Expiration(time.Now().Add(time.Hour))
	if role != "" {
		builder = builder.Claim("role", role)
	}

	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)

	return string(signed)
}

func TestProxy_ForwardsToMatchedService(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/42", r.URL.Path)
		assert.Equal(t, "full=true", r.URL.RawQuery)
		w.Header().Set("X-Backend", "user-service")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/42?full=true", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"42"}`, rec.Body.String())
	assert.Equal(t, "user-service", rec.Header().Get("X-Backend"))
}

func TestProxy_UnknownPathIs404(t *testing.T) {
	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{"127.0.0.1:1"},
	})
	h := newTestHandler(t, reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v2/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestProxy_StripPrefix(t *testing.T) {
	var seenPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:        "lesson-service",
		PathPrefix:  "/api/v1/lessons",
		StripPrefix: true,
		Instances:   []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/lessons/7", nil))
	assert.Equal(t, "/7", seenPath)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/lessons", nil))
	assert.Equal(t, "/", seenPath, "bare prefix must forward as root")
}

func TestProxy_RequestBodyPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"name":"Anna"}`, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	r := httptest.NewRequest("POST", "/api/v1/users", strings.NewReader(`{"name":"Anna"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxy_AuthRequired(t *testing.T) {
	var seenUserID, seenRole string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = r.Header.Get(UserIDHeader)
		seenRole = r.Header.Get(UserRoleHeader)
	}))
	defer backend.Close()

	validator, err := auth.NewValidator(gwconfig.Auth{Secret: testSecret})
	require.NoError(t, err)

	reg := newTestRegistry(t, gwconfig.Service{
		Name:         "payment-service",
		PathPrefix:   "/api/v1/payments",
		AuthRequired: true,
		Instances:    []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg, WithValidator(validator))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/payments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token must be rejected")

	r := httptest.NewRequest("GET", "/api/v1/payments", nil)
	r.Header.Set("Authorization", "Bearer invalid.token.here")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "invalid token must be rejected")

	r = httptest.NewRequest("GET", "/api/v1/payments", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-42", "parent"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", seenUserID)
	assert.Equal(t, "parent", seenRole)
}

func TestProxy_StripsSpoofedIdentityHeaders(t *testing.T) {
	var seenUserID string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = r.Header.Get(UserIDHeader)
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.Header.Set(UserIDHeader, "attacker")

	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Empty(t, seenUserID, "client-supplied identity headers must be dropped")
}

func TestProxy_RateLimitRejectsWithRetryAfter(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	limiter := ratelimit.NewFixedWindowLimiter(nil, 2, time.Minute, nil)
	defer limiter.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg, WithDefaultLimiter(limiter))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestProxy_BreakerOpensAndShortCircuits(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "lesson-service",
		PathPrefix: "/api/v1/lessons",
		Instances:  []string{backendAddr(backend)},
	})

	bal := balancer.New(gwconfig.StrategyRoundRobin, reg)
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, nil)
	h := New(reg, bal, breakers)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	require.Equal(t, int32(2), hits.Load())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit_open")
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not hit the backend")
	assert.Equal(t, circuitbreaker.StateOpen, breakers.Get("lesson-service").State())
}

func TestProxy_ClientErrorsDoNotTripBreaker(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})

	bal := balancer.New(gwconfig.StrategyRoundRobin, reg)
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, nil)
	h := New(reg, bal, breakers)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "4xx must pass through unchanged")
	}

	assert.Equal(t, circuitbreaker.StateClosed, breakers.Get("user-service").State())
}

func TestProxy_TimeoutIs504(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "chat-service",
		PathPrefix: "/api/v1/chats",
		Instances:  []string{backendAddr(backend)},
		Timeout:    gwconfig.Duration(20 * time.Millisecond),
	})
	h := newTestHandler(t, reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/chats", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_timeout")
}

func TestProxy_ConnectionErrorIs502AndCountsAsFailure(t *testing.T) {
	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{"127.0.0.1:1"},
	})

	bal := balancer.New(gwconfig.StrategyRoundRobin, reg)
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, nil)
	h := New(reg, bal, breakers)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, circuitbreaker.StateOpen, breakers.Get("user-service").State())
}

func TestProxy_NoHealthyInstanceIs503(t *testing.T) {
	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{"127.0.0.1:1"},
	})
	reg.MarkUnhealthy("user-service", "127.0.0.1:1")

	h := newTestHandler(t, reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_healthy_instance")
}

func TestProxy_SetsForwardingHeaders(t *testing.T) {
	var seenXFF, seenProto, seenHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenXFF = r.Header.Get("X-Forwarded-For")
		seenProto = r.Header.Get("X-Forwarded-Proto")
		seenHost = r.Header.Get("X-Forwarded-Host")
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.RemoteAddr = "203.0.113.7:55123"
	r.Host = "gateway.repitbot.io"

	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.7", seenXFF)
	assert.Equal(t, "http", seenProto)
	assert.Equal(t, "gateway.repitbot.io", seenHost)
}

func TestProxy_RemovesHopByHopHeaders(t *testing.T) {
	var seenConnection string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenConnection = r.Header.Get("Keep-Alive")
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg)

	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.Header.Set("Keep-Alive", "timeout=5")

	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Empty(t, seenConnection)
}

func TestProxy_RoundRobinAcrossInstances(t *testing.T) {
	var hitsA, hitsB atomic.Int32

	backendA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
	}))
	defer backendA.Close()
	backendB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
	}))
	defer backendB.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backendA), backendAddr(backendB)},
	})
	h := newTestHandler(t, reg)

	for i := 0; i < 10; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/users", nil))
	}

	assert.Equal(t, int32(5), hitsA.Load())
	assert.Equal(t, int32(5), hitsB.Load())
}

func TestPoolConfigFromUpstream(t *testing.T) {
	pool := PoolConfigFromUpstream(gwconfig.Upstream{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 20,
	})

	assert.Equal(t, 200, pool.MaxIdleConns)
	assert.Equal(t, 20, pool.MaxIdleConnsPerHost)
	assert.Equal(t, DefaultPoolConfig().IdleConnTimeout, pool.IdleConnTimeout)

	transport := NewConnectionPool(pool).Transport()
	assert.Equal(t, 200, transport.MaxIdleConns)
}

func TestProxy_BreakerRecoversAfterTimeout(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer backend.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "lesson-service",
		PathPrefix: "/api/v1/lessons",
		Instances:  []string{backendAddr(backend)},
	})

	bal := balancer.New(gwconfig.StrategyRoundRobin, reg)
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	}, nil)
	h := New(reg, bal, breakers)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	require.Equal(t, circuitbreaker.StateOpen, breakers.Get("lesson-service").State())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failing.Store(false)
	time.Sleep(1100 * time.Millisecond)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "recovery probe must be forwarded")
	assert.Equal(t, circuitbreaker.StateClosed, breakers.Get("lesson-service").State())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lessons", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxy_HundredFirstRequestIsRejected(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	limiter := ratelimit.NewFixedWindowLimiter(nil, 100, time.Minute, nil)
	defer limiter.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg, WithDefaultLimiter(limiter))

	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestProxy_AuthCheckedBeforeRateLimit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	validator, err := auth.NewValidator(gwconfig.Auth{Secret: testSecret})
	require.NoError(t, err)

	limiter := ratelimit.NewFixedWindowLimiter(nil, 0, time.Minute, nil)
	defer limiter.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:         "payment-service",
		PathPrefix:   "/api/v1/payments",
		AuthRequired: true,
		Instances:    []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg, WithValidator(validator), WithDefaultLimiter(limiter))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/payments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth must run before rate limiting")

	r := httptest.NewRequest("GET", "/api/v1/payments", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1", ""))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestProxy_CustomRateKeyFunc(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	limiter := ratelimit.NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	defer limiter.Close()

	reg := newTestRegistry(t, gwconfig.Service{
		Name:       "user-service",
		PathPrefix: "/api/v1/users",
		Instances:  []string{backendAddr(backend)},
	})
	h := newTestHandler(t, reg,
		WithDefaultLimiter(limiter),
		WithRateKeyFunc(ratelimit.HeaderKeyFunc("X-API-Key")),
	)

	r := httptest.NewRequest("GET", "/api/v1/users", nil)
	r.RemoteAddr = "10.0.0.1:1111"
	r.Header.Set("X-API-Key", "team-a")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	r = httptest.NewRequest("GET", "/api/v1/users", nil)
	r.RemoteAddr = "10.0.0.2:2222"
	r.Header.Set("X-API-Key", "team-a")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code,
		"requests sharing a key must share one budget regardless of source address")
}
