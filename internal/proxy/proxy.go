// Package proxy implements the gateway request pipeline: route match,
// authentication, rate limiting, circuit breaking, instance selection
// and forwarding.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/repitbot/gateway/internal/auth"
	"github.com/repitbot/gateway/internal/balancer"
	"github.com/repitbot/gateway/internal/circuitbreaker"
	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/ratelimit"
	"github.com/repitbot/gateway/internal/registry"
	"github.com/repitbot/gateway/internal/util"
)

// hopHeaders are connection-scoped headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Trusted identity headers set by the gateway after authentication.
// Incoming values are always stripped.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// Handler dispatches requests to backend services.
type Handler struct {
	registry *registry.Registry
	balancer balancer.Balancer
	breakers *circuitbreaker.Registry

	breakerConfigs map[string]*circuitbreaker.Config
	limiters       map[string]ratelimit.Limiter
	defaultLimiter ratelimit.Limiter
	rateKeyFunc    ratelimit.KeyFunc

	validator      *auth.Validator
	transport      http.RoundTripper
	defaultTimeout time.Duration
	logger         observability.Logger
}

// Option configures the proxy handler.
type Option func(*Handler)

// WithProxyLogger sets the logger.
func WithProxyLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithValidator enables token authentication for services that require
// it.
func WithValidator(v *auth.Validator) Option {
	return func(h *Handler) {
		h.validator = v
	}
}

// WithTransport sets the upstream transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(h *Handler) {
		h.transport = transport
	}
}

// WithDefaultTimeout sets the per-request budget used when a service
// has no override.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.defaultTimeout = timeout
	}
}

// WithDefaultLimiter sets the gateway-wide rate limiter.
func WithDefaultLimiter(l ratelimit.Limiter) Option {
	return func(h *Handler) {
		h.defaultLimiter = l
	}
}

// WithServiceLimiter sets a per-service rate limiter override.
func WithServiceLimiter(service string, l ratelimit.Limiter) Option {
	return func(h *Handler) {
		h.limiters[service] = l
	}
}

// WithRateKeyFunc overrides how the rate limit client key is derived
// from a request.
func WithRateKeyFunc(fn ratelimit.KeyFunc) Option {
	return func(h *Handler) {
		h.rateKeyFunc = fn
	}
}

// WithServiceBreakerConfig sets a per-service circuit breaker override.
func WithServiceBreakerConfig(service string, cfg *circuitbreaker.Config) Option {
	return func(h *Handler) {
		h.breakerConfigs[service] = cfg
	}
}

// New creates the proxy handler.
func New(reg *registry.Registry, bal balancer.Balancer, breakers *circuitbreaker.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:       reg,
		balancer:       bal,
		breakers:       breakers,
		breakerConfigs: make(map[string]*circuitbreaker.Config),
		limiters:       make(map[string]ratelimit.Limiter),
		defaultLimiter: ratelimit.NewNoopLimiter(),
		rateKeyFunc:    ratelimit.SubjectKeyFunc(ratelimit.IPKeyFunc),
		transport:      http.DefaultTransport,
		defaultTimeout: 10 * time.Second,
		logger:         observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	svc, err := h.registry.MatchPrefix(r.URL.Path)
	if err != nil {
		recordRejection("unknown", "no_route")
		writeError(w, err, 0)
		return
	}

	// Identity headers only ever come from the gateway itself.
	r.Header.Del(UserIDHeader)
	r.Header.Del(UserRoleHeader)

	if svc.AuthRequired {
		r, err = h.authenticate(r)
		if err != nil {
			recordRejection(svc.Name, "unauthorized")
			writeError(w, err, 0)
			return
		}
	}

	if result := h.checkRateLimit(r, svc); result != nil && !result.Allowed {
		recordRejection(svc.Name, "rate_limited")
		writeError(w, util.ErrRateLimited, result.RetryAfter)
		return
	}

	cb := h.breakerFor(svc.Name)
	if !cb.Allow() {
		recordRejection(svc.Name, "circuit_open")
		writeError(w, util.ErrCircuitOpen, 0)
		return
	}

	instance, err := h.balancer.Pick(svc.Name)
	if err != nil {
		// The breaker already admitted this request; a fully
		// unavailable backend counts as its failure.
		cb.RecordFailure()
		recordRejection(svc.Name, "no_healthy_instance")
		writeError(w, err, 0)
		return
	}

	h.forward(w, r, svc, instance, cb, start)
}

// authenticate validates the bearer token and stamps the trusted
// identity headers.
func (h *Handler) authenticate(r *http.Request) (*http.Request, error) {
	if h.validator == nil {
		return nil, util.ErrUnauthorized
	}

	token, err := auth.ExtractToken(r)
	if err != nil {
		return nil, err
	}

	identity, err := h.validator.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}

	r = r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
	r.Header.Set(UserIDHeader, identity.Subject)
	if identity.Role != "" {
		r.Header.Set(UserRoleHeader, identity.Role)
	}

	return r, nil
}

// checkRateLimit consults the limiter for the matched service. Store
// failures fail open so a Redis outage never takes down traffic.
func (h *Handler) checkRateLimit(r *http.Request, svc *registry.Service) *ratelimit.Result {
	limiter := h.defaultLimiter
	if override, ok := h.limiters[svc.Name]; ok {
		limiter = override
	}

	result, err := limiter.Allow(r.Context(), h.rateKey(r, svc.Name))
	if err != nil {
		h.logger.Warn("rate limit check failed, allowing request",
			observability.String("service", svc.Name),
			observability.Error(err),
		)
		return nil
	}

	return result
}

// rateKey identifies the client, authenticated subject when available
// and client IP otherwise, scoped per service.
func (h *Handler) rateKey(r *http.Request, service string) string {
	return ratelimit.PerServiceKeyFunc(service, h.rateKeyFunc)(r)
}

func (h *Handler) breakerFor(service string) *circuitbreaker.CircuitBreaker {
	if cfg, ok := h.breakerConfigs[service]; ok {
		return h.breakers.GetOrCreateWithConfig(service, cfg)
	}
	return h.breakers.GetOrCreate(service)
}

// forward sends the request to the chosen instance and relays the
// response unmodified.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, svc *registry.Service, instance registry.Instance, cb *circuitbreaker.CircuitBreaker, start time.Time) {
	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	outbound, err := h.buildOutbound(ctx, r, svc, instance)
	if err != nil {
		// The call never left the gateway; release the breaker slot
		// without recording a verdict.
		cb.Cancel()
		h.logger.Error("failed to build upstream request",
			observability.String("service", svc.Name),
			observability.Error(err),
		)
		writeError(w, util.ErrDownstreamError, 0)
		recordProxyRequest(svc.Name, http.StatusBadGateway, time.Since(start))
		return
	}

	resp, err := h.transport.RoundTrip(outbound)
	if err != nil {
		cb.RecordFailure()
		h.handleTransportError(w, svc, instance, err, start)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// 4xx is the backend answering correctly about a bad request; only
	// 5xx trips the breaker.
	if circuitbreaker.IsFailureStatus(resp.StatusCode) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}

	copyHeaders(w.Header(), resp.Header)
	for _, header := range hopHeaders {
		w.Header().Del(header)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("response copy interrupted",
			observability.String("service", svc.Name),
			observability.String("instance", instance.Address),
			observability.Error(err),
		)
	}

	recordProxyRequest(svc.Name, resp.StatusCode, time.Since(start))
}

// buildOutbound creates the upstream request, stripping the route
// prefix when configured and rewriting forwarding headers.
func (h *Handler) buildOutbound(ctx context.Context, r *http.Request, svc *registry.Service, instance registry.Instance) (*http.Request, error) {
	path := r.URL.Path
	if svc.StripPrefix {
		path = strings.TrimPrefix(path, svc.PathPrefix)
		if path == "" {
			path = "/"
		}
	}

	target := &url.URL{
		Scheme:   "http",
		Host:     instance.Address,
		Path:     path,
		RawQuery: r.URL.RawQuery,
	}

	outbound, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}

	copyHeaders(outbound.Header, r.Header)
	for _, header := range hopHeaders {
		outbound.Header.Del(header)
	}

	outbound.ContentLength = r.ContentLength
	outbound.Host = instance.Address

	setForwardedHeaders(outbound, r)

	return outbound, nil
}

func (h *Handler) handleTransportError(w http.ResponseWriter, svc *registry.Service, instance registry.Instance, err error, start time.Time) {
	var pipelineErr error
	var kind string

	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		pipelineErr = util.ErrDownstreamTimeout
		kind = "timeout"
	case errors.Is(err, context.Canceled):
		pipelineErr = util.ErrDownstreamError
		kind = "canceled"
	default:
		pipelineErr = util.ErrDownstreamError
		kind = "connection"
	}

	h.logger.Warn("upstream request failed",
		observability.String("service", svc.Name),
		observability.String("instance", instance.Address),
		observability.String("kind", kind),
		observability.Error(err),
	)

	recordUpstreamError(svc.Name, kind)
	writeError(w, pipelineErr, 0)

	status, _, _ := errorResponse(pipelineErr)
	recordProxyRequest(svc.Name, status, time.Since(start))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// copyHeaders copies all values of every header from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// setForwardedHeaders appends the client to X-Forwarded-For and records
// the original protocol and host.
func setForwardedHeaders(outbound *http.Request, original *http.Request) {
	if clientIP, _, err := net.SplitHostPort(original.RemoteAddr); err == nil {
		if prior := original.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outbound.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if original.TLS != nil {
		proto = "https"
	}
	outbound.Header.Set("X-Forwarded-Proto", proto)
	outbound.Header.Set("X-Forwarded-Host", original.Host)
}
