package middleware

import (
	"net/http"
	"strconv"
	"strings"

	gwconfig "github.com/repitbot/gateway/internal/config"
)

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns default CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		MaxAge:       86400,
	}
}

// corsHeaders holds header values pre-computed from config.
type corsHeaders struct {
	origins          map[string]bool
	allowAllOrigins  bool
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	maxAge           string
	allowCredentials bool
}

func newCORSHeaders(cfg CORSConfig) *corsHeaders {
	h := &corsHeaders{
		origins:          make(map[string]bool),
		allowMethods:     strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders:    strings.Join(cfg.ExposeHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			h.allowAllOrigins = true
			continue
		}
		h.origins[origin] = true
	}

	return h
}

func (h *corsHeaders) set(w http.ResponseWriter, origin string) {
	if origin != "" && (h.allowAllOrigins || h.origins[origin]) {
		// Echo the specific origin; credentialed requests forbid "*".
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}

	if h.allowMethods != "" {
		w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	}
	if h.allowHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	}
	if h.exposeHeaders != "" {
		w.Header().Set("Access-Control-Expose-Headers", h.exposeHeaders)
	}
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if h.maxAge != "" {
		w.Header().Set("Access-Control-Max-Age", h.maxAge)
	}
}

// CORS returns a middleware that sets cross-origin headers and answers
// preflight requests.
func CORS(cfg CORSConfig) Middleware {
	headers := newCORSHeaders(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers.set(w, r.Header.Get("Origin"))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSFromConfig creates CORS middleware from gateway config, filling
// unset fields with defaults.
func CORSFromConfig(cfg *gwconfig.CORS) Middleware {
	if cfg == nil {
		return CORS(DefaultCORSConfig())
	}

	defaults := DefaultCORSConfig()
	corsCfg := CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = defaults.AllowOrigins
	}
	if len(corsCfg.AllowMethods) == 0 {
		corsCfg.AllowMethods = defaults.AllowMethods
	}
	if len(corsCfg.AllowHeaders) == 0 {
		corsCfg.AllowHeaders = defaults.AllowHeaders
	}
	if corsCfg.MaxAge == 0 {
		corsCfg.MaxAge = defaults.MaxAge
	}

	return CORS(corsCfg)
}
