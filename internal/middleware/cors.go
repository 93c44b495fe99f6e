package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/govgate/internal/config"
)

// CORS request types used as metric labels.
const (
	corsPreflight = "preflight"
	corsActual    = "actual"
	corsNoOrigin  = "no_origin"
	corsDenied    = "denied"
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
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With"},
		MaxAge:       86400,
	}
}

// corsHeaders holds pre-computed CORS header values.
type corsHeaders struct {
	allowOrigins     map[string]bool
	wildcardPatterns []string
	allowAllOrigins  bool
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	maxAge           string
	allowCredentials bool
}

func newCORSHeaders(cfg CORSConfig) *corsHeaders {
	h := &corsHeaders{
		allowOrigins:     make(map[string]bool),
		allowMethods:     strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders:    strings.Join(cfg.ExposeHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	for _, origin := range cfg.AllowOrigins {
		switch {
		case origin == "*":
			h.allowAllOrigins = true
		case strings.HasPrefix(origin, "*."):
			h.wildcardPatterns = append(h.wildcardPatterns, origin)
		default:
			h.allowOrigins[origin] = true
		}
	}

	return h
}

func (h *corsHeaders) isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if h.allowAllOrigins || h.allowOrigins[origin] {
		return true
	}
	for _, pattern := range h.wildcardPatterns {
		if matchWildcardOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchWildcardOrigin matches "*.example.com" against the host of origin.
// The bare domain does not match.
func matchWildcardOrigin(origin, pattern string) bool {
	suffix := pattern[1:]

	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}

	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}

// set writes the CORS headers for an allowed origin. The specific origin
// is always echoed, which keeps credentialed requests valid.
func (h *corsHeaders) set(w http.ResponseWriter, origin string, preflight bool) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Add("Vary", HeaderOrigin)

	if h.allowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	if h.exposeHeaders != "" {
		header.Set("Access-Control-Expose-Headers", h.exposeHeaders)
	}
	if !preflight {
		return
	}
	if h.allowMethods != "" {
		header.Set("Access-Control-Allow-Methods", h.allowMethods)
	}
	if h.allowHeaders != "" {
		header.Set("Access-Control-Allow-Headers", h.allowHeaders)
	}
	if h.maxAge != "" {
		header.Set("Access-Control-Max-Age", h.maxAge)
	}
}

// CORS returns the cors stage. Preflight requests from an allowed origin
// are answered with 204 and end the chain; a preflight from a denied
// origin continues without CORS headers.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	headers := newCORSHeaders(cfg)
	metrics := GetMiddlewareMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get(HeaderOrigin)
			if origin == "" {
				metrics.corsRequests.WithLabelValues(corsNoOrigin).Inc()
				next.ServeHTTP(w, r)
				return
			}

			if !headers.isOriginAllowed(origin) {
				metrics.corsRequests.WithLabelValues(corsDenied).Inc()
				next.ServeHTTP(w, r)
				return
			}

			preflight := r.Method == http.MethodOptions &&
				r.Header.Get("Access-Control-Request-Method") != ""
			headers.set(w, origin, preflight)

			if preflight {
				metrics.corsRequests.WithLabelValues(corsPreflight).Inc()
				w.WriteHeader(http.StatusNoContent)
				return
			}

			metrics.corsRequests.WithLabelValues(corsActual).Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSFromConfig creates the cors stage from the configuration section,
// filling empty lists and a zero max age with the defaults.
func CORSFromConfig(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	defaults := DefaultCORSConfig()
	if cfg == nil {
		return CORS(defaults)
	}

	corsConfig := CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = defaults.AllowOrigins
	}
	if len(corsConfig.AllowMethods) == 0 {
		corsConfig.AllowMethods = defaults.AllowMethods
	}
	if len(corsConfig.AllowHeaders) == 0 {
		corsConfig.AllowHeaders = defaults.AllowHeaders
	}
	if corsConfig.MaxAge == 0 {
		corsConfig.MaxAge = defaults.MaxAge
	}

	return CORS(corsConfig)
}
