package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

type middlewareConfig struct {
	logger       observability.Logger
	audit        audit.Logger
	keyFunc      KeyFunc
	classify     func(*http.Request) string
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithMiddlewareLogger sets the logger.
func WithMiddlewareLogger(logger observability.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

// WithAudit sets the audit logger receiving rejections.
func WithAudit(a audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = a
	}
}

// WithKeyFunc sets the client key function.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.keyFunc = fn
	}
}

// WithErrorHandler sets the handler for store failures.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.errorHandler = fn
	}
}

// Middleware returns the rate_limit stage. Rejected requests get 429 and
// are not recorded; allowed requests are recorded before the next stage
// runs and carry the window state in X-RateLimit-* headers.
func Middleware(l *Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		logger:   observability.NopLogger(),
		audit:    audit.NopLogger(),
		keyFunc:  RequestClientKey,
		classify: func(r *http.Request) string { return Classify(r.URL.Path) },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.errorHandler == nil {
		cfg.errorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			cfg.logger.WithContext(r.Context()).Error("rate limit check failed", observability.Error(err))
			util.WriteFailure(w, r, http.StatusInternalServerError,
				"Internal Server Error", "The request could not be processed.")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			class := cfg.classify(r)
			clientKey := cfg.keyFunc(r)

			d, err := l.Check(ctx, clientKey, class)
			if err != nil {
				l.metrics.decisions.WithLabelValues(class, resultError).Inc()
				cfg.errorHandler(w, r, err)
				return
			}

			if !d.Allowed {
				l.metrics.decisions.WithLabelValues(class, resultRejected).Inc()
				reject(w, r, cfg, clientKey, d)
				return
			}

			d, err = l.Record(ctx, clientKey, class)
			if err != nil {
				l.metrics.decisions.WithLabelValues(class, resultError).Inc()
				cfg.errorHandler(w, r, err)
				return
			}
			l.metrics.decisions.WithLabelValues(class, resultAllowed).Inc()

			h := w.Header()
			h.Set(HeaderLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderReset, strconv.FormatInt(d.Reset.Unix(), 10))

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, cfg *middlewareConfig, clientKey string, d Decision) {
	retryAfter := d.RetryAfterSeconds()

	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, "0")
	h.Set(HeaderReset, strconv.FormatInt(d.Reset.Unix(), 10))
	h.Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

	cfg.audit.Log(r.Context(), audit.NewRequestEvent(audit.KindRateLimited, r, "rate limit exceeded").
		WithDetail("client", clientKey).
		WithDetail("class", d.Class).
		WithDetail("retry_after", strconv.FormatInt(retryAfter, 10)))

	util.WriteFailure(w, r, http.StatusTooManyRequests,
		"Rate limit exceeded",
		"Too many requests. Please try again in "+strconv.FormatInt(retryAfter, 10)+" seconds.")
}
