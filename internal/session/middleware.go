package session

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "govgate_session"

type middlewareConfig struct {
	cookieName string
	cookiePath string
	logger     observability.Logger
	newID      func() string
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithCookieName sets the cookie name.
func WithCookieName(name string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if name != "" {
			c.cookieName = name
		}
	}
}

// WithCookiePath sets the cookie path.
func WithCookiePath(path string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if path != "" {
			c.cookiePath = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

// WithIDGenerator sets the session ID generator.
func WithIDGenerator(fn func() string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.newID = fn
	}
}

// Middleware resolves the client's session from its cookie and stores it
// in the request context. A request without a live session gets a pending
// one: it is created in the store, and the cookie is set, only when a
// later stage first writes to it.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		cookieName: DefaultCookieName,
		cookiePath: "/",
		logger:     observability.NopLogger(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := ""
			if c, err := r.Cookie(cfg.cookieName); err == nil {
				if _, parseErr := uuid.Parse(c.Value); parseErr == nil {
					id = c.Value
				}
			}

			if id != "" {
				ok, err := store.Exists(ctx, id)
				if err != nil {
					cfg.logger.WithContext(ctx).Error("session lookup failed", observability.Error(err))
					writeStoreFailure(w, r)
					return
				}
				if !ok {
					id = ""
				}
			}

			if id == "" {
				id = cfg.newID()
				sess := newPending(id, store, func() {
					GetSessionMetrics().created.Inc()
					cfg.setCookie(w, r, id)
				})
				next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, sess)))
				return
			}

			if err := store.Touch(ctx, id); err != nil {
				cfg.logger.WithContext(ctx).Error("session touch failed", observability.Error(err))
				writeStoreFailure(w, r)
				return
			}
			cfg.setCookie(w, r, id)

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, New(id, store))))
		})
	}
}

func (c *middlewareConfig) setCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    id,
		Path:     c.cookiePath,
		HttpOnly: true,
		Secure:   util.IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func writeStoreFailure(w http.ResponseWriter, r *http.Request) {
	util.WriteFailure(w, r, http.StatusInternalServerError,
		"Internal Server Error", "The request could not be processed.")
}
