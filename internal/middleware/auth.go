package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Auth errors.
var (
	ErrMissingSecret = errors.New("auth secret is required")
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid bearer token")
	ErrTokenExpired  = errors.New("bearer token expired")
)

// Auth decision results used as metric labels.
const (
	authPublic        = "public"
	authAuthenticated = "authenticated"
	authMissing       = "missing"
	authInvalid       = "invalid"
	authExpired       = "expired"
)

const bearerPrefix = "Bearer "

// AuthConfig configures the auth stage.
type AuthConfig struct {
	// Secret is the HS256 signing key.
	Secret string
	// Issuer and Audience are enforced when set.
	Issuer   string
	Audience string
	// RolesClaim names the claim holding the roles, a list of strings or a
	// space separated string.
	RolesClaim string
	// PublicPaths are path prefixes served without a token.
	PublicPaths []string
}

// AuthOption configures the auth stage.
type AuthOption func(*authenticator)

// WithAuthLogger sets the logger.
func WithAuthLogger(logger observability.Logger) AuthOption {
	return func(a *authenticator) {
		a.logger = logger
	}
}

// WithAuthAudit sets the audit sink for failed authentications.
func WithAuthAudit(auditor audit.Logger) AuthOption {
	return func(a *authenticator) {
		a.audit = auditor
	}
}

// WithAuthClock sets the clock used for expiry checks.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *authenticator) {
		a.now = now
	}
}

type authenticator struct {
	secret      []byte
	rolesClaim  string
	publicPaths []string
	parser      *jwt.Parser

	logger observability.Logger
	audit  audit.Logger
	now    func() time.Time
}

// Auth returns the auth stage. Requests under a public path pass; a valid
// token there still attaches the identity. Everywhere else a missing or
// invalid token is answered with 401. The identity of a valid token is
// stored in the request context with util.ContextWithIdentity.
func Auth(cfg AuthConfig, opts ...AuthOption) (func(http.Handler) http.Handler, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}

	a := &authenticator{
		secret:      []byte(cfg.Secret),
		rolesClaim:  cfg.RolesClaim,
		publicPaths: append([]string(nil), cfg.PublicPaths...),
		logger:      observability.NopLogger(),
		audit:       audit.NopLogger(),
		now:         time.Now,
	}
	if a.rolesClaim == "" {
		a.rolesClaim = "roles"
	}
	for _, opt := range opts {
		opt(a)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	a.parser = jwt.NewParser(parserOpts...)

	return a.middleware, nil
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	metrics := GetMiddlewareMetrics()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := a.isPublic(r.URL.Path)

		identity, err := a.authenticate(r)
		if err == nil {
			metrics.authDecisions.WithLabelValues(authAuthenticated).Inc()
			ctx := util.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if public {
			metrics.authDecisions.WithLabelValues(authPublic).Inc()
			next.ServeHTTP(w, r)
			return
		}

		result := authInvalid
		switch {
		case errors.Is(err, ErrMissingToken):
			result = authMissing
		case errors.Is(err, ErrTokenExpired):
			result = authExpired
		}
		metrics.authDecisions.WithLabelValues(result).Inc()

		a.logger.WithContext(r.Context()).Debug("authentication failed",
			observability.String("path", r.URL.Path),
			observability.Error(err),
		)
		a.audit.Log(r.Context(), audit.NewRequestEvent(audit.KindAuthFailed, r, "authentication failed").
			WithDetail("reason", result))

		w.Header().Set(HeaderWWWAuthenticate, `Bearer realm="govgate"`)
		util.WriteFailure(w, r, http.StatusUnauthorized, errAuthenticationFailed, authMessage(err))
	})
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "A bearer token is required."
	case errors.Is(err, ErrTokenExpired):
		return "The bearer token has expired."
	default:
		return "The bearer token is invalid."
	}
}

func (a *authenticator) isPublic(path string) bool {
	for _, prefix := range a.publicPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *authenticator) authenticate(r *http.Request) (*util.Identity, error) {
	header := r.Header.Get(HeaderAuthorization)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])

	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: subject claim is required", ErrInvalidToken)
	}

	return &util.Identity{
		UserID: subject,
		Roles:  rolesFromClaim(claims[a.rolesClaim]),
		Claims: claims,
	}, nil
}

func rolesFromClaim(v interface{}) []string {
	switch roles := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(roles))
		for _, role := range roles {
			if s, ok := role.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), roles...)
	case string:
		return strings.Fields(roles)
	default:
		return nil
	}
}
