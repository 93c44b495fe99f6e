package csrf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/session"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Response headers set on requests that pass.
const (
	HeaderTokenAvailable = "X-CSRF-Token-Available"

	maxFormBytes = 10 << 20
)

// ErrNoSession is returned by the middleware when no session is in the
// request context.
var ErrNoSession = errors.New("csrf: no session in request context")

// Outcome is the result of a check.
type Outcome struct {
	Passed bool
	Reason string
	Token  string
}

// ErrorHandler writes the response when the session cannot be read or
// written.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Guard issues and validates per-session CSRF tokens.
type Guard struct {
	ttl          time.Duration
	now          func() time.Time
	random       io.Reader
	logger       observability.Logger
	audit        audit.Logger
	metrics      *Metrics
	errorHandler ErrorHandler
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock sets the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithRandom sets the token entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Guard) {
		g.random = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithAudit sets the audit logger receiving rejections.
func WithAudit(a audit.Logger) Option {
	return func(g *Guard) {
		g.audit = a
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithErrorHandler sets the handler for session failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(g *Guard) {
		g.errorHandler = h
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		ttl:    DefaultTTL,
		now:    time.Now,
		random: defaultRandom,
		logger: observability.NopLogger(),
		audit:  audit.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = GetCSRFMetrics()
	}
	if g.errorHandler == nil {
		g.errorHandler = g.defaultErrorHandler
	}

	return g
}

// IsSafeMethod reports whether method is exempt from validation.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Check validates r against the session's token. Safe methods always pass
// and only report an existing token; other methods get a token issued when
// the session has none, so a first state-changing request without a token
// is rejected. A submitted token passes when any of the header, form or
// query candidates matches. The returned Outcome carries the session's
// current token.
func (g *Guard) Check(r *http.Request, sess SessionStore) (Outcome, error) {
	ctx := r.Context()

	if IsSafeMethod(r.Method) {
		out := Outcome{Passed: true, Reason: "safe method"}
		rec, ok, err := load(ctx, sess)
		if err != nil {
			g.logger.WithContext(ctx).Warn("csrf token unavailable for safe method", observability.Error(err))
			return out, nil
		}
		if ok && rec.valid(g.now()) {
			out.Token = rec.Token
		}
		return out, nil
	}

	token, err := g.current(ctx, sess)
	if err != nil {
		return Outcome{}, err
	}

	candidates, err := submittedTokens(r)
	if err != nil {
		return Outcome{}, err
	}
	if len(candidates) == 0 {
		return Outcome{Reason: "missing CSRF token", Token: token}, nil
	}
	for _, c := range candidates {
		if equal(token, c) {
			return Outcome{Passed: true, Reason: "token matched", Token: token}, nil
		}
	}
	return Outcome{Reason: "invalid CSRF token", Token: token}, nil
}

// submittedTokens collects the non-empty candidates from the header, the
// form body and the query string, in that order. The request body is
// restored after a form is parsed so later stages and the upstream still
// see it.
func submittedTokens(r *http.Request) ([]string, error) {
	candidates := make([]string, 0, 3)
	if v := r.Header.Get(HeaderName); v != "" {
		candidates = append(candidates, v)
	}

	v, err := formToken(r)
	if err != nil {
		return nil, err
	}
	if v != "" {
		candidates = append(candidates, v)
	}

	if v := r.URL.Query().Get(FieldName); v != "" {
		candidates = append(candidates, v)
	}
	return candidates, nil
}

func formToken(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	ct := r.Header.Get("Content-Type")
	isURLEncoded := strings.HasPrefix(ct, "application/x-www-form-urlencoded")
	isMultipart := strings.HasPrefix(ct, "multipart/form-data")
	if !isURLEncoded && !isMultipart {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes+1))
	if err != nil {
		return "", err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if int64(len(body)) > maxFormBytes {
		return "", nil
	}

	probe := r.Clone(r.Context())
	probe.Body = io.NopCloser(bytes.NewReader(body))
	probe.Form, probe.PostForm, probe.MultipartForm = nil, nil, nil
	if isMultipart {
		if err := probe.ParseMultipartForm(maxFormBytes); err != nil {
			return "", nil
		}
		if probe.MultipartForm != nil {
			defer func() { _ = probe.MultipartForm.RemoveAll() }()
		}
	} else if err := probe.ParseForm(); err != nil {
		return "", nil
	}
	return probe.PostForm.Get(FieldName), nil
}

// Middleware enforces the guard for requests carrying a session in their
// context.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil {
				g.metrics.checks.WithLabelValues(resultError).Inc()
				g.errorHandler(w, r, ErrNoSession)
				return
			}

			out, err := g.Check(r, sess)
			if err != nil {
				g.metrics.checks.WithLabelValues(resultError).Inc()
				g.errorHandler(w, r, err)
				return
			}

			if !out.Passed {
				g.metrics.checks.WithLabelValues(resultRejected).Inc()
				g.reject(w, r, out)
				return
			}

			if IsSafeMethod(r.Method) {
				g.metrics.checks.WithLabelValues(resultExempt).Inc()
			} else {
				g.metrics.checks.WithLabelValues(resultPassed).Inc()
			}

			if out.Token != "" {
				w.Header().Set(HeaderName, out.Token)
				w.Header().Set(HeaderTokenAvailable, "true")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, out Outcome) {
	g.audit.Log(r.Context(), audit.NewRequestEvent(audit.KindCSRFRejected, r, "CSRF token validation failed").
		WithDetail("reason", out.Reason))

	util.WriteFailure(w, r, http.StatusForbidden,
		"CSRF token validation failed",
		"The request could not be verified. Please refresh the page and try again.")
}

func (g *Guard) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.WithContext(r.Context()).Error("csrf check failed", observability.Error(err))
	util.WriteFailure(w, r, http.StatusInternalServerError,
		"Internal Server Error", "The request could not be processed.")
}

// TokenFromContext returns the token of the session in ctx, issuing one if
// needed.
func (g *Guard) TokenFromContext(ctx context.Context) (string, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return "", ErrNoSession
	}
	return g.current(ctx, sess)
}
