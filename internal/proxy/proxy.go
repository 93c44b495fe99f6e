package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Headers set on forwarded requests. Client supplied values are dropped.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-Authenticated-User"
	HeaderUserRoles = "X-Authenticated-Roles"
)

// ReverseProxy forwards requests to the upstream.
type ReverseProxy struct {
	target    *url.URL
	proxy     *httputil.ReverseProxy
	timeout   time.Duration
	transport http.RoundTripper
	logger    observability.Logger
	metrics   *Metrics
}

// ProxyOption is a functional option for configuring the proxy.
type ProxyOption func(*ReverseProxy)

// WithProxyLogger sets the logger for the proxy.
func WithProxyLogger(logger observability.Logger) ProxyOption {
	return func(p *ReverseProxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) ProxyOption {
	return func(p *ReverseProxy) {
		p.transport = transport
	}
}

// WithTimeout bounds every upstream round trip.
func WithTimeout(timeout time.Duration) ProxyOption {
	return func(p *ReverseProxy) {
		p.timeout = timeout
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *Metrics) ProxyOption {
	return func(p *ReverseProxy) {
		p.metrics = m
	}
}

// New creates the terminal handler. An empty upstream yields a proxy that
// answers every request with 404.
func New(upstream string, opts ...ProxyOption) (*ReverseProxy, error) {
	p := &ReverseProxy{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = GetProxyMetrics()
	}

	if upstream == "" {
		return p, nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTargetURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q needs a scheme and host", ErrInvalidTargetURL, upstream)
	}
	p.target = target

	p.proxy = &httputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler:  p.errorHandler,
	}

	return p, nil
}

// Target returns the upstream URL, or nil when none is configured.
func (p *ReverseProxy) Target() *url.URL {
	return p.target
}

// ServeHTTP implements http.Handler.
func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.proxy == nil {
		p.metrics.notFound.Inc()
		util.WriteFailure(w, r, http.StatusNotFound, "Not Found",
			"The requested resource does not exist.")
		return
	}

	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	start := time.Now()
	rw := util.NewStatusCapturingResponseWriter(w)
	p.proxy.ServeHTTP(rw, r)
	p.metrics.upstreamDuration.WithLabelValues(statusClass(rw.StatusCode)).
		Observe(time.Since(start).Seconds())
}

// rewrite builds the outbound request. httputil strips hop-by-hop and
// inbound X-Forwarded-* headers before calling it.
func (p *ReverseProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.Out.Host = p.target.Host

	ctx := pr.In.Context()

	pr.SetXForwarded()
	if ip := util.ClientIPFromContext(ctx); ip != "" {
		pr.Out.Header.Set("X-Forwarded-For", ip)
	}
	pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)
	if util.IsSecureRequest(pr.In) {
		pr.Out.Header.Set("X-Forwarded-Proto", "https")
	}

	if id := observability.RequestIDFromContext(ctx); id != "" {
		pr.Out.Header.Set(HeaderRequestID, id)
	}
	observability.InjectTraceContext(ctx, pr.Out)

	pr.Out.Header.Del(HeaderUserID)
	pr.Out.Header.Del(HeaderUserRoles)
	if identity := util.IdentityFromContext(ctx); identity != nil {
		pr.Out.Header.Set(HeaderUserID, identity.UserID)
		for _, role := range identity.Roles {
			pr.Out.Header.Add(HeaderUserRoles, role)
		}
	}
}

func (p *ReverseProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	errType := classifyError(err)
	p.metrics.errors.WithLabelValues(errType).Inc()

	p.logger.WithContext(r.Context()).Error("proxy error",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("error_type", errType),
		observability.Error(err),
	)

	if errType == errorTypeTimeout {
		util.WriteFailure(w, r, http.StatusGatewayTimeout, "Gateway Timeout",
			"The upstream service did not respond in time.")
		return
	}
	util.WriteFailure(w, r, http.StatusBadGateway, "Bad Gateway",
		"The upstream service is unavailable.")
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
