package security

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Score weights.
const (
	coreHeaderPoints     = 15
	coreHeaderCap        = 45
	advancedHeaderPoints = 15
	advancedHeaderCap    = 45
	apiHeaderPoints      = 10
	maxScore             = 100
)

var (
	coreHeaders = []string{
		HeaderXFrameOptions,
		HeaderXContentTypeOptions,
		HeaderXXSSProtection,
	}
	advancedHeaders = []string{
		HeaderContentSecurityPolicy,
		HeaderStrictTransportSecurity,
		HeaderReferrerPolicy,
		HeaderPermissionsPolicy,
	}
)

// Overrides are configured changes layered over the default header sets.
type Overrides struct {
	Headers    map[string]string
	APIHeaders map[string]string
	Remove     []string
	RemoveAPI  []string
}

// Policy computes and writes response security headers.
type Policy struct {
	mu          sync.RWMutex
	headers     map[string]string
	apiHeaders  map[string]string
	development bool

	logger  observability.Logger
	metrics *Metrics
}

// Option configures a Policy.
type Option func(*Policy)

// WithDevelopment marks the deployment as a development environment,
// relaxing script-src on every request.
func WithDevelopment(dev bool) Option {
	return func(p *Policy) {
		p.development = dev
	}
}

// WithOverrides applies configured overrides on top of the defaults.
func WithOverrides(o Overrides) Option {
	return func(p *Policy) {
		p.applyLocked(o)
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Policy) {
		p.metrics = m
	}
}

// NewPolicy creates a policy with the default header sets.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		headers:    DefaultHeaders(),
		apiHeaders: DefaultAPIHeaders(),
		logger:     observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.metrics == nil {
		p.metrics = GetSecurityMetrics()
	}
	p.metrics.score.Set(float64(p.Score()))

	return p
}

// Reset restores the default header sets and applies o on top of them.
func (p *Policy) Reset(o Overrides) {
	p.mu.Lock()
	p.headers = DefaultHeaders()
	p.apiHeaders = DefaultAPIHeaders()
	p.applyLocked(o)
	p.mu.Unlock()

	p.updateScore()
}

func (p *Policy) applyLocked(o Overrides) {
	for name, value := range o.Headers {
		p.headers[http.CanonicalHeaderKey(name)] = value
	}
	for name, value := range o.APIHeaders {
		p.apiHeaders[http.CanonicalHeaderKey(name)] = value
	}
	for _, name := range o.Remove {
		delete(p.headers, http.CanonicalHeaderKey(name))
	}
	for _, name := range o.RemoveAPI {
		delete(p.apiHeaders, http.CanonicalHeaderKey(name))
	}
}

// SetDevelopment changes the development flag.
func (p *Policy) SetDevelopment(dev bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.development = dev
}

// SetHeader sets a baseline header.
func (p *Policy) SetHeader(name, value string) {
	p.mu.Lock()
	p.headers[http.CanonicalHeaderKey(name)] = value
	p.mu.Unlock()
	p.updateScore()
}

// SetAPIHeader sets an API overlay header.
func (p *Policy) SetAPIHeader(name, value string) {
	p.mu.Lock()
	p.apiHeaders[http.CanonicalHeaderKey(name)] = value
	p.mu.Unlock()
	p.updateScore()
}

// RemoveHeader drops a baseline header.
func (p *Policy) RemoveHeader(name string) {
	p.mu.Lock()
	delete(p.headers, http.CanonicalHeaderKey(name))
	p.mu.Unlock()
	p.updateScore()
}

// RemoveAPIHeader drops an API overlay header.
func (p *Policy) RemoveAPIHeader(name string) {
	p.mu.Lock()
	delete(p.apiHeaders, http.CanonicalHeaderKey(name))
	p.mu.Unlock()
	p.updateScore()
}

// Headers returns a copy of the baseline set.
func (p *Policy) Headers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyMap(p.headers)
}

// APIHeaders returns a copy of the API overlay.
func (p *Policy) APIHeaders() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyMap(p.apiHeaders)
}

// Compute returns the headers for r: the baseline, the overlay for /api/
// paths, script-src relaxed in development or over plain HTTP, and HSTS
// dropped over plain HTTP.
func (p *Policy) Compute(r *http.Request) map[string]string {
	p.mu.RLock()
	out := copyMap(p.headers)
	if strings.HasPrefix(r.URL.Path, util.APIPathPrefix) {
		for name, value := range p.apiHeaders {
			out[name] = value
		}
	}
	dev := p.development
	p.mu.RUnlock()

	secure := util.IsSecureRequest(r)
	if dev || !secure {
		if csp, ok := out[HeaderContentSecurityPolicy]; ok {
			out[HeaderContentSecurityPolicy] = relaxScriptSrc(csp)
		}
	}
	if !secure {
		delete(out, HeaderStrictTransportSecurity)
	}

	return out
}

// apply writes computed onto h following the write rule: present headers
// are kept, and the cache headers are skipped for JSON and HTML bodies.
func (p *Policy) apply(h http.Header, computed map[string]string) {
	skipCache := isCallerCachedContentType(h.Get(util.HeaderContentType))

	names := make([]string, 0, len(computed))
	for name := range computed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(h.Values(name)) > 0 {
			p.metrics.headersPreserved.WithLabelValues(name).Inc()
			continue
		}
		if skipCache && isCacheHeader(name) {
			continue
		}
		h.Set(name, computed[name])
		p.metrics.headersApplied.WithLabelValues(name).Inc()
	}
}

func isCallerCachedContentType(ct string) bool {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	return ct == util.ContentTypeJSON || ct == util.ContentTypeHTML
}

// Middleware returns the stage. The next handler always runs.
func (p *Policy) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hw := &headerWriter{
				ResponseWriter: w,
				policy:         p,
				computed:       p.Compute(r),
			}
			next.ServeHTTP(hw, r)
			hw.commit()
		})
	}
}

// Score rates the configured headers from 0 to 100. It is informational.
func (p *Policy) Score() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	core := 0
	for _, name := range coreHeaders {
		if p.headers[name] != "" {
			core += coreHeaderPoints
		}
	}
	core = min(core, coreHeaderCap)

	advanced := 0
	for _, name := range advancedHeaders {
		if p.headers[name] != "" {
			advanced += advancedHeaderPoints
		}
	}
	advanced = min(advanced, advancedHeaderCap)

	api := 0
	if p.apiHeaders[HeaderAllowOrigin] != "" {
		api += apiHeaderPoints
	}
	if p.apiHeaders[HeaderAPIVersion] != "" {
		api += apiHeaderPoints
	}

	return min(core+advanced+api, maxScore)
}

func (p *Policy) updateScore() {
	p.metrics.score.Set(float64(p.Score()))
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
