package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

// Default throttle settings per event kind.
const (
	DefaultRate  = 50.0
	DefaultBurst = 100
)

// Logger records security events.
type Logger interface {
	Log(ctx context.Context, event *Event)
}

// logger implements Logger over the structured application logger.
type logger struct {
	log     observability.Logger
	metrics *Metrics
	now     func() time.Time

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
}

// Option is a functional option for the audit logger.
type Option func(*logger)

// WithLogger sets the application logger; events are written through its
// "audit" child.
func WithLogger(l observability.Logger) Option {
	return func(lg *logger) {
		lg.log = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(lg *logger) {
		lg.metrics = m
	}
}

// WithThrottle sets the per-kind token bucket. A zero rate disables
// throttling.
func WithThrottle(perSecond float64, burst int) Option {
	return func(lg *logger) {
		if perSecond <= 0 {
			lg.limit = rate.Inf
		} else {
			lg.limit = rate.Limit(perSecond)
		}
		lg.burst = burst
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(lg *logger) {
		lg.now = now
	}
}

// NewLogger creates an audit logger.
func NewLogger(opts ...Option) Logger {
	lg := &logger{
		log:      observability.NopLogger(),
		now:      time.Now,
		limit:    rate.Limit(DefaultRate),
		burst:    DefaultBurst,
		limiters: make(map[Kind]*rate.Limiter),
	}

	for _, opt := range opts {
		opt(lg)
	}

	lg.log = lg.log.Named("audit")
	if lg.metrics == nil {
		lg.metrics = NewMetrics("govgate")
	}

	return lg
}

// Log records event. Events over the throttle are counted but not written.
func (l *logger) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = l.now()
	}

	kind := string(event.Kind)
	l.metrics.eventsTotal.WithLabelValues(kind).Inc()

	if !l.limiter(event.Kind).AllowN(event.Time, 1) {
		l.metrics.eventsSuppressed.WithLabelValues(kind).Inc()
		return
	}

	fields := []observability.Field{
		observability.String("kind", kind),
		observability.Time("event_time", event.Time),
	}
	if event.Method != "" {
		fields = append(fields, observability.String("method", event.Method))
	}
	if event.RequestURI != "" {
		fields = append(fields, observability.String("request_uri", event.RequestURI))
	}
	if event.ClientIP != "" {
		fields = append(fields, observability.String("client_ip", event.ClientIP))
	}
	if event.UserID != "" {
		fields = append(fields, observability.String("user_id", event.UserID))
	}

	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, observability.String(k, event.Details[k]))
	}

	l.log.WithContext(ctx).Warn(event.Message, fields...)
}

func (l *logger) limiter(kind Kind) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[kind] = lim
	}
	return lim
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) {}

// NopLogger returns a Logger that discards events.
func NopLogger() Logger {
	return nopLogger{}
}
