package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/ratelimit/store"
)

// Decision is the state of one (class, client) window.
type Decision struct {
	Allowed    bool
	Class      string
	Limit      int
	Window     time.Duration
	Count      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at
// least 1.
func (d Decision) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides whether a client may make another request of a class.
type Limiter struct {
	store   store.Store
	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics

	mu     sync.RWMutex
	limits map[string]Limit
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits replaces the limits of the given classes.
func WithLimits(limits map[string]Limit) Option {
	return func(l *Limiter) {
		for class, limit := range limits {
			l.limits[class] = limit
		}
	}
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// NewLimiter creates a limiter over s with the default limits.
func NewLimiter(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		now:    time.Now,
		logger: observability.NopLogger(),
		limits: DefaultLimits(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = GetRateLimitMetrics()
	}
	l.metrics.ObserveLimits(l.limits)

	return l
}

func storeKey(class, clientKey string) string {
	return class + ":" + clientKey
}

// Limit returns the limit of class.
func (l *Limiter) Limit(class string) (Limit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit, ok := l.limits[class]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return limit, nil
}

// Limits returns a copy of every class limit.
func (l *Limiter) Limits() map[string]Limit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Limit, len(l.limits))
	for class, limit := range l.limits {
		out[class] = limit
	}
	return out
}

// Check reports whether clientKey may make a request of class, without
// recording it.
func (l *Limiter) Check(ctx context.Context, clientKey, class string) (Decision, error) {
	limit, err := l.Limit(class)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	w, err := l.store.Window(ctx, storeKey(class, clientKey), now, limit.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read rate window: %w", err)
	}

	d := decide(class, limit, w, now)
	d.Allowed = w.Count < limit.Max
	if !d.Allowed {
		d.RetryAfter = d.Reset.Sub(now)
	}
	return d, nil
}

// Record counts a request of class for clientKey and returns the window
// including it.
func (l *Limiter) Record(ctx context.Context, clientKey, class string) (Decision, error) {
	limit, err := l.Limit(class)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	w, err := l.store.Record(ctx, storeKey(class, clientKey), now, limit.Window, 2*limit.Max)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to record request: %w", err)
	}

	d := decide(class, limit, w, now)
	d.Allowed = true
	return d, nil
}

// decide fills the fields common to Check and Record.
func decide(class string, limit Limit, w store.Window, now time.Time) Decision {
	reset := now.Add(limit.Window)
	if w.Count > 0 {
		reset = w.Oldest.Add(limit.Window)
	}
	return Decision{
		Class:     class,
		Limit:     limit.Max,
		Window:    limit.Window,
		Count:     w.Count,
		Remaining: max(0, limit.Max-w.Count),
		Reset:     reset,
	}
}

// ClearClient drops every window of clientKey.
func (l *Limiter) ClearClient(ctx context.Context, clientKey string) error {
	l.mu.RLock()
	keys := make([]string, 0, len(l.limits))
	for class := range l.limits {
		keys = append(keys, storeKey(class, clientKey))
	}
	l.mu.RUnlock()
	sort.Strings(keys)

	if err := l.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear client: %w", err)
	}
	l.logger.Info("rate limit windows cleared",
		observability.String("client", clientKey),
	)
	return nil
}

// ClearAll drops every window.
func (l *Limiter) ClearAll(ctx context.Context) error {
	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear rate limits: %w", err)
	}
	l.logger.Info("all rate limit windows cleared")
	return nil
}

// SetLimit changes the limit of a known class at runtime. Existing logs are
// kept and judged against the new limit.
func (l *Limiter) SetLimit(class string, maxRequests int, window time.Duration) error {
	if !IsKnownClass(class) {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if maxRequests <= 0 || window <= 0 {
		return fmt.Errorf("invalid limit for %s: max and window must be positive", class)
	}

	l.mu.Lock()
	l.limits[class] = Limit{Max: maxRequests, Window: window}
	l.mu.Unlock()

	l.metrics.limit.WithLabelValues(class).Set(float64(maxRequests))
	l.logger.Info("rate limit changed",
		observability.String("class", class),
		observability.Int("max", maxRequests),
		observability.Duration("window", window),
	)
	return nil
}

// SetLimits applies limits for every class in limits, as on a config
// reload. Invalid entries are rejected before any limit changes.
func (l *Limiter) SetLimits(limits map[string]Limit) error {
	for class, limit := range limits {
		if !IsKnownClass(class) {
			return fmt.Errorf("%w: %s", ErrUnknownClass, class)
		}
		if limit.Max <= 0 || limit.Window <= 0 {
			return fmt.Errorf("invalid limit for %s: max and window must be positive", class)
		}
	}
	for class, limit := range limits {
		if err := l.SetLimit(class, limit.Max, limit.Window); err != nil {
			return err
		}
	}
	return nil
}
