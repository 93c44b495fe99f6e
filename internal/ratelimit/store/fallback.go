package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

// Breaker defaults.
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerOpenTimeout = 30 * time.Second
)

// BreakerConfig configures the circuit breaker of a FallbackStore.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// FallbackStore sends operations to primary through a circuit breaker.
// Failed operations, and every operation while the breaker is open, are
// served by secondary instead, so a Redis outage degrades the limiter to
// per-process limits rather than failing requests.
type FallbackStore struct {
	primary   Store
	secondary Store
	cb        *gobreaker.CircuitBreaker
	logger    observability.Logger
	metrics   *Metrics
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

// WithFallbackLogger sets the logger.
func WithFallbackLogger(logger observability.Logger) FallbackOption {
	return func(s *FallbackStore) {
		s.logger = logger
	}
}

// WithFallbackMetrics sets the metrics.
func WithFallbackMetrics(m *Metrics) FallbackOption {
	return func(s *FallbackStore) {
		s.metrics = m
	}
}

// NewFallbackStore creates a store preferring primary.
func NewFallbackStore(primary, secondary Store, cfg BreakerConfig, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{
		primary:   primary,
		secondary: secondary,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = GetStoreMetrics()
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultBreakerMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultBreakerOpenTimeout
	}

	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			s.metrics.breakerState.Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return s
}

// State returns the breaker state.
func (s *FallbackStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *FallbackStore) fallback(op string, err error) {
	s.metrics.fallbacks.WithLabelValues(op).Inc()
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Warn("rate limit store failed, using fallback",
			observability.String("operation", op),
			observability.Error(err),
		)
	}
}

// Window implements Store.
func (s *FallbackStore) Window(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.primary.Window(ctx, key, now, window)
	})
	if err == nil {
		return res.(Window), nil
	}
	s.fallback(opWindow, err)
	return s.secondary.Window(ctx, key, now, window)
}

// Record implements Store. While the primary is healthy the secondary is
// not written, so its logs only cover outage periods.
func (s *FallbackStore) Record(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	maxLen int,
) (Window, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.primary.Record(ctx, key, now, window, maxLen)
	})
	if err == nil {
		return res.(Window), nil
	}
	s.fallback(opRecord, err)
	return s.secondary.Record(ctx, key, now, window, maxLen)
}

// Delete implements Store. Both stores are cleared; a primary failure is
// returned after the secondary has been cleared.
func (s *FallbackStore) Delete(ctx context.Context, keys ...string) error {
	secondaryErr := s.secondary.Delete(ctx, keys...)
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.primary.Delete(ctx, keys...)
	})
	return errors.Join(err, secondaryErr)
}

// Clear implements Store.
func (s *FallbackStore) Clear(ctx context.Context) error {
	secondaryErr := s.secondary.Clear(ctx)
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.primary.Clear(ctx)
	})
	return errors.Join(err, secondaryErr)
}

// Close implements Store.
func (s *FallbackStore) Close() error {
	return errors.Join(s.primary.Close(), s.secondary.Close())
}
