package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

// Connection retry defaults.
const (
	DefaultConnectRetries  = 5
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultMaxBackoff      = 10 * time.Second
	DefaultDialTimeout     = 5 * time.Second
	maxTotalConnectTimeout = 2 * time.Minute
)

// ConnectConfig controls how Connect waits for Redis at startup.
type ConnectConfig struct {
	Address        string
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
}

func (c ConnectConfig) normalize() ConnectConfig {
	if c.Retries <= 0 {
		c.Retries = DefaultConnectRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Connect pings client until it answers, backing off with decorrelated
// jitter between attempts so a restarted fleet does not stampede Redis.
func Connect(ctx context.Context, client redis.UniversalClient, cfg ConnectConfig, logger observability.Logger) error {
	cfg = cfg.normalize()
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := GetStoreMetrics()

	totalTimeout := time.Duration(cfg.Retries+1) * cfg.DialTimeout
	if totalTimeout > maxTotalConnectTimeout {
		totalTimeout = maxTotalConnectTimeout
	}
	overallCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	backoff := newDecorrelatedJitterBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if err := overallCtx.Err(); err != nil {
			return fmt.Errorf("connection timeout exceeded: %w", err)
		}

		pingCtx, pingCancel := context.WithTimeout(overallCtx, cfg.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		pingCancel()

		if lastErr == nil {
			if attempt > 0 {
				logger.Info("redis connection established after retry",
					observability.String("address", cfg.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		metrics.connectErrors.Inc()
		if attempt >= cfg.Retries {
			break
		}

		wait := backoff.next(attempt)
		logger.Debug("redis connection failed, retrying",
			observability.String("address", cfg.Address),
			observability.Int("attempt", attempt+1),
			observability.Int("max_retries", cfg.Retries),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		metrics.connectRetries.Inc()

		select {
		case <-overallCtx.Done():
			return fmt.Errorf("connection timeout exceeded during backoff: %w", overallCtx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.Retries+1, lastErr)
}

// decorrelatedJitterBackoff computes sleep = min(cap, rand(base, sleep*3)).
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3
	backoff := lo + rand.Float64()*(hi-lo) //nolint:gosec // jitter does not need crypto randomness

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}
