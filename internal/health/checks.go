package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthCheck defines the interface for health checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthCheck.
type HealthCheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// Name returns the name of the health check.
func (f *HealthCheckFunc) Name() string {
	return f.name
}

// Check performs the health check.
func (f *HealthCheckFunc) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

// NewHealthCheckFunc creates a new health check function.
func NewHealthCheckFunc(name string, check func(ctx context.Context) error) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:      name,
		checkFunc: check,
	}
}

// RedisHealthCheck pings the shared Redis connection.
func RedisHealthCheck(name string, client redis.UniversalClient) *HealthCheckFunc {
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

// TCPHealthCheck dials address, the upstream host of the terminal proxy.
func TCPHealthCheck(name, address string, timeout time.Duration) *HealthCheckFunc {
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		dialer := &net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return conn.Close()
	})
}

// CachedHealthCheck caches the result of a check for a TTL, so frequent
// probes do not hammer the dependency.
type CachedHealthCheck struct {
	check      HealthCheck
	cacheTTL   time.Duration
	now        func() time.Time
	mu         sync.Mutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedHealthCheck creates a new cached health check.
func NewCachedHealthCheck(check HealthCheck, cacheTTL time.Duration) *CachedHealthCheck {
	return &CachedHealthCheck{
		check:    check,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Name returns the name of the wrapped check.
func (c *CachedHealthCheck) Name() string {
	return c.check.Name()
}

// Check returns the cached result while it is fresh and runs the wrapped
// check otherwise.
func (c *CachedHealthCheck) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && c.now().Sub(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.check.Check(ctx)
	c.lastCheck = c.now()
	return c.lastResult
}
