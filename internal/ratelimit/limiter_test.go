package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/govgate/internal/ratelimit/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(1_700_000_000, 0).Add(d)
}

func backends(t *testing.T) map[string]func() store.Store {
	t.Helper()
	return map[string]func() store.Store{
		"memory": func() store.Store {
			s := store.NewMemoryStore(store.WithSweepInterval(0))
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func() store.Store {
			mr := miniredis.RunT(t)
			s := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), store.WithOwnedClient())
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestLimiter_Windowing(t *testing.T) {
	t.Parallel()

	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, tc := range []struct {
				name    string
				at      time.Duration
				allowed bool
			}{
				{name: "fourth at t=10 is rejected", at: 10 * time.Second, allowed: false},
				{name: "fourth at t=61 is allowed", at: 61 * time.Second, allowed: true},
			} {
				clock := newFakeClock()
				l := NewLimiter(newStore(),
					WithClock(clock.Now),
					WithLimits(map[string]Limit{ClassGeneral: {Max: 3, Window: time.Minute}}),
				)

				for i := 0; i < 3; i++ {
					d, err := l.Check(ctx, "1.2.3.4", ClassGeneral)
					require.NoError(t, err)
					require.True(t, d.Allowed, tc.name)
					_, err = l.Record(ctx, "1.2.3.4", ClassGeneral)
					require.NoError(t, err)
				}

				clock.Set(tc.at)
				d, err := l.Check(ctx, "1.2.3.4", ClassGeneral)
				require.NoError(t, err)
				assert.Equal(t, tc.allowed, d.Allowed, tc.name)
				if !tc.allowed {
					assert.Equal(t, 3, d.Count)
					assert.Equal(t, 0, d.Remaining)
					assert.Equal(t, time.Unix(1_700_000_060, 0), d.Reset)
					assert.Equal(t, 50*time.Second, d.RetryAfter)
					assert.Equal(t, int64(50), d.RetryAfterSeconds())
				}
			}
		})
	}
}

func TestLimiter_KeyIsolation(t *testing.T) {
	t.Parallel()

	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := NewLimiter(newStore(),
				WithClock(clock.Now),
				WithLimits(map[string]Limit{
					ClassAuth: {Max: 2, Window: time.Minute},
					ClassAPI:  {Max: 2, Window: time.Minute},
				}),
			)

			for i := 0; i < 2; i++ {
				_, err := l.Record(ctx, "client-a", ClassAuth)
				require.NoError(t, err)
			}

			d, err := l.Check(ctx, "client-a", ClassAuth)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			d, err = l.Check(ctx, "client-b", ClassAuth)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 0, d.Count)

			d, err = l.Check(ctx, "client-a", ClassAPI)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 2, d.Remaining)
		})
	}
}

func TestLimiter_RecordReportsWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewLimiter(store.NewMemoryStore(store.WithSweepInterval(0)),
		WithClock(clock.Now),
		WithLimits(map[string]Limit{ClassAuth: {Max: 5, Window: 15 * time.Minute}}),
	)
	ctx := context.Background()

	d, err := l.Check(ctx, "k", ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), d.Reset)

	d, err = l.Record(ctx, "k", ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, 5, d.Limit)

	clock.Set(time.Minute)
	d, err = l.Record(ctx, "k", ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Count)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(15*time.Minute), d.Reset)
}

func TestLimiter_CapNeverUndercounts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewLimiter(store.NewMemoryStore(store.WithSweepInterval(0)),
		WithClock(clock.Now),
		WithLimits(map[string]Limit{ClassGeneral: {Max: 3, Window: time.Minute}}),
	)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := l.Record(ctx, "k", ClassGeneral)
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "k", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 6, d.Count)
}

func TestLimiter_Admin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter(store.NewMemoryStore(store.WithSweepInterval(0)), WithClock(clock.Now))

	for _, class := range []string{ClassAuth, ClassAPI} {
		for _, client := range []string{"a", "b"} {
			_, err := l.Record(ctx, client, class)
			require.NoError(t, err)
		}
	}

	require.NoError(t, l.ClearClient(ctx, "a"))
	d, err := l.Check(ctx, "a", ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Count)
	d, err = l.Check(ctx, "b", ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)

	require.NoError(t, l.ClearAll(ctx))
	d, err = l.Check(ctx, "b", ClassAPI)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Count)

	require.NoError(t, l.SetLimit(ClassAPI, 10, time.Minute))
	limit, err := l.Limit(ClassAPI)
	require.NoError(t, err)
	assert.Equal(t, Limit{Max: 10, Window: time.Minute}, limit)

	assert.ErrorIs(t, l.SetLimit("admin", 1, time.Second), ErrUnknownClass)
	assert.Error(t, l.SetLimit(ClassAPI, 0, time.Second))

	err = l.SetLimits(map[string]Limit{ClassAuth: {Max: 1, Window: time.Second}, "bogus": {Max: 1, Window: time.Second}})
	assert.ErrorIs(t, err, ErrUnknownClass)
	limit, err = l.Limit(ClassAuth)
	require.NoError(t, err)
	assert.Equal(t, 5, limit.Max)

	_, err = l.Check(ctx, "a", "bogus")
	assert.ErrorIs(t, err, ErrUnknownClass)
}
