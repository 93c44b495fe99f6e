package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

const (
	opWindow = "window"
	opRecord = "record"
	opDelete = "delete"
	opClear  = "clear"

	statusSuccess = "success"
	statusError   = "error"

	// DefaultRedisPrefix is appended to the shared key prefix.
	DefaultRedisPrefix = "ratelimit:"

	clearBatchSize = 500
)

// recordScript appends one entry to a sorted-set log. Scores are unix
// microseconds and are passed as strings so Lua never rounds them.
// KEYS[1] = key
// ARGV[1] = score of now
// ARGV[2] = window start score, entries at or below it are pruned
// ARGV[3] = member
// ARGV[4] = max length, 0 for no cap
// ARGV[5] = ttl in milliseconds
// Returns: {count, oldest score or ""}
var recordScript = redis.NewScript(`
	local key = KEYS[1]
	redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
	redis.call('ZADD', key, ARGV[1], ARGV[3])

	local max_len = tonumber(ARGV[4])
	if max_len > 0 then
		local n = redis.call('ZCARD', key)
		if n > max_len then
			redis.call('ZREMRANGEBYRANK', key, 0, n - max_len - 1)
		end
	end

	redis.call('PEXPIRE', key, ARGV[5])

	local count = redis.call('ZCARD', key)
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest == 0 then
		return {count, ''}
	end
	return {count, oldest[2]}
`)

// windowScript prunes and summarizes a log without recording.
// KEYS[1] = key
// ARGV[1] = window start score
// Returns: {count, oldest score or ""}
var windowScript = redis.NewScript(`
	local key = KEYS[1]
	redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])

	local count = redis.call('ZCARD', key)
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest == 0 then
		return {count, ''}
	end
	return {count, oldest[2]}
`)

// RedisStore keeps each log in a Redis sorted set, so every govgate
// instance sharing the Redis server enforces one fleet-wide limit.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	instance string
	seq      atomic.Uint64
	logger   observability.Logger
	metrics  *Metrics
	owned    bool

	mu     sync.Mutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the full key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithRedisMetrics sets the metrics.
func WithRedisMetrics(m *Metrics) RedisOption {
	return func(s *RedisStore) {
		s.metrics = m
	}
}

// WithOwnedClient makes Close also close the client.
func WithOwnedClient() RedisOption {
	return func(s *RedisStore) {
		s.owned = true
	}
}

// NewRedisStore creates a store over client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:   client,
		prefix:   "govgate:" + DefaultRedisPrefix,
		instance: uuid.NewString()[:8],
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = GetStoreMetrics()
	}

	return s
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func (s *RedisStore) observe(op string, start time.Time, err error) {
	s.metrics.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := statusSuccess
	if err != nil {
		status = statusError
		s.logger.Debug("rate limit store operation failed",
			observability.String("operation", op),
			observability.Error(err),
		)
	}
	s.metrics.operations.WithLabelValues(op, status).Inc()
}

// Window implements Store.
func (s *RedisStore) Window(ctx context.Context, key string, now time.Time, window time.Duration) (w Window, err error) {
	start := time.Now()
	defer func() { s.observe(opWindow, start, err) }()

	if err := ctx.Err(); err != nil {
		return Window{}, fmt.Errorf("context error before redis window: %w", err)
	}

	res, err := windowScript.Run(ctx, s.client, []string{s.prefixKey(key)},
		score(windowStart(now, window)),
	).Result()
	if err != nil {
		return Window{}, fmt.Errorf("redis window script error: %w", err)
	}
	return parseWindow(res)
}

// Record implements Store.
func (s *RedisStore) Record(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	maxLen int,
) (w Window, err error) {
	start := time.Now()
	defer func() { s.observe(opRecord, start, err) }()

	if err := ctx.Err(); err != nil {
		return Window{}, fmt.Errorf("context error before redis record: %w", err)
	}

	member := score(now) + ":" + s.instance + ":" + strconv.FormatUint(s.seq.Add(1), 10)
	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	res, err := recordScript.Run(ctx, s.client, []string{s.prefixKey(key)},
		score(now),
		score(windowStart(now, window)),
		member,
		maxLen,
		ttl,
	).Result()
	if err != nil {
		return Window{}, fmt.Errorf("redis record script error: %w", err)
	}
	return parseWindow(res)
}

func parseWindow(res interface{}) (Window, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Window{}, fmt.Errorf("redis script returned unexpected reply: %T", res)
	}

	count, ok := values[0].(int64)
	if !ok {
		return Window{}, fmt.Errorf("redis script returned unexpected count type: %T", values[0])
	}

	w := Window{Count: int(count)}
	raw, _ := values[1].(string)
	if raw == "" {
		return w, nil
	}
	micros, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Window{}, fmt.Errorf("failed to parse oldest score: %w", err)
	}
	w.Oldest = time.UnixMicro(int64(micros))
	return w, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.observe(opDelete, start, err) }()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefixKey(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

// Clear implements Store. Keys are found with SCAN so the server is never
// blocked by KEYS.
func (s *RedisStore) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe(opClear, start, err) }()

	iter := s.client.Scan(ctx, 0, s.prefix+"*", clearBatchSize).Iterator()
	batch := make([]string, 0, clearBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatchSize {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del error: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del error: %w", err)
		}
	}
	return nil
}

// Close implements Store. The client is only closed when owned.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.client.Close()
	}
	return nil
}
