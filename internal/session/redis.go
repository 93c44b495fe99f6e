package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

const sessionTracerName = "govgate/session"

// createdField marks a session hash so an otherwise empty session exists.
const createdField = "_created"

// RedisStore keeps each session in a Redis hash whose TTL is refreshed
// on every access, so sessions are shared by every govgate instance.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	idleTTL time.Duration
	now     func() time.Time
	logger  observability.Logger
	owned   bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisIdleTTL sets the idle TTL.
func WithRedisIdleTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
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
		client:  client,
		prefix:  "govgate:",
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(sessionTracerName).Start(ctx, "session."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("session.backend", backendRedis)),
	)
}

func (s *RedisStore) fail(span trace.Span, op string, err error) error {
	GetSessionMetrics().storeErrors.WithLabelValues(backendRedis, op).Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	s.logger.Error("session store operation failed",
		observability.String("operation", op),
		observability.Error(err),
	)
	return fmt.Errorf("session %s: %w", op, err)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id, key string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "get")
	defer span.End()

	k := s.key(id)
	pipe := s.client.TxPipeline()
	get := pipe.HGet(ctx, k, key)
	pipe.Expire(ctx, k, s.idleTTL)
	_, err := pipe.Exec(ctx)

	value, getErr := get.Bytes()
	if errors.Is(getErr, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.fail(span, "get", err)
	}
	return value, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, id, key string, value []byte) error {
	ctx, span := s.startSpan(ctx, "set")
	defer span.End()

	k := s.key(id)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, k, createdField, s.now().Unix())
	pipe.HSet(ctx, k, key, value)
	pipe.Expire(ctx, k, s.idleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail(span, "set", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, id, key string) error {
	ctx, span := s.startSpan(ctx, "remove")
	defer span.End()

	if err := s.client.HDel(ctx, s.key(id), key).Err(); err != nil {
		return s.fail(span, "remove", err)
	}
	return nil
}

// Touch implements Store.
func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "touch")
	defer span.End()

	k := s.key(id)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, k, createdField, s.now().Unix())
	pipe.Expire(ctx, k, s.idleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail(span, "touch", err)
	}
	return nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	ctx, span := s.startSpan(ctx, "exists")
	defer span.End()

	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, s.fail(span, "exists", err)
	}
	return n > 0, nil
}

// Destroy implements Store.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "destroy")
	defer span.End()

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return s.fail(span, "destroy", err)
	}
	return nil
}

// Close closes the client when the store owns it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
