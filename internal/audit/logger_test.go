package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

func newObservedLogger(t *testing.T, opts ...Option) (Logger, *observer.ObservedLogs, *Metrics) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	metrics := NewMetricsWithRegisterer("test", prometheus.NewRegistry())
	opts = append([]Option{
		WithLogger(observability.NewZapLogger(zap.New(core))),
		WithMetrics(metrics),
	}, opts...)
	return NewLogger(opts...), logs, metrics
}

func TestLogger_Log(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auditor, logs, metrics := newObservedLogger(t, WithClock(func() time.Time { return fixed }))

	auditor.Log(context.Background(), (&Event{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		RequestURI: "/api/auth/login",
		ClientIP:   "203.0.113.9",
	}).WithDetail("class", "auth"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit", entry.LoggerName)
	assert.Equal(t, "rate limit exceeded", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "rate_limited", fields["kind"])
	assert.Equal(t, "/api/auth/login", fields["request_uri"])
	assert.Equal(t, "203.0.113.9", fields["client_ip"])
	assert.Equal(t, "auth", fields["class"])
	assert.Equal(t, fixed, fields["event_time"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("rate_limited")))
}

func TestLogger_Throttle(t *testing.T) {
	t.Parallel()

	fixed := time.Now()
	auditor, logs, metrics := newObservedLogger(t,
		WithThrottle(1, 2),
		WithClock(func() time.Time { return fixed }),
	)

	for i := 0; i < 5; i++ {
		auditor.Log(context.Background(), &Event{Kind: KindCSRFRejected, Message: "csrf"})
	}
	auditor.Log(context.Background(), &Event{Kind: KindAuthFailed, Message: "auth"})

	assert.Equal(t, 3, logs.Len(), "two csrf events within burst plus one auth event")
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("csrf_rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.eventsSuppressed.WithLabelValues("csrf_rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.eventsSuppressed.WithLabelValues("auth_failed")))
}

func TestLogger_ThrottleDisabled(t *testing.T) {
	t.Parallel()

	auditor, logs, _ := newObservedLogger(t, WithThrottle(0, 0))
	for i := 0; i < 20; i++ {
		auditor.Log(context.Background(), &Event{Kind: KindRateLimited})
	}
	assert.Equal(t, 20, logs.Len())
}

func TestLogger_NilEvent(t *testing.T) {
	t.Parallel()

	auditor, logs, _ := newObservedLogger(t)
	auditor.Log(context.Background(), nil)
	NopLogger().Log(context.Background(), &Event{})
	assert.Zero(t, logs.Len())
}

func TestNewRequestEvent(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/forms?id=7", nil)
	req.RemoteAddr = "198.51.100.4:5555"

	event := NewRequestEvent(KindCSRFRejected, req, "CSRF token validation failed")
	assert.Equal(t, "/api/forms?id=7", event.RequestURI)
	assert.Equal(t, "198.51.100.4", event.ClientIP)
	assert.Equal(t, http.MethodPost, event.Method)
	assert.Empty(t, event.UserID)

	ctx := util.ContextWithClientIP(req.Context(), "10.0.0.1")
	ctx = util.ContextWithIdentity(ctx, &util.Identity{UserID: "u-42"})
	event = NewRequestEvent(KindAdminDenied, req.WithContext(ctx), "denied")
	assert.Equal(t, "10.0.0.1", event.ClientIP)
	assert.Equal(t, "u-42", event.UserID)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first := NewMetricsWithRegisterer("dup", reg)
	second := NewMetricsWithRegisterer("dup", reg)

	second.eventsTotal.WithLabelValues("rate_limited").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.eventsTotal.WithLabelValues("rate_limited")))
}
