package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/govgate/internal/config"
	"github.com/vyrodovalexey/govgate/internal/health"
	"github.com/vyrodovalexey/govgate/internal/middleware"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Address:         "127.0.0.1:0",
		ReadTimeout:     config.Duration(5 * time.Second),
		WriteTimeout:    config.Duration(5 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pipeline:"+r.URL.Path)
	})
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "admin:"+r.URL.Path)
	})

	s := New(testServerConfig(),
		WithRouteHandler(routed),
		WithAdminHandler(admin),
		WithHealth(health.NewHandler(health.WithVersion("test"))),
		WithMetrics(observability.NewMetrics("server_routes_test"), "/metrics"),
	)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "readiness", method: http.MethodGet, path: "/readyz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK, wantBody: "server_routes_test_"},
		{name: "admin mount", method: http.MethodGet, path: "/_govgate/pipeline", wantStatus: http.StatusOK, wantBody: "admin:/_govgate/pipeline"},
		{name: "admin delete", method: http.MethodDelete, path: "/_govgate/ratelimit/clients", wantStatus: http.StatusOK, wantBody: "admin:"},
		{name: "fallthrough", method: http.MethodPost, path: "/api/citizens", wantStatus: http.StatusOK, wantBody: "pipeline:/api/citizens"},
		{name: "root", method: http.MethodGet, path: "/", wantStatus: http.StatusOK, wantBody: "pipeline:/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestServer_FallthroughStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "body without status",
			handler:    func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "nothing written",
			handler:    func(http.ResponseWriter, *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "explicit created",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) },
			wantStatus: http.StatusCreated,
		},
		{
			name:       "explicit not found",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(testServerConfig(), WithRouteHandler(tt.handler))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/permits", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestServer_NoRouteHandler(t *testing.T) {
	t.Parallel()

	s := New(testServerConfig())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_OuterLayers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := observability.NewZapLogger(zap.New(core))

	var gotIP, gotRequestID string
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			panic("stage exploded")
		}
		gotIP = util.ClientIPFromContext(r.Context())
		gotRequestID = observability.RequestIDFromContext(r.Context())
	})

	s := New(testServerConfig(),
		WithLogger(logger),
		WithRouteHandler(routed),
		WithClientIPExtractor(middleware.NewClientIPExtractor([]string{"10.0.0.0/8"})),
	)

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set(middleware.HeaderXForwardedFor, "203.0.113.9")
	req.Header.Set(middleware.RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.9", gotIP)
	assert.Equal(t, "req-abc", gotRequestID)
	assert.Equal(t, "req-abc", rec.Header().Get(middleware.RequestIDHeader))

	access := logs.FilterMessage("http request").All()
	require.Len(t, access, 1)
	assert.Equal(t, "203.0.113.9", access[0].ContextMap()["client_ip"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	s := New(testServerConfig(),
		WithHealth(health.NewHandler()),
	)
	assert.Nil(t, s.Addr())
	assert.Zero(t, s.Uptime())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(ctx))

	resp, err := http.Get(fmt.Sprintf("http://%s/livez", s.Addr().String()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, StateStopped, s.State())
	assert.Error(t, s.Stop(stopCtx))
}

func TestServer_StartListenError(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig()
	cfg.Address = "256.0.0.1:0"

	s := New(cfg)
	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}
