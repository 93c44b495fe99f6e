package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/govgate/internal/config"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	cfg := CORSConfig{
		AllowOrigins:     []string{"https://portal.example.gov", "*.services.example.gov"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Content-Type", "X-CSRF-Token"},
		ExposeHeaders:    []string{"X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           600,
	}

	tests := []struct {
		name         string
		method       string
		origin       string
		requestedFor string
		expectStatus int
		expectOrigin string
		expectNext   bool
	}{
		{
			name:         "no origin passes untouched",
			method:       http.MethodGet,
			expectStatus: http.StatusOK,
			expectNext:   true,
		},
		{
			name:         "exact origin on actual request",
			method:       http.MethodPost,
			origin:       "https://portal.example.gov",
			expectStatus: http.StatusOK,
			expectOrigin: "https://portal.example.gov",
			expectNext:   true,
		},
		{
			name:         "wildcard subdomain",
			method:       http.MethodGet,
			origin:       "https://tax.services.example.gov:8443",
			expectStatus: http.StatusOK,
			expectOrigin: "https://tax.services.example.gov:8443",
			expectNext:   true,
		},
		{
			name:         "bare wildcard domain denied",
			method:       http.MethodGet,
			origin:       "https://services.example.gov",
			expectStatus: http.StatusOK,
			expectNext:   true,
		},
		{
			name:         "denied origin gets no headers",
			method:       http.MethodGet,
			origin:       "https://evil.example.com",
			expectStatus: http.StatusOK,
			expectNext:   true,
		},
		{
			name:         "preflight short-circuits with 204",
			method:       http.MethodOptions,
			origin:       "https://portal.example.gov",
			requestedFor: http.MethodPost,
			expectStatus: http.StatusNoContent,
			expectOrigin: "https://portal.example.gov",
		},
		{
			name:         "options without request method is not a preflight",
			method:       http.MethodOptions,
			origin:       "https://portal.example.gov",
			expectStatus: http.StatusOK,
			expectOrigin: "https://portal.example.gov",
			expectNext:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/items", nil)
			if tt.origin != "" {
				req.Header.Set(HeaderOrigin, tt.origin)
			}
			if tt.requestedFor != "" {
				req.Header.Set("Access-Control-Request-Method", tt.requestedFor)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectStatus, rec.Code)
			assert.Equal(t, tt.expectNext, called)
			assert.Equal(t, tt.expectOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

			if tt.expectOrigin != "" {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
				assert.Equal(t, "X-RateLimit-Remaining", rec.Header().Get("Access-Control-Expose-Headers"))
			}
			if tt.expectStatus == http.StatusNoContent {
				assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "Content-Type, X-CSRF-Token", rec.Header().Get("Access-Control-Allow-Headers"))
				assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORSFromConfig_Defaults(t *testing.T) {
	t.Parallel()

	handler := CORSFromConfig(&config.CORSConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	req.Header.Set(HeaderOrigin, "https://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSFromConfig_MaxAge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		maxAge int
		want   string
	}{
		{name: "zero falls back to default", maxAge: 0, want: "86400"},
		{name: "configured value kept", maxAge: 600, want: "600"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := CORSFromConfig(&config.CORSConfig{
				AllowOrigins: []string{"https://portal.example"},
				MaxAge:       tt.maxAge,
			})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
			req.Header.Set(HeaderOrigin, "https://portal.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Max-Age"))
		})
	}
}

func TestMatchWildcardOrigin(t *testing.T) {
	t.Parallel()

	assert.True(t, matchWildcardOrigin("https://a.example.com", "*.example.com"))
	assert.True(t, matchWildcardOrigin("http://a.b.example.com:8080", "*.example.com"))
	assert.False(t, matchWildcardOrigin("https://example.com", "*.example.com"))
	assert.False(t, matchWildcardOrigin("https://badexample.com", "*.example.com"))
}
