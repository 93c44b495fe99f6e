package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(p *Policy, r *http.Request, h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.Middleware()(h).ServeHTTP(rec, r)
	return rec
}

func TestPolicy_BaselineOverHTTPS(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	req := httptest.NewRequest(http.MethodGet, "https://gov.example/services", nil)

	rec := serve(p, req, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	})

	h := rec.Header()
	assert.Equal(t, "DENY", h.Get(HeaderXFrameOptions))
	assert.Equal(t, "nosniff", h.Get(HeaderXContentTypeOptions))
	assert.Equal(t, "1; mode=block", h.Get(HeaderXXSSProtection))
	assert.Equal(t, "strict-origin-when-cross-origin", h.Get(HeaderReferrerPolicy))
	assert.Equal(t, DefaultCSP, h.Get(HeaderContentSecurityPolicy))
	assert.Equal(t, "max-age=31536000; includeSubDomains; preload", h.Get(HeaderStrictTransportSecurity))
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", h.Get(HeaderCacheControl))
	assert.Equal(t, "no-cache", h.Get(HeaderPragma))
	assert.Equal(t, "0", h.Get(HeaderExpires))
	assert.Contains(t, h, HeaderXPoweredBy)
	assert.Empty(t, h.Get(HeaderXPoweredBy))
	assert.Empty(t, h.Get(HeaderAPIVersion))
}

func TestPolicy_PlainHTTP(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/services", nil), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	assert.Empty(t, rec.Header().Get(HeaderStrictTransportSecurity))
	csp := rec.Header().Get(HeaderContentSecurityPolicy)
	assert.Contains(t, csp, "script-src 'self' 'unsafe-inline' http://localhost:* http://127.0.0.1:*;")
	assert.True(t, strings.HasPrefix(csp, "default-src 'self'; script-src"))
}

func TestPolicy_DevelopmentOverHTTPS(t *testing.T) {
	t.Parallel()

	p := NewPolicy(WithDevelopment(true))
	req := httptest.NewRequest(http.MethodGet, "https://gov.example/", nil)
	rec := serve(p, req, func(w http.ResponseWriter, _ *http.Request) {})

	assert.Contains(t, rec.Header().Get(HeaderContentSecurityPolicy), "http://localhost:*")
	assert.NotEmpty(t, rec.Header().Get(HeaderStrictTransportSecurity))
}

func TestPolicy_APIOverlay(t *testing.T) {
	t.Parallel()

	p := NewPolicy()

	tests := []struct {
		name    string
		target  string
		overlay bool
	}{
		{name: "api path", target: "/api/permits", overlay: true},
		{name: "web path", target: "/permits", overlay: false},
		{name: "api lookalike", target: "/apiary", overlay: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(p, httptest.NewRequest(http.MethodGet, tt.target, nil), func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			if tt.overlay {
				assert.Equal(t, "*", rec.Header().Get(HeaderAllowOrigin))
				assert.Equal(t, "1.0", rec.Header().Get(HeaderAPIVersion))
				assert.Equal(t, "86400", rec.Header().Get(HeaderMaxAge))
			} else {
				assert.Empty(t, rec.Header().Get(HeaderAllowOrigin))
				assert.Empty(t, rec.Header().Get(HeaderAPIVersion))
			}
		})
	}
}

func TestPolicy_NeverOverwrites(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/embed", nil), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(HeaderXFrameOptions, "SAMEORIGIN")
		_, _ = w.Write([]byte("ok"))
	})

	assert.Equal(t, "SAMEORIGIN", rec.Header().Get(HeaderXFrameOptions))
	assert.Equal(t, []string{"SAMEORIGIN"}, rec.Header().Values(HeaderXFrameOptions))
	assert.Equal(t, "nosniff", rec.Header().Get(HeaderXContentTypeOptions))
}

func TestPolicy_CacheHeadersSkippedForJSONAndHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		skipped     bool
	}{
		{contentType: "application/json", skipped: true},
		{contentType: "application/json; charset=utf-8", skipped: true},
		{contentType: "text/html; charset=utf-8", skipped: true},
		{contentType: "text/plain", skipped: false},
		{contentType: "", skipped: false},
	}

	p := NewPolicy()
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			t.Parallel()

			rec := serve(p, httptest.NewRequest(http.MethodGet, "/doc", nil), func(w http.ResponseWriter, _ *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(http.StatusOK)
			})

			for _, name := range []string{HeaderCacheControl, HeaderPragma, HeaderExpires} {
				_, present := rec.Header()[name]
				assert.Equal(t, !tt.skipped, present, name)
			}
			assert.Equal(t, "DENY", rec.Header().Get(HeaderXFrameOptions))
		})
	}
}

func TestPolicy_HandlerThatWritesNothing(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/", nil), func(http.ResponseWriter, *http.Request) {})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get(HeaderXFrameOptions))
}

func TestPolicy_HandlerHeadersArePreserved(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "https://gov.example/api/v1/items", nil),
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-XSS-Protection", "0")
			w.Header().Set("X-API-Version", "9")
			w.WriteHeader(http.StatusOK)
		})

	assert.Equal(t, []string{"0"}, rec.Header().Values(HeaderXXSSProtection))
	assert.Equal(t, []string{"9"}, rec.Header().Values(HeaderAPIVersion))
	assert.Equal(t, "DENY", rec.Header().Get(HeaderXFrameOptions))
}

func TestDefaultHeaders_CanonicalNames(t *testing.T) {
	t.Parallel()

	for _, set := range []map[string]string{DefaultHeaders(), DefaultAPIHeaders()} {
		for name := range set {
			assert.Equal(t, http.CanonicalHeaderKey(name), name)
		}
	}
}

func TestPolicy_SettersAcceptAnySpelling(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	p.SetHeader("X-XSS-Protection", "0")
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/", nil), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, "0", rec.Header().Get(HeaderXXSSProtection))

	p.RemoveAPIHeader("X-API-Version")
	p.RemoveAPIHeader("access-control-allow-origin")
	assert.NotContains(t, p.APIHeaders(), HeaderAPIVersion)
	assert.Equal(t, 90, p.Score())

	p.Reset(Overrides{Remove: []string{"x-xss-protection"}})
	assert.Equal(t, 95, p.Score())
}

func TestPolicy_Setters(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	p.SetHeader("x-frame-options", "SAMEORIGIN")
	p.RemoveHeader(HeaderXXSSProtection)
	p.SetAPIHeader(HeaderAPIVersion, "2.0")
	p.RemoveAPIHeader(HeaderMaxAge)

	headers := p.Headers()
	assert.Equal(t, "SAMEORIGIN", headers[HeaderXFrameOptions])
	assert.NotContains(t, headers, HeaderXXSSProtection)

	api := p.APIHeaders()
	assert.Equal(t, "2.0", api[HeaderAPIVersion])
	assert.NotContains(t, api, HeaderMaxAge)

	p.Reset(Overrides{Remove: []string{HeaderPermissionsPolicy}})
	headers = p.Headers()
	assert.Equal(t, "DENY", headers[HeaderXFrameOptions])
	assert.NotContains(t, headers, HeaderPermissionsPolicy)
}

func TestPolicy_ConcurrentSetAndServe(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.SetHeader("X-Custom", "v")
		}()
		go func() {
			defer wg.Done()
			serve(p, httptest.NewRequest(http.MethodGet, "/api/x", nil), func(w http.ResponseWriter, _ *http.Request) {})
		}()
	}
	wg.Wait()
	assert.Equal(t, "v", p.Headers()["X-Custom"])
}

func TestPolicy_Score(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		overrides Overrides
		want      int
	}{
		{name: "defaults", want: 100},
		{
			name:      "no api overlay",
			overrides: Overrides{RemoveAPI: []string{HeaderAllowOrigin, HeaderAPIVersion}},
			want:      90,
		},
		{
			name: "core only",
			overrides: Overrides{
				Remove:    []string{HeaderContentSecurityPolicy, HeaderStrictTransportSecurity, HeaderReferrerPolicy, HeaderPermissionsPolicy},
				RemoveAPI: []string{HeaderAllowOrigin, HeaderAPIVersion},
			},
			want: 45,
		},
		{
			name: "two advanced and version",
			overrides: Overrides{
				Remove:    []string{HeaderXFrameOptions, HeaderXContentTypeOptions, HeaderXXSSProtection, HeaderContentSecurityPolicy, HeaderStrictTransportSecurity},
				RemoveAPI: []string{HeaderAllowOrigin},
			},
			want: 40,
		},
		{
			name:      "empty value does not count",
			overrides: Overrides{Headers: map[string]string{HeaderXFrameOptions: ""}, RemoveAPI: []string{HeaderAllowOrigin, HeaderAPIVersion}},
			want:      75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPolicy(WithOverrides(tt.overrides))
			assert.Equal(t, tt.want, p.Score())
		})
	}
}

func TestIsValidReferrerPolicy(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidReferrerPolicy("no-referrer"))
	assert.True(t, IsValidReferrerPolicy("no-referrer, strict-origin-when-cross-origin"))
	assert.False(t, IsValidReferrerPolicy(""))
	assert.False(t, IsValidReferrerPolicy("always"))
	assert.False(t, IsValidReferrerPolicy("origin, bogus"))
}

func TestRelaxScriptSrc(t *testing.T) {
	t.Parallel()

	relaxed := relaxScriptSrc("script-src 'self'")
	require.Equal(t, "script-src 'self' http://localhost:* http://127.0.0.1:*", relaxed)
	assert.Equal(t, relaxed, relaxScriptSrc(relaxed))
	assert.Equal(t, "default-src 'self'", relaxScriptSrc("default-src 'self'"))
}
