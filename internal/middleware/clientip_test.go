package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/govgate/internal/util"
)

func TestClientIPExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		realIP     string
		expected   string
	}{
		{
			name:       "no trusted proxies ignores headers",
			remoteAddr: "203.0.113.7:4000",
			xff:        "198.51.100.1",
			expected:   "203.0.113.7",
		},
		{
			name:       "untrusted remote ignores headers",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.7:4000",
			xff:        "198.51.100.1",
			expected:   "203.0.113.7",
		},
		{
			name:       "trusted remote uses rightmost untrusted hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.2:4000",
			xff:        "1.1.1.1, 198.51.100.1, 10.0.0.5",
			expected:   "198.51.100.1",
		},
		{
			name:       "all hops trusted falls back to remote",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.2:4000",
			xff:        "10.0.0.9, 10.0.0.5",
			expected:   "10.0.0.2",
		},
		{
			name:       "single trusted address",
			trusted:    []string{"192.0.2.10"},
			remoteAddr: "192.0.2.10:80",
			xff:        "198.51.100.4",
			expected:   "198.51.100.4",
		},
		{
			name:       "x-real-ip without xff",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:80",
			realIP:     "198.51.100.9",
			expected:   "198.51.100.9",
		},
		{
			name:       "ipv6 remote",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name:       "invalid trusted entries are skipped",
			trusted:    []string{"not-an-ip"},
			remoteAddr: "10.0.0.2:4000",
			xff:        "198.51.100.1",
			expected:   "10.0.0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set(HeaderXRealIP, tt.realIP)
			}

			assert.Equal(t, tt.expected, NewClientIPExtractor(tt.trusted).Extract(req))
		})
	}
}

func TestClientIP_StoresInContext(t *testing.T) {
	t.Parallel()

	var got string
	handler := ClientIP(NewClientIPExtractor([]string{"10.0.0.0/8"}))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = util.ClientIPFromContext(r.Context())
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.20")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.20", got)
}

func TestClientIP_NilExtractor(t *testing.T) {
	t.Parallel()

	var got string
	handler := ClientIP(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = util.ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.1", got)
}
