package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/govgate/internal/util"
)

// ClientIPExtractor extracts the real client IP from requests,
// handling X-Forwarded-For with trusted proxy validation.
// When no trusted proxies are configured, only RemoteAddr is used.
type ClientIPExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPExtractor creates a new ClientIPExtractor with the given
// trusted proxy CIDRs or single addresses. Invalid entries are skipped;
// configuration validation rejects them before this point.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPExtractor{trustedCIDRs: cidrs}
}

func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128 //nolint:mnd // IPv6 prefix length
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Extract returns the client IP of r. Forwarding headers are only honored
// when RemoteAddr is a trusted proxy; X-Forwarded-For is then walked
// right-to-left and the first untrusted hop wins. X-Real-IP is used when
// X-Forwarded-For is absent.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := util.StripPort(r.RemoteAddr)

	if len(e.trustedCIDRs) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		return e.extractFromXFF(xff, remoteIP)
	}

	if realIP := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); net.ParseIP(realIP) != nil {
		return realIP
	}

	return remoteIP
}

func (e *ClientIPExtractor) extractFromXFF(xff, fallback string) string {
	ips := strings.Split(xff, ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip == "" {
			continue
		}
		if !e.isTrusted(ip) {
			return ip
		}
	}
	return fallback
}

func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range e.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns a middleware that stores the extracted client IP in
// the request context, where the rate limiter, the audit sink and the
// access log read it.
func ClientIP(e *ClientIPExtractor) func(http.Handler) http.Handler {
	if e == nil {
		e = NewClientIPExtractor(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := util.ContextWithClientIP(r.Context(), e.Extract(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
