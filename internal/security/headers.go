package security

import "strings"

// Header names managed by the policy, in canonical form so they match
// http.Header keys.
const (
	HeaderXFrameOptions           = "X-Frame-Options"
	HeaderXContentTypeOptions     = "X-Content-Type-Options"
	HeaderXXSSProtection          = "X-Xss-Protection"
	HeaderReferrerPolicy          = "Referrer-Policy"
	HeaderContentSecurityPolicy   = "Content-Security-Policy"
	HeaderStrictTransportSecurity = "Strict-Transport-Security"
	HeaderPermissionsPolicy       = "Permissions-Policy"
	HeaderCacheControl            = "Cache-Control"
	HeaderPragma                  = "Pragma"
	HeaderExpires                 = "Expires"
	HeaderXPoweredBy              = "X-Powered-By"

	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
	HeaderMaxAge       = "Access-Control-Max-Age"
	HeaderAPIVersion   = "X-Api-Version"
)

// DefaultCSP is the baseline content security policy.
const DefaultCSP = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"font-src 'self'; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'"

// devScriptSources are added to script-src in development.
var devScriptSources = []string{"http://localhost:*", "http://127.0.0.1:*"}

// DefaultHeaders returns the baseline header set.
func DefaultHeaders() map[string]string {
	return map[string]string{
		HeaderXFrameOptions:           "DENY",
		HeaderXContentTypeOptions:     "nosniff",
		HeaderXXSSProtection:          "1; mode=block",
		HeaderReferrerPolicy:          "strict-origin-when-cross-origin",
		HeaderContentSecurityPolicy:   DefaultCSP,
		HeaderStrictTransportSecurity: "max-age=31536000; includeSubDomains; preload",
		HeaderPermissionsPolicy:       "geolocation=(), microphone=(), camera=()",
		HeaderCacheControl:            "no-store, no-cache, must-revalidate, private",
		HeaderPragma:                  "no-cache",
		HeaderExpires:                 "0",
		HeaderXPoweredBy:              "",
	}
}

// DefaultAPIHeaders returns the overlay merged in for /api/ paths.
func DefaultAPIHeaders() map[string]string {
	return map[string]string{
		HeaderAllowOrigin:  "*",
		HeaderAllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		HeaderAllowHeaders: "Content-Type, Authorization, X-CSRF-Token, X-Requested-With",
		HeaderMaxAge:       "86400",
		HeaderAPIVersion:   "1.0",
	}
}

var validReferrerPolicies = map[string]bool{
	"no-referrer":                     true,
	"no-referrer-when-downgrade":      true,
	"origin":                          true,
	"origin-when-cross-origin":        true,
	"same-origin":                     true,
	"strict-origin":                   true,
	"strict-origin-when-cross-origin": true,
	"unsafe-url":                      true,
}

// IsValidReferrerPolicy reports whether v is a Referrer-Policy value. A
// comma separated fallback list is accepted when every entry is valid.
func IsValidReferrerPolicy(v string) bool {
	if strings.TrimSpace(v) == "" {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		if !validReferrerPolicies[strings.ToLower(strings.TrimSpace(part))] {
			return false
		}
	}
	return true
}

// isCacheHeader reports whether name is one of Cache-Control, Pragma or
// Expires.
func isCacheHeader(name string) bool {
	return name == HeaderCacheControl || name == HeaderPragma || name == HeaderExpires
}

// relaxScriptSrc adds the local development origins to the script-src
// directive of csp. A policy without script-src is returned unchanged.
func relaxScriptSrc(csp string) string {
	directives := strings.Split(csp, ";")
	for i, d := range directives {
		fields := strings.Fields(d)
		if len(fields) == 0 || !strings.EqualFold(fields[0], "script-src") {
			continue
		}
		for _, src := range devScriptSources {
			if !contains(fields[1:], src) {
				fields = append(fields, src)
			}
		}
		directives[i] = strings.Join(fields, " ")
		if i > 0 {
			directives[i] = " " + directives[i]
		}
	}
	return strings.Join(directives, ";")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
