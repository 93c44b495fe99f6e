package middleware

// HTTP header constants.
const (
	// HeaderOrigin is the Origin header name.
	HeaderOrigin = "Origin"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRealIP is the X-Real-IP header name.
	HeaderXRealIP = "X-Real-IP"

	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// HeaderWWWAuthenticate is the WWW-Authenticate header name.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// HeaderAdminKey carries the break-glass admin key.
	HeaderAdminKey = "X-Admin-Key"

	// HeaderContentLength is the Content-Length header name.
	HeaderContentLength = "Content-Length"
)

// Content type constants.
const (
	// ContentTypeFormURLEncoded is the form URL encoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"
)

// Failure error strings written in the "error" field of failure bodies.
const (
	errInternalServerError   = "Internal Server Error"
	errAuthenticationFailed  = "Authentication required"
	errAdminAccessDenied     = "Admin access denied"
	errRequestEntityTooLarge = "Request entity too large"
	errInvalidJSON           = "Invalid JSON"
)

// DefaultMaxBodyBytes bounds the bodies read by the JSON parser and the
// input sanitizer when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20
