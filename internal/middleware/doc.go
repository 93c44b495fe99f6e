// Package middleware provides the HTTP middleware of govgate that is not
// part of the core security stages.
//
// Two kinds of middleware live here. The server wraps every request in
// the outer layers:
//
//   - RequestID: request identifier injection
//   - Recovery: panic recovery with stack trace logging
//   - ClientIP: trusted proxy-aware client IP extraction
//   - Logging: structured access logging
//
// The remaining constructors build pipeline stages registered with the
// pipeline registry under their stage names:
//
//   - CORS (cors): precomputed CORS headers and preflight handling
//   - Auth (auth): HS256 bearer tokens, identity in the request context
//   - Admin (admin): CEL policy over the identity, or a bcrypt admin key
//   - JSONParser (json_parser): size limit and syntax check of JSON bodies
//   - InputSanitizer (input_sanitizer): query and form value normalization
//
// # Usage
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.ClientIP(extractor)(
//	            middleware.Logging(logger)(router),
//	        ),
//	    ),
//	)
package middleware
