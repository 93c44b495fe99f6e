// Package util provides helpers shared by the pipeline stages.
//
// # Request Classification
//
// Every stage decides between a JSON and an HTML failure body with the
// same rule:
//
//	if util.IsAPIRequest(r) { ... }
//
// A request is an API request when its path starts with /api/ or its
// Accept header contains application/json.
//
// # Failure Bodies
//
// WriteFailure renders {"error","message"} for API requests and
// <h1>{code} {reason}</h1><p>{message}</p> otherwise. Rejection bodies
// never carry internal details.
//
// # Context Helpers
//
//	ctx = util.ContextWithClientIP(ctx, "10.0.0.1")
//	ip := util.ClientIPFromContext(ctx)
//
// # Error Conventions
//
// Packages declare their own sentinel errors and wrap ErrInvalidInput or
// ErrConfigInvalid with fmt.Errorf and %w so callers can classify a
// failure with errors.Is. Configured header names and values, and the
// upstream URL, are checked with ValidateHeader and ValidateUpstreamURL.
package util
