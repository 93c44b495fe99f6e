// Package audit records security events raised by the pipeline stages:
// CSRF rejections, rate limit rejections, failed authentication and
// denied admin access.
//
// Events are written as structured log entries through a named child of
// the application logger and counted in Prometheus. Each event kind is
// throttled with a token bucket so a flood of rejected requests cannot
// flood the log; suppressed events are still counted.
//
//	auditor := audit.NewLogger(
//	    audit.WithLogger(logger),
//	    audit.WithThrottle(50, 100),
//	)
//	auditor.Log(ctx, &audit.Event{Kind: audit.KindCSRFRejected, Message: "..."})
package audit
