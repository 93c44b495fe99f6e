// Package health provides the liveness and readiness endpoints of govgate.
//
// /healthz answers as long as the process serves HTTP. /readyz runs the
// registered checks (the Redis ping when a Redis backend is configured,
// the upstream dial) and fails while the server drains during shutdown.
package health
