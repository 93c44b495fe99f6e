// Package server hosts the govgate HTTP listener.
//
// A gin engine serves the probe endpoints (/healthz, /livez, /readyz), the
// metrics endpoint and the admin API under /_govgate/. Every other path
// falls through to the pipeline router. The whole engine is wrapped in the
// outer request layers: panic recovery, request ID, client IP resolution,
// access logging, tracing and request metrics.
package server
