// Package session provides per-client session state for the pipeline
// stages: a Store holding byte values per session, memory and Redis
// backed implementations, and a cookie middleware that attaches the
// client's Session to the request context.
package session
