// Package proxy provides the terminal handler of the request pipeline: a
// reverse proxy to the upstream CRUD modules.
//
// The proxy forwards the request as the pipeline left it (sanitized query
// and form values, restored bodies) and adds X-Forwarded-* headers, the
// request ID and the authenticated user. Without a configured upstream it
// answers 404 in the pipeline failure format.
package proxy
