// Package security implements the response security header policy.
//
// The policy keeps two header sets: a baseline written on every response
// and an overlay merged in for /api/ paths. It post-processes responses:
// the downstream handler runs first and the headers are added when the
// response is committed, without overwriting any header the handler set.
//
//	policy := security.NewPolicy(security.WithDevelopment(cfg.IsDevelopment()))
//	handler := policy.Middleware()(next)
package security
