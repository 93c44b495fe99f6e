// Package ratelimit implements the sliding-log rate limiter stage.
//
// Requests are classified by path into auth, api and general classes,
// each with its own limit, and counted per client key (the client IP, or
// IP:userID for authenticated clients). A request is rejected with 429
// when the client already made Max requests in the trailing window.
//
// The timestamp logs live in a store.Store: in process memory by default,
// or in Redis when limits must hold across a fleet of instances.
package ratelimit
