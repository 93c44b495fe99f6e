// Package store provides the timestamp log backends of the rate limiter.
//
// A key holds the request timestamps of one (class, client) pair. Entries
// at or before now-window are outside the window and may be pruned at any
// time; the log is capped to a maximum length by dropping its oldest
// entries.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("rate limit store is closed")

// Window summarizes the entries of one key that fall inside the window.
type Window struct {
	// Count is the number of entries strictly newer than now-window.
	Count int

	// Oldest is the oldest entry inside the window, zero when Count is 0.
	Oldest time.Time
}

// Store keeps per-key request timestamp logs.
type Store interface {
	// Window reports the in-window entries of key without recording.
	Window(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)

	// Record appends now to key, prunes entries outside the window, caps
	// the log at maxLen entries and reports the resulting window.
	Record(ctx context.Context, key string, now time.Time, window time.Duration, maxLen int) (Window, error)

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// windowStart is the exclusive lower bound of the window ending at now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}
