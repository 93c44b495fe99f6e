package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when the key is absent from the session.
var ErrNotFound = errors.New("session key not found")

// Store holds session values keyed by session ID.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, id, key string) ([]byte, error)

	// Set stores value under key, creating the session if needed.
	Set(ctx context.Context, id, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, id, key string) error

	// Touch creates the session if needed and extends its lifetime.
	Touch(ctx context.Context, id string) error

	// Exists reports whether the session is live.
	Exists(ctx context.Context, id string) (bool, error)

	// Destroy deletes the session and all its values.
	Destroy(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}

// Session is the state of one client session.
type Session struct {
	id    string
	store Store

	mu      sync.Mutex
	pending bool
	onStart func()
}

// New returns the session id backed by store.
func New(id string, store Store) *Session {
	return &Session{id: id, store: store}
}

// newPending returns a session that does not exist in store yet. onStart
// runs once, after the first successful Set.
func newPending(id string, store Store, onStart func()) *Session {
	return &Session{id: id, store: store, pending: true, onStart: onStart}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Started reports whether the session exists in the store.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pending
}

// Get returns the value of key, or ErrNotFound.
func (s *Session) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Started() {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, s.id, key)
}

// Set stores value under key, starting a pending session.
func (s *Session) Set(ctx context.Context, key string, value []byte) error {
	if err := s.store.Set(ctx, s.id, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	start := s.pending
	s.pending = false
	s.mu.Unlock()

	if start && s.onStart != nil {
		s.onStart()
	}
	return nil
}

// Remove deletes key.
func (s *Session) Remove(ctx context.Context, key string) error {
	if !s.Started() {
		return nil
	}
	return s.store.Remove(ctx, s.id, key)
}

type sessionKey struct{}

// ContextWithSession stores s in ctx.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored in ctx, or nil.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return s
	}
	return nil
}
