package session

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/govgate/internal/observability"
)

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = 30 * time.Minute

type memoryEntry struct {
	values     map[string][]byte
	lastAccess time.Time
}

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the TTL are treated as absent and removed by a janitor goroutine.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	idleTTL  time.Duration
	now      func() time.Time
	logger   observability.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIdleTTL sets the idle TTL.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithClock sets the clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger observability.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		logger:   observability.NopLogger(),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.janitor()

	return s
}

func (s *MemoryStore) janitor() {
	defer s.wg.Done()

	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("expired idle sessions", observability.Int("count", n))
			}
		}
	}
}

// sweep removes idle sessions and returns how many were removed.
func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.sessions {
		if s.expired(entry, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	GetSessionMetrics().active.WithLabelValues(backendMemory).Set(float64(len(s.sessions)))
	return removed
}

func (s *MemoryStore) expired(entry *memoryEntry, now time.Time) bool {
	return now.Sub(entry.lastAccess) >= s.idleTTL
}

// live returns the entry of id if it exists and has not expired. The
// caller must hold the write lock.
func (s *MemoryStore) live(id string, now time.Time) (*memoryEntry, bool) {
	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(entry, now) {
		delete(s.sessions, id)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) liveOrCreate(id string, now time.Time) *memoryEntry {
	entry, ok := s.live(id, now)
	if !ok {
		entry = &memoryEntry{values: make(map[string][]byte)}
		s.sessions[id] = entry
	}
	entry.lastAccess = now
	return entry
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.live(id, now)
	if !ok {
		return nil, ErrNotFound
	}
	entry.lastAccess = now

	value, ok := entry.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, id, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveOrCreate(id, s.now())
	entry.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.live(id, s.now()); ok {
		delete(entry.values, key)
	}
	return nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liveOrCreate(id, s.now())
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(id, s.now())
	return ok, nil
}

// Destroy implements Store.
func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, including expired sessions
// not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	return nil
}
