package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	shardCount = 64

	// DefaultSweepInterval is how often idle logs are dropped.
	DefaultSweepInterval = time.Minute
)

type timeline struct {
	entries []time.Time
	window  time.Duration
}

type shard struct {
	mu   sync.Mutex
	logs map[string]*timeline
}

// MemoryStore keeps logs in process memory, split over 64 independently
// locked shards. Limits enforced through it are per process.
type MemoryStore struct {
	shards [shardCount]*shard

	now      func() time.Time
	interval time.Duration
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSweepInterval sets how often idle logs are dropped. Zero disables
// the background sweep.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.interval = d
	}
}

// WithSweepClock sets the clock used by the background sweep.
func WithSweepClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		interval: DefaultSweepInterval,
		done:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{logs: make(map[string]*timeline)}
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 {
		go s.sweeper()
	}

	return s
}

func (s *MemoryStore) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// prune drops entries at or before start. Entries are appended in call
// order, so the slice is sorted unless the caller's clock went backwards;
// a full scan keeps the result correct either way.
func (l *timeline) prune(start time.Time) {
	kept := l.entries[:0]
	for _, ts := range l.entries {
		if ts.After(start) {
			kept = append(kept, ts)
		}
	}
	l.entries = kept
}

func (l *timeline) summary() Window {
	w := Window{Count: len(l.entries)}
	for _, ts := range l.entries {
		if w.Oldest.IsZero() || ts.Before(w.Oldest) {
			w.Oldest = ts
		}
	}
	return w
}

// Window implements Store.
func (s *MemoryStore) Window(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.logs[key]
	if !ok {
		return Window{}, nil
	}
	l.prune(windowStart(now, window))
	if len(l.entries) == 0 {
		delete(sh.logs, key)
		return Window{}, nil
	}
	return l.summary(), nil
}

// Record implements Store.
func (s *MemoryStore) Record(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	maxLen int,
) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.logs[key]
	if !ok {
		l = &timeline{}
		sh.logs[key] = l
	}
	l.window = window
	l.entries = append(l.entries, now)
	l.prune(windowStart(now, window))
	if maxLen > 0 && len(l.entries) > maxLen {
		l.entries = append(l.entries[:0], l.entries[len(l.entries)-maxLen:]...)
	}
	return l.summary(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		sh := s.shard(key)
		sh.mu.Lock()
		delete(sh.logs, key)
		sh.mu.Unlock()
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.logs = make(map[string]*timeline)
		sh.mu.Unlock()
	}
	return nil
}

// Sweep drops logs whose newest entry has left its window and returns the
// number of logs dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, l := range sh.logs {
			l.prune(windowStart(now, l.window))
			if len(l.entries) == 0 {
				delete(sh.logs, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of keys held.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.logs)
		sh.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) sweeper() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(s.now())
		case <-s.done:
			return
		}
	}
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}
