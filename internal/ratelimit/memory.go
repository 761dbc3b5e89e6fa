// Package ratelimit decides whether a new connection is admitted.
//
// A Gate checks an address against every configured {period, rate} window.
// Hits are counted by a Store: MemoryStore for a single relay, RedisStore
// when several relays share one budget.
package ratelimit

import (
	"context"
	"time"

	"github.com/brianly1003/nrelay/internal/sync"
)

// DefaultCleanup is the interval at which stale memory buckets are dropped.
const DefaultCleanup = 5 * time.Minute

// Store counts hits per key in a sliding window.
type Store interface {
	// Hit records one hit for key and reports whether key has exceeded
	// rate hits within the last period.
	Hit(ctx context.Context, key string, period time.Duration, rate int) (bool, error)
}

// MemoryStore implements a sliding window limiter with per-key buckets.
type MemoryStore struct {
	buckets     map[string]*bucket
	mu          sync.Mutex
	now         func() time.Time
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// bucket tracks hit timestamps for a single key.
type bucket struct {
	timestamps []time.Time
	period     time.Duration
	lastAccess time.Time
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		buckets:     make(map[string]*bucket),
		now:         time.Now,
		cleanupDone: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Hit implements Store. Every hit is recorded, including limited ones, so a
// client hammering the relay stays limited until it backs off.
func (s *MemoryStore) Hit(_ context.Context, key string, period time.Duration, rate int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-period)

	b, exists := s.buckets[key]
	if !exists {
		b = &bucket{timestamps: make([]time.Time, 0, rate+1)}
		s.buckets[key] = b
	}

	// Filter out old timestamps
	valid := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	b.timestamps = append(valid, now)
	b.period = period
	b.lastAccess = now

	return len(b.timestamps) > rate, nil
}

// Reset clears the window for a key.
func (s *MemoryStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.cleanupDone) })
	return nil
}

// cleanupLoop periodically removes stale buckets.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(DefaultCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupDone:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes buckets whose window has fully elapsed.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if b.lastAccess.Before(now.Add(-b.period)) {
			delete(s.buckets, key)
		}
	}
}
