// Package store provides the process-wide keyed stores behind the
// conversation-session and confirmation-request services: O(1) keyed lookup,
// TTL eviction, and safe concurrent access.
//
// Expiry is lazy. Every Get checks the record's deadline and purges on
// access; the optional Sweeper only reclaims memory for records nobody reads
// again. Correctness never depends on the sweeper running.
package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Clock abstracts time for deterministic TTL tests.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLStore is a concurrency-safe map with per-record TTLs.
type TTLStore[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	now   Clock
}

// New creates an empty TTLStore using the real clock.
func New[V any]() *TTLStore[V] {
	return NewWithClock[V](time.Now)
}

// NewWithClock creates an empty TTLStore with an injected clock.
func NewWithClock[V any](now Clock) *TTLStore[V] {
	return &TTLStore[V]{
		items: make(map[string]entry[V]),
		now:   now,
	}
}

// Put stores value under key with the given TTL, replacing any prior record.
func (s *TTLStore[V]) Put(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Get returns the live record for key. An expired record is purged and
// reported as absent rather than returned stale.
func (s *TTLStore[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have renewed it.
		if cur, still := s.items[key]; still && s.now().After(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Delete removes key if present.
func (s *TTLStore[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Len counts live records, purging any expired ones it encounters.
func (s *TTLStore[V]) Len() int {
	s.Sweep()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sweep removes every expired record and returns how many were purged.
func (s *TTLStore[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.items {
		if now.After(e.expiresAt) {
			delete(s.items, k)
			removed++
		}
	}
	return removed
}

// =============================================================================
// PER-KEY SERIALIZATION
// =============================================================================

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per key without serializing unrelated keys. Lock
// entries are reference counted and removed once the last holder releases, so
// the mutex map does not grow with the key space.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its release function. Two
// concurrent turns on the same key run one after the other; turns on
// different keys do not contend.
func (m *KeyedMutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// =============================================================================
// BACKGROUND SWEEPER
// =============================================================================

// Sweepable is anything the background sweeper can reclaim.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically sweeps a set of stores. It is a memory-reclamation
// aid only; stores remain correct if it never runs.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// NewSweeper creates a sweeper over the given stores.
func NewSweeper(interval time.Duration, targets ...Sweepable) *Sweeper {
	return &Sweeper{interval: interval, targets: targets}
}

// Start launches the sweep loop. It returns immediately; call Stop to halt.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	s.group.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				for _, t := range s.targets {
					t.Sweep()
				}
			}
		}
	})
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
}
