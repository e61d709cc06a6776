package compose

import (
	"math/rand"
	"sync"
)

// PhrasePicker selects one of n phrase variants. Implementations must accept
// any n >= 1 and return an index in [0, n).
type PhrasePicker interface {
	Pick(n int) int
}

// RoundRobin cycles through variants deterministically. It is the default for
// tests and anywhere reproducible output matters.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a round-robin picker starting at variant 0.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next index in rotation.
func (r *RoundRobin) Pick(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.next % n
	r.next++
	return idx
}

// Random picks uniformly at random. Production-only wrapper; everything under
// test should use RoundRobin or a fixed seed.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random picker with the given seed.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns a uniformly random index.
func (r *Random) Pick(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
