package connections

import (
	"math/rand/v2"
	"sync"
)

// Random is the single seeded PRNG shared by every component of a region.
// It is safe for concurrent use; callers that need reproducible sequences
// must draw from it in a deterministic order.
type Random struct {
	mu   sync.Mutex
	src  *rand.PCG
	rng  *rand.Rand
	seed int64
}

// NewRandom creates a PRNG seeded with seed.
func NewRandom(seed int64) *Random {
	src := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return &Random{src: src, rng: rand.New(src), seed: seed}
}

// Seed returns the initial seed.
func (r *Random) Seed() int64 { return r.seed }

// Float64 returns a number in [0, 1).
func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// IntN returns a number in [0, n). It panics if n <= 0.
func (r *Random) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Sample returns n distinct elements drawn from population, in draw order.
// population is not modified.
func (r *Random) Sample(population []int, n int) []int {
	n = min(n, len(population))
	pool := append([]int(nil), population...)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		j := i + r.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// MarshalBinary captures the generator state.
func (r *Random) MarshalBinary() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.MarshalBinary()
}

// UnmarshalBinary restores a state produced by MarshalBinary.
func (r *Random) UnmarshalBinary(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src == nil {
		r.src = rand.NewPCG(0, 0)
		r.rng = rand.New(r.src)
	}
	return r.src.UnmarshalBinary(data)
}
