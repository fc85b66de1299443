package testutil

import (
	"math/rand"
	"slices"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// SparseSDR returns numActive distinct indices from [0, size) in ascending order.
func (r *RNG) SparseSDR(size, numActive int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sparseLocked(size, numActive)
}

func (r *RNG) sparseLocked(size, numActive int) []int {
	numActive = min(numActive, size)
	perm := r.rand.Perm(size)[:numActive]
	slices.Sort(perm)
	return perm
}

// DenseSDR returns a 0/1 vector of length size with numActive ones.
func (r *RNG) DenseSDR(size, numActive int) []int {
	return Dense(size, r.SparseSDR(size, numActive))
}

// DenseSDRs generates num dense SDRs.
// Locks only once per call.
func (r *RNG) DenseSDRs(num, size, numActive int) [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int, num)
	for i := range out {
		out[i] = Dense(size, r.sparseLocked(size, numActive))
	}
	return out
}

// Flip returns a copy of the dense SDR with n random bits inverted.
func (r *RNG) Flip(dense []int, n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(dense)
	for _, i := range r.rand.Perm(len(out))[:min(n, len(out))] {
		out[i] = 1 - out[i]
	}
	return out
}

// Dense expands sparse indices into a 0/1 vector of length size.
func Dense(size int, sparse []int) []int {
	out := make([]int, size)
	for _, i := range sparse {
		out[i] = 1
	}
	return out
}

// Sparse returns the indices of non-zero entries.
func Sparse(dense []int) []int {
	var out []int
	for i, v := range dense {
		if v != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Range returns [lo, hi).
func Range(lo, hi int) []int {
	out := make([]int, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

// Columns maps cell indices to the ascending set of their columns.
func Columns(cells []int, cellsPerColumn int) []int {
	var out []int
	for _, c := range cells {
		out = append(out, c/cellsPerColumn)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
