package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a 64-bit xxhash of a sparse index set.
// Callers pass indices in a canonical (sorted) order; equal sets in the same
// order always yield the same fingerprint.
func Fingerprint(indices []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, idx := range indices {
		binary.LittleEndian.PutUint64(buf[:], uint64(idx))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
