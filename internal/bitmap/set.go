package bitmap

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Set is a compressed set of non-negative indices (cells or columns).
// It wraps a 32-bit roaring bitmap.
type Set struct {
	rb *roaring.Bitmap
}

// New creates an empty set.
func New() *Set {
	return &Set{rb: roaring.New()}
}

// FromInts builds a set from indices.
func FromInts(indices []int) *Set {
	s := New()
	for _, idx := range indices {
		s.rb.Add(uint32(idx))
	}
	return s
}

// Add inserts idx.
func (s *Set) Add(idx int) { s.rb.Add(uint32(idx)) }

// AddMany inserts all indices.
func (s *Set) AddMany(indices []int) {
	for _, idx := range indices {
		s.rb.Add(uint32(idx))
	}
}

// Contains reports whether idx is in the set.
func (s *Set) Contains(idx int) bool {
	if s == nil || idx < 0 {
		return false
	}
	return s.rb.Contains(uint32(idx))
}

// Len returns the cardinality.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return int(s.rb.GetCardinality())
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool { return s == nil || s.rb.IsEmpty() }

// Clear removes all members.
func (s *Set) Clear() { s.rb.Clear() }

// IntersectionLen returns |s ∩ other|.
func (s *Set) IntersectionLen(other *Set) int {
	if s == nil || other == nil {
		return 0
	}
	return int(s.rb.AndCardinality(other.rb))
}

// ToInts returns the members in ascending order.
func (s *Set) ToInts() []int {
	if s == nil {
		return nil
	}
	out := make([]int, 0, s.rb.GetCardinality())
	it := s.rb.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
