package bitmap

import (
	"slices"
	"testing"

	"github.com/hupe1980/htmgo/testutil"
)

// Comparative benchmarks: Set vs sorted slice intersection
// Run with: go test -bench=. -benchmem ./internal/bitmap/

func BenchmarkIntersectionLen_Set(b *testing.B) {
	rng := testutil.NewRNG(1)
	x := FromInts(rng.SparseSDR(65536, 1300))
	y := FromInts(rng.SparseSDR(65536, 1300))

	b.ReportAllocs()
	for b.Loop() {
		_ = x.IntersectionLen(y)
	}
}

func BenchmarkIntersectionLen_Slice(b *testing.B) {
	rng := testutil.NewRNG(1)
	x := rng.SparseSDR(65536, 1300)
	y := rng.SparseSDR(65536, 1300)

	b.ReportAllocs()
	for b.Loop() {
		n := 0
		for _, v := range x {
			if _, ok := slices.BinarySearch(y, v); ok {
				n++
			}
		}
		_ = n
	}
}

func BenchmarkFromInts(b *testing.B) {
	cells := testutil.NewRNG(2).SparseSDR(65536, 1300)

	b.ReportAllocs()
	for b.Loop() {
		_ = FromInts(cells)
	}
}
