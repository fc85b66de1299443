package spatialpooler

import (
	"golang.org/x/sync/errgroup"
)

// minChunk keeps goroutine overhead below the work per chunk.
const minChunk = 64

// parallel runs fn over [0, n) split into contiguous chunks. Chunks touch
// disjoint column-local state only, so the result does not depend on
// scheduling.
func (sp *SpatialPooler) parallel(n int, fn func(lo, hi int)) {
	if sp.workers <= 1 || n < 2*minChunk {
		fn(0, n)
		return
	}
	chunk := max((n+sp.workers-1)/sp.workers, minChunk)

	var g errgroup.Group
	g.SetLimit(sp.workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
