package temporalmemory

import (
	"slices"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/bitmap"
)

// step carries the previous-step context through one Compute call.
type step struct {
	tm    *TemporalMemory
	learn bool

	prevActive    *bitmap.Set
	prevWinners   []int
	prevPotential []int32

	activeCells []int
	winnerCells []int
	bursting    []int
}

func (s *step) potential(seg connections.SegmentID) int {
	if int(seg) < len(s.prevPotential) {
		return int(s.prevPotential[seg])
	}
	return 0
}

// activatePredicted activates the owners of the column's active segments.
func (s *step) activatePredicted(segs []connections.SegmentID) {
	conn, cfg := s.tm.conn, s.tm.cfg
	for _, seg := range segs {
		cell := conn.CellOfSegment(seg)
		if n := len(s.activeCells); n == 0 || s.activeCells[n-1] != cell {
			s.activeCells = append(s.activeCells, cell)
			s.winnerCells = append(s.winnerCells, cell)
		}
		if !s.learn {
			continue
		}
		if !s.adaptSegment(seg, cfg.PermanenceIncrement, cfg.PermanenceDecrement) {
			continue
		}
		if n := cfg.MaxNewSynapseCount - s.potential(seg); n > 0 {
			s.growSynapses(seg, n)
		}
	}
}

// burst activates every cell of col and picks one winner.
func (s *step) burst(col int, matching []connections.SegmentID) {
	conn, cfg := s.tm.conn, s.tm.cfg
	s.bursting = append(s.bursting, col)

	first, end := conn.CellsOfColumn(col)
	for cell := first; cell < end; cell++ {
		s.activeCells = append(s.activeCells, cell)
	}

	var winner int
	if len(matching) > 0 {
		best := matching[0]
		for _, seg := range matching[1:] {
			if s.potential(seg) > s.potential(best) {
				best = seg
			}
		}
		winner = conn.CellOfSegment(best)
		if s.learn && s.adaptSegment(best, cfg.PermanenceIncrement, cfg.PermanenceDecrement) {
			if n := cfg.MaxNewSynapseCount - s.potential(best); n > 0 {
				s.growSynapses(best, n)
			}
		}
	} else {
		winner = s.leastUsedCell(first, end)
		if s.learn && len(s.prevWinners) > 0 {
			seg := conn.CreateSegment(winner)
			s.growSynapses(seg, min(cfg.MaxNewSynapseCount, len(s.prevWinners)))
		}
	}
	s.winnerCells = append(s.winnerCells, winner)
}

// punish weakens segments that predicted a column which stayed inactive.
func (s *step) punish(segs []connections.SegmentID) {
	dec := s.tm.cfg.PredictedSegmentDecrement
	if !s.learn || dec == 0 {
		return
	}
	for _, seg := range segs {
		s.adaptSegment(seg, -dec, 0)
	}
}

// leastUsedCell returns the cell in [first, end) with the fewest segments.
// Ties are broken with the shared PRNG.
func (s *step) leastUsedCell(first, end int) int {
	conn := s.tm.conn
	fewest := -1
	var candidates []int
	for cell := first; cell < end; cell++ {
		n := conn.NumSegmentsOfCell(cell)
		switch {
		case fewest < 0 || n < fewest:
			fewest = n
			candidates = append(candidates[:0], cell)
		case n == fewest:
			candidates = append(candidates, cell)
		}
	}
	return candidates[conn.Random().IntN(len(candidates))]
}

// adaptSegment moves synapses to previously active cells by inc and all
// others by -dec. Synapses that fall to zero are destroyed, as is a segment
// left without synapses. It reports whether the segment survived.
func (s *step) adaptSegment(seg connections.SegmentID, inc, dec float64) bool {
	conn := s.tm.conn
	if !conn.SegmentAlive(seg) {
		return false
	}
	for _, id := range slices.Clone(conn.SynapsesOfSegment(seg)) {
		syn := conn.Synapse(id)
		p := syn.Permanence
		if s.prevActive.Contains(syn.PresynapticCell) {
			p += inc
		} else {
			p -= dec
		}
		p = min(max(p, 0), 1)
		if p < connections.Epsilon {
			conn.DestroySynapse(id)
		} else {
			conn.SetPermanence(id, p)
		}
	}
	if len(conn.SynapsesOfSegment(seg)) == 0 {
		conn.DestroySegment(seg)
		return false
	}
	return true
}

// growSynapses connects seg to up to n previous winner cells it does not
// reach yet, drawn with the shared PRNG.
func (s *step) growSynapses(seg connections.SegmentID, n int) {
	conn := s.tm.conn
	candidates := slices.Clone(s.prevWinners)
	for _, id := range conn.SynapsesOfSegment(seg) {
		if i, ok := slices.BinarySearch(candidates, conn.Synapse(id).PresynapticCell); ok {
			candidates = slices.Delete(candidates, i, i+1)
		}
	}
	n = min(n, len(candidates))
	rnd := conn.Random()
	for range n {
		i := rnd.IntN(len(candidates))
		conn.CreateSynapse(seg, candidates[i], s.tm.cfg.InitialPermanence)
		candidates = slices.Delete(candidates, i, i+1)
	}
}
