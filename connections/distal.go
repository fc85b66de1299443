package connections

import (
	"cmp"
	"slices"
)

// Synapse is a read-only view of a distal synapse.
type Synapse struct {
	ID              SynapseID
	Segment         SegmentID
	PresynapticCell int
	Permanence      float64
}

// CreateSegment adds a distal segment to cell. When the cell already holds
// MaxSegmentsPerCell segments the least recently used ones are destroyed first.
func (c *Connections) CreateSegment(cell int) SegmentID {
	for len(c.cellSegments[cell]) >= c.cfg.MaxSegmentsPerCell {
		c.DestroySegment(c.leastRecentlyUsedSegment(cell))
	}

	seg := segment{
		cell:     int32(cell),
		ordinal:  c.nextSegOrd,
		lastUsed: c.tmIteration,
		alive:    true,
	}
	c.nextSegOrd++

	var id SegmentID
	if n := len(c.freeSegments); n > 0 {
		id = c.freeSegments[n-1]
		c.freeSegments = c.freeSegments[:n-1]
		c.segments[id] = seg
	} else {
		id = SegmentID(len(c.segments))
		c.segments = append(c.segments, seg)
	}
	c.cellSegments[cell] = append(c.cellSegments[cell], id)
	c.numSegments++
	return id
}

func (c *Connections) leastRecentlyUsedSegment(cell int) SegmentID {
	segs := c.cellSegments[cell]
	best := segs[0]
	for _, s := range segs[1:] {
		if c.segments[s].lastUsed < c.segments[best].lastUsed {
			best = s
		}
	}
	return best
}

// DestroySegment removes seg and all of its synapses.
func (c *Connections) DestroySegment(id SegmentID) {
	seg := &c.segments[id]
	if !seg.alive {
		return
	}
	for _, syn := range seg.synapses {
		c.releaseSynapse(syn)
	}
	seg.synapses = nil
	cell := int(seg.cell)
	c.cellSegments[cell] = slices.DeleteFunc(c.cellSegments[cell], func(s SegmentID) bool { return s == id })
	seg.alive = false
	c.freeSegments = append(c.freeSegments, id)
	c.numSegments--
}

// CreateSynapse connects presynapticCell to seg. When the segment already
// holds MaxSynapsesPerSegment synapses the weakest ones are destroyed first.
func (c *Connections) CreateSynapse(seg SegmentID, presynapticCell int, permanence float64) SynapseID {
	for len(c.segments[seg].synapses) >= c.cfg.MaxSynapsesPerSegment {
		c.DestroySynapse(c.minPermanenceSynapse(seg))
	}

	syn := synapse{
		segment:     seg,
		presynaptic: int32(presynapticCell),
		permanence:  clampPermanence(permanence),
		ordinal:     c.nextSynOrd,
		alive:       true,
	}
	c.nextSynOrd++

	var id SynapseID
	if n := len(c.freeSynapses); n > 0 {
		id = c.freeSynapses[n-1]
		c.freeSynapses = c.freeSynapses[:n-1]
		c.synapses[id] = syn
	} else {
		id = SynapseID(len(c.synapses))
		c.synapses = append(c.synapses, syn)
	}
	c.segments[seg].synapses = append(c.segments[seg].synapses, id)
	c.receptors[presynapticCell] = append(c.receptors[presynapticCell], id)
	c.numSynapses++
	return id
}

func (c *Connections) minPermanenceSynapse(seg SegmentID) SynapseID {
	syns := c.segments[seg].synapses
	best := syns[0]
	for _, s := range syns[1:] {
		if c.synapses[s].permanence < c.synapses[best].permanence-Epsilon {
			best = s
		}
	}
	return best
}

// DestroySynapse removes a synapse. An emptied segment is left in place.
func (c *Connections) DestroySynapse(id SynapseID) {
	syn := &c.synapses[id]
	if !syn.alive {
		return
	}
	seg := &c.segments[syn.segment]
	seg.synapses = slices.DeleteFunc(seg.synapses, func(s SynapseID) bool { return s == id })
	c.releaseSynapse(id)
}

func (c *Connections) releaseSynapse(id SynapseID) {
	syn := &c.synapses[id]
	pre := int(syn.presynaptic)
	c.receptors[pre] = slices.DeleteFunc(c.receptors[pre], func(s SynapseID) bool { return s == id })
	syn.alive = false
	c.freeSynapses = append(c.freeSynapses, id)
	c.numSynapses--
}

// SetPermanence updates a synapse permanence, clamped to [0, 1].
func (c *Connections) SetPermanence(id SynapseID, permanence float64) {
	c.synapses[id].permanence = clampPermanence(permanence)
}

// Synapse returns a view of synapse id.
func (c *Connections) Synapse(id SynapseID) Synapse {
	s := c.synapses[id]
	return Synapse{
		ID:              id,
		Segment:         s.segment,
		PresynapticCell: int(s.presynaptic),
		Permanence:      s.permanence,
	}
}

// SegmentsOfCell returns the segments of cell in creation order. Read-only.
func (c *Connections) SegmentsOfCell(cell int) []SegmentID { return c.cellSegments[cell] }

// NumSegmentsOfCell returns the number of segments on cell.
func (c *Connections) NumSegmentsOfCell(cell int) int { return len(c.cellSegments[cell]) }

// SynapsesOfSegment returns the synapses of seg in creation order. Read-only.
func (c *Connections) SynapsesOfSegment(seg SegmentID) []SynapseID { return c.segments[seg].synapses }

// CellOfSegment returns the cell owning seg.
func (c *Connections) CellOfSegment(seg SegmentID) int { return int(c.segments[seg].cell) }

// SegmentAlive reports whether seg refers to a live segment.
func (c *Connections) SegmentAlive(seg SegmentID) bool {
	return int(seg) < len(c.segments) && c.segments[seg].alive
}

// SegmentLastUsed returns the iteration seg was last active on.
func (c *Connections) SegmentLastUsed(seg SegmentID) uint64 { return c.segments[seg].lastUsed }

// NumSegments returns the number of live segments.
func (c *Connections) NumSegments() int { return c.numSegments }

// NumSynapses returns the number of live synapses.
func (c *Connections) NumSynapses() int { return c.numSynapses }

// SegmentCapacity returns the size of the segment arena, i.e. the length
// dense per-segment arrays must have.
func (c *Connections) SegmentCapacity() int { return len(c.segments) }

// RecordSegmentActivity marks seg as used in the current iteration.
func (c *Connections) RecordSegmentActivity(seg SegmentID) {
	c.segments[seg].lastUsed = c.tmIteration
}

// StartNewIteration advances the Temporal Memory iteration counter.
func (c *Connections) StartNewIteration() { c.tmIteration++ }

// TMIteration returns the Temporal Memory iteration counter.
func (c *Connections) TMIteration() uint64 { return c.tmIteration }

// CompareSegments orders segments by owning cell, then by creation.
func (c *Connections) CompareSegments(a, b SegmentID) int {
	sa, sb := &c.segments[a], &c.segments[b]
	if r := cmp.Compare(sa.cell, sb.cell); r != 0 {
		return r
	}
	return cmp.Compare(sa.ordinal, sb.ordinal)
}

// SortSegments sorts segs with CompareSegments.
func (c *Connections) SortSegments(segs []SegmentID) {
	slices.SortFunc(segs, c.CompareSegments)
}

// Activity holds dense per-segment counts indexed by SegmentID.
type Activity struct {
	// NumActiveConnected counts connected synapses to active cells.
	NumActiveConnected []int32
	// NumActivePotential counts synapses to active cells of any permanence.
	NumActivePotential []int32
}

// ComputeActivity counts, for every segment, the synapses whose presynaptic
// cell is active. A synapse is connected when its permanence is at least
// connectedPermanence (within Epsilon).
func (c *Connections) ComputeActivity(activeCells []int, connectedPermanence float64) Activity {
	act := Activity{
		NumActiveConnected: make([]int32, len(c.segments)),
		NumActivePotential: make([]int32, len(c.segments)),
	}
	threshold := connectedPermanence - Epsilon
	for _, cell := range activeCells {
		for _, id := range c.receptors[cell] {
			syn := &c.synapses[id]
			act.NumActivePotential[syn.segment]++
			if syn.permanence >= threshold {
				act.NumActiveConnected[syn.segment]++
			}
		}
	}
	return act
}

func clampPermanence(p float64) float64 {
	return min(max(p, 0), 1)
}
