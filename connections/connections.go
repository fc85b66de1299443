package connections

import (
	"slices"
)

// Epsilon absorbs floating point drift in permanence comparisons.
const Epsilon = 0.00001

// SegmentID indexes the distal segment arena.
type SegmentID int32

// SynapseID indexes the distal synapse arena.
type SynapseID int32

// ColumnStats holds the flat per-column statistics of the Spatial Pooler.
// Every slice has one entry per column.
type ColumnStats struct {
	BoostFactors         []float64
	OverlapDutyCycles    []float64
	ActiveDutyCycles     []float64
	MinOverlapDutyCycles []float64
	MinActiveDutyCycles  []float64
}

// TemporalState is the per-step Temporal Memory state.
type TemporalState struct {
	ActiveCells      []int
	WinnerCells      []int
	ActiveSegments   []SegmentID
	MatchingSegments []SegmentID

	// NumActivePotential holds, per segment id, the number of synapses to
	// active cells (any permanence) from the last dendrite activation.
	NumActivePotential []int32
}

// Reset clears the per-step state.
func (s *TemporalState) Reset() {
	s.ActiveCells = nil
	s.WinnerCells = nil
	s.ActiveSegments = nil
	s.MatchingSegments = nil
	s.NumActivePotential = nil
}

type column struct {
	potential []int
	perms     []float64
	connected []int
}

type segment struct {
	cell     int32
	synapses []SynapseID
	ordinal  uint64
	lastUsed uint64
	alive    bool
}

type synapse struct {
	segment     SegmentID
	presynaptic int32
	permanence  float64
	ordinal     uint64
	alive       bool
}

// Connections is the state store of an HTM region: proximal pools, per-column
// statistics, cells, distal segments and synapses, and the per-step state of
// both algorithms. It is not safe for concurrent mutation; the Spatial Pooler
// and Temporal Memory serialize access.
type Connections struct {
	cfg     Config
	rnd     *Random
	inputs  Topology
	columns Topology

	proximal []column
	stats    ColumnStats

	cellSegments [][]SegmentID
	receptors    [][]SynapseID
	segments     []segment
	freeSegments []SegmentID
	synapses     []synapse
	freeSynapses []SynapseID
	numSegments  int
	numSynapses  int
	nextSegOrd   uint64
	nextSynOrd   uint64

	spIteration      int
	spLearnIteration int
	inhibitionRadius int

	tmIteration uint64
	step        TemporalState
}

// New creates a Connections store for cfg. rnd is the region's shared PRNG;
// when nil a generator seeded with cfg.Seed is created.
func New(cfg Config, rnd *Random) (*Connections, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = NewRandom(cfg.Seed)
	}
	c := &Connections{
		cfg:     cfg,
		rnd:     rnd,
		inputs:  NewTopology(cfg.InputDimensions),
		columns: NewTopology(cfg.ColumnDimensions),
	}
	c.alloc()
	return c, nil
}

func (c *Connections) alloc() {
	numColumns := c.columns.Size()
	numCells := numColumns * c.cfg.CellsPerColumn
	c.proximal = make([]column, numColumns)
	c.stats = ColumnStats{
		BoostFactors:         make([]float64, numColumns),
		OverlapDutyCycles:    make([]float64, numColumns),
		ActiveDutyCycles:     make([]float64, numColumns),
		MinOverlapDutyCycles: make([]float64, numColumns),
		MinActiveDutyCycles:  make([]float64, numColumns),
	}
	for i := range c.stats.BoostFactors {
		c.stats.BoostFactors[i] = 1
	}
	c.cellSegments = make([][]SegmentID, numCells)
	c.receptors = make([][]SynapseID, numCells)
}

// Config returns the configuration.
func (c *Connections) Config() Config { return c.cfg }

// Random returns the shared PRNG.
func (c *Connections) Random() *Random { return c.rnd }

// InputTopology returns the input space topology.
func (c *Connections) InputTopology() Topology { return c.inputs }

// ColumnTopology returns the column space topology.
func (c *Connections) ColumnTopology() Topology { return c.columns }

// NumInputs returns the size of the input space.
func (c *Connections) NumInputs() int { return c.inputs.Size() }

// NumColumns returns the number of columns.
func (c *Connections) NumColumns() int { return c.columns.Size() }

// NumCells returns the number of cells.
func (c *Connections) NumCells() int { return len(c.cellSegments) }

// CellsPerColumn returns the number of cells per column.
func (c *Connections) CellsPerColumn() int { return c.cfg.CellsPerColumn }

// ColumnOfCell returns the column owning cell.
func (c *Connections) ColumnOfCell(cell int) int { return cell / c.cfg.CellsPerColumn }

// CellsOfColumn returns the half-open cell range [first, end) of column.
func (c *Connections) CellsOfColumn(column int) (first, end int) {
	first = column * c.cfg.CellsPerColumn
	return first, first + c.cfg.CellsPerColumn
}

// Stats returns the per-column statistics. The slices are live.
func (c *Connections) Stats() *ColumnStats { return &c.stats }

// TemporalState returns the live per-step Temporal Memory state.
func (c *Connections) TemporalState() *TemporalState { return &c.step }

// Potential returns the sorted potential pool of column. Read-only.
func (c *Connections) Potential(column int) []int { return c.proximal[column].potential }

// Permanences returns the permanences aligned with Potential. Read-only.
func (c *Connections) Permanences(column int) []float64 { return c.proximal[column].perms }

// Connected returns the connected subset of the potential pool. Read-only.
func (c *Connections) Connected(column int) []int { return c.proximal[column].connected }

// SetPotential replaces the potential pool of column and zeroes its
// permanences. pool is copied and sorted.
func (c *Connections) SetPotential(col int, pool []int) {
	p := append([]int(nil), pool...)
	slices.Sort(p)
	c.proximal[col] = column{potential: p, perms: make([]float64, len(p))}
}

// SetPermanences stores perms (aligned with the potential pool) for column.
// Values at or below SynPermTrimThreshold become zero, all values are clipped
// to [SynPermMin, SynPermMax], and the connected subset is recomputed.
func (c *Connections) SetPermanences(column int, perms []float64) {
	col := &c.proximal[column]
	if len(col.perms) != len(col.potential) {
		col.perms = make([]float64, len(col.potential))
	}
	rules := c.cfg.ProximalRules()
	col.connected = col.connected[:0]
	for i := range col.potential {
		p := rules.Clip(perms[i])
		col.perms[i] = p
		if p >= c.cfg.SynPermConnected {
			col.connected = append(col.connected, col.potential[i])
		}
	}
}

// SPIteration returns the number of Spatial Pooler steps.
func (c *Connections) SPIteration() int { return c.spIteration }

// SPLearnIteration returns the number of learning Spatial Pooler steps.
func (c *Connections) SPLearnIteration() int { return c.spLearnIteration }

// AdvanceSPIteration increments the Spatial Pooler counters.
func (c *Connections) AdvanceSPIteration(learn bool) {
	c.spIteration++
	if learn {
		c.spLearnIteration++
	}
}

// InhibitionRadius returns the current inhibition radius.
func (c *Connections) InhibitionRadius() int { return c.inhibitionRadius }

// SetInhibitionRadius stores the inhibition radius.
func (c *Connections) SetInhibitionRadius(r int) { c.inhibitionRadius = r }
