package connections

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/htmgo/internal/binenc"
)

// Schema layout, in order:
//
//	config     every Config field
//	random     PRNG state
//	counters   sp iteration, sp learn iteration, inhibition radius,
//	           tm iteration, next segment ordinal, next synapse ordinal
//	columns    per column: potential pool, permanences
//	stats      boost factors, overlap/active duty cycles, min duty cycles
//	segments   arena length, per slot: alive, cell, ordinal, last used,
//	           synapse list; free list
//	synapses   arena length, per slot: alive, segment, presynaptic cell,
//	           permanence, ordinal; free list
//	step       active cells, winner cells, active segments, matching
//	           segments, active potential counts
//
// Connected subsets, per-cell segment lists and receptor lists are derived
// on decode.
const schemaVersion = 1

// Encode writes c to w.
func (c *Connections) Encode(w io.Writer) error {
	e := binenc.NewWriter(w)
	e.Section("connections")
	e.Uvarint(schemaVersion)

	e.Section("config")
	encodeConfig(e, c.cfg)

	e.Section("random")
	state, err := c.rnd.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode random state: %w", err)
	}
	e.Bytes(state)

	e.Section("counters")
	e.Int(c.spIteration)
	e.Int(c.spLearnIteration)
	e.Int(c.inhibitionRadius)
	e.Uvarint(c.tmIteration)
	e.Uvarint(c.nextSegOrd)
	e.Uvarint(c.nextSynOrd)

	e.Section("columns")
	e.Uvarint(uint64(len(c.proximal)))
	for _, col := range c.proximal {
		e.Ints(col.potential)
		e.Float64s(col.perms)
	}

	e.Section("stats")
	e.Float64s(c.stats.BoostFactors)
	e.Float64s(c.stats.OverlapDutyCycles)
	e.Float64s(c.stats.ActiveDutyCycles)
	e.Float64s(c.stats.MinOverlapDutyCycles)
	e.Float64s(c.stats.MinActiveDutyCycles)

	e.Section("segments")
	e.Uvarint(uint64(len(c.segments)))
	for _, s := range c.segments {
		e.Bool(s.alive)
		e.Varint(int64(s.cell))
		e.Uvarint(s.ordinal)
		e.Uvarint(s.lastUsed)
		e.Int32s(synapseIDs(s.synapses))
	}
	e.Int32s(segmentIDs(c.freeSegments))

	e.Section("synapses")
	e.Uvarint(uint64(len(c.synapses)))
	for _, s := range c.synapses {
		e.Bool(s.alive)
		e.Varint(int64(s.segment))
		e.Varint(int64(s.presynaptic))
		e.Float64(s.permanence)
		e.Uvarint(s.ordinal)
	}
	e.Int32s(synapseIDs(c.freeSynapses))

	e.Section("step")
	e.Ints(c.step.ActiveCells)
	e.Ints(c.step.WinnerCells)
	e.Int32s(segmentIDs(c.step.ActiveSegments))
	e.Int32s(segmentIDs(c.step.MatchingSegments))
	e.Int32s(c.step.NumActivePotential)

	return e.Err()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c *Connections) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a Connections store written by Encode.
func Decode(r io.Reader) (*Connections, error) {
	d := binenc.NewReader(r)
	d.Section("connections")
	if v := d.Uvarint(); d.Err() == nil && v != schemaVersion {
		return nil, fmt.Errorf("unsupported connections schema version %d", v)
	}

	d.Section("config")
	cfg := decodeConfig(d)
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d.Section("random")
	state := d.Bytes()
	if err := d.Err(); err != nil {
		return nil, err
	}
	rnd := NewRandom(cfg.Seed)
	if err := rnd.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("decode random state: %w", err)
	}

	c, err := New(cfg, rnd)
	if err != nil {
		return nil, err
	}

	d.Section("counters")
	c.spIteration = d.Int()
	c.spLearnIteration = d.Int()
	c.inhibitionRadius = d.Int()
	c.tmIteration = d.Uvarint()
	c.nextSegOrd = d.Uvarint()
	c.nextSynOrd = d.Uvarint()

	d.Section("columns")
	if n := int(d.Uvarint()); d.Err() == nil && n != c.NumColumns() {
		return nil, fmt.Errorf("snapshot holds %d columns, config %d", n, c.NumColumns())
	}
	for i := range c.proximal {
		potential := d.Ints()
		perms := d.Float64s()
		if d.Err() != nil {
			break
		}
		if err := c.checkPool(i, potential, perms); err != nil {
			return nil, err
		}
		c.proximal[i] = column{potential: potential, perms: make([]float64, len(potential))}
		c.SetPermanences(i, perms)
	}

	d.Section("stats")
	for _, dst := range []*[]float64{
		&c.stats.BoostFactors,
		&c.stats.OverlapDutyCycles,
		&c.stats.ActiveDutyCycles,
		&c.stats.MinOverlapDutyCycles,
		&c.stats.MinActiveDutyCycles,
	} {
		v := d.Float64s()
		if d.Err() == nil && len(v) != c.NumColumns() {
			return nil, fmt.Errorf("column statistics hold %d entries, expected %d", len(v), c.NumColumns())
		}
		*dst = v
	}

	d.Section("segments")
	c.segments = make([]segment, int(d.Uvarint()))
	for i := range c.segments {
		s := &c.segments[i]
		s.alive = d.Bool()
		s.cell = int32(d.Varint())
		s.ordinal = d.Uvarint()
		s.lastUsed = d.Uvarint()
		s.synapses = toSynapseIDs(d.Int32s())
		if d.Err() != nil {
			break
		}
	}
	c.freeSegments = toSegmentIDs(d.Int32s())

	d.Section("synapses")
	c.synapses = make([]synapse, int(d.Uvarint()))
	for i := range c.synapses {
		s := &c.synapses[i]
		s.alive = d.Bool()
		s.segment = SegmentID(d.Varint())
		s.presynaptic = int32(d.Varint())
		s.permanence = d.Float64()
		s.ordinal = d.Uvarint()
		if d.Err() != nil {
			break
		}
	}
	c.freeSynapses = toSynapseIDs(d.Int32s())

	d.Section("step")
	c.step.ActiveCells = d.Ints()
	c.step.WinnerCells = d.Ints()
	c.step.ActiveSegments = toSegmentIDs(d.Int32s())
	c.step.MatchingSegments = toSegmentIDs(d.Int32s())
	c.step.NumActivePotential = d.Int32s()
	if err := d.Err(); err != nil {
		return nil, err
	}

	if err := c.rebuildIndexes(); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Connections) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// rebuildIndexes derives per-cell segment lists (ordered by creation) and
// receptor lists from the arenas, validating references on the way.
func (c *Connections) rebuildIndexes() error {
	numCells := c.NumCells()
	for id := range c.segments {
		s := &c.segments[id]
		if !s.alive {
			continue
		}
		if int(s.cell) < 0 || int(s.cell) >= numCells {
			return fmt.Errorf("segment %d: cell %d out of range", id, s.cell)
		}
		c.cellSegments[s.cell] = append(c.cellSegments[s.cell], SegmentID(id))
		c.numSegments++
		for _, syn := range s.synapses {
			if int(syn) < 0 || int(syn) >= len(c.synapses) || !c.synapses[syn].alive {
				return fmt.Errorf("segment %d: dangling synapse %d", id, syn)
			}
		}
	}
	for _, segs := range c.cellSegments {
		slices.SortFunc(segs, func(a, b SegmentID) int {
			return cmp.Compare(c.segments[a].ordinal, c.segments[b].ordinal)
		})
	}
	for id := range c.synapses {
		s := &c.synapses[id]
		if !s.alive {
			continue
		}
		if int(s.presynaptic) < 0 || int(s.presynaptic) >= numCells {
			return fmt.Errorf("synapse %d: presynaptic cell %d out of range", id, s.presynaptic)
		}
		if int(s.segment) < 0 || int(s.segment) >= len(c.segments) || !c.segments[s.segment].alive {
			return fmt.Errorf("synapse %d: dangling segment %d", id, s.segment)
		}
		c.receptors[s.presynaptic] = append(c.receptors[s.presynaptic], SynapseID(id))
		c.numSynapses++
	}
	return c.checkStep()
}

// checkStep validates the references held by the per-step Temporal Memory
// state.
func (c *Connections) checkStep() error {
	numCells := c.NumCells()
	for name, cells := range map[string][]int{
		"active": c.step.ActiveCells,
		"winner": c.step.WinnerCells,
	} {
		for _, cell := range cells {
			if cell < 0 || cell >= numCells {
				return fmt.Errorf("%s cell %d out of range [0, %d)", name, cell, numCells)
			}
		}
	}
	for name, segs := range map[string][]SegmentID{
		"active":   c.step.ActiveSegments,
		"matching": c.step.MatchingSegments,
	} {
		for _, seg := range segs {
			if int(seg) < 0 || int(seg) >= len(c.segments) || !c.segments[seg].alive {
				return fmt.Errorf("%s segment %d does not exist", name, seg)
			}
		}
	}
	if n := len(c.step.NumActivePotential); n != 0 && n > len(c.segments) {
		return fmt.Errorf("step holds %d potential counts for %d segments", n, len(c.segments))
	}
	return nil
}

func encodeConfig(e *binenc.Writer, cfg Config) {
	e.Ints(cfg.InputDimensions)
	e.Ints(cfg.ColumnDimensions)
	e.Int(cfg.CellsPerColumn)
	e.Int(cfg.PotentialRadius)
	e.Float64(cfg.PotentialPct)
	e.Bool(cfg.GlobalInhibition)
	e.Float64(cfg.LocalAreaDensity)
	e.Float64(cfg.NumActiveColumnsPerInhArea)
	e.Float64(cfg.MaxInhibitionDensity)
	e.Float64(cfg.StimulusThreshold)
	e.Float64(cfg.SynPermInactiveDec)
	e.Float64(cfg.SynPermActiveInc)
	e.Float64(cfg.SynPermConnected)
	e.Float64(cfg.SynPermBelowStimulusInc)
	e.Float64(cfg.SynPermTrimThreshold)
	e.Float64(cfg.SynPermMin)
	e.Float64(cfg.SynPermMax)
	e.Float64(cfg.InitialSynapseConnsPct)
	e.Float64(cfg.MinPctOverlapDutyCycles)
	e.Float64(cfg.MinPctActiveDutyCycles)
	e.Int(cfg.DutyCyclePeriod)
	e.Float64(cfg.MaxBoost)
	e.Int(cfg.UpdatePeriod)
	e.Bool(cfg.WrapAround)
	e.Int(cfg.ActivationThreshold)
	e.Int(cfg.MinThreshold)
	e.Int(cfg.MaxNewSynapseCount)
	e.Int(cfg.MaxSynapsesPerSegment)
	e.Int(cfg.MaxSegmentsPerCell)
	e.Float64(cfg.InitialPermanence)
	e.Float64(cfg.ConnectedPermanence)
	e.Float64(cfg.PermanenceIncrement)
	e.Float64(cfg.PermanenceDecrement)
	e.Float64(cfg.PredictedSegmentDecrement)
	e.Varint(cfg.Seed)
}

func decodeConfig(d *binenc.Reader) Config {
	var cfg Config
	cfg.InputDimensions = d.Ints()
	cfg.ColumnDimensions = d.Ints()
	cfg.CellsPerColumn = d.Int()
	cfg.PotentialRadius = d.Int()
	cfg.PotentialPct = d.Float64()
	cfg.GlobalInhibition = d.Bool()
	cfg.LocalAreaDensity = d.Float64()
	cfg.NumActiveColumnsPerInhArea = d.Float64()
	cfg.MaxInhibitionDensity = d.Float64()
	cfg.StimulusThreshold = d.Float64()
	cfg.SynPermInactiveDec = d.Float64()
	cfg.SynPermActiveInc = d.Float64()
	cfg.SynPermConnected = d.Float64()
	cfg.SynPermBelowStimulusInc = d.Float64()
	cfg.SynPermTrimThreshold = d.Float64()
	cfg.SynPermMin = d.Float64()
	cfg.SynPermMax = d.Float64()
	cfg.InitialSynapseConnsPct = d.Float64()
	cfg.MinPctOverlapDutyCycles = d.Float64()
	cfg.MinPctActiveDutyCycles = d.Float64()
	cfg.DutyCyclePeriod = d.Int()
	cfg.MaxBoost = d.Float64()
	cfg.UpdatePeriod = d.Int()
	cfg.WrapAround = d.Bool()
	cfg.ActivationThreshold = d.Int()
	cfg.MinThreshold = d.Int()
	cfg.MaxNewSynapseCount = d.Int()
	cfg.MaxSynapsesPerSegment = d.Int()
	cfg.MaxSegmentsPerCell = d.Int()
	cfg.InitialPermanence = d.Float64()
	cfg.ConnectedPermanence = d.Float64()
	cfg.PermanenceIncrement = d.Float64()
	cfg.PermanenceDecrement = d.Float64()
	cfg.PredictedSegmentDecrement = d.Float64()
	cfg.Seed = d.Varint()
	return cfg
}

func synapseIDs(ids []SynapseID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func segmentIDs(ids []SegmentID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func toSynapseIDs(v []int32) []SynapseID {
	if len(v) == 0 {
		return nil
	}
	out := make([]SynapseID, len(v))
	for i, x := range v {
		out[i] = SynapseID(x)
	}
	return out
}

func toSegmentIDs(v []int32) []SegmentID {
	if len(v) == 0 {
		return nil
	}
	out := make([]SegmentID, len(v))
	for i, x := range v {
		out[i] = SegmentID(x)
	}
	return out
}
