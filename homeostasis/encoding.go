package homeostasis

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hupe1980/htmgo/internal/binenc"
)

const schemaVersion = 1

// Encode writes the controller state to w. The callback and logger are not
// part of the state.
func (c *Controller) Encode(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := binenc.NewWriter(w)
	e.Section("homeostasis")
	e.Uvarint(schemaVersion)

	e.Section("params")
	e.Int(c.minCycles)
	e.Int(c.requiredStable)
	e.Float64(c.threshold)
	e.Int(c.historySize)

	e.Section("state")
	e.Int(c.cycle)
	e.Int(c.totalInputs)
	e.Bool(c.stable)
	e.Bool(c.suppressed)
	e.Int(c.changes)

	e.Section("patterns")
	e.Uvarint(uint64(len(c.order)))
	for _, key := range c.order {
		p := c.patterns[key]
		e.Uint64(p.key)
		e.Ints(p.lastOutput)
		e.Ints(p.counts[:])
		e.Int(p.stableCycles)
		e.Int(p.seen)
		e.Int(p.sumActive)
	}

	e.Section("recent")
	e.Uvarint(uint64(len(c.recent)))
	for _, fp := range c.recent {
		e.Uint64(fp)
	}
	e.Int(c.recentPos)

	return e.Err()
}

// Decode replaces the controller state with one written by Encode. The
// configured callback and logger are kept.
func (c *Controller) Decode(r io.Reader) error {
	d := binenc.NewReader(r)
	d.Section("homeostasis")
	if v := d.Uvarint(); d.Err() == nil && v != schemaVersion {
		return fmt.Errorf("unsupported homeostasis schema version %d", v)
	}

	next := &Controller{}
	d.Section("params")
	next.minCycles = d.Int()
	next.requiredStable = d.Int()
	next.threshold = d.Float64()
	next.historySize = d.Int()
	if err := d.Err(); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}

	d.Section("state")
	next.cycle = d.Int()
	next.totalInputs = d.Int()
	next.stable = d.Bool()
	next.suppressed = d.Bool()
	next.changes = d.Int()

	d.Section("patterns")
	n := d.Uvarint()
	if err := d.Err(); err != nil {
		return err
	}
	if n > binenc.MaxSliceLen {
		return fmt.Errorf("%w: %d patterns", binenc.ErrLengthOverflow, n)
	}
	next.patterns = make(map[uint64]*pattern, n)
	next.order = make([]uint64, 0, n)
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		p := &pattern{key: d.Uint64()}
		p.lastOutput = d.Ints()
		counts := d.Ints()
		if d.Err() == nil && len(counts) != countWindow {
			return fmt.Errorf("pattern %d: expected %d counts, got %d", i, countWindow, len(counts))
		}
		copy(p.counts[:], counts)
		p.stableCycles = d.Int()
		p.seen = d.Int()
		p.sumActive = d.Int()
		next.patterns[p.key] = p
		next.order = append(next.order, p.key)
	}

	d.Section("recent")
	m := d.Uvarint()
	if err := d.Err(); err != nil {
		return err
	}
	if m > uint64(next.historySize) {
		return fmt.Errorf("recent history of %d exceeds size %d", m, next.historySize)
	}
	next.recent = make([]uint64, 0, next.historySize)
	for i := uint64(0); i < m; i++ {
		next.recent = append(next.recent, d.Uint64())
	}
	next.recentPos = d.Int()
	if err := d.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.minCycles = next.minCycles
	c.requiredStable = next.requiredStable
	c.threshold = next.threshold
	c.historySize = next.historySize
	c.cycle = next.cycle
	c.totalInputs = next.totalInputs
	c.stable = next.stable
	c.suppressed = next.suppressed
	c.changes = next.changes
	c.patterns = next.patterns
	c.order = next.order
	c.recent = next.recent
	c.recentPos = next.recentPos
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c *Controller) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Controller) UnmarshalBinary(data []byte) error {
	return c.Decode(bytes.NewReader(data))
}
