package connections

import "fmt"

// ColumnRecord is the column-indexed state of a single column. It is the unit
// exchanged with partitioned column storage.
type ColumnRecord struct {
	Index               int       `json:"index"`
	Potential           []int     `json:"potential"`
	Permanences         []float64 `json:"permanences"`
	BoostFactor         float64   `json:"boost_factor"`
	OverlapDutyCycle    float64   `json:"overlap_duty_cycle"`
	ActiveDutyCycle     float64   `json:"active_duty_cycle"`
	MinOverlapDutyCycle float64   `json:"min_overlap_duty_cycle"`
	MinActiveDutyCycle  float64   `json:"min_active_duty_cycle"`
}

// ColumnRecord returns a copy of column's state.
func (c *Connections) ColumnRecord(col int) ColumnRecord {
	p := c.proximal[col]
	return ColumnRecord{
		Index:               col,
		Potential:           append([]int(nil), p.potential...),
		Permanences:         append([]float64(nil), p.perms...),
		BoostFactor:         c.stats.BoostFactors[col],
		OverlapDutyCycle:    c.stats.OverlapDutyCycles[col],
		ActiveDutyCycle:     c.stats.ActiveDutyCycles[col],
		MinOverlapDutyCycle: c.stats.MinOverlapDutyCycles[col],
		MinActiveDutyCycle:  c.stats.MinActiveDutyCycles[col],
	}
}

// ApplyColumnRecord overwrites a column's state with rec.
func (c *Connections) ApplyColumnRecord(rec ColumnRecord) error {
	if err := c.ApplyColumnPermanences(rec); err != nil {
		return err
	}
	c.stats.BoostFactors[rec.Index] = rec.BoostFactor
	c.stats.OverlapDutyCycles[rec.Index] = rec.OverlapDutyCycle
	c.stats.ActiveDutyCycles[rec.Index] = rec.ActiveDutyCycle
	c.stats.MinOverlapDutyCycles[rec.Index] = rec.MinOverlapDutyCycle
	c.stats.MinActiveDutyCycles[rec.Index] = rec.MinActiveDutyCycle
	return nil
}

// ApplyColumnPermanences overwrites only the potential pool and permanences
// of a column with those of rec. Duty cycles and boost stay local.
func (c *Connections) ApplyColumnPermanences(rec ColumnRecord) error {
	if rec.Index < 0 || rec.Index >= c.NumColumns() {
		return fmt.Errorf("column %d out of range [0, %d)", rec.Index, c.NumColumns())
	}
	if err := c.checkPool(rec.Index, rec.Potential, rec.Permanences); err != nil {
		return err
	}
	c.proximal[rec.Index] = column{
		potential: append([]int(nil), rec.Potential...),
		perms:     make([]float64, len(rec.Potential)),
	}
	c.SetPermanences(rec.Index, rec.Permanences)
	return nil
}

// checkPool validates a potential pool and its permanences for column col.
func (c *Connections) checkPool(col int, potential []int, perms []float64) error {
	if len(potential) != len(perms) {
		return fmt.Errorf("column %d: %d potential inputs but %d permanences",
			col, len(potential), len(perms))
	}
	for _, in := range potential {
		if in < 0 || in >= c.NumInputs() {
			return fmt.Errorf("column %d: input %d out of range [0, %d)", col, in, c.NumInputs())
		}
	}
	return nil
}
