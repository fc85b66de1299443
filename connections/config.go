package connections

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is the sentinel wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError describes a rejected configuration parameter.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Config holds every parameter of the Spatial Pooler and Temporal Memory.
type Config struct {
	// Topology.
	InputDimensions  []int
	ColumnDimensions []int
	CellsPerColumn   int

	// Proximal (Spatial Pooler) parameters.
	PotentialRadius            int // -1 selects the whole input space
	PotentialPct               float64
	GlobalInhibition           bool
	LocalAreaDensity           float64 // <= 0 selects NumActiveColumnsPerInhArea
	NumActiveColumnsPerInhArea float64
	MaxInhibitionDensity       float64
	StimulusThreshold          float64
	SynPermInactiveDec         float64
	SynPermActiveInc           float64
	SynPermConnected           float64
	SynPermBelowStimulusInc    float64
	SynPermTrimThreshold       float64
	SynPermMin                 float64
	SynPermMax                 float64
	InitialSynapseConnsPct     float64
	MinPctOverlapDutyCycles    float64
	MinPctActiveDutyCycles     float64
	DutyCyclePeriod            int
	MaxBoost                   float64
	UpdatePeriod               int
	WrapAround                 bool

	// Distal (Temporal Memory) parameters.
	ActivationThreshold       int
	MinThreshold              int
	MaxNewSynapseCount        int
	MaxSynapsesPerSegment     int
	MaxSegmentsPerCell        int
	InitialPermanence         float64
	ConnectedPermanence       float64
	PermanenceIncrement       float64
	PermanenceDecrement       float64
	PredictedSegmentDecrement float64

	// Seed initializes the shared PRNG.
	Seed int64
}

// DefaultConfig returns the reference parameter set for the given topology.
func DefaultConfig(inputDimensions, columnDimensions []int) Config {
	numColumns := 1
	for _, d := range columnDimensions {
		numColumns *= d
	}
	return Config{
		InputDimensions:  append([]int(nil), inputDimensions...),
		ColumnDimensions: append([]int(nil), columnDimensions...),
		CellsPerColumn:   32,

		PotentialRadius:            15,
		PotentialPct:               0.75,
		GlobalInhibition:           true,
		LocalAreaDensity:           -1,
		NumActiveColumnsPerInhArea: math.Max(1, math.Round(0.02*float64(numColumns))),
		MaxInhibitionDensity:       0.5,
		StimulusThreshold:          5,
		SynPermInactiveDec:         0.008,
		SynPermActiveInc:           0.05,
		SynPermConnected:           0.10,
		SynPermBelowStimulusInc:    0.01,
		SynPermTrimThreshold:       0.05,
		SynPermMin:                 0,
		SynPermMax:                 1,
		InitialSynapseConnsPct:     0.5,
		MinPctOverlapDutyCycles:    0.001,
		MinPctActiveDutyCycles:     0.001,
		DutyCyclePeriod:            1000,
		MaxBoost:                   10,
		UpdatePeriod:               50,
		WrapAround:                 true,

		ActivationThreshold:       10,
		MinThreshold:              9,
		MaxNewSynapseCount:        20,
		MaxSynapsesPerSegment:     225,
		MaxSegmentsPerCell:        225,
		InitialPermanence:         0.21,
		ConnectedPermanence:       0.5,
		PermanenceIncrement:       0.10,
		PermanenceDecrement:       0.10,
		PredictedSegmentDecrement: 0.1,

		Seed: 42,
	}
}

// NumInputs returns the size of the input space.
func (c Config) NumInputs() int { return product(c.InputDimensions) }

// NumColumns returns the number of columns.
func (c Config) NumColumns() int { return product(c.ColumnDimensions) }

// NumCells returns the number of cells.
func (c Config) NumCells() int { return c.NumColumns() * c.CellsPerColumn }

// Validate checks every parameter. Invalid configurations are rejected, never clamped.
func (c Config) Validate() error {
	if err := validateDims("InputDimensions", c.InputDimensions); err != nil {
		return err
	}
	if err := validateDims("ColumnDimensions", c.ColumnDimensions); err != nil {
		return err
	}
	if c.CellsPerColumn < 1 {
		return &ConfigError{"CellsPerColumn", c.CellsPerColumn, "must be at least 1"}
	}
	if c.PotentialRadius == 0 || c.PotentialRadius < -1 {
		return &ConfigError{"PotentialRadius", c.PotentialRadius, "must be positive or -1"}
	}
	if c.PotentialPct <= 0 || c.PotentialPct > 1 {
		return &ConfigError{"PotentialPct", c.PotentialPct, "must be in (0, 1]"}
	}
	if c.NumActiveColumnsPerInhArea <= 0 && (c.LocalAreaDensity <= 0 || c.LocalAreaDensity > 0.5) {
		return &ConfigError{"NumActiveColumnsPerInhArea", c.NumActiveColumnsPerInhArea,
			"active column target is zero; set it or a LocalAreaDensity in (0, 0.5]"}
	}
	if c.LocalAreaDensity > 0.5 {
		return &ConfigError{"LocalAreaDensity", c.LocalAreaDensity, "must not exceed 0.5"}
	}
	if c.MaxInhibitionDensity <= 0 || c.MaxInhibitionDensity > 1 {
		return &ConfigError{"MaxInhibitionDensity", c.MaxInhibitionDensity, "must be in (0, 1]"}
	}
	if c.StimulusThreshold < 0 {
		return &ConfigError{"StimulusThreshold", c.StimulusThreshold, "must not be negative"}
	}
	if c.SynPermMin < 0 || c.SynPermMax > 1 || c.SynPermMin >= c.SynPermMax {
		return &ConfigError{"SynPermMax", c.SynPermMax, "permanence bounds must satisfy 0 <= min < max <= 1"}
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"SynPermInactiveDec", c.SynPermInactiveDec},
		{"SynPermActiveInc", c.SynPermActiveInc},
		{"SynPermConnected", c.SynPermConnected},
		{"SynPermBelowStimulusInc", c.SynPermBelowStimulusInc},
		{"SynPermTrimThreshold", c.SynPermTrimThreshold},
		{"InitialSynapseConnsPct", c.InitialSynapseConnsPct},
		{"MinPctOverlapDutyCycles", c.MinPctOverlapDutyCycles},
		{"MinPctActiveDutyCycles", c.MinPctActiveDutyCycles},
		{"InitialPermanence", c.InitialPermanence},
		{"ConnectedPermanence", c.ConnectedPermanence},
		{"PermanenceIncrement", c.PermanenceIncrement},
		{"PermanenceDecrement", c.PermanenceDecrement},
		{"PredictedSegmentDecrement", c.PredictedSegmentDecrement},
	} {
		if p.value < 0 || p.value > 1 || math.IsNaN(p.value) {
			return &ConfigError{p.name, p.value, "must be in [0, 1]"}
		}
	}
	if c.SynPermConnected > c.SynPermMax {
		return &ConfigError{"SynPermConnected", c.SynPermConnected, "exceeds SynPermMax"}
	}
	if c.SynPermTrimThreshold >= c.SynPermConnected {
		return &ConfigError{"SynPermTrimThreshold", c.SynPermTrimThreshold,
			"must be below SynPermConnected or connected synapses are trimmed to zero"}
	}
	if c.DutyCyclePeriod < 1 {
		return &ConfigError{"DutyCyclePeriod", c.DutyCyclePeriod, "must be at least 1"}
	}
	if c.UpdatePeriod < 1 {
		return &ConfigError{"UpdatePeriod", c.UpdatePeriod, "must be at least 1"}
	}
	if c.MaxBoost < 0 {
		return &ConfigError{"MaxBoost", c.MaxBoost, "must not be negative"}
	}
	if c.ActivationThreshold < 1 {
		return &ConfigError{"ActivationThreshold", c.ActivationThreshold, "must be at least 1"}
	}
	if c.MinThreshold < 1 {
		return &ConfigError{"MinThreshold", c.MinThreshold, "must be at least 1"}
	}
	if c.MaxNewSynapseCount < 1 {
		return &ConfigError{"MaxNewSynapseCount", c.MaxNewSynapseCount, "must be at least 1"}
	}
	if c.MaxSynapsesPerSegment < 1 {
		return &ConfigError{"MaxSynapsesPerSegment", c.MaxSynapsesPerSegment, "must be at least 1"}
	}
	if c.MaxSegmentsPerCell < 1 {
		return &ConfigError{"MaxSegmentsPerCell", c.MaxSegmentsPerCell, "must be at least 1"}
	}
	return nil
}

func validateDims(field string, dims []int) error {
	if len(dims) == 0 {
		return &ConfigError{field, dims, "must not be empty"}
	}
	for _, d := range dims {
		if d < 1 {
			return &ConfigError{field, dims, "every dimension must be positive"}
		}
	}
	return nil
}

func product(dims []int) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
