package homeostasis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/spatialpooler"
	"github.com/hupe1980/htmgo/testutil"
)

type transition struct {
	stable      bool
	numPatterns int
	avgActive   float64
	totalInputs int
}

type recorder struct {
	events []transition
}

func (r *recorder) callback(isStable bool, numPatterns int, avgActive float64, totalInputs int) {
	r.events = append(r.events, transition{isStable, numPatterns, avgActive, totalInputs})
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		min  int
		opts []Option
	}{
		{"negative min cycles", -1, nil},
		{"zero wait", 10, []Option{WithCyclesToWaitOnChange(0)}},
		{"zero threshold", 10, []Option{WithSimilarityThreshold(0)}},
		{"threshold above one", 10, []Option{WithSimilarityThreshold(1.5)}},
		{"empty history", 10, []Option{WithHistorySize(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.min, nil, tt.opts...)
			assert.ErrorIs(t, err, connections.ErrInvalidConfig)
		})
	}
}

func TestBecomesStableOnceAfterMinCycles(t *testing.T) {
	rec := &recorder{}
	c, err := New(10, rec.callback, WithCyclesToWaitOnChange(3))
	require.NoError(t, err)

	input := []int{1, 5, 9}
	output := []int{2, 4, 6, 8, 10}

	for cycle := 1; cycle < 10; cycle++ {
		assert.False(t, c.Compute(input, output), "cycle %d", cycle)
		assert.False(t, c.BoostingSuppressed())
	}
	assert.True(t, c.Compute(input, output))
	assert.True(t, c.BoostingSuppressed())

	for range 20 {
		assert.True(t, c.Compute(input, output))
	}

	require.Len(t, rec.events, 1)
	assert.Equal(t, transition{true, 1, 5, 10}, rec.events[0])

	stats := c.Stats()
	assert.Equal(t, 30, stats.Cycle)
	assert.Equal(t, 1, stats.NumPatterns)
	assert.Equal(t, 1, stats.DistinctRecentOutputs)
	assert.True(t, stats.Stable)
	assert.True(t, stats.Suppressed)
}

func TestEveryPatternMustSettle(t *testing.T) {
	c, err := New(0, nil, WithCyclesToWaitOnChange(3))
	require.NoError(t, err)

	a, b := []int{1}, []int{2}
	outA := []int{1, 2, 3}

	// b keeps changing its output so the controller never settles.
	for i := range 40 {
		c.Compute(a, outA)
		assert.False(t, c.Compute(b, []int{i, i + 100}))
	}
	assert.False(t, c.IsStable())
	assert.True(t, c.BoostingSuppressed())

	outB := []int{7, 8}
	stable := false
	for range 10 {
		c.Compute(a, outA)
		stable = c.Compute(b, outB)
	}
	assert.True(t, stable)
	assert.Equal(t, 2, c.Stats().NumPatterns)
}

func TestCountChangesResetStability(t *testing.T) {
	c, err := New(0, nil, WithCyclesToWaitOnChange(2))
	require.NoError(t, err)

	input := []int{3}
	long := testutil.Range(0, 100)
	longer := testutil.Range(0, 101)

	// similarity 100/101 is above threshold but the count changed
	for range 10 {
		assert.False(t, c.Compute(input, long))
		assert.False(t, c.Compute(input, longer))
	}
}

func TestStabilityIsMonotonicUntilReset(t *testing.T) {
	rec := &recorder{}
	c, err := New(0, rec.callback, WithCyclesToWaitOnChange(1))
	require.NoError(t, err)

	input := []int{1}
	for range 6 {
		c.Compute(input, []int{1, 2})
	}
	require.True(t, c.IsStable())

	assert.True(t, c.Compute(input, []int{5, 6}))
	assert.Equal(t, 1, c.Stats().ChangesAfterStable)

	c.Reset()
	assert.False(t, c.IsStable())
	assert.False(t, c.BoostingSuppressed())
	assert.Equal(t, 0, c.Stats().Cycle)

	require.Len(t, rec.events, 2)
	assert.True(t, rec.events[0].stable)
	assert.False(t, rec.events[1].stable)
}

func TestEmptyOutputsAreSimilar(t *testing.T) {
	assert.Equal(t, 1.0, similarity(nil, nil))
	assert.Equal(t, 0.0, similarity(nil, []int{1}))
	assert.Equal(t, 0.5, similarity([]int{1, 2}, []int{2, 3}))
	assert.Equal(t, 0.5, similarity([]int{1, 2, 3, 4}, []int{1, 2}))
}

func TestEncodeDecode(t *testing.T) {
	c, err := New(5, nil, WithCyclesToWaitOnChange(2), WithHistorySize(4))
	require.NoError(t, err)

	rng := testutil.NewRNG(3)
	inputs := [][]int{{1, 2}, {3, 4}, {5, 6}}
	for i := range 12 {
		c.Compute(inputs[i%3], rng.SparseSDR(50, 5))
	}

	data, err := c.MarshalBinary()
	require.NoError(t, err)

	restored, err := New(0, nil)
	require.NoError(t, err)
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, c.Stats(), restored.Stats())

	again, err := restored.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	for i := range 20 {
		out := []int{i % 3, 10}
		assert.Equal(t, c.Compute(inputs[i%3], out), restored.Compute(inputs[i%3], out))
	}
	assert.Equal(t, c.Stats(), restored.Stats())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	assert.Error(t, c.UnmarshalBinary([]byte("not a controller")))
	assert.Equal(t, 0, c.Stats().Cycle)
}

func TestSpatialPoolerConverges(t *testing.T) {
	cfg := connections.DefaultConfig([]int{64}, []int{256})
	cfg.CellsPerColumn = 1
	cfg.PotentialRadius = -1
	cfg.PotentialPct = 0.5
	cfg.NumActiveColumnsPerInhArea = 10
	cfg.StimulusThreshold = 1
	cfg.SynPermInactiveDec = 0
	cfg.DutyCyclePeriod = 20
	cfg.UpdatePeriod = 10

	rec := &recorder{}
	ctrl, err := New(100, rec.callback, WithCyclesToWaitOnChange(10))
	require.NoError(t, err)

	conn, err := connections.New(cfg, nil)
	require.NoError(t, err)
	sp, err := spatialpooler.New(conn, spatialpooler.WithStabilityController(ctrl))
	require.NoError(t, err)

	rng := testutil.NewRNG(11)
	patterns := rng.DenseSDRs(3, 64, 12)

	ctx := context.Background()
	for cycle := 0; cycle < 3000 && !ctrl.IsStable(); cycle++ {
		_, err := sp.Compute(ctx, patterns[cycle%3], true)
		require.NoError(t, err)
	}
	require.True(t, ctrl.IsStable())
	require.Len(t, rec.events, 1)
	assert.Equal(t, 3, rec.events[0].numPatterns)
	assert.GreaterOrEqual(t, ctrl.Stats().Cycle, 100)

	settled := make([][]int, 3)
	for i := range patterns {
		settled[i], err = sp.Compute(ctx, patterns[i], true)
		require.NoError(t, err)
	}
	for cycle := range 60 {
		active, err := sp.Compute(ctx, patterns[cycle%3], true)
		require.NoError(t, err)
		assert.Equal(t, settled[cycle%3], active)
	}
	for _, b := range sp.BoostFactors() {
		assert.Equal(t, 1.0, b)
	}
	assert.Zero(t, ctrl.Stats().ChangesAfterStable)
}
