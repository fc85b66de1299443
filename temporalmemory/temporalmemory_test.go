package temporalmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/testutil"
)

func testConfig() connections.Config {
	cfg := connections.DefaultConfig([]int{64}, []int{128})
	cfg.CellsPerColumn = 8
	cfg.ActivationThreshold = 8
	cfg.MinThreshold = 6
	cfg.MaxNewSynapseCount = 20
	cfg.MaxSynapsesPerSegment = 32
	cfg.InitialPermanence = 0.21
	cfg.ConnectedPermanence = 0.5
	cfg.PermanenceIncrement = 0.1
	cfg.PermanenceDecrement = 0.1
	cfg.PredictedSegmentDecrement = 0
	return cfg
}

func buildMemory(t *testing.T, cfg connections.Config, opts ...Option) *TemporalMemory {
	t.Helper()
	conn, err := connections.New(cfg, nil)
	require.NoError(t, err)
	tm, err := New(conn, opts...)
	require.NoError(t, err)
	return tm
}

var (
	seqA = testutil.Range(0, 10)
	seqB = testutil.Range(20, 30)
	seqC = testutil.Range(40, 50)
)

func TestNewRejectsColumnMismatch(t *testing.T) {
	conn, err := connections.New(testConfig(), nil)
	require.NoError(t, err)

	_, err = New(conn, WithExpectedColumns(64))
	assert.ErrorIs(t, err, connections.ErrInvalidConfig)

	var cfgErr *connections.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ColumnDimensions", cfgErr.Field)

	_, err = New(conn, WithExpectedColumns(128))
	assert.NoError(t, err)
}

func TestComputeRejectsOutOfRangeColumns(t *testing.T) {
	tm := buildMemory(t, testConfig())

	_, err := tm.Compute(context.Background(), []int{3, 128}, true)
	var rangeErr *ColumnRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 128, rangeErr.Column)

	_, err = tm.Compute(context.Background(), []int{-1}, true)
	assert.ErrorIs(t, err, ErrColumnOutOfRange)
}

func TestFirstStepBursts(t *testing.T) {
	tm := buildMemory(t, testConfig())

	cycle, err := tm.Compute(context.Background(), []int{5, 2, 2}, true)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 5}, cycle.ActiveColumns)
	assert.Equal(t, []int{2, 5}, cycle.BurstingColumns)
	assert.Equal(t, append(testutil.Range(16, 24), testutil.Range(40, 48)...), cycle.ActiveCells)
	require.Len(t, cycle.WinnerCells, 2)
	assert.Equal(t, []int{2, 5}, testutil.Columns(cycle.WinnerCells, 8))
	assert.Empty(t, cycle.PredictiveCells)
	assert.Equal(t, 1.0, cycle.Anomaly)
	assert.Zero(t, tm.Connections().NumSegments())
}

func TestLearnsSequence(t *testing.T) {
	tm := buildMemory(t, testConfig())
	ctx := context.Background()

	var last [3]*Cycle
	for range 30 {
		for i, pattern := range [][]int{seqA, seqB, seqC} {
			cycle, err := tm.Compute(ctx, pattern, true)
			require.NoError(t, err)
			last[i] = cycle
		}
	}

	assert.Equal(t, seqB, last[0].PredictedColumns(8))
	assert.Equal(t, seqC, last[1].PredictedColumns(8))
	assert.Equal(t, seqA, last[2].PredictedColumns(8))
	for _, cycle := range last {
		assert.Empty(t, cycle.BurstingColumns)
		assert.Len(t, cycle.ActiveCells, 10)
		assert.Equal(t, cycle.ActiveCells, cycle.WinnerCells)
		assert.Zero(t, cycle.Anomaly)
	}
}

func TestPredictionWithoutLearning(t *testing.T) {
	tm := buildMemory(t, testConfig())
	ctx := context.Background()

	for range 20 {
		for _, pattern := range [][]int{seqA, seqB, seqC} {
			_, err := tm.Compute(ctx, pattern, true)
			require.NoError(t, err)
		}
	}
	segments, synapses := tm.Connections().NumSegments(), tm.Connections().NumSynapses()

	tm.Reset()
	cycle, err := tm.Compute(ctx, seqA, false)
	require.NoError(t, err)
	assert.Equal(t, seqA, cycle.BurstingColumns)
	assert.Equal(t, seqB, cycle.PredictedColumns(8))

	cycle, err = tm.Compute(ctx, seqB, false)
	require.NoError(t, err)
	assert.Empty(t, cycle.BurstingColumns)
	assert.Equal(t, seqC, cycle.PredictedColumns(8))

	assert.Equal(t, segments, tm.Connections().NumSegments())
	assert.Equal(t, synapses, tm.Connections().NumSynapses())
}

func TestResetClearsPrediction(t *testing.T) {
	tm := buildMemory(t, testConfig())
	ctx := context.Background()

	for range 20 {
		for _, pattern := range [][]int{seqA, seqB} {
			_, err := tm.Compute(ctx, pattern, true)
			require.NoError(t, err)
		}
	}
	_, err := tm.Compute(ctx, seqA, true)
	require.NoError(t, err)
	require.NotEmpty(t, tm.PredictiveCells())

	tm.Reset()
	assert.Empty(t, tm.PredictiveCells())
	assert.Empty(t, tm.ActiveCells())
	assert.Empty(t, tm.WinnerCells())

	cycle, err := tm.Compute(ctx, seqB, true)
	require.NoError(t, err)
	assert.Equal(t, seqB, cycle.BurstingColumns)
	assert.Equal(t, 1.0, cycle.Anomaly)
}

func TestDeterminism(t *testing.T) {
	rng := testutil.NewRNG(9)
	var patterns [][]int
	for range 6 {
		patterns = append(patterns, rng.SparseSDR(128, 12))
	}

	run := func() []*Cycle {
		tm := buildMemory(t, testConfig())
		var cycles []*Cycle
		for i := range 60 {
			cycle, err := tm.Compute(context.Background(), patterns[i%len(patterns)], true)
			require.NoError(t, err)
			cycles = append(cycles, cycle)
		}
		return cycles
	}
	assert.Equal(t, run(), run())
}

func TestPunishesWrongPrediction(t *testing.T) {
	cfg := testConfig()
	cfg.PredictedSegmentDecrement = 0.05
	tm := buildMemory(t, cfg)
	ctx := context.Background()
	conn := tm.Connections()

	for range 10 {
		for _, pattern := range [][]int{seqA, seqB} {
			_, err := tm.Compute(ctx, pattern, true)
			require.NoError(t, err)
		}
	}
	tm.Reset()
	_, err := tm.Compute(ctx, seqA, true)
	require.NoError(t, err)

	predicted := conn.TemporalState().MatchingSegments
	require.NotEmpty(t, predicted)
	before := totalPermanence(conn, predicted)

	_, err = tm.Compute(ctx, seqC, true)
	require.NoError(t, err)
	assert.Less(t, totalPermanence(conn, predicted), before)
}

func totalPermanence(conn *connections.Connections, segs []connections.SegmentID) float64 {
	var sum float64
	for _, seg := range segs {
		if !conn.SegmentAlive(seg) {
			continue
		}
		for _, id := range conn.SynapsesOfSegment(seg) {
			sum += conn.Synapse(id).Permanence
		}
	}
	return sum
}

func TestSegmentWithoutSynapsesIsDestroyed(t *testing.T) {
	tm := buildMemory(t, testConfig())
	conn := tm.Connections()

	seg := conn.CreateSegment(0)
	conn.CreateSynapse(seg, 20, 0.05)
	conn.CreateSynapse(seg, 21, 0.05)

	state := conn.TemporalState()
	state.ActiveCells = []int{30}
	state.WinnerCells = []int{30}
	state.MatchingSegments = []connections.SegmentID{seg}
	state.NumActivePotential = make([]int32, conn.SegmentCapacity())

	cycle, err := tm.Compute(context.Background(), []int{0}, true)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, cycle.WinnerCells)
	assert.False(t, conn.SegmentAlive(seg))
	assert.Zero(t, conn.NumSegments())
	assert.Zero(t, conn.NumSynapses())
}

func TestSynapsesPerSegmentAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSynapsesPerSegment = 12
	tm := buildMemory(t, cfg)
	rng := testutil.NewRNG(4)

	for range 200 {
		_, err := tm.Compute(context.Background(), rng.SparseSDR(128, 15), true)
		require.NoError(t, err)
	}
	conn := tm.Connections()
	for seg := range conn.SegmentCapacity() {
		id := connections.SegmentID(seg)
		if !conn.SegmentAlive(id) {
			continue
		}
		syns := conn.SynapsesOfSegment(id)
		assert.NotEmpty(t, syns)
		assert.LessOrEqual(t, len(syns), 12)
		for _, s := range syns {
			p := conn.Synapse(s).Permanence
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestAnomaly(t *testing.T) {
	assert.Zero(t, Anomaly(nil, []int{1}))
	assert.Equal(t, 1.0, Anomaly([]int{1, 2}, nil))
	assert.Equal(t, 0.5, Anomaly([]int{1, 2}, []int{2, 3}))
	assert.Zero(t, Anomaly([]int{1, 2}, []int{1, 2, 3}))
}

func TestComputeHonorsCanceledContext(t *testing.T) {
	tm := buildMemory(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tm.Compute(ctx, seqA, true)
	assert.ErrorIs(t, err, context.Canceled)
}
