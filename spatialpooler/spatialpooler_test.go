package spatialpooler

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/testutil"
)

func testConfig() connections.Config {
	cfg := connections.DefaultConfig([]int{64}, []int{256})
	cfg.CellsPerColumn = 4
	cfg.PotentialRadius = -1
	cfg.PotentialPct = 0.5
	cfg.NumActiveColumnsPerInhArea = 10
	cfg.StimulusThreshold = 2
	cfg.DutyCyclePeriod = 20
	cfg.UpdatePeriod = 5
	cfg.MinPctOverlapDutyCycles = 0.1
	cfg.MinPctActiveDutyCycles = 0.1
	return cfg
}

func buildPooler(t *testing.T, cfg connections.Config, opts ...Option) *SpatialPooler {
	t.Helper()
	conn, err := connections.New(cfg, connections.NewRandom(cfg.Seed))
	require.NoError(t, err)
	sp, err := New(conn, opts...)
	require.NoError(t, err)
	return sp
}

func TestInitialization(t *testing.T) {
	cfg := testConfig()
	sp := buildPooler(t, cfg)
	conn := sp.Connections()

	for col := range conn.NumColumns() {
		assert.Len(t, conn.Potential(col), 32)
		assert.GreaterOrEqual(t, float64(len(conn.Connected(col))), cfg.StimulusThreshold)
		for _, p := range conn.Permanences(col) {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
	}
	assert.Equal(t, 256, sp.InhibitionRadius())
	assert.Equal(t, 64, sp.InputWidth())
	assert.Equal(t, 256, sp.OutputWidth())
}

func TestInitializationRejectsUnreachableThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.PotentialRadius = 1
	cfg.StimulusThreshold = 10
	conn, err := connections.New(cfg, nil)
	require.NoError(t, err)

	_, err = New(conn)
	assert.ErrorIs(t, err, connections.ErrInvalidConfig)
}

func TestComputeRejectsWrongInputSize(t *testing.T) {
	sp := buildPooler(t, testConfig())
	_, err := sp.Compute(context.Background(), make([]int, 10), true)

	var sizeErr *InputSizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 64, sizeErr.Expected)
	assert.ErrorIs(t, err, ErrInputSize)
}

func TestActiveColumnBounds(t *testing.T) {
	cfg := testConfig()
	sp := buildPooler(t, cfg)
	rng := testutil.NewRNG(1)

	for range 50 {
		active, err := sp.Compute(context.Background(), rng.DenseSDR(64, 12), true)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(active), int(cfg.NumActiveColumnsPerInhArea))
		assert.IsIncreasing(t, active)

		overlaps := sp.Overlaps()
		for _, col := range active {
			assert.GreaterOrEqual(t, float64(overlaps[col]), cfg.StimulusThreshold)
		}
	}
}

func TestEmptyInputActivatesNothing(t *testing.T) {
	sp := buildPooler(t, testConfig())
	active, err := sp.Compute(context.Background(), make([]int, 64), true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestComputeWithoutLearningIsIdempotent(t *testing.T) {
	sp := buildPooler(t, testConfig())
	rng := testutil.NewRNG(2)
	for range 20 {
		_, err := sp.Compute(context.Background(), rng.DenseSDR(64, 12), true)
		require.NoError(t, err)
	}

	input := rng.DenseSDR(64, 12)
	first, err := sp.Compute(context.Background(), input, false)
	require.NoError(t, err)
	for range 5 {
		again, err := sp.Compute(context.Background(), input, false)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPermanencesStayInRange(t *testing.T) {
	cfg := testConfig()
	cfg.SynPermActiveInc = 0.3
	cfg.SynPermInactiveDec = 0.3
	sp := buildPooler(t, cfg)
	rng := testutil.NewRNG(3)

	for range 100 {
		_, err := sp.Compute(context.Background(), rng.DenseSDR(64, 20), true)
		require.NoError(t, err)
	}
	conn := sp.Connections()
	for col := range conn.NumColumns() {
		for _, p := range conn.Permanences(col) {
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestDeterminism(t *testing.T) {
	cfg := testConfig()
	inputs := testutil.NewRNG(4).DenseSDRs(60, 64, 12)

	run := func() [][]int {
		sp := buildPooler(t, cfg)
		var out [][]int
		for _, in := range inputs {
			active, err := sp.Compute(context.Background(), in, true)
			require.NoError(t, err)
			out = append(out, active)
		}
		return out
	}

	a, b := run(), run()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("active columns differ between identical runs (-a +b):\n%s", diff)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	for _, global := range []bool{true, false} {
		cfg := testConfig()
		cfg.GlobalInhibition = global
		cfg.PotentialRadius = 8
		inputs := testutil.NewRNG(5).DenseSDRs(40, 64, 12)

		serial := buildPooler(t, cfg)
		parallel := buildPooler(t, cfg, WithWorkers(4))
		for i, in := range inputs {
			want, err := serial.Compute(context.Background(), in, true)
			require.NoError(t, err)
			got, err := parallel.Compute(context.Background(), in, true)
			require.NoError(t, err)
			require.Equal(t, want, got, "global=%v step=%d", global, i)
		}

		a, err := serial.Connections().MarshalBinary()
		require.NoError(t, err)
		b, err := parallel.Connections().MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, a, b, "global=%v", global)
	}
}

func TestLocalInhibition(t *testing.T) {
	tests := []struct {
		name string
		wrap bool
		lad  float64
	}{
		{"wrap around", true, -1},
		{"bounded", false, -1},
		{"bounded with local area density", false, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.GlobalInhibition = false
			cfg.PotentialRadius = 8
			cfg.WrapAround = tt.wrap
			if tt.lad > 0 {
				cfg.LocalAreaDensity = tt.lad
				cfg.NumActiveColumnsPerInhArea = 0
			}
			sp := buildPooler(t, cfg)
			require.Less(t, sp.InhibitionRadius(), 256)
			if tt.lad > 0 {
				assert.Equal(t, tt.lad, sp.density())
			}

			rng := testutil.NewRNG(6)
			for range 10 {
				active, err := sp.Compute(context.Background(), rng.DenseSDR(64, 32), false)
				require.NoError(t, err)
				require.NotEmpty(t, active)
				assert.IsIncreasing(t, active)

				density := sp.density()
				for _, col := range active {
					hood := sp.neighborhoods[col]
					stronger := 0
					for _, n := range hood {
						if sp.boosted[n] > sp.boosted[col] {
							stronger++
						}
					}
					assert.Less(t, stronger, int(0.5+density*float64(len(hood))), "column %d", col)
					assert.GreaterOrEqual(t, float64(sp.overlaps[col]), cfg.StimulusThreshold)
				}
			}

			first, middle := len(sp.neighborhoods[0]), len(sp.neighborhoods[128])
			if tt.wrap {
				assert.Equal(t, middle, first)
			} else {
				assert.Less(t, first, middle)
			}
		})
	}
}

func TestGlobalLocalAreaDensity(t *testing.T) {
	cfg := testConfig()
	cfg.LocalAreaDensity = 0.05
	cfg.NumActiveColumnsPerInhArea = 0
	sp := buildPooler(t, cfg)

	want := int(cfg.LocalAreaDensity*256 + 0.5)
	assert.Equal(t, 13, want)
	assert.Equal(t, want, sp.globalWinnerCount())
	assert.Equal(t, 0.05, sp.density())

	rng := testutil.NewRNG(11)
	for range 5 {
		active, err := sp.Compute(context.Background(), rng.DenseSDR(64, 40), false)
		require.NoError(t, err)
		assert.Len(t, active, want)
	}
}

func TestGlobalWinnerCountIsCappedByMaxDensity(t *testing.T) {
	cfg := testConfig()
	cfg.NumActiveColumnsPerInhArea = 200
	cfg.MaxInhibitionDensity = 0.25
	sp := buildPooler(t, cfg)
	assert.Equal(t, 64, sp.globalWinnerCount())
}

func TestGlobalTieBreakPrefersHigherIndex(t *testing.T) {
	cfg := testConfig()
	cfg.NumActiveColumnsPerInhArea = 3
	sp := buildPooler(t, cfg)

	for i := range sp.overlaps {
		sp.overlaps[i] = 0
		sp.boosted[i] = 0
	}
	for _, col := range []int{3, 7, 11, 200, 250} {
		sp.overlaps[col] = 5
		sp.boosted[col] = 5
	}
	sp.overlaps[1], sp.boosted[1] = 6, 6

	assert.Equal(t, []int{1, 200, 250}, sp.inhibitColumnsGlobal())
}

func TestStimulusFloorBeatsBoost(t *testing.T) {
	cfg := testConfig()
	cfg.StimulusThreshold = 3
	sp := buildPooler(t, cfg)

	for i := range sp.overlaps {
		sp.overlaps[i] = 0
		sp.boosted[i] = 0
	}
	sp.overlaps[4], sp.boosted[4] = 4, 4
	sp.overlaps[9], sp.boosted[9] = 0, 50 // boosted but below threshold

	assert.Equal(t, []int{4}, sp.inhibitColumnsGlobal())
}

type recordingSink struct {
	records []connections.ColumnRecord
}

func (s *recordingSink) StoreColumns(_ context.Context, records []connections.ColumnRecord) error {
	s.records = append(s.records, records...)
	return nil
}

func TestColumnSinkReceivesActiveColumns(t *testing.T) {
	sink := &recordingSink{}
	sp := buildPooler(t, testConfig(), WithColumnSink(sink))

	active, err := sp.Compute(context.Background(), testutil.NewRNG(7).DenseSDR(64, 16), true)
	require.NoError(t, err)
	require.NotEmpty(t, active)

	stored := map[int]bool{}
	for _, rec := range sink.records {
		stored[rec.Index] = true
		assert.Equal(t, sp.Connections().ColumnRecord(rec.Index), rec)
	}
	for _, col := range active {
		assert.True(t, stored[col])
	}

	sink.records = nil
	_, err = sp.Compute(context.Background(), testutil.NewRNG(7).DenseSDR(64, 16), false)
	require.NoError(t, err)
	assert.Empty(t, sink.records)
}

type fakeController struct {
	suppressed bool
	calls      int
	lastActive []int
}

func (f *fakeController) Compute(_, active []int) bool {
	f.calls++
	f.lastActive = active
	return false
}

func (f *fakeController) BoostingSuppressed() bool { return f.suppressed }

func TestControllerObservesOutput(t *testing.T) {
	ctrl := &fakeController{}
	sp := buildPooler(t, testConfig(), WithStabilityController(ctrl))

	active, err := sp.Compute(context.Background(), testutil.NewRNG(8).DenseSDR(64, 16), true)
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.calls)
	assert.Equal(t, active, ctrl.lastActive)
}

func TestSuppressedBoostingKeepsFactorsAtOne(t *testing.T) {
	ctrl := &fakeController{}
	cfg := testConfig()
	cfg.MinPctActiveDutyCycles = 0.5
	sp := buildPooler(t, cfg, WithStabilityController(ctrl))
	rng := testutil.NewRNG(9)

	for range 30 {
		_, err := sp.Compute(context.Background(), rng.DenseSDR(64, 16), true)
		require.NoError(t, err)
	}
	boosted := false
	for _, b := range sp.BoostFactors() {
		if b > 1 {
			boosted = true
		}
	}
	require.True(t, boosted, "boosting should be active before suppression")

	ctrl.suppressed = true
	_, err := sp.Compute(context.Background(), rng.DenseSDR(64, 16), true)
	require.NoError(t, err)
	for _, b := range sp.BoostFactors() {
		assert.Equal(t, 1.0, b)
	}
}

func TestStripUnlearnedColumns(t *testing.T) {
	sp := buildPooler(t, testConfig())
	active, err := sp.Compute(context.Background(), testutil.NewRNG(10).DenseSDR(64, 16), true)
	require.NoError(t, err)
	require.NotEmpty(t, active)

	candidates := append([]int{}, active...)
	never := -1
	for col := range sp.Connections().NumColumns() {
		if sp.Connections().Stats().ActiveDutyCycles[col] == 0 {
			never = col
			break
		}
	}
	require.NotEqual(t, -1, never)
	candidates = append(candidates, never)
	assert.Equal(t, active, sp.StripUnlearnedColumns(candidates))
}

func TestComputeHonorsCanceledContext(t *testing.T) {
	sp := buildPooler(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sp.Compute(ctx, make([]int, 64), true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sp.Connections().SPIteration())
}

// mapStore keeps column records in a map and computes on them the way a
// partition does.
type mapStore struct {
	numColumns int
	records    map[int]connections.ColumnRecord
	err        error
	adapted    int
}

func newMapStore(numColumns int) *mapStore {
	return &mapStore{numColumns: numColumns, records: map[int]connections.ColumnRecord{}}
}

func (s *mapStore) StoreColumns(_ context.Context, records []connections.ColumnRecord) error {
	if s.err != nil {
		return s.err
	}
	for _, rec := range records {
		rec.Potential = slices.Clone(rec.Potential)
		rec.Permanences = slices.Clone(rec.Permanences)
		s.records[rec.Index] = rec
	}
	return nil
}

func (s *mapStore) Overlaps(_ context.Context, activeInputs []int, rules connections.ProximalRules) ([]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	isActive := func(in int) bool {
		_, ok := slices.BinarySearch(activeInputs, in)
		return ok
	}
	out := make([]int, s.numColumns)
	for col, rec := range s.records {
		out[col] = rules.Overlap(rec.Potential, rec.Permanences, isActive)
	}
	return out, nil
}

func (s *mapStore) AdaptColumns(_ context.Context, cols, activeInputs []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error) {
	isActive := func(in int) bool {
		_, ok := slices.BinarySearch(activeInputs, in)
		return ok
	}
	s.adapted += len(cols)
	return s.update(cols, func(rec *connections.ColumnRecord) {
		rules.Adapt(rec.Potential, rec.Permanences, isActive)
		rules.Normalize(rec.Permanences)
	})
}

func (s *mapStore) BumpColumns(_ context.Context, cols []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error) {
	return s.update(cols, func(rec *connections.ColumnRecord) {
		rules.Bump(rec.Permanences)
		rules.Normalize(rec.Permanences)
	})
}

func (s *mapStore) update(cols []int, fn func(*connections.ColumnRecord)) ([]connections.ColumnRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]connections.ColumnRecord, 0, len(cols))
	for _, col := range cols {
		rec, ok := s.records[col]
		if !ok {
			return nil, errors.New("column not stored")
		}
		rec.Permanences = slices.Clone(rec.Permanences)
		fn(&rec)
		s.records[col] = rec
		out = append(out, rec)
	}
	return out, nil
}

func TestColumnStoreMatchesLocalPooler(t *testing.T) {
	cfg := testConfig()
	cfg.MinPctOverlapDutyCycles = 0.5
	inputs := testutil.NewRNG(12).DenseSDRs(50, 64, 14)

	local := buildPooler(t, cfg)
	store := newMapStore(256)
	remote := buildPooler(t, cfg, WithColumnStore(store))

	for i, in := range inputs {
		want, err := local.Compute(context.Background(), in, true)
		require.NoError(t, err)
		got, err := remote.Compute(context.Background(), in, true)
		require.NoError(t, err)
		require.Equal(t, want, got, "step %d", i)
	}
	assert.Len(t, store.records, 256)
	assert.Positive(t, store.adapted)

	a, err := local.Connections().MarshalBinary()
	require.NoError(t, err)
	b, err := remote.Connections().MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for col := range 256 {
		want := local.Connections().ColumnRecord(col)
		assert.Equal(t, want.Permanences, store.records[col].Permanences, "column %d", col)
	}
}

func TestColumnStoreStateDrivesCompute(t *testing.T) {
	store := newMapStore(256)
	sp := buildPooler(t, testConfig(), WithColumnStore(store))
	ctx := context.Background()
	input := testutil.NewRNG(13).DenseSDR(64, 16)

	_, err := sp.Compute(ctx, input, false)
	require.NoError(t, err)
	localBefore := sp.Connections().ColumnRecord(0)

	full := testutil.Range(0, 64)
	perms := make([]float64, 64)
	for i := range perms {
		perms[i] = 1
	}
	store.records[0] = connections.ColumnRecord{Index: 0, Potential: full, Permanences: perms, BoostFactor: 1}

	active, err := sp.Compute(ctx, input, false)
	require.NoError(t, err)
	assert.Equal(t, 16, sp.Overlaps()[0])
	assert.Contains(t, active, 0)
	assert.Equal(t, localBefore, sp.Connections().ColumnRecord(0))

	active, err = sp.Compute(ctx, input, true)
	require.NoError(t, err)
	require.Contains(t, active, 0)
	assert.Equal(t, full, sp.Connections().Potential(0))
	assert.Len(t, sp.Connections().Connected(0), 64)
}

func TestColumnStoreFailureLeavesPoolerUnchanged(t *testing.T) {
	store := newMapStore(256)
	sp := buildPooler(t, testConfig(), WithColumnStore(store))
	ctx := context.Background()

	_, err := sp.Compute(ctx, testutil.NewRNG(14).DenseSDR(64, 16), true)
	require.NoError(t, err)
	before, err := sp.Connections().MarshalBinary()
	require.NoError(t, err)

	store.err = errors.New("partition down")
	_, err = sp.Compute(ctx, testutil.NewRNG(15).DenseSDR(64, 16), true)
	require.ErrorIs(t, err, store.err)

	after, err := sp.Connections().MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, sp.Connections().SPIteration())
}

func TestAttachedPoolerPublishesOnRequest(t *testing.T) {
	src := buildPooler(t, testConfig())
	store := newMapStore(256)
	sp := Attach(src.Connections(), WithColumnStore(store))

	_, err := sp.Compute(context.Background(), make([]int, 64), false)
	require.NoError(t, err)
	assert.Empty(t, store.records)

	require.NoError(t, sp.PublishColumns(context.Background()))
	require.Len(t, store.records, 256)
	assert.Equal(t, src.Connections().ColumnRecord(17), store.records[17])
}
