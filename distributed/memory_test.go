package distributed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/codec"
	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/resource"
	"github.com/hupe1980/htmgo/partition"
	"github.com/hupe1980/htmgo/spatialpooler"
	"github.com/hupe1980/htmgo/testutil"
)

func testConfig() connections.Config {
	cfg := connections.DefaultConfig([]int{32}, []int{40})
	cfg.CellsPerColumn = 2
	cfg.PotentialRadius = -1
	cfg.PotentialPct = 0.5
	cfg.NumActiveColumnsPerInhArea = 4
	cfg.StimulusThreshold = 1
	return cfg
}

func newLocalMemory(t *testing.T, numColumns int, opts ...Option) (*Memory, *actor.System) {
	t.Helper()
	sys := actor.NewSystem("htm-test")
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	pmap, err := partition.NewMap([]string{"local-a", "local-b"}, numColumns, 3,
		partition.WithResolver(SpawnLocal(sys, nil, nil)))
	require.NoError(t, err)
	return NewMemory(pmap, opts...), sys
}

func TestSetGet(t *testing.T) {
	mem, _ := newLocalMemory(t, 40)
	ctx := context.Background()

	rec := connections.ColumnRecord{Index: 33, Potential: []int{1, 2}, Permanences: []float64{0.3, 0.7}, BoostFactor: 1}
	require.NoError(t, mem.Set(ctx, rec))

	got, ok, err := mem.Get(ctx, 33)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok, err = mem.Get(ctx, 34)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = mem.Get(ctx, 40)
	assert.ErrorIs(t, err, partition.ErrKeyOutOfRange)
}

func TestBatchSetGet(t *testing.T) {
	mem, _ := newLocalMemory(t, 40, WithCodec(codec.JSON{}),
		WithResourceController(resource.NewController(resource.Config{MaxInflight: 2})))
	ctx := context.Background()

	var recs []connections.ColumnRecord
	for col := 0; col < 40; col += 3 {
		recs = append(recs, connections.ColumnRecord{Index: col, BoostFactor: float64(col)})
	}
	require.NoError(t, mem.BatchSet(ctx, recs))

	n, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(recs), n)

	got, err := mem.BatchGet(ctx, testutil.Range(0, 40))
	require.NoError(t, err)
	assert.Len(t, got, len(recs))
	for _, rec := range recs {
		assert.Equal(t, rec.BoostFactor, got[rec.Index].BoostFactor)
	}
	_, ok := got[1]
	assert.False(t, ok)
}

func TestPublishRestore(t *testing.T) {
	cfg := testConfig()
	src, err := connections.New(cfg, nil)
	require.NoError(t, err)
	sp, err := spatialpooler.New(src)
	require.NoError(t, err)

	rng := testutil.NewRNG(5)
	for range 30 {
		_, err := sp.Compute(context.Background(), rng.DenseSDR(32, 8), true)
		require.NoError(t, err)
	}

	mem, _ := newLocalMemory(t, src.NumColumns())
	ctx := context.Background()
	require.NoError(t, Publish(ctx, mem, src, nil))

	cfg.Seed = 99
	dst, err := connections.New(cfg, nil)
	require.NoError(t, err)
	n, err := Restore(ctx, mem, dst)
	require.NoError(t, err)
	assert.Equal(t, src.NumColumns(), n)

	for col := range src.NumColumns() {
		assert.Equal(t, src.ColumnRecord(col), dst.ColumnRecord(col))
		assert.Equal(t, src.Connected(col), dst.Connected(col))
	}
}

func TestMemoryAsColumnSink(t *testing.T) {
	cfg := testConfig()
	conn, err := connections.New(cfg, nil)
	require.NoError(t, err)
	mem, _ := newLocalMemory(t, conn.NumColumns())

	sp, err := spatialpooler.New(conn, spatialpooler.WithColumnSink(mem))
	require.NoError(t, err)

	active, err := sp.Compute(context.Background(), testutil.NewRNG(1).DenseSDR(32, 10), true)
	require.NoError(t, err)
	require.NotEmpty(t, active)

	for _, col := range active {
		rec, ok, err := mem.Get(context.Background(), col)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, conn.ColumnRecord(col), rec)
	}
}

func TestTimeoutIsUnavailable(t *testing.T) {
	sys := actor.NewSystem("slow", actor.WithAskTimeout(20*time.Millisecond))
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = sys.Shutdown(context.Background())
	})

	resolver := partition.ResolverFunc(func(_ context.Context, p partition.Placement) (actor.Ref, error) {
		return sys.Spawn(ActorName(p.PartitionIndex), actor.HandlerFunc(func(context.Context, any) (any, error) {
			<-release
			return Ack{}, nil
		}))
	})
	pmap, err := partition.NewMap([]string{"remote"}, 10, 1, partition.WithResolver(resolver))
	require.NoError(t, err)
	mem := NewMemory(pmap)

	err = mem.Set(context.Background(), connections.ColumnRecord{Index: 3})
	var unavailable *partition.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 0, unavailable.Partition)
	assert.ErrorIs(t, err, partition.ErrPartitionUnavailable)
	assert.ErrorIs(t, err, actor.ErrTimeout)
}

func TestResolveFailureIsUnavailable(t *testing.T) {
	resolver := partition.ResolverFunc(func(context.Context, partition.Placement) (actor.Ref, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	})
	pmap, err := partition.NewMap([]string{"down"}, 10, 2, partition.WithResolver(resolver))
	require.NoError(t, err)

	_, err = NewMemory(pmap).BatchGet(context.Background(), []int{1, 8})
	assert.ErrorIs(t, err, partition.ErrPartitionUnavailable)
}

func TestPartitionActorRejectsForeignKeys(t *testing.T) {
	a := NewPartitionActor(partition.Placement{PartitionIndex: 2, MinKey: 10, MaxKey: 19}, nil, nil, nil)
	ctx := context.Background()

	_, err := a.Receive(ctx, SetRequest{Key: 5})
	assert.ErrorIs(t, err, partition.ErrKeyOutOfRange)

	_, err = a.Receive(ctx, BatchSetRequest{Entries: []Entry{{Key: 12}, {Key: 20}}})
	assert.ErrorIs(t, err, partition.ErrKeyOutOfRange)
	n, err := a.Receive(ctx, CountRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = a.Receive(ctx, "hello")
	assert.Error(t, err)
}

func TestNewCluster(t *testing.T) {
	cfg := DefaultClusterConfig()
	cfg.Nodes = []string{"a", "b"}
	cfg.PartitionsPerNode = 2
	cfg.Balanced = true
	cfg.Codec = codec.JSON{}

	cluster, err := NewCluster(cfg, 10, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cluster.Shutdown(context.Background()) })

	assert.Equal(t, 4, cluster.Map.Len())
	ctx := context.Background()
	require.NoError(t, cluster.Memory.BatchSet(ctx, []connections.ColumnRecord{{Index: 0}, {Index: 9}}))

	n, err := cluster.Memory.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = NewCluster(ClusterConfig{}, 10, nil, nil)
	assert.Error(t, err)

	cfg.Nodes = nil
	_, err = NewCluster(cfg, 10, nil, nil)
	assert.Error(t, err)
}

func TestBalancedClusterGivesRemainderToTrailingNodes(t *testing.T) {
	cfg := DefaultClusterConfig()
	cfg.Nodes = []string{"a", "b", "c"}
	cfg.PartitionsPerNode = 1
	cfg.Balanced = true

	cluster, err := NewCluster(cfg, 8, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cluster.Shutdown(context.Background()) })

	var sizes []int
	for _, p := range cluster.Map.Placements() {
		sizes = append(sizes, p.MaxKey-p.MinKey+1)
	}
	assert.Equal(t, []int{2, 3, 3}, sizes)
}

func TestPartitionStateDrivesCompute(t *testing.T) {
	cfg := testConfig()
	conn, err := connections.New(cfg, nil)
	require.NoError(t, err)
	mem, _ := newLocalMemory(t, conn.NumColumns())
	sp, err := spatialpooler.New(conn, spatialpooler.WithColumnStore(mem))
	require.NoError(t, err)
	ctx := context.Background()

	input := testutil.NewRNG(6).DenseSDR(32, 10)
	_, err = sp.Compute(ctx, input, false)
	require.NoError(t, err)
	require.Less(t, sp.Overlaps()[0], 10)

	n, err := mem.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, conn.NumColumns(), n)

	full := testutil.Range(0, 32)
	perms := make([]float64, len(full))
	for i := range perms {
		perms[i] = 1
	}
	require.NoError(t, mem.Set(ctx, connections.ColumnRecord{Index: 0, Potential: full, Permanences: perms, BoostFactor: 1}))

	after, err := sp.Compute(ctx, input, false)
	require.NoError(t, err)
	assert.Contains(t, after, 0)
	assert.Equal(t, 10, sp.Overlaps()[0])

	_, err = sp.Compute(ctx, input, true)
	require.NoError(t, err)
	assert.Equal(t, full, conn.Potential(0))
	assert.Len(t, conn.Connected(0), 32)
}

func TestDistributedPoolerMatchesLocal(t *testing.T) {
	cfg := testConfig()
	cfg.DutyCyclePeriod = 10
	cfg.UpdatePeriod = 5
	cfg.MinPctOverlapDutyCycles = 0.5
	inputs := testutil.NewRNG(7).DenseSDRs(8, 32, 8)

	newPooler := func(opts ...spatialpooler.Option) *spatialpooler.SpatialPooler {
		conn, err := connections.New(cfg, nil)
		require.NoError(t, err)
		sp, err := spatialpooler.New(conn, opts...)
		require.NoError(t, err)
		return sp
	}
	mem, _ := newLocalMemory(t, cfg.NumColumns())
	local := newPooler()
	remote := newPooler(spatialpooler.WithColumnStore(mem), spatialpooler.WithWorkers(4))
	ctx := context.Background()

	for i := range 60 {
		want, err := local.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		got, err := remote.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		require.Equal(t, want, got, "step %d", i)
	}

	stored, err := mem.BatchGet(ctx, testutil.Range(0, cfg.NumColumns()))
	require.NoError(t, err)
	for col := range cfg.NumColumns() {
		assert.Equal(t, local.Connections().Permanences(col), stored[col].Permanences, "column %d", col)
		assert.Equal(t, local.Connections().Permanences(col), remote.Connections().Permanences(col), "column %d", col)
	}
}

func TestOverlapsRequireEveryColumn(t *testing.T) {
	mem, _ := newLocalMemory(t, 40)
	ctx := context.Background()
	rules := testConfig().ProximalRules()

	require.NoError(t, mem.Set(ctx, connections.ColumnRecord{Index: 3, Potential: []int{1, 2}, Permanences: []float64{0.5, 0.5}}))
	_, err := mem.Overlaps(ctx, []int{1, 2}, rules)
	assert.ErrorIs(t, err, ErrColumnNotStored)

	_, err = mem.AdaptColumns(ctx, []int{3, 4}, []int{1}, rules)
	assert.ErrorIs(t, err, ErrColumnNotStored)

	got, ok, err := mem.Get(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.5}, got.Permanences)
}

func TestPartitionActorComputes(t *testing.T) {
	p := partition.Placement{PartitionIndex: 1, MinKey: 10, MaxKey: 19}
	a := NewPartitionActor(p, nil, nil, nil)
	ctx := context.Background()

	cfg := testConfig()
	cfg.StimulusThreshold = 2
	rules := cfg.ProximalRules()

	for _, rec := range []connections.ColumnRecord{
		{Index: 10, Potential: []int{0, 1, 2}, Permanences: []float64{0.5, 0.5, 0.01}},
		{Index: 12, Potential: []int{1, 5}, Permanences: []float64{0.5, 0.3}},
	} {
		value, err := codec.Default.Marshal(rec)
		require.NoError(t, err)
		_, err = a.Receive(ctx, SetRequest{Key: rec.Index, Value: value})
		require.NoError(t, err)
	}

	resp, err := a.Receive(ctx, OverlapRequest{Partition: 1, ActiveInputs: []int{0, 1, 2}, Rules: rules})
	require.NoError(t, err)
	assert.Equal(t, OverlapReply{Keys: []int{10, 12}, Overlaps: []int{2, 0}}, resp)

	resp, err = a.Receive(ctx, AdaptRequest{Partition: 1, Keys: []int{10}, ActiveInputs: []int{0}, Rules: rules})
	require.NoError(t, err)
	reply := resp.(ColumnsReply)
	require.Len(t, reply.Entries, 1)

	var rec connections.ColumnRecord
	require.NoError(t, codec.Default.Unmarshal(reply.Entries[0].Value, &rec))
	want := []float64{0.5 + cfg.SynPermActiveInc, 0.5 - cfg.SynPermInactiveDec, 0}
	assert.InDeltaSlice(t, want, rec.Permanences, 1e-12)

	resp, err = a.Receive(ctx, BumpRequest{Partition: 1, Keys: []int{12}, Rules: rules})
	require.NoError(t, err)
	require.NoError(t, codec.Default.Unmarshal(resp.(ColumnsReply).Entries[0].Value, &rec))
	assert.InDeltaSlice(t, []float64{0.5 + cfg.SynPermBelowStimulusInc, 0.3 + cfg.SynPermBelowStimulusInc}, rec.Permanences, 1e-12)

	_, err = a.Receive(ctx, BumpRequest{Partition: 1, Keys: []int{25}, Rules: rules})
	assert.ErrorIs(t, err, partition.ErrKeyOutOfRange)
}
