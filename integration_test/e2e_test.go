package htmgo_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/htmgo"
	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/blobstore"
	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/distributed"
	"github.com/hupe1980/htmgo/distributed/redisnode"
	"github.com/hupe1980/htmgo/homeostasis"
	"github.com/hupe1980/htmgo/partition"
	"github.com/hupe1980/htmgo/persistence"
	"github.com/hupe1980/htmgo/testutil"
)

func e2eConfig() connections.Config {
	cfg := connections.DefaultConfig([]int{64}, []int{96})
	cfg.CellsPerColumn = 4
	cfg.PotentialRadius = -1
	cfg.PotentialPct = 0.5
	cfg.NumActiveColumnsPerInhArea = 8
	cfg.StimulusThreshold = 1
	cfg.DutyCyclePeriod = 20
	cfg.UpdatePeriod = 10
	cfg.ActivationThreshold = 5
	cfg.MinThreshold = 4
	cfg.MaxNewSynapseCount = 8
	return cfg
}

func redisCluster(t *testing.T, mr *miniredis.Miniredis, numColumns int) *distributed.Cluster {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ccfg := distributed.DefaultClusterConfig()
	ccfg.SystemName = "e2e"
	ccfg.Nodes = []string{"node-a", "node-b"}
	ccfg.PartitionsPerNode = 3
	ccfg.Balanced = true

	cluster, err := distributed.NewCluster(ccfg, numColumns, func(sys *actor.System) partition.Resolver {
		return redisnode.Resolver(sys, rdb, nil, nil)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cluster.Shutdown(context.Background()) })
	return cluster
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := e2eConfig()
	mr := miniredis.RunT(t)
	cluster := redisCluster(t, mr, cfg.NumColumns())
	store := blobstore.NewCachingStore(blobstore.NewLocalStore(t.TempDir()), 0)
	metrics := &htmgo.BasicMetricsCollector{}

	opts := []htmgo.Option{
		htmgo.WithStability(30, homeostasis.WithCyclesToWaitOnChange(5)),
		htmgo.WithSnapshotStore(store, persistence.WithRetention(2)),
	}
	region, err := htmgo.NewRegion(cfg, append(opts,
		htmgo.WithColumnSink(cluster.Memory),
		htmgo.WithMetricsCollector(metrics),
		htmgo.WithWorkers(2),
	)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Close() })

	inputs := testutil.NewRNG(21).DenseSDRs(4, 64, 14)
	var last *htmgo.Result
	for i := range 120 {
		last, err = region.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		if i%40 == 39 {
			_, err := region.Save(ctx)
			require.NoError(t, err)
		}
	}

	// Every column active in the last step was mirrored with its current state.
	got, err := cluster.Memory.BatchGet(ctx, last.ActiveColumns)
	require.NoError(t, err)
	require.Len(t, got, len(last.ActiveColumns))
	for _, col := range last.ActiveColumns {
		assert.Equal(t, region.Connections().ColumnRecord(col), got[col])
	}
	n, err := cluster.Memory.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, len(last.ActiveColumns))
	assert.NotEmpty(t, mr.Keys())

	// Retention keeps the two newest of three snapshots.
	mgr, err := persistence.NewManager(store)
	require.NoError(t, err)
	names, err := mgr.Snapshots(ctx, region.RunID())
	require.NoError(t, err)
	assert.Len(t, names, 2)

	resumed, err := htmgo.OpenRegion(ctx, region.RunID(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resumed.Close() })

	for i := 120; i < 140; i++ {
		want, err := region.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		have, err := resumed.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		assert.Equal(t, want, have)
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.SnapshotCount)
	assert.Zero(t, stats.SnapshotErrors)
	assert.Equal(t, int64(140), stats.Stages["spatial-pooler"].Count)
}

func TestEndToEndPartitionOutage(t *testing.T) {
	ctx := context.Background()
	cfg := e2eConfig()
	mr := miniredis.RunT(t)
	cluster := redisCluster(t, mr, cfg.NumColumns())

	region, err := htmgo.NewRegion(cfg, htmgo.WithColumnSink(cluster.Memory))
	require.NoError(t, err)

	mr.Close()

	input := testutil.NewRNG(1).DenseSDR(64, 14)
	_, err = region.Compute(ctx, input, true)
	require.ErrorIs(t, err, partition.ErrPartitionUnavailable)

	var unavailable *partition.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, []string{"node-a", "node-b"}, unavailable.Node)

	// Inference does not write to the sink.
	res, err := region.Compute(ctx, input, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ActiveColumns)
}

func TestEndToEndColumnStore(t *testing.T) {
	ctx := context.Background()
	cfg := e2eConfig()
	mr := miniredis.RunT(t)
	cluster := redisCluster(t, mr, cfg.NumColumns())
	store := blobstore.NewMemoryStore()

	local, err := htmgo.NewRegion(cfg)
	require.NoError(t, err)
	opts := []htmgo.Option{
		htmgo.WithColumnStore(cluster.Memory),
		htmgo.WithSnapshotStore(store),
	}
	region, err := htmgo.NewRegion(cfg, opts...)
	require.NoError(t, err)

	inputs := testutil.NewRNG(33).DenseSDRs(5, 64, 14)
	for i := range 80 {
		want, err := local.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		got, err := region.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		require.Equal(t, want, got, "step %d", i)
	}

	n, err := cluster.Memory.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.NumColumns(), n)

	_, err = region.Save(ctx)
	require.NoError(t, err)

	// Clobber the partitions; reopening republishes the snapshot state.
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, redisnode.Clear(ctx, rdb, "e2e", cluster.Map))
	resumed, err := htmgo.OpenRegion(ctx, region.RunID(), opts...)
	require.NoError(t, err)

	n, err = cluster.Memory.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.NumColumns(), n)

	for i := 80; i < 100; i++ {
		want, err := local.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		got, err := resumed.Compute(ctx, inputs[i%len(inputs)], true)
		require.NoError(t, err)
		assert.Equal(t, want, got, "step %d", i)
	}

	mr.Close()
	_, err = resumed.Compute(ctx, inputs[0], false)
	require.ErrorIs(t, err, partition.ErrPartitionUnavailable)
}
