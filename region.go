package htmgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/homeostasis"
	"github.com/hupe1980/htmgo/partition"
	"github.com/hupe1980/htmgo/persistence"
	"github.com/hupe1980/htmgo/spatialpooler"
	"github.com/hupe1980/htmgo/temporalmemory"
)

// Result is the outcome of one Region step. All index slices are ascending.
type Result struct {
	ActiveColumns    []int
	ActiveCells      []int
	WinnerCells      []int
	PredictiveCells  []int
	PredictedColumns []int
	BurstingColumns  []int
	// Anomaly is the fraction of active columns that were not predicted.
	Anomaly float64
	// Stable reports whether the homeostatic controller considers the
	// pooler's output stable.
	Stable bool
}

// Region assembles a spatial pooler, its homeostatic controller and a
// temporal memory over one shared Connections store.
type Region struct {
	opts   options
	logger *Logger

	conn    *connections.Connections
	hpc     *homeostasis.Controller
	sp      *spatialpooler.SpatialPooler
	tm      *temporalmemory.TemporalMemory
	tmStage *TemporalStage
	layer   *Layer
	manager *persistence.Manager

	mu sync.Mutex
}

// NewRegion creates a region from cfg. Configuration errors are returned as
// *connections.ConfigError.
func NewRegion(cfg connections.Config, opts ...Option) (*Region, error) {
	o := applyOptions(opts)
	conn, err := connections.New(cfg, nil)
	if err != nil {
		return nil, err
	}
	var manager *persistence.Manager
	if o.snapshotStore != nil {
		if manager, err = newManager(o); err != nil {
			return nil, err
		}
	}
	return build(conn, o, nil, manager)
}

// OpenRegion restores the latest snapshot of runID from the store given with
// WithSnapshotStore. Further snapshots continue the run's sequence.
func OpenRegion(ctx context.Context, runID uuid.UUID, opts ...Option) (*Region, error) {
	o := applyOptions(opts)
	o.runID = runID
	if o.snapshotStore == nil {
		return nil, ErrNoSnapshotStore
	}
	manager, err := newManager(o)
	if err != nil {
		return nil, err
	}
	logger := o.logger.WithRun(runID.String())

	snap, name, err := manager.Latest(ctx, runID)
	if err != nil {
		logger.LogRestore(ctx, name, err)
		return nil, err
	}
	r, err := build(snap.Connections, o, snap, manager)
	if err == nil && o.columnStore != nil {
		if err = r.sp.PublishColumns(ctx); err != nil {
			_ = r.Close()
			r = nil
		}
	}
	logger.LogRestore(ctx, name, err)
	return r, err
}

func newManager(o options) (*persistence.Manager, error) {
	opts := append([]persistence.Option{
		persistence.WithLogger(o.logger.Logger),
	}, o.snapshotOptions...)
	return persistence.NewManager(o.snapshotStore, opts...)
}

func build(conn *connections.Connections, o options, snap *persistence.Snapshot, manager *persistence.Manager) (*Region, error) {
	r := &Region{
		opts:    o,
		logger:  o.logger.WithRun(o.runID.String()),
		conn:    conn,
		manager: manager,
	}

	hpcOpts := append([]homeostasis.Option{
		homeostasis.WithLogger(r.logger.Logger),
	}, o.stabilityOptions...)
	hpc, err := homeostasis.New(o.minCycles, r.onStabilityChange, hpcOpts...)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := snap.RestoreHomeostasis(hpc); err != nil {
			return nil, fmt.Errorf("restore homeostasis: %w", err)
		}
	}
	r.hpc = hpc

	spOpts := []spatialpooler.Option{
		spatialpooler.WithWorkers(o.workers),
		spatialpooler.WithStabilityController(hpc),
		spatialpooler.WithLogger(r.logger.Logger),
	}
	if o.columnSink != nil {
		spOpts = append(spOpts, spatialpooler.WithColumnSink(o.columnSink))
	}
	if o.columnStore != nil {
		spOpts = append(spOpts, spatialpooler.WithColumnStore(o.columnStore))
	}
	if snap == nil {
		if r.sp, err = spatialpooler.New(conn, spOpts...); err != nil {
			return nil, err
		}
	} else {
		r.sp = spatialpooler.Attach(conn, spOpts...)
	}

	r.tm, err = temporalmemory.New(conn,
		temporalmemory.WithExpectedColumns(r.sp.OutputWidth()),
		temporalmemory.WithLogger(r.logger.Logger),
	)
	if err != nil {
		return nil, err
	}
	r.tmStage = NewTemporalStage(r.tm)

	if r.layer, err = NewLayer(r.sp, r.tmStage); err != nil {
		return nil, err
	}
	r.layer.metrics = o.metricsCollector
	return r, nil
}

func (r *Region) onStabilityChange(stable bool, numPatterns int, avgActiveColumns float64, totalInputs int) {
	r.opts.metricsCollector.RecordStability(stable)
	r.logger.LogStability(context.Background(), stable, numPatterns, avgActiveColumns, totalInputs)
	if r.opts.onStabilityChange != nil {
		r.opts.onStabilityChange(stable, numPatterns, avgActiveColumns, totalInputs)
	}
}

// Compute feeds one dense input (one entry per input bit, non-zero = active)
// through the region.
func (r *Region) Compute(ctx context.Context, input []int, learn bool) (*Result, error) {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.layer.Compute(ctx, input, learn); err != nil {
		var unavailable *partition.UnavailableError
		if errors.As(err, &unavailable) {
			r.logger.LogPartitionFailure(ctx, unavailable.Partition, unavailable.Node, unavailable.Err)
		}
		r.logger.LogCompute(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	cycle := r.tmStage.Last()
	res := &Result{
		ActiveColumns:    cycle.ActiveColumns,
		ActiveCells:      cycle.ActiveCells,
		WinnerCells:      cycle.WinnerCells,
		PredictiveCells:  cycle.PredictiveCells,
		PredictedColumns: cycle.PredictedColumns(r.conn.CellsPerColumn()),
		BurstingColumns:  cycle.BurstingColumns,
		Anomaly:          cycle.Anomaly,
		Stable:           r.hpc.IsStable(),
	}
	r.opts.metricsCollector.RecordBursting(len(res.ActiveColumns), len(res.BurstingColumns))
	r.logger.LogCompute(ctx, len(res.ActiveColumns), len(res.BurstingColumns), res.Anomaly, time.Since(start), nil)
	return res, nil
}

// Reset marks a sequence boundary. Learned connections are kept.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tm.Reset()
}

// ResetStability re-arms the homeostatic controller. Spatial pooler state is
// not touched.
func (r *Region) ResetStability() {
	r.hpc.Reset()
}

// IsStable reports whether the pooler's output has stabilized.
func (r *Region) IsStable() bool { return r.hpc.IsStable() }

// StabilityStats returns the controller statistics.
func (r *Region) StabilityStats() homeostasis.Stats { return r.hpc.Stats() }

// RunID returns the ID snapshots are stored under.
func (r *Region) RunID() uuid.UUID { return r.opts.runID }

// Layer returns the stage pipeline.
func (r *Region) Layer() *Layer { return r.layer }

// Connections returns the shared state store.
func (r *Region) Connections() *connections.Connections { return r.conn }

// SpatialPooler returns the pooler.
func (r *Region) SpatialPooler() *spatialpooler.SpatialPooler { return r.sp }

// TemporalMemory returns the temporal memory.
func (r *Region) TemporalMemory() *temporalmemory.TemporalMemory { return r.tm }

// Save stores a snapshot of the region under its run ID.
func (r *Region) Save(ctx context.Context) (persistence.SaveInfo, error) {
	if r.manager == nil {
		return persistence.SaveInfo{}, ErrNoSnapshotStore
	}
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := persistence.NewSnapshot(r.opts.runID, r.conn, r.hpc)
	if err != nil {
		return persistence.SaveInfo{}, err
	}
	info, err := r.manager.Save(ctx, snap)
	r.opts.metricsCollector.RecordSnapshot(info.Bytes, time.Since(start), err)
	r.logger.LogSnapshot(ctx, info.Name, err)
	return info, err
}

// Close releases the snapshot manager.
func (r *Region) Close() error {
	if r.manager == nil {
		return nil
	}
	return r.manager.Close()
}
