package spatialpooler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/htmgo/connections"
)

// StabilityController observes the pooler's output and decides when boosting
// is switched off.
type StabilityController interface {
	// Compute records one step. input holds the active input bit indices.
	Compute(input, activeColumns []int) bool
	// BoostingSuppressed reports whether boosting is currently disabled.
	BoostingSuppressed() bool
}

// ColumnSink receives the records of columns modified by a learning step.
type ColumnSink interface {
	StoreColumns(ctx context.Context, records []connections.ColumnRecord) error
}

// ColumnStore holds the column-indexed proximal state outside the local
// Connections. Each call is answered by the partitions owning the columns, so
// overlap scoring and synapse adaptation run where the state lives. Updated
// records returned by AdaptColumns and BumpColumns are cached in the local
// Connections; duty cycles and boost factors stay with the pooler.
type ColumnStore interface {
	ColumnSink
	// Overlaps returns the overlap of every column for the sorted active
	// input indices, indexed by column.
	Overlaps(ctx context.Context, activeInputs []int, rules connections.ProximalRules) ([]int, error)
	// AdaptColumns applies one learning step to cols and returns their
	// updated records.
	AdaptColumns(ctx context.Context, cols, activeInputs []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error)
	// BumpColumns raises the permanences of the weak columns cols and returns
	// their updated records.
	BumpColumns(ctx context.Context, cols []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error)
}

// Option configures a SpatialPooler.
type Option func(*SpatialPooler)

// WithWorkers sets the number of goroutines used by the parallel phases.
// Values below 2 select the single-threaded pooler.
func WithWorkers(n int) Option {
	return func(sp *SpatialPooler) {
		sp.workers = n
	}
}

// WithStabilityController registers the homeostatic controller.
func WithStabilityController(c StabilityController) Option {
	return func(sp *SpatialPooler) {
		sp.controller = c
	}
}

// WithColumnSink mirrors modified columns to sink after every learning step.
func WithColumnSink(sink ColumnSink) Option {
	return func(sp *SpatialPooler) {
		sp.sink = sink
	}
}

// WithColumnStore proxies the proximal column state through store. A pooler
// created with New publishes its initial columns on the first Compute; one
// created with Attach expects the store to be populated already (see
// PublishColumns). Unless a sink is set, store also receives the records
// of every learning step.
func WithColumnStore(store ColumnStore) Option {
	return func(sp *SpatialPooler) {
		sp.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sp *SpatialPooler) {
		sp.logger = l
	}
}

// SpatialPooler computes active columns from input bit-vectors.
type SpatialPooler struct {
	conn  *connections.Connections
	cfg   connections.Config
	rules connections.ProximalRules

	workers    int
	controller StabilityController
	sink       ColumnSink
	store      ColumnStore
	logger     *slog.Logger

	mu             sync.Mutex
	overlaps       []int
	boosted        []float64
	neighborhoods  [][]int
	neighborRadius int
	suppressed     bool
	unpublished    bool
}

// New initializes proximal pools and permanences in conn and returns a pooler
// operating on it. Initialization draws from the shared PRNG in column order.
func New(conn *connections.Connections, opts ...Option) (*SpatialPooler, error) {
	sp := newPooler(conn, opts...)
	if err := sp.initialize(); err != nil {
		return nil, err
	}
	sp.unpublished = sp.store != nil
	return sp, nil
}

// NewParallel is New with WithWorkers(workers).
func NewParallel(conn *connections.Connections, workers int, opts ...Option) (*SpatialPooler, error) {
	return New(conn, append([]Option{WithWorkers(workers)}, opts...)...)
}

// Attach returns a pooler over an already initialized (e.g. restored)
// Connections store without touching its state.
func Attach(conn *connections.Connections, opts ...Option) *SpatialPooler {
	return newPooler(conn, opts...)
}

func newPooler(conn *connections.Connections, opts ...Option) *SpatialPooler {
	sp := &SpatialPooler{
		conn:           conn,
		cfg:            conn.Config(),
		rules:          conn.Config().ProximalRules(),
		workers:        1,
		logger:         slog.New(slog.DiscardHandler),
		overlaps:       make([]int, conn.NumColumns()),
		boosted:        make([]float64, conn.NumColumns()),
		neighborRadius: -1,
	}
	for _, opt := range opts {
		opt(sp)
	}
	if sp.logger == nil {
		sp.logger = slog.New(slog.DiscardHandler)
	}
	if sp.sink == nil && sp.store != nil {
		sp.sink = sp.store
	}
	return sp
}

// Name returns the stage name.
func (sp *SpatialPooler) Name() string { return "spatial-pooler" }

// InputWidth returns the size of the input space.
func (sp *SpatialPooler) InputWidth() int { return sp.conn.NumInputs() }

// OutputWidth returns the number of columns.
func (sp *SpatialPooler) OutputWidth() int { return sp.conn.NumColumns() }

// Connections returns the underlying store.
func (sp *SpatialPooler) Connections() *connections.Connections { return sp.conn }

// Compute maps input (one entry per input bit, non-zero = active) to the
// ascending indices of the active columns. With learn the pooler adapts.
//
// With a ColumnStore a failure to score overlaps leaves the pooler unchanged.
// A failure while learning is returned after the steps that succeeded.
func (sp *SpatialPooler) Compute(ctx context.Context, input []int, learn bool) ([]int, error) {
	if len(input) != sp.conn.NumInputs() {
		return nil, &InputSizeError{Expected: sp.conn.NumInputs(), Actual: len(input)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	activeBits := make([]bool, len(input))
	activeInputs := make([]int, 0, len(input)/8)
	for i, v := range input {
		if v != 0 {
			activeBits[i] = true
			activeInputs = append(activeInputs, i)
		}
	}

	if sp.store != nil {
		if err := sp.publishPending(ctx); err != nil {
			return nil, err
		}
		overlaps, err := sp.store.Overlaps(ctx, activeInputs, sp.rules)
		if err != nil {
			return nil, fmt.Errorf("compute overlaps: %w", err)
		}
		if len(overlaps) != len(sp.overlaps) {
			return nil, fmt.Errorf("compute overlaps: got %d columns, expected %d", len(overlaps), len(sp.overlaps))
		}
		copy(sp.overlaps, overlaps)
	} else {
		sp.calculateOverlaps(activeBits)
	}

	sp.conn.AdvanceSPIteration(learn)

	suppressed := sp.controller != nil && sp.controller.BoostingSuppressed()
	if suppressed != sp.suppressed {
		sp.suppressed = suppressed
		sp.logger.Info("boosting suppression changed", "suppressed", suppressed,
			"iteration", sp.conn.SPIteration())
	}

	boosts := sp.conn.Stats().BoostFactors
	for i, o := range sp.overlaps {
		if learn && !suppressed {
			sp.boosted[i] = float64(o) * boosts[i]
		} else {
			sp.boosted[i] = float64(o)
		}
	}

	active := sp.inhibitColumns()

	var touched []int
	if learn {
		if err := sp.adapt(ctx, active, activeBits, activeInputs); err != nil {
			return active, fmt.Errorf("adapt synapses: %w", err)
		}
		sp.updateDutyCycles(active)
		if suppressed {
			sp.resetBoostFactors()
		} else {
			touched = sp.weakColumns()
			if err := sp.bump(ctx, touched); err != nil {
				return active, fmt.Errorf("bump weak columns: %w", err)
			}
			sp.updateBoostFactors()
		}
		if sp.conn.SPIteration()%sp.cfg.UpdatePeriod == 0 {
			sp.updateInhibitionRadius()
			sp.updateMinDutyCycles()
		}
	}

	if sp.controller != nil {
		sp.controller.Compute(activeInputs, active)
	}

	if learn && sp.sink != nil {
		if err := sp.storeColumns(ctx, active, touched); err != nil {
			return active, fmt.Errorf("store columns: %w", err)
		}
	}

	return active, nil
}

// adapt runs the synapse adaptation of the active columns locally or on the
// partitions owning them.
func (sp *SpatialPooler) adapt(ctx context.Context, active []int, activeBits []bool, activeInputs []int) error {
	if sp.store == nil {
		sp.adaptSynapses(active, activeBits)
		return nil
	}
	if len(active) == 0 {
		return nil
	}
	records, err := sp.store.AdaptColumns(ctx, active, activeInputs, sp.rules)
	if err != nil {
		return err
	}
	return sp.cacheRecords(records)
}

// bump raises weak columns locally or on the partitions owning them.
func (sp *SpatialPooler) bump(ctx context.Context, weak []int) error {
	if sp.store == nil {
		sp.bumpUpWeakColumns(weak)
		return nil
	}
	if len(weak) == 0 {
		return nil
	}
	records, err := sp.store.BumpColumns(ctx, weak, sp.rules)
	if err != nil {
		return err
	}
	return sp.cacheRecords(records)
}

func (sp *SpatialPooler) cacheRecords(records []connections.ColumnRecord) error {
	for _, rec := range records {
		if err := sp.conn.ApplyColumnPermanences(rec); err != nil {
			return err
		}
	}
	return nil
}

// PublishColumns writes the records of every column to the column store, or
// to the sink when no store is set. It is a no-op without either.
func (sp *SpatialPooler) PublishColumns(ctx context.Context) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.publish(ctx)
}

func (sp *SpatialPooler) publishPending(ctx context.Context) error {
	if !sp.unpublished {
		return nil
	}
	return sp.publish(ctx)
}

func (sp *SpatialPooler) publish(ctx context.Context) error {
	var target ColumnSink = sp.store
	if sp.store == nil {
		target = sp.sink
	}
	if target == nil {
		return nil
	}
	records := make([]connections.ColumnRecord, sp.conn.NumColumns())
	for col := range records {
		records[col] = sp.conn.ColumnRecord(col)
	}
	if err := target.StoreColumns(ctx, records); err != nil {
		return fmt.Errorf("publish columns: %w", err)
	}
	sp.unpublished = false
	sp.logger.Debug("columns published", "columns", len(records))
	return nil
}

func (sp *SpatialPooler) storeColumns(ctx context.Context, active, touched []int) error {
	cols := append(slices.Clone(active), touched...)
	slices.Sort(cols)
	cols = slices.Compact(cols)
	records := make([]connections.ColumnRecord, len(cols))
	for i, col := range cols {
		records[i] = sp.conn.ColumnRecord(col)
	}
	return sp.sink.StoreColumns(ctx, records)
}

// Overlaps returns the raw overlaps of the last Compute call.
func (sp *SpatialPooler) Overlaps() []int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return slices.Clone(sp.overlaps)
}

// BoostedOverlaps returns the overlaps used for inhibition in the last call.
func (sp *SpatialPooler) BoostedOverlaps() []float64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return slices.Clone(sp.boosted)
}

// BoostFactors returns a copy of the per-column boost factors.
func (sp *SpatialPooler) BoostFactors() []float64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return slices.Clone(sp.conn.Stats().BoostFactors)
}

// InhibitionRadius returns the current inhibition radius.
func (sp *SpatialPooler) InhibitionRadius() int { return sp.conn.InhibitionRadius() }

// StripUnlearnedColumns removes columns that have never been active during
// learning from active.
func (sp *SpatialPooler) StripUnlearnedColumns(active []int) []int {
	duty := sp.conn.Stats().ActiveDutyCycles
	out := make([]int, 0, len(active))
	for _, col := range active {
		if duty[col] > 0 {
			out = append(out, col)
		}
	}
	return out
}
