package htmgo

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/hupe1980/htmgo/blobstore"
	"github.com/hupe1980/htmgo/homeostasis"
	"github.com/hupe1980/htmgo/persistence"
	"github.com/hupe1980/htmgo/spatialpooler"
)

// DefaultMinStabilityCycles is the number of steps the homeostatic
// controller observes before boosting is suppressed.
const DefaultMinStabilityCycles = 100

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	workers          int

	minCycles         int
	stabilityOptions  []homeostasis.Option
	onStabilityChange homeostasis.Callback

	columnSink  spatialpooler.ColumnSink
	columnStore spatialpooler.ColumnStore

	snapshotStore   blobstore.Store
	snapshotOptions []persistence.Option
	runID           uuid.UUID
}

// Option configures a Region.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := htmgo.NewJSONLogger(slog.LevelInfo)
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &htmgo.BasicMetricsCollector{}
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithMetricsCollector(metrics))
//	// ... use region ...
//	stats := metrics.GetStats()
//	fmt.Printf("Bursting: %.2f\n", stats.BurstingRatio)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithWorkers runs the spatial pooler's parallel phases on n goroutines.
// The output does not depend on n.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithStability configures the homeostatic controller. Boosting is
// suppressed after minCycles steps.
func WithStability(minCycles int, opts ...homeostasis.Option) Option {
	return func(o *options) {
		o.minCycles = minCycles
		o.stabilityOptions = opts
	}
}

// WithStabilityCallback registers a function called on every stability
// transition.
func WithStabilityCallback(cb homeostasis.Callback) Option {
	return func(o *options) {
		o.onStabilityChange = cb
	}
}

// WithColumnSink mirrors the columns modified by each learning step, e.g. to
// a distributed.Memory.
func WithColumnSink(sink spatialpooler.ColumnSink) Option {
	return func(o *options) {
		o.columnSink = sink
	}
}

// WithColumnStore keeps the proximal column state in store, e.g. a
// distributed.Memory: overlaps, synapse adaptation and weak-column bumps are
// computed by the partitions owning the columns. NewRegion publishes the
// initial columns on the first Compute; OpenRegion republishes the restored
// snapshot.
//
// Example:
//
//	cluster, _ := distributed.NewCluster(distributed.DefaultClusterConfig(), cfg.NumColumns(), nil, nil)
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithColumnStore(cluster.Memory))
func WithColumnStore(store spatialpooler.ColumnStore) Option {
	return func(o *options) {
		o.columnStore = store
	}
}

// WithSnapshotStore enables Save and OpenRegion on store.
//
// Example:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("htm/"))
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithSnapshotStore(store,
//	    persistence.WithCompression(persistence.CompressionZSTD),
//	    persistence.WithRetention(5),
//	))
func WithSnapshotStore(store blobstore.Store, opts ...persistence.Option) Option {
	return func(o *options) {
		o.snapshotStore = store
		o.snapshotOptions = opts
	}
}

// WithRunID sets the run ID under which snapshots are stored. A new random
// ID is used by default.
func WithRunID(id uuid.UUID) Option {
	return func(o *options) {
		o.runID = id
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		workers:          1,
		minCycles:        DefaultMinStabilityCycles,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.runID == uuid.Nil {
		o.runID = uuid.New()
	}
	return o
}
