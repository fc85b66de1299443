package distributed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/codec"
	"github.com/hupe1980/htmgo/internal/resource"
	"github.com/hupe1980/htmgo/partition"
)

// ClusterConfig describes the actor system and partition layout backing a
// Memory.
type ClusterConfig struct {
	// SystemName names the actor system and, for Redis partitions, the key
	// namespace.
	SystemName string

	// Nodes lists the node addresses partitions are placed on.
	Nodes []string

	// PartitionsPerNode is the number of partitions per node.
	PartitionsPerNode int

	// Balanced splits columns evenly over nodes first, giving the trailing
	// nodes one extra column each for the remainder, instead of leaving the
	// last partition short.
	Balanced bool

	// AskTimeout bounds every partition request. Zero keeps the actor default.
	AskTimeout time.Duration

	// MaxInflight is the maximum number of concurrent partition asks.
	MaxInflight int64

	// AskRatePerSec rate-limits partition asks. Zero means unlimited.
	AskRatePerSec float64

	// Codec encodes column records. Defaults to codec.Default.
	Codec codec.Codec
}

// DefaultClusterConfig returns a single-node configuration.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		SystemName:        "htm",
		Nodes:             []string{"local"},
		PartitionsPerNode: 4,
		AskTimeout:        5 * time.Second,
		MaxInflight:       16,
	}
}

// ResolverFactory builds the partition resolver for the cluster's actor
// system. Partition actors it spawns must use the cluster codec.
type ResolverFactory func(sys *actor.System) partition.Resolver

// Cluster bundles an actor system, its partition map and the Memory routing
// through both.
type Cluster struct {
	System *actor.System
	Map    *partition.Map
	Memory *Memory
}

// NewCluster partitions numColumns columns according to cfg. A nil factory
// hosts every partition in process.
func NewCluster(cfg ClusterConfig, numColumns int, factory ResolverFactory, logger *slog.Logger) (*Cluster, error) {
	if cfg.SystemName == "" {
		return nil, errors.New("cluster: system name must not be empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var sysOpts []actor.Option
	if cfg.AskTimeout > 0 {
		sysOpts = append(sysOpts, actor.WithAskTimeout(cfg.AskTimeout))
	}
	sys := actor.NewSystem(cfg.SystemName, append(sysOpts, actor.WithLogger(logger))...)

	var resolver partition.Resolver
	if factory != nil {
		resolver = factory(sys)
	} else {
		resolver = SpawnLocal(sys, cfg.Codec, logger)
	}

	newMap := partition.NewMap
	if cfg.Balanced {
		newMap = partition.NewBalancedMap
	}
	pmap, err := newMap(cfg.Nodes, numColumns, cfg.PartitionsPerNode,
		partition.WithResolver(resolver),
		partition.WithLogger(logger),
	)
	if err != nil {
		_ = sys.Shutdown(context.Background())
		return nil, err
	}

	rc := resource.NewController(resource.Config{
		MaxInflight:   cfg.MaxInflight,
		AsksPerSecond: cfg.AskRatePerSec,
	})
	mem := NewMemory(pmap,
		WithCodec(cfg.Codec),
		WithResourceController(rc),
		WithLogger(logger),
	)

	logger.Info("cluster ready",
		"system", cfg.SystemName,
		"nodes", len(cfg.Nodes),
		"partitions", pmap.Len(),
		"columns", numColumns,
	)
	return &Cluster{System: sys, Map: pmap, Memory: mem}, nil
}

// Shutdown stops every partition actor.
func (c *Cluster) Shutdown(ctx context.Context) error {
	return c.System.Shutdown(ctx)
}
