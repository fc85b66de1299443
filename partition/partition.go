// Package partition shards the column index space across compute nodes.
//
// A Map splits [0, numColumns) into contiguous, non-overlapping key ranges,
// each owned by one partition hosted on one node. Lookups resolve a column to
// its partition by range containment; batches are grouped by destination so
// each partition is addressed once. The actor handling a partition is
// resolved on first use and cached for the lifetime of the map.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hupe1980/htmgo/actor"
)

// Placement describes the key range owned by one partition.
type Placement struct {
	NodeIndex      int
	NodeAddress    string
	PartitionIndex int
	// MinKey and MaxKey are inclusive.
	MinKey int
	MaxKey int
}

// Contains reports whether key lies in the placement's range.
func (p Placement) Contains(key int) bool { return key >= p.MinKey && key <= p.MaxKey }

// Len returns the number of keys owned.
func (p Placement) Len() int { return p.MaxKey - p.MinKey + 1 }

// Resolver yields the actor that owns a placement.
type Resolver interface {
	Resolve(ctx context.Context, p Placement) (actor.Ref, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, p Placement) (actor.Ref, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, p Placement) (actor.Ref, error) { return f(ctx, p) }

// Option configures a Map.
type Option func(*Map)

// WithResolver sets the resolver used by Handle.
func WithResolver(r Resolver) Option {
	return func(m *Map) {
		m.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Map) {
		m.logger = l
	}
}

// Map is an immutable column partition map with a lazily filled handle cache.
type Map struct {
	numColumns int
	nodes      []string
	placements []Placement
	resolver   Resolver
	logger     *slog.Logger

	mu      sync.Mutex
	handles []actor.Ref
}

// NewMap partitions numColumns keys over nodes with partitionsPerNode
// partitions each. Every node receives ceil(numColumns/len(nodes)) keys split
// into partitions of ceil(that/partitionsPerNode); the last range is clipped
// and partitions starting past the end are dropped.
func NewMap(nodes []string, numColumns, partitionsPerNode int, opts ...Option) (*Map, error) {
	if err := validateArgs(nodes, numColumns, partitionsPerNode); err != nil {
		return nil, err
	}
	perNode := ceilDiv(numColumns, len(nodes))
	perPartition := ceilDiv(perNode, partitionsPerNode)

	var placements []Placement
	global := 0
	for node, addr := range nodes {
		for range partitionsPerNode {
			lo := perPartition * global
			hi := min(perPartition*(global+1)-1, numColumns-1)
			global++
			if lo > numColumns-1 {
				continue
			}
			placements = append(placements, Placement{
				NodeIndex:      node,
				NodeAddress:    addr,
				PartitionIndex: len(placements),
				MinKey:         lo,
				MaxKey:         hi,
			})
		}
	}
	return newMap(nodes, numColumns, placements, opts...)
}

// NewBalancedMap spreads keys evenly over nodes first: every node receives
// floor(numColumns/len(nodes)) keys and the trailing nodes one more each for
// the remainder. Each node's range is then split into partitions of
// ceil(nodeKeys/partitionsPerNode), dropping empty ones.
func NewBalancedMap(nodes []string, numColumns, partitionsPerNode int, opts ...Option) (*Map, error) {
	if err := validateArgs(nodes, numColumns, partitionsPerNode); err != nil {
		return nil, err
	}
	base, extra := numColumns/len(nodes), numColumns%len(nodes)

	var placements []Placement
	next := 0
	for node, addr := range nodes {
		size := base
		if node >= len(nodes)-extra {
			size++
		}
		if size == 0 {
			continue
		}
		end := next + size
		perPartition := ceilDiv(size, partitionsPerNode)
		for lo := next; lo < end; lo += perPartition {
			placements = append(placements, Placement{
				NodeIndex:      node,
				NodeAddress:    addr,
				PartitionIndex: len(placements),
				MinKey:         lo,
				MaxKey:         min(lo+perPartition, end) - 1,
			})
		}
		next = end
	}
	return newMap(nodes, numColumns, placements, opts...)
}

func validateArgs(nodes []string, numColumns, partitionsPerNode int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("partition: at least one node required")
	}
	if numColumns < 1 {
		return fmt.Errorf("partition: numColumns must be positive, got %d", numColumns)
	}
	if partitionsPerNode < 1 {
		return fmt.Errorf("partition: partitionsPerNode must be positive, got %d", partitionsPerNode)
	}
	return nil
}

func newMap(nodes []string, numColumns int, placements []Placement, opts ...Option) (*Map, error) {
	m := &Map{
		numColumns: numColumns,
		nodes:      append([]string(nil), nodes...),
		placements: placements,
		handles:    make([]actor.Ref, len(placements)),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FromPlacements builds a map from explicit placements, for example ones
// loaded from configuration. The placements must cover [0, numColumns).
func FromPlacements(nodes []string, numColumns int, placements []Placement, opts ...Option) (*Map, error) {
	return newMap(nodes, numColumns, append([]Placement(nil), placements...), opts...)
}

// NumColumns returns the size of the key space.
func (m *Map) NumColumns() int { return m.numColumns }

// Nodes returns the node addresses.
func (m *Map) Nodes() []string { return append([]string(nil), m.nodes...) }

// Len returns the number of partitions.
func (m *Map) Len() int { return len(m.placements) }

// Placements returns a copy of the placements ordered by key.
func (m *Map) Placements() []Placement { return append([]Placement(nil), m.placements...) }

// Placement returns the placement of partition i.
func (m *Map) Placement(i int) (Placement, error) {
	if i < 0 || i >= len(m.placements) {
		return Placement{}, fmt.Errorf("%w: partition %d", ErrPartitionNotFound, i)
	}
	return m.placements[i], nil
}

// Validate checks that the placements cover [0, numColumns) exactly, in
// ascending order, without gaps or overlaps.
func (m *Map) Validate() error {
	next := 0
	for i, p := range m.placements {
		if p.PartitionIndex != i {
			return fmt.Errorf("partition: placement %d carries index %d", i, p.PartitionIndex)
		}
		if p.MinKey != next || p.MaxKey < p.MinKey {
			return fmt.Errorf("partition: placement %d covers [%d, %d], expected to start at %d",
				i, p.MinKey, p.MaxKey, next)
		}
		next = p.MaxKey + 1
	}
	if next != m.numColumns {
		return fmt.Errorf("partition: placements cover [0, %d), expected [0, %d)", next, m.numColumns)
	}
	return nil
}

// Lookup returns the placement that owns key.
func (m *Map) Lookup(key int) (Placement, error) {
	i, err := m.index(key)
	if err != nil {
		return Placement{}, err
	}
	return m.placements[i], nil
}

func (m *Map) index(key int) (int, error) {
	if key < 0 || key >= m.numColumns {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrKeyOutOfRange, key, m.numColumns)
	}
	i := sort.Search(len(m.placements), func(i int) bool { return m.placements[i].MaxKey >= key })
	if i == len(m.placements) || !m.placements[i].Contains(key) {
		return 0, fmt.Errorf("%w: %d", ErrPartitionNotFound, key)
	}
	return i, nil
}

// Group holds the keys addressed to one partition.
type Group struct {
	Placement Placement
	Keys      []int
}

// GroupByPartition groups keys by owning partition. Groups are ordered by
// partition; keys keep their input order within a group.
func (m *Map) GroupByPartition(keys []int) ([]Group, error) {
	byIndex := make(map[int][]int)
	for _, key := range keys {
		i, err := m.index(key)
		if err != nil {
			return nil, err
		}
		byIndex[i] = append(byIndex[i], key)
	}
	groups := make([]Group, 0, len(byIndex))
	for i, p := range m.placements {
		if ks, ok := byIndex[i]; ok {
			groups = append(groups, Group{Placement: p, Keys: ks})
		}
	}
	return groups, nil
}

// Handle returns the actor owning partition i, resolving it on first use.
// Resolution failures are not cached.
func (m *Map) Handle(ctx context.Context, i int) (actor.Ref, error) {
	p, err := m.Placement(i)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.handles[i]; h != nil {
		return h, nil
	}
	if m.resolver == nil {
		return nil, &UnavailableError{Partition: i, Node: p.NodeAddress, Err: fmt.Errorf("no resolver configured")}
	}
	h, err := m.resolver.Resolve(ctx, p)
	if err != nil {
		m.logger.Warn("partition resolution failed",
			"partition", i,
			"node", p.NodeAddress,
			"error", err,
		)
		return nil, &UnavailableError{Partition: i, Node: p.NodeAddress, Err: err}
	}
	m.handles[i] = h
	m.logger.Debug("partition resolved", "partition", i, "node", p.NodeAddress, "actor", h.ID())
	return h, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
