package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/codec"
	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/resource"
	"github.com/hupe1980/htmgo/partition"
	"github.com/hupe1980/htmgo/spatialpooler"
)

// Option configures a Memory.
type Option func(*Memory)

// WithCodec sets the record codec. Defaults to codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(m *Memory) {
		m.codec = c
	}
}

// WithResourceController bounds concurrency and rate of partition asks.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Memory) {
		m.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = l
	}
}

var _ spatialpooler.ColumnStore = (*Memory)(nil)

// Memory reads and writes column records through partition actors and lets
// them compute on the columns they own.
type Memory struct {
	pmap   *partition.Map
	codec  codec.Codec
	rc     *resource.Controller
	logger *slog.Logger
}

// NewMemory creates a Memory routing through pmap.
func NewMemory(pmap *partition.Map, opts ...Option) *Memory {
	m := &Memory{
		pmap:   pmap,
		codec:  codec.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.codec = codec.Or(m.codec)
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Map returns the partition map.
func (m *Memory) Map() *partition.Map { return m.pmap }

// Set stores rec in the partition owning rec.Index.
func (m *Memory) Set(ctx context.Context, rec connections.ColumnRecord) error {
	p, err := m.pmap.Lookup(rec.Index)
	if err != nil {
		return err
	}
	value, err := m.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode column %d: %w", rec.Index, err)
	}
	_, err = m.ask(ctx, p, SetRequest{Key: rec.Index, Value: value})
	return err
}

// Get fetches the record of column col.
func (m *Memory) Get(ctx context.Context, col int) (connections.ColumnRecord, bool, error) {
	var rec connections.ColumnRecord
	p, err := m.pmap.Lookup(col)
	if err != nil {
		return rec, false, err
	}
	resp, err := m.ask(ctx, p, GetRequest{Key: col})
	if err != nil {
		return rec, false, err
	}
	reply, ok := resp.(GetReply)
	if !ok {
		return rec, false, fmt.Errorf("partition %d: unexpected reply %T", p.PartitionIndex, resp)
	}
	if !reply.Found {
		return rec, false, nil
	}
	if err := m.codec.Unmarshal(reply.Value, &rec); err != nil {
		return rec, false, fmt.Errorf("decode column %d: %w", col, err)
	}
	return rec, true, nil
}

// BatchSet stores recs, asking every involved partition once.
func (m *Memory) BatchSet(ctx context.Context, recs []connections.ColumnRecord) error {
	if len(recs) == 0 {
		return nil
	}
	byKey := make(map[int][]byte, len(recs))
	keys := make([]int, 0, len(recs))
	for _, rec := range recs {
		value, err := m.codec.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode column %d: %w", rec.Index, err)
		}
		if _, dup := byKey[rec.Index]; !dup {
			keys = append(keys, rec.Index)
		}
		byKey[rec.Index] = value
	}
	groups, err := m.pmap.GroupByPartition(keys)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		g.Go(func() error {
			req := BatchSetRequest{Partition: grp.Placement.PartitionIndex, Entries: make([]Entry, 0, len(grp.Keys))}
			for _, key := range grp.Keys {
				req.Entries = append(req.Entries, Entry{Key: key, Value: byKey[key]})
			}
			_, err := m.ask(gctx, grp.Placement, req)
			return err
		})
	}
	return g.Wait()
}

// StoreColumns implements spatialpooler.ColumnSink.
func (m *Memory) StoreColumns(ctx context.Context, recs []connections.ColumnRecord) error {
	return m.BatchSet(ctx, recs)
}

// BatchGet fetches the records of cols. Columns without a stored record are
// absent from the result.
func (m *Memory) BatchGet(ctx context.Context, cols []int) (map[int]connections.ColumnRecord, error) {
	groups, err := m.pmap.GroupByPartition(cols)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[int]connections.ColumnRecord, len(cols))

	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		g.Go(func() error {
			resp, err := m.ask(gctx, grp.Placement, BatchGetRequest{
				Partition: grp.Placement.PartitionIndex,
				Keys:      grp.Keys,
			})
			if err != nil {
				return err
			}
			reply, ok := resp.(BatchGetReply)
			if !ok {
				return fmt.Errorf("partition %d: unexpected reply %T", grp.Placement.PartitionIndex, resp)
			}
			recs := make([]connections.ColumnRecord, len(reply.Entries))
			for i, e := range reply.Entries {
				if err := m.codec.Unmarshal(e.Value, &recs[i]); err != nil {
					return fmt.Errorf("decode column %d: %w", e.Key, err)
				}
			}
			mu.Lock()
			for _, rec := range recs {
				out[rec.Index] = rec
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records stored across all partitions.
func (m *Memory) Count(ctx context.Context) (int, error) {
	placements := m.pmap.Placements()
	counts := make([]int, len(placements))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range placements {
		g.Go(func() error {
			resp, err := m.ask(gctx, p, CountRequest{})
			if err != nil {
				return err
			}
			n, ok := resp.(int)
			if !ok {
				return fmt.Errorf("partition %d: unexpected reply %T", p.PartitionIndex, resp)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// Overlaps implements spatialpooler.ColumnStore. Every partition scores the
// columns it holds; a column without a record fails the call with
// ErrColumnNotStored.
func (m *Memory) Overlaps(ctx context.Context, activeInputs []int, rules connections.ProximalRules) ([]int, error) {
	placements := m.pmap.Placements()
	overlaps := make([]int, m.pmap.NumColumns())

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range placements {
		g.Go(func() error {
			resp, err := m.ask(gctx, p, OverlapRequest{
				Partition:    p.PartitionIndex,
				ActiveInputs: activeInputs,
				Rules:        rules,
			})
			if err != nil {
				return err
			}
			reply, ok := resp.(OverlapReply)
			if !ok || len(reply.Keys) != len(reply.Overlaps) {
				return fmt.Errorf("partition %d: unexpected reply %T", p.PartitionIndex, resp)
			}
			for j, key := range reply.Keys {
				if !p.Contains(key) {
					return fmt.Errorf("partition %d: reported foreign column %d", p.PartitionIndex, key)
				}
				overlaps[key] = reply.Overlaps[j]
			}
			if len(reply.Keys) != p.Len() {
				return fmt.Errorf("%w: partition %d holds %d of %d columns",
					ErrColumnNotStored, p.PartitionIndex, len(reply.Keys), p.Len())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overlaps, nil
}

// AdaptColumns implements spatialpooler.ColumnStore. Each partition adapts
// the active columns it owns and returns their new records.
func (m *Memory) AdaptColumns(ctx context.Context, cols, activeInputs []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error) {
	return m.updateColumns(ctx, cols, func(p partition.Placement, keys []int) any {
		return AdaptRequest{Partition: p.PartitionIndex, Keys: keys, ActiveInputs: activeInputs, Rules: rules}
	})
}

// BumpColumns implements spatialpooler.ColumnStore.
func (m *Memory) BumpColumns(ctx context.Context, cols []int, rules connections.ProximalRules) ([]connections.ColumnRecord, error) {
	return m.updateColumns(ctx, cols, func(p partition.Placement, keys []int) any {
		return BumpRequest{Partition: p.PartitionIndex, Keys: keys, Rules: rules}
	})
}

// updateColumns sends one request per involved partition and returns the
// decoded records in column order.
func (m *Memory) updateColumns(ctx context.Context, cols []int, request func(partition.Placement, []int) any) ([]connections.ColumnRecord, error) {
	groups, err := m.pmap.GroupByPartition(cols)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make([]connections.ColumnRecord, 0, len(cols))

	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		g.Go(func() error {
			resp, err := m.ask(gctx, grp.Placement, request(grp.Placement, grp.Keys))
			if err != nil {
				return err
			}
			reply, ok := resp.(ColumnsReply)
			if !ok {
				return fmt.Errorf("partition %d: unexpected reply %T", grp.Placement.PartitionIndex, resp)
			}
			recs := make([]connections.ColumnRecord, len(reply.Entries))
			for i, e := range reply.Entries {
				if err := m.codec.Unmarshal(e.Value, &recs[i]); err != nil {
					return fmt.Errorf("decode column %d: %w", e.Key, err)
				}
			}
			mu.Lock()
			out = append(out, recs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b connections.ColumnRecord) int { return a.Index - b.Index })
	return out, nil
}

// ask sends msg to the actor owning p. Transport failures are reported as
// *partition.UnavailableError; handler errors are returned as they are.
func (m *Memory) ask(ctx context.Context, p partition.Placement, msg any) (any, error) {
	ref, err := m.pmap.Handle(ctx, p.PartitionIndex)
	if err != nil {
		return nil, err
	}
	if err := m.rc.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.rc.Release()

	resp, err := ref.Ask(ctx, msg)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, actor.ErrTimeout) || errors.Is(err, actor.ErrStopped) {
		m.logger.Warn("partition ask failed",
			"partition", p.PartitionIndex,
			"node", p.NodeAddress,
			"error", err,
		)
		return nil, &partition.UnavailableError{Partition: p.PartitionIndex, Node: p.NodeAddress, Err: err}
	}
	return nil, err
}

// Publish writes the records of cols from conn. A nil cols publishes every
// column.
func Publish(ctx context.Context, mem *Memory, conn *connections.Connections, cols []int) error {
	if cols == nil {
		cols = make([]int, conn.NumColumns())
		for i := range cols {
			cols[i] = i
		}
	}
	recs := make([]connections.ColumnRecord, 0, len(cols))
	for _, col := range cols {
		recs = append(recs, conn.ColumnRecord(col))
	}
	return mem.BatchSet(ctx, recs)
}

// Restore applies every stored record to conn and returns how many columns
// were restored.
func Restore(ctx context.Context, mem *Memory, conn *connections.Connections) (int, error) {
	cols := make([]int, conn.NumColumns())
	for i := range cols {
		cols[i] = i
	}
	recs, err := mem.BatchGet(ctx, cols)
	if err != nil {
		return 0, err
	}
	for _, col := range cols {
		rec, ok := recs[col]
		if !ok {
			continue
		}
		if err := conn.ApplyColumnRecord(rec); err != nil {
			return 0, fmt.Errorf("restore column %d: %w", col, err)
		}
	}
	return len(recs), nil
}
