package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/codec"
	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/bitmap"
	"github.com/hupe1980/htmgo/partition"
)

// ErrColumnNotStored is returned when a partition is asked to compute on a
// column it holds no record for.
var ErrColumnNotStored = errors.New("column not stored")

// PartitionActor owns the records of one partition's key range and computes
// on them. It is only driven through its actor mailbox, so it needs no
// locking of its own.
type PartitionActor struct {
	placement partition.Placement
	storage   Storage
	codec     codec.Codec
	logger    *slog.Logger
}

// NewPartitionActor creates the handler for placement p. A nil storage keeps
// records in memory; a nil codec selects codec.Default. The codec must match
// the one of the Memory talking to the actor.
func NewPartitionActor(p partition.Placement, storage Storage, c codec.Codec, logger *slog.Logger) *PartitionActor {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PartitionActor{
		placement: p,
		storage:   storage,
		codec:     codec.Or(c),
		logger:    logger.With("partition", p.PartitionIndex),
	}
}

// Receive implements actor.Handler.
func (a *PartitionActor) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case SetRequest:
		if err := a.own(m.Key); err != nil {
			return nil, err
		}
		if err := a.storage.Set(ctx, []Entry{{Key: m.Key, Value: m.Value}}); err != nil {
			return nil, err
		}
		return Ack{Count: 1}, nil
	case GetRequest:
		if err := a.own(m.Key); err != nil {
			return nil, err
		}
		entries, _, err := a.storage.Get(ctx, []int{m.Key})
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return GetReply{Key: m.Key}, nil
		}
		return GetReply{Key: m.Key, Value: entries[0].Value, Found: true}, nil
	case BatchSetRequest:
		for _, e := range m.Entries {
			if err := a.own(e.Key); err != nil {
				return nil, err
			}
		}
		if len(m.Entries) == 0 {
			return Ack{}, nil
		}
		if err := a.storage.Set(ctx, m.Entries); err != nil {
			return nil, err
		}
		return Ack{Count: len(m.Entries)}, nil
	case BatchGetRequest:
		if err := a.ownAll(m.Keys); err != nil {
			return nil, err
		}
		var reply BatchGetReply
		if len(m.Keys) == 0 {
			return reply, nil
		}
		entries, missing, err := a.storage.Get(ctx, m.Keys)
		if err != nil {
			return nil, err
		}
		reply.Entries, reply.Missing = entries, missing
		return reply, nil
	case CountRequest:
		return a.storage.Len(ctx)
	case OverlapRequest:
		return a.overlaps(ctx, m)
	case AdaptRequest:
		active := bitmap.FromInts(m.ActiveInputs)
		return a.update(ctx, m.Keys, func(rec *connections.ColumnRecord) {
			m.Rules.Adapt(rec.Potential, rec.Permanences, active.Contains)
			m.Rules.Normalize(rec.Permanences)
		})
	case BumpRequest:
		return a.update(ctx, m.Keys, func(rec *connections.ColumnRecord) {
			m.Rules.Bump(rec.Permanences)
			m.Rules.Normalize(rec.Permanences)
		})
	default:
		a.logger.Warn("unexpected message", "type", fmt.Sprintf("%T", msg))
		return nil, fmt.Errorf("partition %d: unexpected message %T", a.placement.PartitionIndex, msg)
	}
}

// overlaps scores every stored column against the active inputs.
func (a *PartitionActor) overlaps(ctx context.Context, m OverlapRequest) (OverlapReply, error) {
	entries, err := a.storage.Scan(ctx)
	if err != nil {
		return OverlapReply{}, err
	}
	active := bitmap.FromInts(m.ActiveInputs)
	reply := OverlapReply{
		Keys:     make([]int, 0, len(entries)),
		Overlaps: make([]int, 0, len(entries)),
	}
	for _, e := range entries {
		var rec connections.ColumnRecord
		if err := a.codec.Unmarshal(e.Value, &rec); err != nil {
			return OverlapReply{}, fmt.Errorf("decode column %d: %w", e.Key, err)
		}
		if len(rec.Potential) != len(rec.Permanences) {
			return OverlapReply{}, fmt.Errorf("column %d: %d potential inputs but %d permanences",
				e.Key, len(rec.Potential), len(rec.Permanences))
		}
		reply.Keys = append(reply.Keys, e.Key)
		reply.Overlaps = append(reply.Overlaps, m.Rules.Overlap(rec.Potential, rec.Permanences, active.Contains))
	}
	return reply, nil
}

// update applies fn to the records of keys, stores them and returns the
// updated encodings. Nothing is written unless every key is stored.
func (a *PartitionActor) update(ctx context.Context, keys []int, fn func(*connections.ColumnRecord)) (ColumnsReply, error) {
	if err := a.ownAll(keys); err != nil {
		return ColumnsReply{}, err
	}
	if len(keys) == 0 {
		return ColumnsReply{}, nil
	}
	entries, missing, err := a.storage.Get(ctx, keys)
	if err != nil {
		return ColumnsReply{}, err
	}
	if len(missing) > 0 {
		return ColumnsReply{}, fmt.Errorf("%w: columns %v in partition %d",
			ErrColumnNotStored, missing, a.placement.PartitionIndex)
	}
	for i, e := range entries {
		var rec connections.ColumnRecord
		if err := a.codec.Unmarshal(e.Value, &rec); err != nil {
			return ColumnsReply{}, fmt.Errorf("decode column %d: %w", e.Key, err)
		}
		if len(rec.Potential) != len(rec.Permanences) {
			return ColumnsReply{}, fmt.Errorf("column %d: %d potential inputs but %d permanences",
				e.Key, len(rec.Potential), len(rec.Permanences))
		}
		fn(&rec)
		value, err := a.codec.Marshal(rec)
		if err != nil {
			return ColumnsReply{}, fmt.Errorf("encode column %d: %w", e.Key, err)
		}
		entries[i].Value = value
	}
	if err := a.storage.Set(ctx, entries); err != nil {
		return ColumnsReply{}, err
	}
	return ColumnsReply{Entries: entries}, nil
}

func (a *PartitionActor) own(key int) error {
	if !a.placement.Contains(key) {
		return fmt.Errorf("%w: key %d not owned by partition %d [%d, %d]",
			partition.ErrKeyOutOfRange, key, a.placement.PartitionIndex, a.placement.MinKey, a.placement.MaxKey)
	}
	return nil
}

func (a *PartitionActor) ownAll(keys []int) error {
	for _, key := range keys {
		if err := a.own(key); err != nil {
			return err
		}
	}
	return nil
}

// ActorName returns the actor name used for partition i.
func ActorName(i int) string { return fmt.Sprintf("partition-%d", i) }

// StorageFactory creates the storage of a partition when its actor is
// spawned.
type StorageFactory func(ctx context.Context, p partition.Placement) (Storage, error)

// Spawn returns a resolver that hosts every partition in sys, spawning the
// partition actor over newStorage on first resolution. Failing to create
// the storage fails the resolution.
func Spawn(sys *actor.System, newStorage StorageFactory, c codec.Codec, logger *slog.Logger) partition.Resolver {
	return partition.ResolverFunc(func(ctx context.Context, p partition.Placement) (actor.Ref, error) {
		name := ActorName(p.PartitionIndex)
		if ref, err := sys.Lookup(name); err == nil {
			return ref, nil
		}
		storage, err := newStorage(ctx, p)
		if err != nil {
			return nil, err
		}
		return sys.Spawn(name, NewPartitionActor(p, storage, c, logger))
	})
}

// SpawnLocal is Spawn with in-memory storage.
func SpawnLocal(sys *actor.System, c codec.Codec, logger *slog.Logger) partition.Resolver {
	return Spawn(sys, func(context.Context, partition.Placement) (Storage, error) {
		return NewMemoryStorage(), nil
	}, c, logger)
}
