// Package redisnode serves partitions whose state lives in Redis.
//
// Every partition is stored as one Redis hash at
// htm:{system}:partition:{index}, with one field per column. The partition
// actor reads the hash to score overlaps and writes adapted columns back,
// serializing all operations addressed to it. The codec name of the records
// is pinned at htm:{system}:codec by the first resolver attaching, and
// resolvers using another codec are refused.
package redisnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/htmgo/actor"
	"github.com/hupe1980/htmgo/codec"
	"github.com/hupe1980/htmgo/distributed"
	"github.com/hupe1980/htmgo/partition"
)

// PartitionKey returns the Redis key of a partition hash.
func PartitionKey(system string, partitionIndex int) string {
	return fmt.Sprintf("htm:%s:partition:%d", system, partitionIndex)
}

// CodecKey returns the Redis key holding the codec name of a system.
func CodecKey(system string) string {
	return fmt.Sprintf("htm:%s:codec", system)
}

// ErrCodecMismatch is returned when a system's partitions were written with
// another codec than the resolver's.
var ErrCodecMismatch = errors.New("codec mismatch")

// Storage is a distributed.Storage backed by one Redis hash. Failures to
// reach Redis are reported as *partition.UnavailableError; errors replied by
// the server are returned as they are.
type Storage struct {
	rdb       redis.UniversalClient
	key       string
	placement partition.Placement
}

// NewStorage creates the storage of placement p of system.
func NewStorage(rdb redis.UniversalClient, system string, p partition.Placement) *Storage {
	return &Storage{rdb: rdb, key: PartitionKey(system, p.PartitionIndex), placement: p}
}

func (s *Storage) fail(err error, format string, args ...any) error {
	err = fmt.Errorf(format+": %w", append(args, err)...)
	var reply redis.Error
	if errors.As(err, &reply) {
		return err
	}
	return &partition.UnavailableError{Partition: s.placement.PartitionIndex, Node: s.placement.NodeAddress, Err: err}
}

// Get implements distributed.Storage.
func (s *Storage) Get(ctx context.Context, keys []int) ([]distributed.Entry, []int, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	fields := make([]string, len(keys))
	for i, key := range keys {
		fields[i] = field(key)
	}
	vals, err := s.rdb.HMGet(ctx, s.key, fields...).Result()
	if err != nil {
		return nil, nil, s.fail(err, "failed to read %d columns from Redis", len(fields))
	}
	var (
		entries []distributed.Entry
		missing []int
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		entries = append(entries, distributed.Entry{Key: keys[i], Value: []byte(str)})
	}
	return entries, missing, nil
}

// Set implements distributed.Storage.
func (s *Storage) Set(ctx context.Context, entries []distributed.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(entries))
	for _, e := range entries {
		values = append(values, field(e.Key), e.Value)
	}
	if err := s.rdb.HSet(ctx, s.key, values...).Err(); err != nil {
		return s.fail(err, "failed to write %d columns to Redis", len(entries))
	}
	return nil
}

// Scan implements distributed.Storage. Entries are returned in key order.
func (s *Storage) Scan(ctx context.Context) ([]distributed.Entry, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, s.fail(err, "failed to scan columns in Redis")
	}
	entries := make([]distributed.Entry, 0, len(all))
	for f, v := range all {
		key, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("unexpected field %q in %s", f, s.key)
		}
		entries = append(entries, distributed.Entry{Key: key, Value: []byte(v)})
	}
	slices.SortFunc(entries, func(a, b distributed.Entry) int { return a.Key - b.Key })
	return entries, nil
}

// Len implements distributed.Storage.
func (s *Storage) Len(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, s.fail(err, "failed to count columns in Redis")
	}
	return int(n), nil
}

func field(key int) string { return strconv.Itoa(key) }

// Resolver returns a partition.Resolver hosting Redis-backed partition
// actors in sys. The Redis connection is checked once per resolution, so an
// unreachable server surfaces as an unavailable partition. c must match the
// codec of the Memory using the partitions; a nil c selects codec.Default.
func Resolver(sys *actor.System, rdb redis.UniversalClient, c codec.Codec, logger *slog.Logger) partition.Resolver {
	c = codec.Or(c)
	return distributed.Spawn(sys, func(ctx context.Context, p partition.Placement) (distributed.Storage, error) {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		if err := pinCodec(ctx, rdb, sys.Name(), c); err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug("redis partition attached", "partition", p.PartitionIndex,
				"key", PartitionKey(sys.Name(), p.PartitionIndex))
		}
		return NewStorage(rdb, sys.Name(), p), nil
	}, c, logger)
}

func pinCodec(ctx context.Context, rdb redis.UniversalClient, system string, c codec.Codec) error {
	key := CodecKey(system)
	set, err := rdb.SetNX(ctx, key, c.Name(), 0).Result()
	if err != nil {
		return fmt.Errorf("pin codec: %w", err)
	}
	if set {
		return nil
	}
	stored, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read codec: %w", err)
	}
	if stored == c.Name() {
		return nil
	}
	if _, err := codec.Lookup(stored); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCodecMismatch, key, err)
	}
	return fmt.Errorf("%w: %s holds %q, resolver uses %q", ErrCodecMismatch, key, stored, c.Name())
}

// Clear removes all partition hashes of pmap and the pinned codec name.
func Clear(ctx context.Context, rdb redis.UniversalClient, system string, pmap *partition.Map) error {
	keys := make([]string, 0, pmap.Len()+1)
	for _, p := range pmap.Placements() {
		keys = append(keys, PartitionKey(system, p.PartitionIndex))
	}
	keys = append(keys, CodecKey(system))
	return rdb.Del(ctx, keys...).Err()
}
