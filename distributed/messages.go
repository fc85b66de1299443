package distributed

import "github.com/hupe1980/htmgo/connections"

// Entry is one encoded column record.
type Entry struct {
	Key   int
	Value []byte
}

// SetRequest stores one value under Key.
type SetRequest struct {
	Key   int
	Value []byte
}

// GetRequest fetches the value stored under Key.
type GetRequest struct {
	Key int
}

// GetReply answers a GetRequest.
type GetReply struct {
	Key   int
	Value []byte
	Found bool
}

// BatchSetRequest stores entries owned by one partition.
type BatchSetRequest struct {
	Partition int
	Entries   []Entry
}

// BatchGetRequest fetches keys owned by one partition.
type BatchGetRequest struct {
	Partition int
	Keys      []int
}

// BatchGetReply answers a BatchGetRequest. Missing lists keys without value.
type BatchGetReply struct {
	Entries []Entry
	Missing []int
}

// CountRequest asks a partition for the number of stored keys.
type CountRequest struct{}

// Ack confirms a write of Count entries.
type Ack struct {
	Count int
}

// OverlapRequest asks a partition for the overlap of every column it holds.
// ActiveInputs is sorted.
type OverlapRequest struct {
	Partition    int
	ActiveInputs []int
	Rules        connections.ProximalRules
}

// OverlapReply answers an OverlapRequest. Overlaps is aligned with Keys.
type OverlapReply struct {
	Keys     []int
	Overlaps []int
}

// AdaptRequest applies one learning step to the active columns Keys.
type AdaptRequest struct {
	Partition    int
	Keys         []int
	ActiveInputs []int
	Rules        connections.ProximalRules
}

// BumpRequest raises the permanences of the weak columns Keys.
type BumpRequest struct {
	Partition int
	Keys      []int
	Rules     connections.ProximalRules
}

// ColumnsReply carries the encoded records updated by an AdaptRequest or a
// BumpRequest.
type ColumnsReply struct {
	Entries []Entry
}
