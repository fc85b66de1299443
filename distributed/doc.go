// Package distributed operates the column-indexed state of one logical
// Connections store across partition actors.
//
// A partition.Map assigns every column to one partition; each partition is
// served by exactly one actor which serializes all operations addressed to
// it. Memory routes single-key requests to the owning actor and groups
// batches by partition so every partition is asked once per batch. Batches
// fan out in parallel, bounded by a resource.Controller.
//
// There is no cross-partition transaction: when a batch fails part way, the
// partitions already written keep their new state. Communication failures
// surface as *partition.UnavailableError and are never retried here.
package distributed
