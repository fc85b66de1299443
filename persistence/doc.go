// Package persistence writes and reads htmgo snapshots.
//
// A snapshot is a fixed-size little-endian header followed by a payload. The
// payload holds the Connections state and, optionally, the homeostatic
// controller state, each in its explicit binary schema. The payload may be
// compressed with LZ4 or ZSTD and is protected by a CRC32C checksum.
//
// Every piece of mutable state, the PRNG included, is part of the
// Connections schema, so a run restored from a snapshot produces the same
// outputs as one that was never interrupted.
//
// Manager stores snapshots in a blobstore.Store under
// "<prefix>/<run id>/<sequence>.htm".
package persistence
