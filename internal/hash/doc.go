// Package hash provides the hashing utilities used by htmgo.
//
// # CRC32-Castagnoli (CRC32C)
//
// Snapshot headers record the CRC32C of the stored payload, and S3 uploads of
// snapshot blobs send it for server-side verification:
//
//	sum := hash.CRC32C(stored)
//
// Decoding hashes the payload while it streams in through NewCRC32C.
//
// # Fingerprints
//
// Fingerprint hashes sparse index sets (SDRs) with xxhash. The homeostatic
// controller keys its per-pattern bookkeeping by input fingerprint.
package hash
