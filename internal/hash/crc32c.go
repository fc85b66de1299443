package hash

import (
	"hash"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum of the concatenated chunks. Snapshot
// headers and S3 uploads of snapshot blobs both carry this value.
func CRC32C(chunks ...[]byte) uint32 {
	var sum uint32
	for _, c := range chunks {
		sum = crc32.Update(sum, castagnoli, c)
	}
	return sum
}

// NewCRC32C returns a streaming form of CRC32C for payloads read in pieces.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}
