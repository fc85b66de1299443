package persistence

import (
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies htmgo snapshots (ASCII: "HTMS")
	MagicNumber = 0x48544d53
	// Version is the current snapshot format version
	Version = 1

	// FlagHomeostasis marks a payload that carries controller state.
	FlagHomeostasis = 1 << 0
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrChecksum           = errors.New("checksum mismatch")
	ErrUnknownCompression = errors.New("unknown compression type")
	ErrTruncated          = errors.New("truncated snapshot")
)

// Header is the 64-byte header at the start of every snapshot.
type Header struct {
	Magic       uint32          // 0x48544d53 ("HTMS")
	Version     uint32          // Format version
	Compression CompressionType // Payload compression
	Flags       uint8           // FlagHomeostasis
	Padding1    [2]byte
	RunID       [16]byte // UUID of the run that wrote the snapshot
	CreatedUnix int64    // Creation time, Unix nanoseconds
	RawSize     uint64   // Uncompressed payload size
	StoredSize  uint64   // Payload size as written
	Checksum    uint32   // CRC32C of the stored payload
	Reserved    [8]byte
}

// HeaderSize is the encoded size of Header.
const HeaderSize = 64

func (h *Header) validate() error {
	if h.Magic != MagicNumber {
		return fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	if !h.Compression.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCompression, h.Compression)
	}
	return nil
}
