package persistence

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hupe1980/htmgo/internal/hash"
)

// ChecksumMismatchError reports a snapshot payload whose CRC32C differs from
// the one recorded in its header.
type ChecksumMismatchError struct {
	RunID    uuid.UUID
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot of run %s: checksum mismatch: header 0x%08x, payload 0x%08x",
		e.RunID, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksum }

// readPayload reads the stored payload described by h and checks its size
// and checksum. The payload is hashed while it streams in.
func readPayload(r io.Reader, h *Header) ([]byte, error) {
	sum := hash.NewCRC32C()
	stored, err := io.ReadAll(io.TeeReader(io.LimitReader(r, int64(h.StoredSize)), sum))
	if err != nil {
		return nil, err
	}
	if uint64(len(stored)) != h.StoredSize {
		return nil, fmt.Errorf("%w: payload has %d of %d bytes", ErrTruncated, len(stored), h.StoredSize)
	}
	if got := sum.Sum32(); got != h.Checksum {
		return nil, &ChecksumMismatchError{RunID: uuid.UUID(h.RunID), Expected: h.Checksum, Actual: got}
	}
	return stored, nil
}
