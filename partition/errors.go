package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyOutOfRange is returned for a key outside [0, numColumns). It is a
	// caller error.
	ErrKeyOutOfRange = errors.New("partition: key out of range")
	// ErrPartitionNotFound is returned when a key inside the declared range
	// matches no partition, which means the map is corrupt or incomplete.
	ErrPartitionNotFound = errors.New("partition: no partition owns key")
	// ErrPartitionUnavailable is returned when a partition actor cannot be
	// resolved or does not answer.
	ErrPartitionUnavailable = errors.New("partition: unavailable")
)

// UnavailableError reports a partition that could not be reached.
type UnavailableError struct {
	Partition int
	Node      string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("partition %d on %q unavailable: %v", e.Partition, e.Node, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *UnavailableError) Unwrap() []error { return []error{ErrPartitionUnavailable, e.Err} }
