package temporalmemory

import (
	"errors"
	"fmt"
)

// ErrColumnOutOfRange is returned when an active column index is outside the
// column space.
var ErrColumnOutOfRange = errors.New("column out of range")

// ColumnRangeError reports the offending column index.
type ColumnRangeError struct {
	Column     int
	NumColumns int
}

func (e *ColumnRangeError) Error() string {
	return fmt.Sprintf("%v: %d not in [0, %d)", ErrColumnOutOfRange, e.Column, e.NumColumns)
}

func (e *ColumnRangeError) Unwrap() error { return ErrColumnOutOfRange }
