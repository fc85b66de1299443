package spatialpooler

import (
	"errors"
	"fmt"
)

// ErrInputSize is returned when an input vector does not match the input space.
var ErrInputSize = errors.New("input size mismatch")

// InputSizeError reports the expected and actual input length.
type InputSizeError struct {
	Expected int
	Actual   int
}

func (e *InputSizeError) Error() string {
	return fmt.Sprintf("input size mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns ErrInputSize.
func (e *InputSizeError) Unwrap() error { return ErrInputSize }
