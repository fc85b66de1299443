package htmgo

import (
	"errors"
	"fmt"
)

var (
	// ErrStageMismatch is returned when adjacent stages disagree on width.
	ErrStageMismatch = errors.New("stage width mismatch")

	// ErrEmptyLayer is returned when a layer is built without stages.
	ErrEmptyLayer = errors.New("layer has no stages")

	// ErrNoSnapshotStore is returned by snapshot operations on a region
	// configured without WithSnapshotStore.
	ErrNoSnapshotStore = errors.New("snapshot store not configured")
)

// StageMismatchError reports two connected stages whose widths disagree.
type StageMismatchError struct {
	Upstream   string
	Downstream string
	Produced   int
	Expected   int
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("stage mismatch: %s produces %d bits, %s expects %d",
		e.Upstream, e.Produced, e.Downstream, e.Expected)
}

func (e *StageMismatchError) Unwrap() error { return ErrStageMismatch }
