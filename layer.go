package htmgo

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/htmgo/temporalmemory"
)

// Stage is one computation step of a Layer. The first stage receives the
// layer input; every later stage receives the previous stage's output.
// Widths are measured in bits of the respective representation.
type Stage interface {
	Name() string
	InputWidth() int
	OutputWidth() int
	Compute(ctx context.Context, input []int, learn bool) ([]int, error)
}

// Encoder turns a value into a dense bit vector of Width entries.
type Encoder[T any] interface {
	Width() int
	Encode(value T) ([]int, error)
}

// Classifier learns to map layer outputs to labels.
type Classifier[L any] interface {
	Learn(pattern []int, label L) error
	Infer(pattern []int) (label L, confidence float64, err error)
}

// Layer is an ordered list of stages whose widths are checked once at
// construction.
type Layer struct {
	stages  []Stage
	metrics MetricsCollector
}

// NewLayer connects stages in the given order.
func NewLayer(stages ...Stage) (*Layer, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyLayer
	}
	for i := 1; i < len(stages); i++ {
		up, down := stages[i-1], stages[i]
		if up.OutputWidth() != down.InputWidth() {
			return nil, &StageMismatchError{
				Upstream:   up.Name(),
				Downstream: down.Name(),
				Produced:   up.OutputWidth(),
				Expected:   down.InputWidth(),
			}
		}
	}
	return &Layer{stages: slices.Clone(stages), metrics: NoopMetricsCollector{}}, nil
}

// Stages returns the stages in order.
func (l *Layer) Stages() []Stage { return slices.Clone(l.stages) }

// InputWidth is the input width of the first stage.
func (l *Layer) InputWidth() int { return l.stages[0].InputWidth() }

// OutputWidth is the output width of the last stage.
func (l *Layer) OutputWidth() int { return l.stages[len(l.stages)-1].OutputWidth() }

// Compute runs input through every stage and returns the last output.
func (l *Layer) Compute(ctx context.Context, input []int, learn bool) ([]int, error) {
	out := input
	for _, s := range l.stages {
		start := time.Now()
		next, err := s.Compute(ctx, out, learn)
		l.metrics.RecordCompute(s.Name(), time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		out = next
	}
	return out, nil
}

// ComputeValue encodes value with enc and runs it through l.
func ComputeValue[T any](ctx context.Context, l *Layer, enc Encoder[T], value T, learn bool) ([]int, error) {
	if enc.Width() != l.InputWidth() {
		return nil, &StageMismatchError{
			Upstream:   "encoder",
			Downstream: l.stages[0].Name(),
			Produced:   enc.Width(),
			Expected:   l.InputWidth(),
		}
	}
	input, err := enc.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return l.Compute(ctx, input, learn)
}

// TemporalStage adapts a TemporalMemory to Stage. Its input is the list of
// active columns, its output the active cells.
type TemporalStage struct {
	tm *temporalmemory.TemporalMemory

	mu   sync.Mutex
	last *temporalmemory.Cycle
}

// NewTemporalStage wraps tm.
func NewTemporalStage(tm *temporalmemory.TemporalMemory) *TemporalStage {
	return &TemporalStage{tm: tm}
}

func (s *TemporalStage) Name() string     { return s.tm.Name() }
func (s *TemporalStage) InputWidth() int  { return s.tm.NumColumns() }
func (s *TemporalStage) OutputWidth() int { return s.tm.NumCells() }

// Compute implements Stage.
func (s *TemporalStage) Compute(ctx context.Context, input []int, learn bool) ([]int, error) {
	cycle, err := s.tm.Compute(ctx, input, learn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = cycle
	s.mu.Unlock()
	return cycle.ActiveCells, nil
}

// Last returns the cycle of the latest Compute call, nil before the first.
func (s *TemporalStage) Last() *temporalmemory.Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
