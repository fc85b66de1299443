package temporalmemory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/bitmap"
)

// Option configures a TemporalMemory.
type Option func(*TemporalMemory)

// WithExpectedColumns declares the width of the upstream column space. New
// fails when the connections store disagrees.
func WithExpectedColumns(n int) Option {
	return func(tm *TemporalMemory) {
		tm.expectedColumns = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(tm *TemporalMemory) {
		tm.logger = l
	}
}

// Cycle is the outcome of one Compute step. All index slices are ascending.
type Cycle struct {
	ActiveColumns    []int
	ActiveCells      []int
	WinnerCells      []int
	PredictiveCells  []int
	ActiveSegments   []connections.SegmentID
	MatchingSegments []connections.SegmentID
	BurstingColumns  []int
	// Anomaly is the fraction of active columns that were not predicted.
	Anomaly float64
}

// PredictedColumns returns the columns holding a predictive cell.
func (c *Cycle) PredictedColumns(cellsPerColumn int) []int {
	return columnsOf(c.PredictiveCells, cellsPerColumn)
}

// TemporalMemory learns transitions between column activations.
type TemporalMemory struct {
	conn            *connections.Connections
	cfg             connections.Config
	expectedColumns int
	logger          *slog.Logger

	mu sync.Mutex
}

// New creates a TemporalMemory over conn.
func New(conn *connections.Connections, opts ...Option) (*TemporalMemory, error) {
	if conn == nil {
		return nil, &connections.ConfigError{Field: "Connections", Value: nil, Reason: "must not be nil"}
	}
	tm := &TemporalMemory{
		conn:   conn,
		cfg:    conn.Config(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(tm)
	}
	if tm.logger == nil {
		tm.logger = slog.New(slog.DiscardHandler)
	}
	if tm.expectedColumns > 0 && tm.expectedColumns != conn.NumColumns() {
		return nil, &connections.ConfigError{
			Field:  "ColumnDimensions",
			Value:  conn.NumColumns(),
			Reason: fmt.Sprintf("upstream stage produces %d columns", tm.expectedColumns),
		}
	}
	return tm, nil
}

// Name identifies the stage.
func (tm *TemporalMemory) Name() string { return "temporal-memory" }

// NumColumns returns the width of the column space.
func (tm *TemporalMemory) NumColumns() int { return tm.conn.NumColumns() }

// NumCells returns the number of cells.
func (tm *TemporalMemory) NumCells() int { return tm.conn.NumCells() }

// Connections returns the underlying store.
func (tm *TemporalMemory) Connections() *connections.Connections { return tm.conn }

// Compute activates cells for the given active columns and, with learn,
// adapts distal segments. Duplicate columns are ignored.
func (tm *TemporalMemory) Compute(ctx context.Context, activeColumns []int, learn bool) (*Cycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols, err := tm.normalize(activeColumns)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	state := tm.conn.TemporalState()
	s := step{
		tm:            tm,
		learn:         learn,
		prevActive:    bitmap.FromInts(state.ActiveCells),
		prevWinners:   slices.Clone(state.WinnerCells),
		prevPotential: state.NumActivePotential,
	}
	slices.Sort(s.prevWinners)

	activeGroups := tm.groupByColumn(state.ActiveSegments)
	matchingGroups := tm.groupByColumn(state.MatchingSegments)
	prevPredicted := make([]int, 0, len(activeGroups))
	for _, g := range activeGroups {
		prevPredicted = append(prevPredicted, g.column)
	}

	ai, mi := 0, 0
	for _, col := range cols {
		for ai < len(activeGroups) && activeGroups[ai].column < col {
			ai++
		}
		for mi < len(matchingGroups) && matchingGroups[mi].column < col {
			s.punish(matchingGroups[mi].segments)
			mi++
		}
		var matching []connections.SegmentID
		if mi < len(matchingGroups) && matchingGroups[mi].column == col {
			matching = matchingGroups[mi].segments
			mi++
		}
		if ai < len(activeGroups) && activeGroups[ai].column == col {
			s.activatePredicted(activeGroups[ai].segments)
			ai++
		} else {
			s.burst(col, matching)
		}
	}
	for ; mi < len(matchingGroups); mi++ {
		s.punish(matchingGroups[mi].segments)
	}

	activeSegs, matchingSegs, potential := tm.activateDendrites(s.activeCells, learn)

	state.ActiveCells = s.activeCells
	state.WinnerCells = s.winnerCells
	state.ActiveSegments = activeSegs
	state.MatchingSegments = matchingSegs
	state.NumActivePotential = potential

	cycle := &Cycle{
		ActiveColumns:    cols,
		ActiveCells:      slices.Clone(s.activeCells),
		WinnerCells:      slices.Clone(s.winnerCells),
		PredictiveCells:  tm.cellsOf(activeSegs),
		ActiveSegments:   slices.Clone(activeSegs),
		MatchingSegments: slices.Clone(matchingSegs),
		BurstingColumns:  s.bursting,
		Anomaly:          Anomaly(cols, prevPredicted),
	}

	if len(s.bursting) > 0 {
		tm.logger.Debug("columns burst",
			"bursting", len(s.bursting),
			"active", len(cols),
			"iteration", tm.conn.TMIteration(),
		)
	}
	return cycle, nil
}

func (tm *TemporalMemory) normalize(activeColumns []int) ([]int, error) {
	cols := slices.Clone(activeColumns)
	slices.Sort(cols)
	cols = slices.Compact(cols)
	n := tm.conn.NumColumns()
	if len(cols) > 0 && (cols[0] < 0 || cols[len(cols)-1] >= n) {
		bad := cols[0]
		if bad >= 0 {
			bad = cols[len(cols)-1]
		}
		return nil, &ColumnRangeError{Column: bad, NumColumns: n}
	}
	return cols, nil
}

type columnGroup struct {
	column   int
	segments []connections.SegmentID
}

// groupByColumn splits a sorted segment list into runs owned by one column.
func (tm *TemporalMemory) groupByColumn(segs []connections.SegmentID) []columnGroup {
	var groups []columnGroup
	for _, seg := range segs {
		if !tm.conn.SegmentAlive(seg) {
			continue
		}
		col := tm.conn.ColumnOfCell(tm.conn.CellOfSegment(seg))
		if n := len(groups); n > 0 && groups[n-1].column == col {
			groups[n-1].segments = append(groups[n-1].segments, seg)
			continue
		}
		groups = append(groups, columnGroup{column: col, segments: []connections.SegmentID{seg}})
	}
	return groups
}

func (tm *TemporalMemory) activateDendrites(activeCells []int, learn bool) (active, matching []connections.SegmentID, potential []int32) {
	act := tm.conn.ComputeActivity(activeCells, tm.cfg.ConnectedPermanence)
	for i := range act.NumActivePotential {
		seg := connections.SegmentID(i)
		if !tm.conn.SegmentAlive(seg) {
			continue
		}
		if int(act.NumActiveConnected[i]) >= tm.cfg.ActivationThreshold {
			active = append(active, seg)
		}
		if int(act.NumActivePotential[i]) >= tm.cfg.MinThreshold {
			matching = append(matching, seg)
		}
	}
	tm.conn.SortSegments(active)
	tm.conn.SortSegments(matching)

	if learn {
		for _, seg := range active {
			tm.conn.RecordSegmentActivity(seg)
		}
		tm.conn.StartNewIteration()
	}
	return active, matching, act.NumActivePotential
}

// cellsOf returns the distinct owner cells of segs, which must be sorted.
func (tm *TemporalMemory) cellsOf(segs []connections.SegmentID) []int {
	cells := make([]int, 0, len(segs))
	for _, seg := range segs {
		cell := tm.conn.CellOfSegment(seg)
		if n := len(cells); n == 0 || cells[n-1] != cell {
			cells = append(cells, cell)
		}
	}
	return cells
}

// Reset clears the per-step activity to mark a sequence boundary. Learned
// segments and synapses are kept.
func (tm *TemporalMemory) Reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.conn.TemporalState().Reset()
	tm.logger.Debug("temporal memory reset", "iteration", tm.conn.TMIteration())
}

// ActiveCells returns the cells active in the last step.
func (tm *TemporalMemory) ActiveCells() []int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return slices.Clone(tm.conn.TemporalState().ActiveCells)
}

// WinnerCells returns the winner cells of the last step.
func (tm *TemporalMemory) WinnerCells() []int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return slices.Clone(tm.conn.TemporalState().WinnerCells)
}

// PredictiveCells returns the cells predicted for the next step.
func (tm *TemporalMemory) PredictiveCells() []int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.cellsOf(tm.conn.TemporalState().ActiveSegments)
}

// Anomaly returns the fraction of active columns absent from
// predictedColumns. Both slices must be ascending. No active columns yields 0.
func Anomaly(activeColumns, predictedColumns []int) float64 {
	if len(activeColumns) == 0 {
		return 0
	}
	hits := bitmap.FromInts(activeColumns).IntersectionLen(bitmap.FromInts(predictedColumns))
	return float64(len(activeColumns)-hits) / float64(len(activeColumns))
}

func columnsOf(cells []int, cellsPerColumn int) []int {
	cols := make([]int, 0, len(cells))
	for _, cell := range cells {
		col := cell / cellsPerColumn
		if n := len(cols); n == 0 || cols[n-1] != col {
			cols = append(cols, col)
		}
	}
	return cols
}
