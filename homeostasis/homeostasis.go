// Package homeostasis detects when Spatial Pooler learning has settled.
//
// The Controller keys every step by a fingerprint of the input pattern and
// follows, per pattern, how much the produced active-column set changes. Once
// every pattern seen has produced the same output for a configured number of
// sightings, the controller flips to stable and notifies a callback.
//
// Boosting is suppressed from MinCycles onwards so the pooler can converge,
// and stays suppressed until Reset.
package homeostasis

import (
	"log/slog"
	"slices"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/internal/bitmap"
	"github.com/hupe1980/htmgo/internal/hash"
)

const (
	// DefaultCyclesToWaitOnChange is the number of unchanged sightings per
	// pattern required for stability.
	DefaultCyclesToWaitOnChange = 50
	// DefaultSimilarityThreshold is the minimum overlap ratio between two
	// outputs for a pattern to count as unchanged.
	DefaultSimilarityThreshold = 0.97
	// DefaultHistorySize is the size of the recent output fingerprint ring.
	DefaultHistorySize = 64

	countWindow = 5
)

// Callback is invoked on every stability transition.
type Callback func(isStable bool, numPatterns int, avgActiveColumns float64, totalInputsSeen int)

// Option configures a Controller.
type Option func(*Controller)

// WithCyclesToWaitOnChange sets the number of unchanged sightings each
// pattern needs before the controller becomes stable.
func WithCyclesToWaitOnChange(n int) Option {
	return func(c *Controller) {
		c.requiredStable = n
	}
}

// WithSimilarityThreshold sets the overlap ratio above which two outputs of a
// pattern count as unchanged.
func WithSimilarityThreshold(t float64) Option {
	return func(c *Controller) {
		c.threshold = t
	}
}

// WithHistorySize sets the size of the recent output fingerprint ring.
func WithHistorySize(n int) Option {
	return func(c *Controller) {
		c.historySize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

type pattern struct {
	key          uint64
	lastOutput   []int
	counts       [countWindow]int
	stableCycles int
	seen         int
	sumActive    int
}

func (p *pattern) pushCount(n int) {
	copy(p.counts[:], p.counts[1:])
	p.counts[countWindow-1] = n
}

// avgDelta is the mean absolute difference between consecutive counts.
func (p *pattern) avgDelta() float64 {
	sum := 0
	for i := 0; i < countWindow-1; i++ {
		d := p.counts[i] - p.counts[i+1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / countWindow
}

// Controller tracks learning stability of a Spatial Pooler.
type Controller struct {
	minCycles      int
	requiredStable int
	threshold      float64
	historySize    int
	onChange       Callback
	logger         *slog.Logger

	mu          sync.Mutex
	cycle       int
	patterns    map[uint64]*pattern
	order       []uint64
	recent      []uint64
	recentPos   int
	totalInputs int
	stable      bool
	suppressed  bool
	changes     int
}

// New creates a controller. Boosting is suppressed after minCycles steps.
// onChange may be nil.
func New(minCycles int, onChange Callback, opts ...Option) (*Controller, error) {
	c := &Controller{
		minCycles:      minCycles,
		requiredStable: DefaultCyclesToWaitOnChange,
		threshold:      DefaultSimilarityThreshold,
		historySize:    DefaultHistorySize,
		onChange:       onChange,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.clear()
	return c, nil
}

func (c *Controller) validate() error {
	if c.minCycles < 0 {
		return &connections.ConfigError{Field: "MinCycles", Value: c.minCycles, Reason: "must not be negative"}
	}
	if c.requiredStable < 1 {
		return &connections.ConfigError{Field: "CyclesToWaitOnChange", Value: c.requiredStable, Reason: "must be at least 1"}
	}
	if c.threshold <= 0 || c.threshold > 1 {
		return &connections.ConfigError{Field: "SimilarityThreshold", Value: c.threshold, Reason: "must be in (0, 1]"}
	}
	if c.historySize < 1 {
		return &connections.ConfigError{Field: "HistorySize", Value: c.historySize, Reason: "must be at least 1"}
	}
	return nil
}

func (c *Controller) clear() {
	c.cycle = 0
	c.patterns = make(map[uint64]*pattern)
	c.order = nil
	c.recent = make([]uint64, 0, c.historySize)
	c.recentPos = 0
	c.totalInputs = 0
	c.stable = false
	c.suppressed = false
	c.changes = 0
}

// Compute records one Spatial Pooler step: input holds the active input
// indices, activeColumns the produced output. It returns the stability flag.
func (c *Controller) Compute(input, activeColumns []int) bool {
	c.mu.Lock()

	c.cycle++
	c.totalInputs++
	c.pushRecent(hash.Fingerprint(activeColumns))

	key := hash.Fingerprint(input)
	p, ok := c.patterns[key]
	if !ok {
		p = &pattern{key: key}
		c.patterns[key] = p
		c.order = append(c.order, key)
	}
	p.seen++
	p.sumActive += len(activeColumns)
	p.pushCount(len(activeColumns))

	if !c.suppressed && c.cycle >= c.minCycles {
		c.suppressed = true
		c.logger.Info("boosting suppressed", "cycle", c.cycle)
	}

	var fire bool
	if similarity(p.lastOutput, activeColumns) >= c.threshold {
		if p.avgDelta() == 0 {
			p.stableCycles++
		} else {
			p.stableCycles = 0
		}
		if !c.stable && c.cycle >= c.minCycles && c.allStable() {
			c.stable = true
			fire = true
			c.logger.Info("spatial pooler stable",
				"cycle", c.cycle,
				"patterns", len(c.patterns),
			)
		}
	} else {
		p.stableCycles = 0
		if c.stable {
			c.changes++
			c.logger.Warn("output of a stable pattern changed", "cycle", c.cycle)
		}
	}
	p.lastOutput = slices.Clone(activeColumns)

	stable := c.stable
	numPatterns, avg, total := len(c.patterns), c.avgActiveColumnsLocked(), c.totalInputs
	c.mu.Unlock()

	if fire && c.onChange != nil {
		c.onChange(true, numPatterns, avg, total)
	}
	return stable
}

func (c *Controller) allStable() bool {
	for _, p := range c.patterns {
		if p.stableCycles < c.requiredStable {
			return false
		}
	}
	return true
}

func (c *Controller) pushRecent(fp uint64) {
	if len(c.recent) < c.historySize {
		c.recent = append(c.recent, fp)
		return
	}
	c.recent[c.recentPos] = fp
	c.recentPos = (c.recentPos + 1) % c.historySize
}

func (c *Controller) avgActiveColumnsLocked() float64 {
	if len(c.patterns) == 0 {
		return 0
	}
	avgs := make([]float64, 0, len(c.order))
	for _, key := range c.order {
		p := c.patterns[key]
		avgs = append(avgs, float64(p.sumActive)/float64(p.seen))
	}
	return stat.Mean(avgs, nil)
}

// similarity is |a ∩ b| / max(|a|, |b|); two empty outputs are identical.
func similarity(a, b []int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	shared := bitmap.FromInts(a).IntersectionLen(bitmap.FromInts(b))
	return float64(shared) / float64(max(len(a), len(b)))
}

// BoostingSuppressed reports whether boosting is disabled.
func (c *Controller) BoostingSuppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}

// IsStable reports whether the controller reached stability.
func (c *Controller) IsStable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stable
}

// Reset forgets all observations and re-arms boosting. A stable controller
// notifies the callback with isStable=false.
func (c *Controller) Reset() {
	c.mu.Lock()
	wasStable := c.stable
	numPatterns, avg, total := len(c.patterns), c.avgActiveColumnsLocked(), c.totalInputs
	c.clear()
	c.mu.Unlock()

	c.logger.Info("homeostatic controller reset", "was_stable", wasStable)
	if wasStable && c.onChange != nil {
		c.onChange(false, numPatterns, avg, total)
	}
}

// Stats is a snapshot of the controller state.
type Stats struct {
	Cycle            int
	NumPatterns      int
	AvgActiveColumns float64
	TotalInputsSeen  int
	Stable           bool
	Suppressed       bool
	// ChangesAfterStable counts outputs that changed after stability.
	ChangesAfterStable int
	// DistinctRecentOutputs is the number of distinct outputs in the
	// recent history ring.
	DistinctRecentOutputs int
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	distinct := slices.Clone(c.recent)
	slices.Sort(distinct)
	return Stats{
		Cycle:                 c.cycle,
		NumPatterns:           len(c.patterns),
		AvgActiveColumns:      c.avgActiveColumnsLocked(),
		TotalInputsSeen:       c.totalInputs,
		Stable:                c.stable,
		Suppressed:            c.suppressed,
		ChangesAfterStable:    c.changes,
		DistinctRecentOutputs: len(slices.Compact(distinct)),
	}
}
