package spatialpooler

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// adaptSynapses reinforces synapses of active columns toward active inputs
// and weakens the rest.
func (sp *SpatialPooler) adaptSynapses(active []int, activeBits []bool) {
	isActive := func(in int) bool { return activeBits[in] }
	sp.parallel(len(active), func(lo, hi int) {
		for _, col := range active[lo:hi] {
			perms := slices.Clone(sp.conn.Permanences(col))
			sp.rules.Adapt(sp.conn.Potential(col), perms, isActive)
			sp.conn.SetPermanences(col, perms)
		}
	})
}

// updateDutyCycles folds this step into the moving averages over
// min(DutyCyclePeriod, iteration) steps.
func (sp *SpatialPooler) updateDutyCycles(active []int) {
	stats := sp.conn.Stats()
	period := float64(min(sp.cfg.DutyCyclePeriod, sp.conn.SPIteration()))
	if period < 1 {
		period = 1
	}
	isActive := make([]bool, len(sp.overlaps))
	for _, col := range active {
		isActive[col] = true
	}
	for col, o := range sp.overlaps {
		var overlapped, activated float64
		if o > 0 {
			overlapped = 1
		}
		if isActive[col] {
			activated = 1
		}
		stats.OverlapDutyCycles[col] = (stats.OverlapDutyCycles[col]*(period-1) + overlapped) / period
		stats.ActiveDutyCycles[col] = (stats.ActiveDutyCycles[col]*(period-1) + activated) / period
	}
}

// weakColumns returns the columns whose overlap duty cycle fell below their
// minimum.
func (sp *SpatialPooler) weakColumns() []int {
	stats := sp.conn.Stats()
	var weak []int
	for col, duty := range stats.OverlapDutyCycles {
		if duty < stats.MinOverlapDutyCycles[col] {
			weak = append(weak, col)
		}
	}
	return weak
}

// bumpUpWeakColumns raises all potential permanences of weak columns.
func (sp *SpatialPooler) bumpUpWeakColumns(weak []int) {
	sp.parallel(len(weak), func(lo, hi int) {
		for _, col := range weak[lo:hi] {
			perms := slices.Clone(sp.conn.Permanences(col))
			sp.rules.Bump(perms)
			sp.conn.SetPermanences(col, perms)
		}
	})
}

// updateBoostFactors boosts columns that are active less often than their
// minimum duty cycle, linearly up to MaxBoost for columns never active.
func (sp *SpatialPooler) updateBoostFactors() {
	stats := sp.conn.Stats()
	for col, minDuty := range stats.MinActiveDutyCycles {
		duty := stats.ActiveDutyCycles[col]
		if minDuty <= 0 || duty >= minDuty {
			stats.BoostFactors[col] = 1
			continue
		}
		stats.BoostFactors[col] = (1-sp.cfg.MaxBoost)/minDuty*duty + sp.cfg.MaxBoost
	}
}

func (sp *SpatialPooler) resetBoostFactors() {
	for i := range sp.conn.Stats().BoostFactors {
		sp.conn.Stats().BoostFactors[i] = 1
	}
}

// updateInhibitionRadius derives the radius from the average connected
// receptive field span, scaled to column space.
func (sp *SpatialPooler) updateInhibitionRadius() {
	colTopo := sp.conn.ColumnTopology()
	if sp.cfg.GlobalInhibition {
		sp.setInhibitionRadius(slices.Max(colTopo.Dimensions()))
		return
	}

	spans := make([]float64, sp.conn.NumColumns())
	for col := range spans {
		spans[col] = sp.avgConnectedSpan(col)
	}
	avgSpan := stat.Mean(spans, nil)

	inDims := sp.conn.InputTopology().Dimensions()
	ratios := make([]float64, len(inDims))
	for i, d := range colTopo.Dimensions() {
		ratios[i] = float64(d) / float64(inDims[i])
	}
	diameter := avgSpan * stat.Mean(ratios, nil)
	radius := math.Max(1, (diameter-1)/2)
	sp.setInhibitionRadius(int(radius + 0.5))
}

func (sp *SpatialPooler) setInhibitionRadius(r int) {
	if r != sp.conn.InhibitionRadius() {
		sp.logger.Debug("inhibition radius updated", "from", sp.conn.InhibitionRadius(), "to", r)
	}
	sp.conn.SetInhibitionRadius(r)
}

// avgConnectedSpan is the mean, over input dimensions, of the extent of a
// column's connected synapses.
func (sp *SpatialPooler) avgConnectedSpan(col int) float64 {
	connected := sp.conn.Connected(col)
	if len(connected) == 0 {
		return 0
	}
	topo := sp.conn.InputTopology()
	nd := topo.NumDimensions()
	lo := make([]int, nd)
	hi := make([]int, nd)
	for i := range lo {
		lo[i], hi[i] = math.MaxInt, math.MinInt
	}
	for _, in := range connected {
		for i, c := range topo.Coordinates(in) {
			lo[i] = min(lo[i], c)
			hi[i] = max(hi[i], c)
		}
	}
	spans := make([]float64, nd)
	for i := range spans {
		spans[i] = float64(hi[i] - lo[i] + 1)
	}
	return stat.Mean(spans, nil)
}

// updateMinDutyCycles sets each column's minimum duty cycles to a fraction of
// the highest duty cycle in its inhibition area.
func (sp *SpatialPooler) updateMinDutyCycles() {
	stats := sp.conn.Stats()
	if sp.cfg.GlobalInhibition || sp.conn.InhibitionRadius() > slices.Max(sp.conn.ColumnTopology().Dimensions()) {
		minOverlap := sp.cfg.MinPctOverlapDutyCycles * floats.Max(stats.OverlapDutyCycles)
		minActive := sp.cfg.MinPctActiveDutyCycles * floats.Max(stats.ActiveDutyCycles)
		for col := range stats.MinOverlapDutyCycles {
			stats.MinOverlapDutyCycles[col] = minOverlap
			stats.MinActiveDutyCycles[col] = minActive
		}
		return
	}

	sp.ensureNeighborhoods()
	for col, hood := range sp.neighborhoods {
		maxOverlap, maxActive := 0.0, 0.0
		for _, n := range hood {
			maxOverlap = math.Max(maxOverlap, stats.OverlapDutyCycles[n])
			maxActive = math.Max(maxActive, stats.ActiveDutyCycles[n])
		}
		stats.MinOverlapDutyCycles[col] = sp.cfg.MinPctOverlapDutyCycles * maxOverlap
		stats.MinActiveDutyCycles[col] = sp.cfg.MinPctActiveDutyCycles * maxActive
	}
}
