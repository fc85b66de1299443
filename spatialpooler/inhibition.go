package spatialpooler

import (
	"cmp"
	"math"
	"slices"

	"github.com/hupe1980/htmgo/connections"
	"gonum.org/v1/gonum/floats"
)

// calculateOverlaps counts active inputs reached through connected synapses.
// Overlaps below StimulusThreshold are zeroed.
func (sp *SpatialPooler) calculateOverlaps(activeBits []bool) {
	sp.parallel(len(sp.overlaps), func(lo, hi int) {
		for col := lo; col < hi; col++ {
			n := 0
			for _, in := range sp.conn.Connected(col) {
				if activeBits[in] {
					n++
				}
			}
			if float64(n) < sp.cfg.StimulusThreshold {
				n = 0
			}
			sp.overlaps[col] = n
		}
	})
}

// density returns the target fraction of active columns per inhibition area.
func (sp *SpatialPooler) density() float64 {
	if sp.cfg.LocalAreaDensity > 0 {
		return sp.cfg.LocalAreaDensity
	}
	topo := sp.conn.ColumnTopology()
	area := math.Pow(float64(2*sp.conn.InhibitionRadius()+1), float64(topo.NumDimensions()))
	area = math.Min(area, float64(topo.Size()))
	return math.Min(sp.cfg.NumActiveColumnsPerInhArea/area, sp.cfg.MaxInhibitionDensity)
}

func (sp *SpatialPooler) inhibitColumns() []int {
	if sp.cfg.GlobalInhibition || sp.conn.InhibitionRadius() > slices.Max(sp.conn.ColumnTopology().Dimensions()) {
		return sp.inhibitColumnsGlobal()
	}
	return sp.inhibitColumnsLocal()
}

// globalWinnerCount is the number of winners under global inhibition. It never
// exceeds NumActiveColumnsPerInhArea.
func (sp *SpatialPooler) globalWinnerCount() int {
	numColumns := float64(sp.conn.NumColumns())
	if sp.cfg.LocalAreaDensity > 0 {
		return int(sp.cfg.LocalAreaDensity*numColumns + 0.5)
	}
	n := int(sp.cfg.NumActiveColumnsPerInhArea + connections.Epsilon)
	return min(n, int(sp.cfg.MaxInhibitionDensity*numColumns+connections.Epsilon))
}

// inhibitColumnsGlobal picks the columns with the highest boosted overlap.
// Among equal scores the higher column index wins. Columns whose raw overlap
// is below StimulusThreshold never win.
func (sp *SpatialPooler) inhibitColumnsGlobal() []int {
	numActive := sp.globalWinnerCount()
	order := make([]int, len(sp.boosted))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if r := cmp.Compare(sp.boosted[b], sp.boosted[a]); r != 0 {
			return r
		}
		return cmp.Compare(b, a)
	})

	active := make([]int, 0, numActive)
	for _, col := range order[:min(numActive, len(order))] {
		if float64(sp.overlaps[col]) >= sp.cfg.StimulusThreshold {
			active = append(active, col)
		}
	}
	slices.Sort(active)
	return active
}

// inhibitColumnsLocal lets every column compete within its neighbourhood.
// Winners get a small bonus so that later equal neighbours lose the tie.
func (sp *SpatialPooler) inhibitColumnsLocal() []int {
	sp.ensureNeighborhoods()
	density := sp.density()

	winnerDelta := floats.Max(sp.boosted) / 1000
	if winnerDelta == 0 {
		winnerDelta = 0.001
	}
	tieBroken := slices.Clone(sp.boosted)

	var active []int
	for col, score := range sp.boosted {
		if float64(sp.overlaps[col]) < sp.cfg.StimulusThreshold {
			continue
		}
		neighbors := sp.neighborhoods[col]
		numBigger := 0
		for _, n := range neighbors {
			if tieBroken[n] > score {
				numBigger++
			}
		}
		numActive := int(0.5 + density*float64(len(neighbors)))
		if numBigger < numActive {
			active = append(active, col)
			tieBroken[col] += winnerDelta
		}
	}
	return active
}

// ensureNeighborhoods caches the column neighbourhoods for the current
// inhibition radius.
func (sp *SpatialPooler) ensureNeighborhoods() {
	radius := sp.conn.InhibitionRadius()
	if sp.neighborhoods != nil && sp.neighborRadius == radius {
		return
	}
	topo := sp.conn.ColumnTopology()
	hoods := make([][]int, topo.Size())
	sp.parallel(len(hoods), func(lo, hi int) {
		for col := lo; col < hi; col++ {
			hoods[col] = topo.Neighborhood(col, radius, sp.cfg.WrapAround)
		}
	})
	sp.neighborhoods = hoods
	sp.neighborRadius = radius
}
