package spatialpooler

import (
	"math"
	"slices"

	"github.com/hupe1980/htmgo/connections"
)

func (sp *SpatialPooler) initialize() error {
	numColumns := sp.conn.NumColumns()
	for col := range numColumns {
		potential := sp.mapPotential(col)
		if float64(len(potential)) < sp.cfg.StimulusThreshold {
			return &connections.ConfigError{
				Field:  "StimulusThreshold",
				Value:  sp.cfg.StimulusThreshold,
				Reason: "exceeds the potential pool size of a column; raise PotentialRadius or PotentialPct",
			}
		}
		sp.conn.SetPotential(col, potential)
		perms := sp.initPermanences(len(potential))
		sp.rules.RaiseToThreshold(perms)
		sp.conn.SetPermanences(col, perms)
	}
	sp.updateInhibitionRadius()
	sp.logger.Debug("spatial pooler initialized",
		"columns", numColumns,
		"inputs", sp.conn.NumInputs(),
		"inhibition_radius", sp.conn.InhibitionRadius(),
	)
	return nil
}

// mapPotential samples the potential pool of a column around the centre of
// its receptive field.
func (sp *SpatialPooler) mapPotential(col int) []int {
	inputs := sp.conn.InputTopology()

	var candidates []int
	if sp.cfg.PotentialRadius < 0 {
		candidates = make([]int, inputs.Size())
		for i := range candidates {
			candidates[i] = i
		}
	} else {
		center := connections.MapColumn(col, sp.conn.ColumnTopology(), inputs)
		candidates = inputs.Neighborhood(center, sp.cfg.PotentialRadius, sp.cfg.WrapAround)
	}

	n := int(float64(len(candidates))*sp.cfg.PotentialPct + 0.5)
	pool := sp.conn.Random().Sample(candidates, n)
	slices.Sort(pool)
	return pool
}

// initPermanences draws roughly InitialSynapseConnsPct connected permanences
// and the rest below the connection threshold, truncated to 5 decimals.
func (sp *SpatialPooler) initPermanences(n int) []float64 {
	rnd := sp.conn.Random()
	connected := sp.cfg.SynPermConnected
	perms := make([]float64, n)
	for i := range perms {
		var p float64
		if rnd.Float64() <= sp.cfg.InitialSynapseConnsPct {
			p = connected + (sp.cfg.SynPermMax-connected)*rnd.Float64()
		} else {
			p = connected * rnd.Float64()
		}
		perms[i] = math.Trunc(p*100000) / 100000
	}
	return perms
}
