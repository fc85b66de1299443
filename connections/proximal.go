package connections

// ProximalRules are the parameters of proximal permanence learning. They
// travel with partition requests, so a partition adapts the columns it owns
// exactly as a local Spatial Pooler would without holding a Config.
type ProximalRules struct {
	StimulusThreshold       float64 `json:"stimulus_threshold"`
	SynPermConnected        float64 `json:"syn_perm_connected"`
	SynPermTrimThreshold    float64 `json:"syn_perm_trim_threshold"`
	SynPermMin              float64 `json:"syn_perm_min"`
	SynPermMax              float64 `json:"syn_perm_max"`
	SynPermActiveInc        float64 `json:"syn_perm_active_inc"`
	SynPermInactiveDec      float64 `json:"syn_perm_inactive_dec"`
	SynPermBelowStimulusInc float64 `json:"syn_perm_below_stimulus_inc"`
}

// ProximalRules returns the proximal learning parameters of c.
func (c Config) ProximalRules() ProximalRules {
	return ProximalRules{
		StimulusThreshold:       c.StimulusThreshold,
		SynPermConnected:        c.SynPermConnected,
		SynPermTrimThreshold:    c.SynPermTrimThreshold,
		SynPermMin:              c.SynPermMin,
		SynPermMax:              c.SynPermMax,
		SynPermActiveInc:        c.SynPermActiveInc,
		SynPermInactiveDec:      c.SynPermInactiveDec,
		SynPermBelowStimulusInc: c.SynPermBelowStimulusInc,
	}
}

// Clip maps a permanence into its stored form: values at or below the trim
// threshold become zero and the result is clipped to [SynPermMin, SynPermMax].
func (r ProximalRules) Clip(p float64) float64 {
	if p <= r.SynPermTrimThreshold {
		p = 0
	}
	return min(max(p, r.SynPermMin), r.SynPermMax)
}

// Normalize clips perms in place and returns the number of connected
// synapses.
func (r ProximalRules) Normalize(perms []float64) int {
	connected := 0
	for i, p := range perms {
		perms[i] = r.Clip(p)
		if perms[i] >= r.SynPermConnected {
			connected++
		}
	}
	return connected
}

// RaiseToThreshold adds SynPermBelowStimulusInc to every permanence until at
// least StimulusThreshold synapses are connected. Pools smaller than the
// threshold are left alone.
func (r ProximalRules) RaiseToThreshold(perms []float64) {
	if r.SynPermBelowStimulusInc <= 0 || float64(len(perms)) < r.StimulusThreshold {
		return
	}
	for {
		connected := 0
		for _, p := range perms {
			if p >= r.SynPermConnected {
				connected++
			}
		}
		if float64(connected) >= r.StimulusThreshold {
			return
		}
		for i := range perms {
			perms[i] += r.SynPermBelowStimulusInc
		}
	}
}

// Adapt applies one learning step of an active column: permanences toward
// active inputs grow, the rest decay, then the column is raised to the
// stimulus threshold. perms is modified in place and not yet clipped.
func (r ProximalRules) Adapt(potential []int, perms []float64, active func(int) bool) {
	for i, in := range potential {
		if active(in) {
			perms[i] += r.SynPermActiveInc
		} else {
			perms[i] -= r.SynPermInactiveDec
		}
	}
	r.RaiseToThreshold(perms)
}

// Bump raises every permanence of a weak column by SynPermBelowStimulusInc.
func (r ProximalRules) Bump(perms []float64) {
	for i := range perms {
		perms[i] += r.SynPermBelowStimulusInc
	}
}

// Overlap counts active inputs reached through connected synapses. Counts
// below StimulusThreshold are reported as zero.
func (r ProximalRules) Overlap(potential []int, perms []float64, active func(int) bool) int {
	n := 0
	for i, in := range potential {
		if perms[i] >= r.SynPermConnected && active(in) {
			n++
		}
	}
	if float64(n) < r.StimulusThreshold {
		return 0
	}
	return n
}
