// Package temporalmemory learns sequences of column activations.
//
// Every cell owns distal segments whose synapses point at cells that were
// active in the previous step. A column whose cells were predicted activates
// only those cells; an unpredicted column bursts and activates all of them.
// Learning reinforces the segments that explain the current step and grows
// new synapses toward the previous step's winner cells.
//
// All state lives in a connections.Connections store shared with the Spatial
// Pooler, which also owns the PRNG used for tie-breaks and synapse growth.
//
// Basic usage:
//
//	tm, err := temporalmemory.New(conn, temporalmemory.WithExpectedColumns(sp.OutputWidth()))
//	if err != nil {
//		return err
//	}
//	cycle, err := tm.Compute(ctx, activeColumns, true)
package temporalmemory
