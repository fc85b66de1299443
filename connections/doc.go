// Package connections is the state store of an HTM region.
//
// A region has an input space and a column space, each with an N-dimensional
// topology. Every column owns a proximal potential pool over the input space
// and CellsPerColumn cells. Cells own distal segments, segments own synapses
// to presynaptic cells.
//
// All storage is arena indexed: segments and synapses live in flat slices
// addressed by SegmentID and SynapseID, freed slots are recycled through free
// lists, and per-column statistics are flat arrays. There are no pointer
// graphs, which keeps snapshots a plain walk over the arenas.
//
// Connections only stores state and enforces its bounds (permanences within
// [0, 1], segment and synapse caps). The Spatial Pooler and Temporal Memory
// packages implement the algorithms on top of it.
package connections
