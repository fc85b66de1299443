// Package spatialpooler maps input bit-vectors to sparse sets of active
// columns.
//
// Each Compute call scores every column by the number of active input bits
// reached through connected proximal synapses, selects winners by global or
// local inhibition and, when learning, adapts proximal permanences, duty
// cycles, boost factors and the inhibition radius.
//
// A StabilityController (see package homeostasis) observes every output and
// switches boosting off once learning settles.
//
// With WithWorkers(n > 1) the read-only phases (overlap scoring, neighbourhood
// lookup) and per-column synapse adaptation run on n goroutines over
// column-local buffers. Inhibition, duty-cycle and boost updates and every
// PRNG draw stay serial, so the output is bit-identical to the single-threaded
// pooler.
package spatialpooler
