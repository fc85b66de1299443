// Package testutil provides testing utilities for htmgo.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random SDR Generation
//
//	rng := testutil.NewRNG(seed)
//	sparse := rng.SparseSDR(2048, 40) // ascending active indices
//	dense := rng.DenseSDR(1024, 20)   // 0/1 input vector
//	noisy := rng.Flip(dense, 5)       // invert 5 random bits
//
// # Conversions
//
//	testutil.Dense(size, sparse)
//	testutil.Sparse(dense)
//	testutil.Columns(cells, cellsPerColumn)
package testutil
