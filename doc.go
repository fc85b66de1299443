// Package htmgo implements Hierarchical Temporal Memory for Go.
//
// A Region combines a spatial pooler, a homeostatic plasticity controller
// and a temporal memory over one shared connections store. The spatial
// pooler turns dense binary inputs into sparse column activations, the
// controller watches those activations and switches boosting off once the
// output has settled, and the temporal memory learns transitions between
// successive column activations.
//
// # Quick Start
//
//	cfg := connections.DefaultConfig([]int{1024}, []int{2048})
//	region, err := htmgo.NewRegion(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, input := range inputs {
//	    res, err := region.Compute(ctx, input, true)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Anomaly, res.PredictedColumns)
//	}
//
// Call Reset between unrelated sequences so the temporal memory does not
// learn a transition across the boundary.
//
// # Stability
//
// The homeostatic controller suppresses boosting after a configurable number
// of steps and reports when every input pattern seen so far maps to an
// unchanging output:
//
//	region, _ := htmgo.NewRegion(cfg,
//	    htmgo.WithStability(500, homeostasis.WithCyclesToWaitOnChange(20)),
//	    htmgo.WithStabilityCallback(func(stable bool, patterns int, avg float64, total int) {
//	        log.Printf("stable=%v patterns=%d", stable, patterns)
//	    }),
//	)
//
// # Snapshots
//
// With a blob store configured, a region can be saved and resumed. A resumed
// region continues exactly where the saved one stopped:
//
//	store, _ := blobstore.NewLocalStore("./snapshots")
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithSnapshotStore(store))
//	info, _ := region.Save(ctx)
//
//	resumed, _ := htmgo.OpenRegion(ctx, region.RunID(), htmgo.WithSnapshotStore(store))
//
// Snapshots can be kept on local disk, in S3 (blobstore/s3) or in MinIO
// (blobstore/minio).
//
// # Distributed Column Memory
//
// With WithColumnStore the spatial pooler's column state lives in partition
// actors: overlaps, synapse adaptation and weak-column bumping run on the
// partition that owns each column, and the region only keeps duty cycles and
// boost factors. distributed.Memory is such a store. Partitions are placed on
// nodes by partition.Map; actors keep their records in process or in Redis
// (distributed/redisnode).
//
//	cluster, _ := distributed.NewCluster(clusterCfg, cfg.NumColumns(), nil, logger)
//	region, _ := htmgo.NewRegion(cfg, htmgo.WithColumnStore(cluster.Memory))
//
// WithColumnSink only mirrors modified columns, for observers.
//
// # Layers
//
// Layer chains arbitrary stages whose widths are checked at construction.
// ComputeValue feeds a value through an Encoder first:
//
//	layer, _ := htmgo.NewLayer(sp, htmgo.NewTemporalStage(tm))
//	cells, _ := htmgo.ComputeValue(ctx, layer, encoder, 42.0, true)
//
// # Observability
//
// WithLogger enables structured logging through log/slog and
// WithMetricsCollector records per-stage latency, bursting and snapshot
// statistics.
package htmgo
