// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("htm/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	region, err := htmgo.NewRegion(cfg, htmgo.WithSnapshotStore(store))
//
// # Features
//
//   - CRC32C integrity checks on every upload
//   - Multipart uploads for large snapshots
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
