// Package resource bounds outbound traffic to partition actors.
//
// The Controller combines a weighted semaphore (maximum in-flight asks) with a
// token bucket (asks per second). Batched fan-out acquires one slot per
// partition ask:
//
//	rc := resource.NewController(resource.Config{
//	    MaxInflight:   8,
//	    AsksPerSecond: 500,
//	})
//
//	if err := rc.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer rc.Release()
//
// A nil *Controller is valid and imposes no limits.
package resource
