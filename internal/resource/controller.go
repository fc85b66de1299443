package resource

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds limits for outbound partition traffic.
type Config struct {
	// MaxInflight is the maximum number of concurrent partition asks.
	// If 0, defaults to 1.
	MaxInflight int64

	// AsksPerSecond rate-limits partition asks.
	// If 0, unlimited.
	AsksPerSecond float64

	// Burst is the token bucket size for AsksPerSecond.
	// If 0, defaults to MaxInflight.
	Burst int
}

// Controller bounds concurrency and rate of asks sent to partition actors.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	inflightSem *semaphore.Weighted
	inflight    atomic.Int64
	limiter     *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MaxInflight)
	}

	c := &Controller{
		cfg:         cfg,
		inflightSem: semaphore.NewWeighted(cfg.MaxInflight),
	}

	if cfg.AsksPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.AsksPerSecond), cfg.Burst)
	}

	return c
}

// Acquire waits for a free ask slot and a rate token.
// Blocks until both are available or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.inflightSem.Acquire(ctx, 1); err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.inflightSem.Release(1)
			return err
		}
	}
	c.inflight.Add(1)
	return nil
}

// TryAcquire attempts to reserve an ask slot without blocking.
func (c *Controller) TryAcquire() bool {
	if c == nil {
		return true
	}
	if !c.inflightSem.TryAcquire(1) {
		return false
	}
	if c.limiter != nil && !c.limiter.AllowN(time.Now(), 1) {
		c.inflightSem.Release(1)
		return false
	}
	c.inflight.Add(1)
	return true
}

// Release returns an ask slot.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	c.inflight.Add(-1)
	c.inflightSem.Release(1)
}

// Inflight returns the number of asks currently holding a slot.
func (c *Controller) Inflight() int64 {
	if c == nil {
		return 0
	}
	return c.inflight.Load()
}

// MaxInflight returns the configured concurrency limit.
func (c *Controller) MaxInflight() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxInflight
}
