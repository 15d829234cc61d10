// Package batch fans out slice requests with bounded concurrency.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rcliao/slicegate/internal/model"
)

// DefaultConcurrency caps in-flight items when no limit is configured.
const DefaultConcurrency = 4

// Request is one batch item: an anchor plus a policy reference.
// Version 0 resolves the latest policy version.
type Request struct {
	AnchorID      string `json:"anchor_id"`
	PolicyID      string `json:"policy_id"`
	PolicyVersion int    `json:"policy_version,omitempty"`
}

// Result is the per-item outcome. Exactly one of Err or Slice+Token is
// set.
type Result struct {
	Slice *model.Slice
	Token string
	Err   error
}

// BuildFunc processes a single request end to end (resolve policy,
// build slice, issue token).
type BuildFunc func(ctx context.Context, req Request) (*model.Slice, string, error)

// Coordinator runs batches item-independently: one item's failure is
// captured in its slot and never aborts the rest. The semaphore caps
// simultaneously in-flight items and the rate limiter keeps store
// fetch pressure bounded, since the backing store is shared with
// other collaborators.
type Coordinator struct {
	build   BuildFunc
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// New creates a Coordinator. fetchRate 0 disables rate limiting.
func New(build BuildFunc, maxConcurrent int, fetchRate float64, burst int) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultConcurrency
	}
	c := &Coordinator{
		build: build,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
	if fetchRate > 0 {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(fetchRate), burst)
	}
	return c
}

// Run processes all requests and returns results positionally aligned
// with the input. Cancellation marks the remaining slots with the
// context error; already-completed slots keep their results.
func (c *Coordinator) Run(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			defer c.sem.Release(1)

			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					results[i] = Result{Err: err}
					return
				}
			}
			sl, tok, err := c.build(ctx, req)
			results[i] = Result{Slice: sl, Token: tok, Err: err}
		}(i, req)
	}

	wg.Wait()
	return results
}
