package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/repository"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// DeviceWorker is one device taking flows from the shared queue.
type DeviceWorker struct {
	ID      int
	Device  core.Device
	Cleanup func()
}

// workItem represents a flow and its index in the original flow list.
type workItem struct {
	flow  *flow.Flow
	index int
}

// ParallelRunner runs flows across several devices. Devices share the
// resolver, snapshot cache and repository; everything else is per device.
type ParallelRunner struct {
	workers  []DeviceWorker
	resolver *resolver.Resolver
	cache    *snapshot.Cache
	repo     *repository.Repository
	config   RunnerConfig
}

// NewParallelRunner creates a parallel runner with multiple device workers.
func NewParallelRunner(workers []DeviceWorker, r *resolver.Resolver, cache *snapshot.Cache, repo *repository.Repository, cfg RunnerConfig) *ParallelRunner {
	if repo == nil {
		repo = repository.New(cache, nil)
	}
	return &ParallelRunner{
		workers:  workers,
		resolver: r,
		cache:    cache,
		repo:     repo,
		config:   cfg,
	}
}

// Run executes flows using a work queue: every worker pulls the next flow
// until the queue is empty. Duration is wall-clock time.
func (pr *ParallelRunner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	if len(pr.workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}
	start := time.Now()

	queue := make(chan workItem, len(flows))
	for i, f := range flows {
		queue <- workItem{flow: f, index: i}
	}
	close(queue)

	// Each index is written by exactly one worker.
	results := make([]*core.FlowResult, len(flows))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range pr.workers {
		g.Go(func() error {
			if w.Cleanup != nil {
				defer w.Cleanup()
			}
			runner := New(w.Device, pr.resolver, pr.cache, pr.repo, pr.config)
			for item := range queue {
				if gctx.Err() != nil {
					results[item.index] = skippedFlow(item.flow, "run cancelled")
					continue
				}
				logger.Debug("worker %d takes flow %d", w.ID, item.index)
				results[item.index] = runner.runFlow(gctx, item.flow, item.index, len(flows))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buildRunResult(results, time.Since(start)), nil
}
