// Package executor runs step-definition flows on devices: it resolves each
// step's target, performs the action and collects per-step results.
package executor

import (
	"context"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/batch"
	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/repository"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// DefaultLongPress is used when a longPressOn step gives no duration.
const DefaultLongPress = time.Second

// RunnerConfig configures the runner.
type RunnerConfig struct {
	// Batch supplies pacing defaults below the flow's own batch section.
	Batch   *flow.BatchConfig
	Acquire snapshot.AcquirePolicy

	// Sleep replaces the wait used by wait steps and batch pacing.
	Sleep func(context.Context, time.Duration) error

	// Live progress callbacks
	OnFlowStart    func(flowIdx, totalFlows int, name, device string)
	OnStepComplete func(idx int, desc string, result *core.StepResult)
	OnFlowEnd      func(result *core.FlowResult)
}

// RunResult contains the outcome of a run.
type RunResult struct {
	Status       core.StepStatus
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Duration     time.Duration
	FlowResults  []*core.FlowResult
}

// Runner executes flows on one device. Resolver, cache and repository may be
// shared with other runners; each runner owns its batch controller.
type Runner struct {
	config   RunnerConfig
	dev      core.Device
	resolver *resolver.Resolver
	cache    *snapshot.Cache
	repo     *repository.Repository
	batch    *batch.Controller
}

// New creates a Runner.
func New(dev core.Device, r *resolver.Resolver, cache *snapshot.Cache, repo *repository.Repository, cfg RunnerConfig) *Runner {
	if cfg.Acquire.Attempts == 0 {
		cfg.Acquire = snapshot.DefaultAcquirePolicy()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if repo == nil {
		repo = repository.New(cache, nil)
	}
	return &Runner{
		config:   cfg,
		dev:      dev,
		resolver: r,
		cache:    cache,
		repo:     repo,
		batch: batch.New(dev, r, cache,
			batch.WithAcquirePolicy(cfg.Acquire),
			batch.WithSleep(cfg.Sleep)),
	}
}

// Run executes flows in order.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) *RunResult {
	start := time.Now()
	results := make([]*core.FlowResult, len(flows))
	for i, f := range flows {
		if ctx.Err() != nil {
			results[i] = skippedFlow(f, "run cancelled")
			continue
		}
		results[i] = r.runFlow(ctx, f, i, len(flows))
	}
	return buildRunResult(results, time.Since(start))
}

func (r *Runner) runFlow(ctx context.Context, f *flow.Flow, idx, total int) *core.FlowResult {
	fr := &FlowRunner{
		runner:  r,
		flow:    f,
		flowIdx: idx,
		total:   total,
	}
	return fr.Run(ctx)
}

func skippedFlow(f *flow.Flow, reason string) *core.FlowResult {
	return &core.FlowResult{
		Name:     f.Config.Name,
		FilePath: f.SourcePath,
		Status:   core.StatusSkipped,
		Error:    reason,
	}
}

// buildRunResult aggregates flow results into a run result.
func buildRunResult(flowResults []*core.FlowResult, d time.Duration) *RunResult {
	result := &RunResult{
		TotalFlows:  len(flowResults),
		FlowResults: flowResults,
		Duration:    d,
		Status:      core.StatusPassed,
	}
	for _, fr := range flowResults {
		switch fr.Status {
		case core.StatusPassed:
			result.PassedFlows++
		case core.StatusFailed, core.StatusErrored:
			result.FailedFlows++
		case core.StatusSkipped:
			result.SkippedFlows++
		}
	}
	if result.FailedFlows > 0 {
		result.Status = core.StatusFailed
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
