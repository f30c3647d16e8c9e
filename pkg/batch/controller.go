// Package batch runs "act on every match" steps: resolve the best remaining
// match, act on it, pace, and repeat until the pool or the iteration cap is
// exhausted.
package batch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// ActionFunc performs the batch action at a resolved point.
type ActionFunc func(ctx context.Context, dev core.Device, p core.Point) error

// Tap is the default batch action.
func Tap(ctx context.Context, dev core.Device, p core.Point) error {
	return dev.Tap(ctx, p)
}

// Controller drives one device through batch runs. A controller runs one
// batch at a time; use one controller per device.
type Controller struct {
	dev      core.Device
	resolver *resolver.Resolver
	cache    *snapshot.Cache
	acquire  snapshot.AcquirePolicy
	sleep    func(context.Context, time.Duration) error
	jitter   func(max time.Duration) time.Duration
	onState  func(from, to core.BatchState)

	mu    sync.Mutex
	state core.BatchState
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces the pacing wait. The function must return ctx.Err()
// when ctx is cancelled.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *Controller) { c.sleep = f }
}

// WithJitter replaces the random jitter source.
func WithJitter(f func(max time.Duration) time.Duration) Option {
	return func(c *Controller) { c.jitter = f }
}

// WithAcquirePolicy sets the snapshot retry policy.
func WithAcquirePolicy(p snapshot.AcquirePolicy) Option {
	return func(c *Controller) { c.acquire = p }
}

// WithStateHook registers a callback for every state transition.
func WithStateHook(f func(from, to core.BatchState)) Option {
	return func(c *Controller) { c.onState = f }
}

// New creates a controller for dev.
func New(dev core.Device, r *resolver.Resolver, cache *snapshot.Cache, opts ...Option) *Controller {
	c := &Controller{
		dev:      dev,
		resolver: r,
		cache:    cache,
		acquire:  snapshot.DefaultAcquirePolicy(),
		sleep:    sleepContext,
		jitter:   randomJitter,
		state:    core.BatchIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() core.BatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(to core.BatchState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from != to {
		logger.Debug("batch state %s -> %s", from, to)
		if c.onState != nil {
			c.onState(from, to)
		}
	}
}

// Request is one batch run.
type Request struct {
	Evidence *flow.Evidence
	Plan     *flow.Plan
	Config   *flow.BatchConfig
	Action   ActionFunc // nil means Tap
}

// Run executes a batch. It always returns a summary; a run that aborts
// reports what it completed before stopping.
func (c *Controller) Run(ctx context.Context, req Request) *core.BatchSummary {
	cfg := req.Config.Merge(flow.DefaultBatchConfig())
	plan := req.Plan.Merge(nil)
	plan.IgnoreUniqueness = true
	ev := req.Evidence
	if ev == nil {
		ev = &flow.Evidence{}
	}
	action := req.Action
	if action == nil {
		action = Tap
	}

	summary := &core.BatchSummary{RunID: uuid.Must(uuid.NewV7()).String()}
	log := logger.With(logger.Fields{"run": summary.RunID})
	log.Infof("batch %s: up to %d actions", ev.Describe(), cfg.MaxIterations)

	consumed := make(map[core.Bounds]bool)
	start := time.Now()
	c.setState(core.BatchIdle)

	// held pins the last captured snapshot so an unchanged screen on the
	// next iteration reuses the parsed hierarchy.
	var held *snapshot.Handle
	defer func() {
		if held != nil {
			held.Release()
		}
	}()

	finish := func(state core.BatchState, reason core.StopReason, err error) *core.BatchSummary {
		summary.StopReason = reason
		summary.State = state
		summary.Duration = time.Since(start)
		if err != nil {
			summary.Error = err.Error()
		}
		c.setState(state)
		log.Infof("batch %s (%s): %d attempted, %d succeeded, %d failed, %d skipped",
			state, reason, summary.Attempted, summary.Succeeded, summary.Failed, summary.Skipped)
		return summary
	}

	for i := 1; i <= cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return finish(core.BatchAborted, core.StopCancelled, err)
		}
		if i > 1 {
			c.setState(core.BatchCooldown)
			if err := c.sleep(ctx, c.pause(cfg, summary)); err != nil {
				return finish(core.BatchAborted, core.StopCancelled, err)
			}
		}

		c.setState(core.BatchResolving)
		iterStart := time.Now()
		it := core.IterationResult{Index: i}

		res, h, err := c.resolve(ctx, ev, plan, consumed)
		if h != nil {
			if held != nil {
				held.Release()
			}
			held = h
		}
		if err != nil {
			if resolver.IsExhausted(err) {
				summary.Skipped += cfg.MaxIterations - i + 1
				return finish(core.BatchCompleted, core.StopPoolExhausted, nil)
			}
			if ctx.Err() != nil {
				return finish(core.BatchAborted, core.StopCancelled, ctx.Err())
			}
			it.Status = core.StatusSkipped
			it.Failure = core.FailureKindOf(err)
			it.Error = err.Error()
			it.Duration = time.Since(iterStart)
			summary.Skipped++
			summary.Iterations = append(summary.Iterations, it)
			log.Warnf("iteration %d: %v", i, err)
			if !cfg.ShouldContinueOnError() {
				return finish(core.BatchAborted, core.StopError, err)
			}
			continue
		}

		c.setState(core.BatchActing)
		it.Resolution = res
		consumed[res.Bounds] = true
		summary.Consumed = append(summary.Consumed, res.Bounds)
		summary.Attempted++

		if err := action(ctx, c.dev, res.Point); err != nil {
			actErr := core.ErrExecutionFailed.WithCause(err)
			it.Status = core.StatusFailed
			it.Failure = core.FailureExecution
			it.Error = actErr.Error()
			it.Duration = time.Since(iterStart)
			summary.Failed++
			summary.Iterations = append(summary.Iterations, it)
			log.Warnf("iteration %d: action at (%d,%d) failed: %v", i, res.Point.X, res.Point.Y, err)
			if ctx.Err() != nil {
				return finish(core.BatchAborted, core.StopCancelled, ctx.Err())
			}
			if !cfg.ShouldContinueOnError() {
				return finish(core.BatchAborted, core.StopError, actErr)
			}
			continue
		}

		it.Status = core.StatusPassed
		it.Duration = time.Since(iterStart)
		summary.Succeeded++
		summary.Iterations = append(summary.Iterations, it)
		log.Debugf("iteration %d: acted on %s via %s", i, res.Bounds, res.Strategy)
	}

	return finish(core.BatchCompleted, core.StopIterationCap, nil)
}

// resolve captures a fresh snapshot and resolves the best unconsumed match.
// The caller owns the returned handle, which is non-nil whenever the capture
// succeeded.
func (c *Controller) resolve(ctx context.Context, ev *flow.Evidence, plan *flow.Plan, consumed map[core.Bounds]bool) (*core.Resolution, *snapshot.Handle, error) {
	h, err := snapshot.Acquire(ctx, c.dev, c.cache, c.acquire)
	if err != nil {
		return nil, nil, err
	}

	res, err := c.resolver.Resolve(ctx, resolver.Request{
		Snapshot: h.Snapshot(),
		Evidence: ev,
		Plan:     plan,
		Screen:   c.dev.GetPlatformInfo().ScreenBounds(),
		Exclude:  consumed,
	})
	if err != nil {
		return nil, h, err
	}
	if res == nil {
		return nil, h, errors.New("resolver returned no result")
	}
	return res, h, nil
}

// pause returns the wait before the next iteration: the cooldown after
// every CooldownEvery actions, otherwise the interval plus jitter.
func (c *Controller) pause(cfg *flow.BatchConfig, s *core.BatchSummary) time.Duration {
	last := len(s.Iterations) > 0 && s.Iterations[len(s.Iterations)-1].Resolution != nil
	if cfg.CooldownEvery > 0 && last && s.Attempted%cfg.CooldownEvery == 0 {
		return cfg.Cooldown
	}
	d := cfg.Interval
	if cfg.Jitter > 0 {
		d += c.jitter(cfg.Jitter)
	}
	return d
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

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max + 1)
}
