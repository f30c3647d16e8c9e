// Package resolver turns static evidence and a live snapshot into one safe
// screen coordinate, trying the strategy ladder rung by rung.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// DefaultNavBandRatio is the share of the screen height, measured from the
// bottom, treated as persistent navigation when breaking ties.
const DefaultNavBandRatio = 0.12

// Config configures a Resolver.
type Config struct {
	Weights scoring.Weights
	Toggles *scoring.ToggleDetector
	// Plan supplies defaults for every field a request plan leaves unset.
	Plan *flow.Plan

	MaxAreaRatio     float64
	ContainerClasses []string
	NavBandRatio     float64
}

// DefaultConfig returns the standard weights, thresholds and gates.
func DefaultConfig() Config {
	return Config{
		Weights:          scoring.DefaultWeights(),
		Plan:             flow.DefaultPlan(),
		MaxAreaRatio:     DefaultMaxAreaRatio,
		ContainerClasses: DefaultContainerClasses,
		NavBandRatio:     DefaultNavBandRatio,
	}
}

// Resolver resolves evidence against snapshots. It holds no per-attempt
// state and is safe for concurrent use.
type Resolver struct {
	scorer   *scoring.Scorer
	gate     *SafetyGate
	defaults *flow.Plan
	navBand  float64
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Plan == nil {
		cfg.Plan = flow.DefaultPlan()
	}
	if cfg.NavBandRatio == 0 {
		cfg.NavBandRatio = DefaultNavBandRatio
	}
	return &Resolver{
		scorer:   scoring.NewScorer(cfg.Weights, cfg.Toggles),
		gate:     NewSafetyGate(cfg.MaxAreaRatio, cfg.ContainerClasses),
		defaults: cfg.Plan,
		navBand:  cfg.NavBandRatio,
	}
}

// Scorer returns the resolver's scorer.
func (r *Resolver) Scorer() *scoring.Scorer { return r.scorer }

// Gate returns the resolver's safety gate.
func (r *Resolver) Gate() *SafetyGate { return r.gate }

// Request is one resolution attempt.
type Request struct {
	Snapshot *snapshot.Snapshot
	Evidence *flow.Evidence
	Plan     *flow.Plan // nil uses the resolver defaults

	// Screen is the device screen. Empty means the snapshot's root bounds.
	Screen core.Bounds
	// Exclude holds rectangles already acted on; candidates occupying one
	// are dropped before ranking.
	Exclude map[core.Bounds]bool
	// ConfirmedBounds is a rectangle an earlier structural resolution of the
	// same step produced. It raises bounds-tap confidence when it matches.
	ConfirmedBounds *core.Bounds
}

// rungResult is the bookkeeping for one rung.
type rungResult struct {
	attempt  core.Attempt
	live     int  // candidates left after exclusion
	consumed bool // every candidate had already been acted on
}

// Resolve walks the ladder and returns the first candidate that passes the
// uniqueness and safety gates. Rung failures fall through to the next rung;
// only the overall failure is returned, as a *core.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*core.Resolution, error) {
	plan := req.Plan.Merge(r.defaults)
	if err := plan.Validate(); err != nil {
		return nil, core.ErrInvalidPlan.WithCause(err)
	}
	ev := req.Evidence
	if ev == nil {
		ev = &flow.Evidence{}
	}
	if ev.IsEmpty() && len(plan.Variants) == 0 {
		return nil, core.ErrNoUsableEvidence.WithMessage("step has no evidence and no strategies")
	}

	if plan.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.TimeBudget)
		defer cancel()
	}

	screen := req.Screen
	if screen.IsEmpty() && req.Snapshot != nil {
		screen = req.Snapshot.ScreenBounds()
	}

	a := &attempt{snap: req.Snapshot, ev: ev, scorer: r.scorer}
	variants := Ladder(ev, plan)
	log := logger.With(logger.Fields{"evidence": ev.Describe()})
	log.Debugf("resolving with %d strategies", len(variants))

	var (
		failures []error
		results  []rungResult
		trail    []string
		unsafe   bool
	)
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			failures = append(failures, core.ErrLowConfidence.WithMessage("time budget exhausted").WithCause(err))
			break
		}
		if unsafe && v.Kind().IsTreeBased() {
			continue
		}

		var (
			res *core.Resolution
			rr  rungResult
			err error
		)
		if bt, ok := v.(*flow.BoundsTap); ok {
			res, rr, err = r.resolveBounds(a, bt, req, screen)
		} else {
			res, rr, err = r.resolveTree(ctx, a, v, plan, req, screen)
		}
		results = append(results, rr)

		if err == nil {
			res.Attempts = attemptsOf(results)
			res.Reasons = append(trail, res.Reasons...)
			if req.Snapshot != nil {
				res.Snapshot = req.Snapshot.Hash
			}
			log.Infof("resolved via %s at (%d,%d) confidence %.2f", res.Strategy, res.Point.X, res.Point.Y, res.Confidence)
			return res, nil
		}

		log.Debugf("%s failed: %v", v.Kind(), err)
		trail = append(trail, fmt.Sprintf("%s: %v", v.Kind(), err))
		failures = append(failures, err)

		if errors.Is(err, core.ErrInvalidPlan) {
			return nil, err
		}
		if errors.Is(err, core.ErrUnsafeTarget) && v.Kind().IsTreeBased() {
			if !plan.FallbackToBounds {
				return nil, finalError(failures, results)
			}
			unsafe = true
		}
	}

	err := finalError(failures, results)
	log.Warnf("resolution failed: %v", err)
	return nil, err
}

func (r *Resolver) resolveTree(ctx context.Context, a *attempt, v flow.Variant, plan *flow.Plan, req Request, screen core.Bounds) (*core.Resolution, rungResult, error) {
	rr := rungResult{attempt: core.Attempt{Strategy: v.Kind().String(), VariantID: v.Base().ID}}
	fail := func(err error) (*core.Resolution, rungResult, error) {
		rr.attempt.Reason = err.Error()
		var re *core.ResolutionError
		if errors.As(err, &re) {
			rr.attempt.Failure = re.Code
		}
		return nil, rr, err
	}

	if a.snap == nil {
		return fail(core.ErrAcquisitionFailed.WithMessage("no snapshot to search"))
	}

	rctx := ctx
	if plan.PerCandidateBudget > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, plan.PerCandidateBudget)
		defer cancel()
	}

	cands, err := a.collect(rctx, v)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fail(core.ErrLowConfidence.WithMessage("strategy budget exhausted").WithCause(err))
		}
		return fail(err)
	}
	rr.attempt.Candidates = len(cands)
	if len(cands) == 0 {
		return fail(core.ErrLowConfidence.WithMessage("no candidate found"))
	}

	live := excludeConsumed(cands, req.Exclude)
	rr.live = len(live)
	if len(live) == 0 {
		rr.consumed = true
		return fail(core.ErrLowConfidence.
			WithMessagef("all %d candidates were already acted on", len(cands)).
			WithDetails(map[string]interface{}{"exhausted": true}))
	}
	if plan.MaxMatches > 0 && len(live) > plan.MaxMatches && !plan.IgnoreUniqueness {
		return fail(core.ErrAmbiguousMatch.WithMessagef("%d candidates exceed maxMatches %d", len(live), plan.MaxMatches))
	}

	rankCandidates(live, screen, r.navBand)
	rr.attempt.TopScore = live[0].Score

	top, rule, err := uniqueness(live, plan)
	if err != nil {
		return fail(err)
	}
	if err := r.gate.CheckNode(top.Target, screen); err != nil {
		return fail(err)
	}

	label := top.Target.Label()
	if label == "" {
		label = top.Anchor.Label()
	}
	reasons := append(append([]string(nil), top.Reasons...),
		fmt.Sprintf("accepted as %s among %d candidates", rule, len(live)),
		"safety gate passed")
	rr.attempt.Reason = fmt.Sprintf("accepted %s", describeNode(top.Target))

	return &core.Resolution{
		Point:      top.Target.Bounds.CenterPoint(),
		Bounds:     top.Target.Bounds,
		Confidence: top.Confidence(),
		Strategy:   v.Kind().String(),
		VariantID:  v.Base().ID,
		NodeIndex:  top.Target.Index,
		Class:      top.Target.ClassName,
		Text:       label,
		Reasons:    reasons,
	}, rr, nil
}

func (r *Resolver) resolveBounds(a *attempt, v *flow.BoundsTap, req Request, screen core.Bounds) (*core.Resolution, rungResult, error) {
	rr := rungResult{attempt: core.Attempt{Strategy: v.Kind().String(), VariantID: v.Base().ID}}
	fail := func(err *core.ResolutionError) (*core.Resolution, rungResult, error) {
		rr.attempt.Reason = err.Error()
		rr.attempt.Failure = err.Code
		return nil, rr, err
	}

	b, conf, why, err := a.boundsTap(v, req.ConfirmedBounds)
	if err != nil {
		var re *core.ResolutionError
		if errors.As(err, &re) {
			return fail(re)
		}
		return nil, rr, err
	}
	rr.attempt.Candidates = 1
	if req.Exclude[b] {
		rr.consumed = true
		return fail(core.ErrLowConfidence.
			WithMessagef("recorded bounds %s were already acted on", b).
			WithDetails(map[string]interface{}{"exhausted": true}))
	}
	rr.live = 1
	if err := r.gate.CheckBounds(b, screen); err != nil {
		var re *core.ResolutionError
		errors.As(err, &re)
		return fail(re)
	}
	rr.attempt.TopScore = conf
	rr.attempt.Reason = why

	return &core.Resolution{
		Point:      b.CenterPoint(),
		Bounds:     b,
		Confidence: conf,
		Strategy:   v.Kind().String(),
		VariantID:  v.Base().ID,
		NodeIndex:  -1,
		Reasons:    []string{why, "safety gate passed"},
	}, rr, nil
}

func attemptsOf(results []rungResult) []core.Attempt {
	out := make([]core.Attempt, len(results))
	for i, rr := range results {
		out[i] = rr.attempt
	}
	return out
}

// failurePriority orders failure kinds for the overall error: the most
// specific explanation of why nothing was acted on wins.
var failurePriority = map[core.FailureKind]int{
	core.FailureUnsafe:        5,
	core.FailureAmbiguous:     4,
	core.FailureLowConfidence: 3,
	core.FailureAcquisition:   2,
	core.FailureNoEvidence:    1,
}

// finalError picks the overall failure among rung failures. On equal
// priority the later rung wins. Details carry the attempt list and whether
// the candidate pool was exhausted by exclusion.
func finalError(failures []error, results []rungResult) error {
	var best *core.ResolutionError
	bestPrio := -1
	for _, f := range failures {
		var re *core.ResolutionError
		if !errors.As(f, &re) {
			re = core.NewResolutionError(core.FailureUnknown, "unknown", f.Error())
		}
		if p := failurePriority[re.Kind]; p >= bestPrio {
			best, bestPrio = re, p
		}
	}
	if best == nil {
		best = core.ErrNoUsableEvidence.WithMessage("no strategy could be tried")
	}

	consumed, live := false, false
	for _, rr := range results {
		consumed = consumed || rr.consumed
		live = live || rr.live > 0
	}
	exhausted := consumed && !live

	// The exhaustion flag reflects the whole ladder, not one rung.
	if exhausted {
		best = core.ErrLowConfidence.WithMessage("candidate pool exhausted: every match was already acted on")
	}
	return best.WithDetails(map[string]interface{}{
		"attempts":  attemptsOf(results),
		"exhausted": exhausted,
	})
}

// IsExhausted reports whether err says every candidate had already been
// acted on.
func IsExhausted(err error) bool {
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		return false
	}
	ex, _ := re.Details["exhausted"].(bool)
	return ex
}
