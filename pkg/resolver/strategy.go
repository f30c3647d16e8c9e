package resolver

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// attempt holds what every rung reads during one resolution.
type attempt struct {
	snap   *snapshot.Snapshot
	ev     *flow.Evidence
	scorer *scoring.Scorer
}

// score scores node n for target t.
func (a *attempt) score(n, t *snapshot.Node, lightChecks bool) scoring.Breakdown {
	return a.scorer.Score(a.ev, n, scoring.Context{ClickableTarget: t.Clickable, LightChecks: lightChecks})
}

// candidate builds a candidate for anchor and target. When they differ, the
// better of the two scores is kept.
func (a *attempt) candidate(anchor, target *snapshot.Node, lightChecks bool, why string) *Candidate {
	b := a.score(anchor, target, lightChecks)
	if target.Index != anchor.Index {
		if tb := a.score(target, target, lightChecks); tb.Total > b.Total {
			b = tb
		}
	}
	reasons := []string{why, b.String()}
	if target.Index != anchor.Index {
		reasons = append(reasons, fmt.Sprintf("target %s from anchor %s", describeNode(target), describeNode(anchor)))
	}
	return &Candidate{Anchor: anchor, Target: target, Breakdown: b, Score: b.Total, Reasons: reasons}
}

func noEvidence(v flow.Variant, format string, args ...interface{}) error {
	return core.ErrNoUsableEvidence.
		WithMessagef("%s: %s", v.Kind(), fmt.Sprintf(format, args...)).
		WithDetails(map[string]interface{}{"strategy": v.Kind().String()})
}

// collect runs one tree-based rung and returns its raw candidates. A nil
// slice with a nil error means the rung found nothing.
func (a *attempt) collect(ctx context.Context, v flow.Variant) ([]*Candidate, error) {
	switch v := v.(type) {
	case *flow.SelfID:
		return a.selfID(ctx, v)
	case *flow.SelfDesc:
		return a.selfDesc(ctx, v)
	case *flow.ChildToParent:
		return a.childToParent(ctx, v, v.Child, v.Parent, v.MaxLevels, nil)
	case *flow.RegionTextToParent:
		return a.regionTextToParent(ctx, v)
	case *flow.RegionLocalIndex:
		return a.regionLocalIndex(ctx, v)
	case *flow.NeighborRelative:
		return a.neighborRelative(ctx, v)
	case *flow.GlobalIndex:
		return a.globalIndex(ctx, v)
	case *flow.BoundsTap:
		return nil, fmt.Errorf("bounds_tap is not a tree rung")
	default:
		return nil, core.ErrInvalidPlan.WithMessagef("unsupported strategy %T", v)
	}
}

func (a *attempt) selfID(ctx context.Context, v *flow.SelfID) ([]*Candidate, error) {
	id := v.ResourceID
	if id == "" {
		id = a.ev.ResourceID
	}
	if id == "" {
		return nil, noEvidence(v, "no resource id")
	}

	hits := a.snap.ByResourceID(id)
	if len(hits) == 0 {
		hits = a.snap.Filter(func(n *snapshot.Node) bool { return scoring.IdentifierEqual(id, n.ResourceID) })
	}

	cands := make([]*Candidate, 0, len(hits))
	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := a.candidate(h, clickableTarget(a.snap, h), false, "resource id "+id)
		cands = append(cands, c)
	}

	// A sole identifier hit that agrees on every other recorded signal is
	// trusted at the identifier weight.
	if len(cands) == 1 {
		c := cands[0]
		floor := a.scorer.Weights().Identifier.Match
		if c.Breakdown.Outcome(scoring.SignalIdentifier) == scoring.OutcomeMatch && !c.Breakdown.HasMismatch() && c.Score < floor {
			c.Score = floor
			c.Reasons = append(c.Reasons, fmt.Sprintf("sole identifier match, raised to %.2f", floor))
		}
	}
	return cands, nil
}

func (a *attempt) selfDesc(ctx context.Context, v *flow.SelfDesc) ([]*Candidate, error) {
	desc := v.Description
	if desc == "" {
		desc = a.ev.Description
	}

	var match func(n *snapshot.Node) bool
	var why string
	switch {
	case scoring.DescriptionCore(desc) != "":
		match = func(n *snapshot.Node) bool {
			return a.scorer.DescriptionOutcome(desc, n.ContentDesc) == scoring.OutcomeMatch
		}
		why = fmt.Sprintf("description core %q", scoring.DescriptionCore(desc))
	case len(a.ev.Text) > 0:
		aliases := []string(a.ev.Text)
		match = func(n *snapshot.Node) bool {
			return a.scorer.TextOutcome(aliases, n.Text) == scoring.OutcomeMatch ||
				a.scorer.TextOutcome(aliases, n.ContentDesc) == scoring.OutcomeMatch
		}
		why = fmt.Sprintf("text %q", a.ev.PrimaryText())
	default:
		return nil, noEvidence(v, "no description or text")
	}

	var cands []*Candidate
	for _, n := range a.snap.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if match(n) {
			cands = append(cands, a.candidate(n, clickableTarget(a.snap, n), false, why))
		}
	}
	return cands, nil
}

// childToParent finds anchors matching child (within stop's subtree when
// stop is set) and walks each up to the ancestor satisfying parent.
func (a *attempt) childToParent(ctx context.Context, v flow.Variant, child flow.Matcher, parent flow.ParentConstraint, maxLevels int, stop *snapshot.Node) ([]*Candidate, error) {
	if !child.HasContent() {
		return nil, noEvidence(v, "child anchor has no text, description or id")
	}

	pool := a.snap.Nodes
	if stop != nil {
		pool = a.snap.Descendants(stop)
	}

	var cands []*Candidate
	for _, n := range pool {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchNode(&child, n) {
			continue
		}
		target := walkToParent(a.snap, n, &parent, maxLevels, stop)
		if target == nil {
			continue
		}
		cands = append(cands, a.candidate(n, target, false, fmt.Sprintf("anchor %s", describeNode(n))))
	}
	return dedupeByTarget(cands), nil
}

func (a *attempt) regionTextToParent(ctx context.Context, v *flow.RegionTextToParent) ([]*Candidate, error) {
	if v.Container.IsEmpty() {
		return nil, noEvidence(v, "no container")
	}
	var cands []*Candidate
	for _, c := range findContainers(a.snap, &v.Container) {
		found, err := a.childToParent(ctx, v, v.Child, v.Parent, v.MaxLevels, c)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			f.Reasons = append(f.Reasons, "inside container "+describeNode(c))
		}
		cands = append(cands, found...)
	}
	return dedupeByTarget(cands), nil
}

func (a *attempt) regionLocalIndex(ctx context.Context, v *flow.RegionLocalIndex) ([]*Candidate, error) {
	if v.Container.IsEmpty() {
		return nil, noEvidence(v, "no container")
	}
	if v.Index < 1 {
		return nil, noEvidence(v, "index must be 1 or more")
	}
	if len(v.Checks) == 0 {
		return nil, noEvidence(v, "a light check is required")
	}

	var cands []*Candidate
	for _, c := range findContainers(a.snap, &v.Container) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var items []*snapshot.Node
		if v.Self.IsEmpty() {
			items = a.snap.ChildrenOf(c)
		} else {
			for _, d := range a.snap.Descendants(c) {
				if matchNode(&v.Self, d) {
					items = append(items, d)
				}
			}
		}
		if len(items) < v.Index {
			continue
		}
		item := items[v.Index-1]
		passed := countChecks(a.snap, item, v.Checks)
		if passed == 0 {
			continue
		}
		cand := a.candidate(item, clickableTarget(a.snap, item), true,
			fmt.Sprintf("item %d of %d in %s", v.Index, len(items), describeNode(c)))
		cand.Reasons = append(cand.Reasons, fmt.Sprintf("%d/%d light checks passed", passed, len(v.Checks)))
		cands = append(cands, cand)
	}
	return dedupeByTarget(cands), nil
}

func (a *attempt) neighborRelative(ctx context.Context, v *flow.NeighborRelative) ([]*Candidate, error) {
	if !v.Anchor.HasContent() {
		return nil, noEvidence(v, "anchor has no text, description or id")
	}
	levels := v.Structure.Levels
	if levels <= 0 {
		levels = 1
	}

	var cands []*Candidate
	for _, anchor := range a.snap.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchNode(&v.Anchor, anchor) {
			continue
		}
		for _, t := range a.neighbors(anchor, v.Structure, levels, &v.Self) {
			if t.Index == anchor.Index {
				continue
			}
			why := fmt.Sprintf("%s %s of %s", v.Structure.Relation, v.Structure.Direction, describeNode(anchor))
			cands = append(cands, a.candidate(anchor, t, false, why))
		}
	}
	return dedupeByTarget(cands), nil
}

// neighbors moves from anchor along hint and returns the reached nodes.
func (a *attempt) neighbors(anchor *snapshot.Node, hint flow.StructureHint, levels int, self *flow.Matcher) []*snapshot.Node {
	matchSelf := func(n *snapshot.Node) bool { return self.IsEmpty() || matchNode(self, n) }

	switch hint.Relation {
	case flow.RelationParentChild:
		if hint.Direction == flow.DirectionUp {
			cur := anchor
			for i := 0; i < levels && cur != nil; i++ {
				cur = a.snap.ParentOf(cur)
			}
			if cur != nil && matchSelf(cur) {
				return []*snapshot.Node{cur}
			}
			return nil
		}
		children := a.snap.ChildrenOf(anchor)
		if self.IsEmpty() {
			if len(children) > 0 {
				return children[:1]
			}
			return nil
		}
		var out []*snapshot.Node
		for _, c := range children {
			if matchNode(self, c) {
				out = append(out, c)
			}
		}
		return out

	case flow.RelationAncestorDescendant:
		if hint.Direction == flow.DirectionUp {
			for i, anc := range a.snap.Ancestors(anchor) {
				if hint.Levels > 0 && i >= hint.Levels {
					break
				}
				if matchSelf(anc) {
					return []*snapshot.Node{anc}
				}
			}
			return nil
		}
		var out []*snapshot.Node
		for _, d := range a.snap.Descendants(anchor) {
			if self.IsEmpty() && d.Clickable || !self.IsEmpty() && matchNode(self, d) {
				out = append(out, d)
			}
		}
		return out

	case flow.RelationSibling:
		sibs := a.snap.Siblings(anchor)
		pos := -1
		for i, s := range sibs {
			if s.Index == anchor.Index {
				pos = i
				break
			}
		}
		step := 1
		if hint.Direction == flow.DirectionPrev || hint.Direction == flow.DirectionUp {
			step = -1
		}
		if self.IsEmpty() {
			if i := pos + step*levels; pos >= 0 && i >= 0 && i < len(sibs) {
				return []*snapshot.Node{sibs[i]}
			}
			return nil
		}
		for i := pos + step; pos >= 0 && i >= 0 && i < len(sibs); i += step {
			if matchNode(self, sibs[i]) {
				return []*snapshot.Node{sibs[i]}
			}
		}
	}
	return nil
}

func (a *attempt) globalIndex(ctx context.Context, v *flow.GlobalIndex) ([]*Candidate, error) {
	if v.Self.Class == "" {
		return nil, noEvidence(v, "a class is required")
	}
	if v.Index < 1 {
		return nil, noEvidence(v, "index must be 1 or more")
	}
	content := false
	for _, c := range v.Checks {
		if c.IsContentCheck() {
			content = true
			break
		}
	}
	if !content {
		return nil, noEvidence(v, "a content check is required")
	}

	var items []*snapshot.Node
	for _, n := range a.snap.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n.Clickable && n.Enabled && matchNode(&v.Self, n) {
			items = append(items, n)
		}
	}
	if len(items) < v.Index {
		return nil, nil
	}
	item := items[v.Index-1]
	if countChecks(a.snap, item, v.Checks) != len(v.Checks) {
		return nil, nil
	}
	return []*Candidate{a.candidate(item, item, true,
		fmt.Sprintf("item %d of %d on screen, %d checks passed", v.Index, len(items), len(v.Checks)))}, nil
}

// Bounds-tap confidences.
const (
	boundsTapConfidence     = 0.75
	boundsTapLiveConfidence = 0.85
	boundsTapConfirmed      = 0.95
)

// boundsTap resolves the recorded rectangle without scoring. The confidence
// rises when the rectangle was confirmed by an earlier structural
// resolution, or when a live node still occupies it exactly.
func (a *attempt) boundsTap(v *flow.BoundsTap, confirmed *core.Bounds) (core.Bounds, float64, string, error) {
	b := v.Bounds
	if b == nil {
		b = a.ev.Bounds
	}
	if b == nil || b.IsEmpty() {
		return core.Bounds{}, 0, "", noEvidence(v, "no recorded bounds")
	}
	switch {
	case confirmed != nil && *confirmed == *b:
		return *b, boundsTapConfirmed, "bounds confirmed by an earlier resolution", nil
	case a.snap != nil && len(a.snap.Filter(func(n *snapshot.Node) bool { return n.Bounds == *b })) > 0:
		return *b, boundsTapLiveConfidence, "live node occupies the recorded bounds", nil
	}
	return *b, boundsTapConfidence, "recorded bounds", nil
}
