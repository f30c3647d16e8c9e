package resolver

import (
	"fmt"
	"math"
	"sort"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// scoreEpsilon absorbs float error in threshold and gap comparisons.
const scoreEpsilon = 1e-9

// Candidate is one live node proposed by a rung. Anchor is the node the rung
// matched; Target is the node that would receive the action.
type Candidate struct {
	Anchor    *snapshot.Node
	Target    *snapshot.Node
	Breakdown scoring.Breakdown
	Score     float64 // unclamped
	Reasons   []string
}

// Confidence returns the score clamped to be non-negative.
func (c *Candidate) Confidence() float64 {
	return math.Max(0, c.Score)
}

// dedupeByTarget keeps the best-scoring candidate per target node.
func dedupeByTarget(cands []*Candidate) []*Candidate {
	best := make(map[int]int, len(cands))
	out := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if i, ok := best[c.Target.Index]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.Target.Index] = len(out)
		out = append(out, c)
	}
	return out
}

// excludeConsumed drops candidates whose target rectangle was already acted on.
func excludeConsumed(cands []*Candidate, exclude map[core.Bounds]bool) []*Candidate {
	if len(exclude) == 0 {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		if !exclude[c.Target.Bounds] {
			out = append(out, c)
		}
	}
	return out
}

// rankCandidates sorts by score descending. Ties go to targets in the
// bottom navigation band, then to document order.
func rankCandidates(cands []*Candidate, screen core.Bounds, navBand float64) {
	inBand := func(c *Candidate) bool {
		if screen.IsEmpty() || navBand <= 0 {
			return false
		}
		top := float64(screen.Bottom()) - float64(screen.Height)*navBand
		return float64(c.Target.Bounds.CenterPoint().Y) >= top
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if ba, bb := inBand(a), inBand(b); ba != bb {
			return ba
		}
		if a.Target.Index != b.Target.Index {
			return a.Target.Index < b.Target.Index
		}
		return a.Anchor.Index < b.Anchor.Index
	})
}

// uniqueness applies the dual uniqueness test to ranked candidates and
// returns the accepted one with the rule that accepted it.
//
// Threshold-unique: the top score reaches minConfidence and no other
// candidate does. Gap-unique: the top score leads the second (or zero, for
// a lone candidate) by at least gapThreshold, whatever its absolute value.
func uniqueness(cands []*Candidate, plan *flow.Plan) (*Candidate, string, error) {
	top := cands[0]
	if plan.IgnoreUniqueness {
		if top.Score+scoreEpsilon >= plan.MinConfidence {
			return top, "threshold", nil
		}
		return nil, "", lowConfidence(top, plan)
	}

	above := 0
	for _, c := range cands {
		if c.Score+scoreEpsilon >= plan.MinConfidence {
			above++
		}
	}
	if above == 1 && top.Score+scoreEpsilon >= plan.MinConfidence {
		return top, "threshold-unique", nil
	}

	second := 0.0
	if len(cands) > 1 {
		second = cands[1].Score
	}
	if top.Score-second+scoreEpsilon >= plan.GapThreshold {
		return top, "gap-unique", nil
	}

	if len(cands) == 1 {
		return nil, "", lowConfidence(top, plan)
	}
	return nil, "", ambiguous(cands, plan)
}

func lowConfidence(top *Candidate, plan *flow.Plan) error {
	return core.ErrLowConfidence.
		WithMessagef("best candidate scored %.2f, below %.2f", top.Confidence(), plan.MinConfidence).
		WithDetails(map[string]interface{}{
			"topScore": top.Score,
			"node":     describeNode(top.Target),
		})
}

func ambiguous(cands []*Candidate, plan *flow.Plan) error {
	var contenders []*Candidate
	for _, c := range cands {
		if cands[0].Score-c.Score < plan.GapThreshold-scoreEpsilon {
			contenders = append(contenders, c)
		}
	}
	if len(contenders) < 2 {
		return lowConfidence(cands[0], plan)
	}
	nodes := make([]string, 0, len(contenders))
	for _, c := range contenders {
		nodes = append(nodes, fmt.Sprintf("%s (%.2f)", describeNode(c.Target), c.Score))
	}
	return core.ErrAmbiguousMatch.
		WithMessagef("%d candidates within %.2f of the top score %.2f", len(contenders), plan.GapThreshold, cands[0].Score).
		WithDetails(map[string]interface{}{
			"candidates":  nodes,
			"suggestions": suggestions(contenders),
		})
}

// suggestions proposes the evidence that would separate the contenders.
func suggestions(cands []*Candidate) []string {
	texts := make(map[string]bool)
	classes := make(map[string]bool)
	descs := make(map[string]bool)
	for _, c := range cands {
		texts[scoring.Normalize(c.Target.Label())] = true
		classes[c.Target.ClassName] = true
		descs[scoring.DescriptionCore(c.Target.ContentDesc)] = true
	}
	var out []string
	if len(texts) > 1 {
		out = append(out, "add text evidence to tell the candidates apart")
	}
	if len(descs) > 1 {
		out = append(out, "add a description")
	}
	if len(classes) > 1 {
		out = append(out, "add the class name")
	}
	if len(out) == 0 {
		out = append(out, "scope the step to a container or add an index with a light check")
	}
	return out
}

func describeNode(n *snapshot.Node) string {
	label := n.Label()
	if label == "" {
		label = n.ResourceID
	}
	if label == "" {
		return fmt.Sprintf("%s %s", n.ShortClass(), n.Bounds)
	}
	return fmt.Sprintf("%s %q %s", n.ShortClass(), label, n.Bounds)
}
