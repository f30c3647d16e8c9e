package resolver

import (
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
)

// Ladder returns the variants to try for ev under plan, in ladder order.
// A plan without variants gets DefaultLadder. A plan with variants gets a
// trailing bounds-tap when fallback is allowed and a rectangle was recorded.
func Ladder(ev *flow.Evidence, plan *flow.Plan) []flow.Variant {
	var vs []flow.Variant
	if len(plan.Variants) == 0 {
		vs = DefaultLadder(ev, plan.FallbackToBounds)
	} else {
		vs = append(vs, plan.Variants...)
		if plan.FallbackToBounds && ev.Bounds != nil && !hasKind(vs, flow.KindBoundsTap) {
			vs = append(vs, flow.NewBoundsTap(nil))
		}
	}
	flow.SortVariants(vs)
	return vs
}

// DefaultLadder synthesises a ladder from evidence alone: identifier,
// description (or text), text anchor to nearest clickable ancestor, and
// the recorded rectangle when withBounds is set.
func DefaultLadder(ev *flow.Evidence, withBounds bool) []flow.Variant {
	var child flow.Matcher
	switch {
	case len(ev.Text) > 0:
		child.Text = &flow.TextMatcher{In: append([]string(nil), ev.Text...)}
	case scoring.DescriptionCore(ev.Description) != "":
		child.Description = &flow.TextMatcher{Equals: scoring.DescriptionCore(ev.Description)}
	}
	clickable := true

	vs := []flow.Variant{
		flow.NewSelfID(""),
		flow.NewSelfDesc(""),
		flow.NewChildToParent(child, flow.ParentConstraint{Clickable: &clickable}),
	}
	if withBounds && ev.Bounds != nil {
		vs = append(vs, flow.NewBoundsTap(nil))
	}
	return vs
}

func hasKind(vs []flow.Variant, k flow.Kind) bool {
	for _, v := range vs {
		if v.Kind() == k {
			return true
		}
	}
	return false
}
