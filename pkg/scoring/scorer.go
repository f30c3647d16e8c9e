package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// Context carries structural facts the resolver knows about a candidate.
type Context struct {
	// ClickableTarget is true when the execution target resolved for this
	// node (the node itself or the ancestor a rung walked to) is clickable.
	ClickableTarget bool
	// LightChecks is true when the rung verified at least one light check.
	LightChecks bool
}

// SignalScore is the scored outcome of one signal.
type SignalScore struct {
	Signal  Signal
	Outcome Outcome
	Value   float64
}

// Adjustment is one structural term added after the signals.
type Adjustment struct {
	Name  string
	Value float64
}

// Breakdown is the full result of scoring one node. Total is unclamped.
type Breakdown struct {
	Total       float64
	Signals     []SignalScore
	Adjustments []Adjustment
}

// Confidence returns Total clamped to be non-negative.
func (b Breakdown) Confidence() float64 {
	return math.Max(0, b.Total)
}

// Outcome returns the outcome recorded for s.
func (b Breakdown) Outcome(s Signal) Outcome {
	for _, ss := range b.Signals {
		if ss.Signal == s {
			return ss.Outcome
		}
	}
	return OutcomeBothAbsent
}

// HasMismatch reports whether any signal disagreed outright.
func (b Breakdown) HasMismatch() bool {
	for _, ss := range b.Signals {
		if ss.Outcome == OutcomeMismatch {
			return true
		}
	}
	return false
}

// String renders the breakdown as "identifier=match(+0.85) text=mismatch(-0.25) ...".
func (b Breakdown) String() string {
	parts := make([]string, 0, len(b.Signals)+len(b.Adjustments)+1)
	for _, ss := range b.Signals {
		parts = append(parts, fmt.Sprintf("%s=%s(%+.2f)", ss.Signal, ss.Outcome, ss.Value))
	}
	for _, a := range b.Adjustments {
		parts = append(parts, fmt.Sprintf("%s(%+.2f)", a.Name, a.Value))
	}
	parts = append(parts, fmt.Sprintf("total=%.2f", b.Total))
	return strings.Join(parts, " ")
}

// Scorer scores live nodes against static evidence. It is stateless after
// construction and safe for concurrent use.
type Scorer struct {
	weights Weights
	toggles *ToggleDetector
}

// NewScorer creates a scorer. A nil detector uses the built-in pairs.
func NewScorer(w Weights, toggles *ToggleDetector) *Scorer {
	if toggles == nil {
		toggles = NewToggleDetector()
	}
	return &Scorer{weights: w, toggles: toggles}
}

// Weights returns the scorer's table.
func (s *Scorer) Weights() Weights { return s.weights }

// Toggles returns the scorer's state-toggle detector.
func (s *Scorer) Toggles() *ToggleDetector { return s.toggles }

// Score compares ev with n. Each signal contributes according to its
// five-way outcome; structural adjustments follow.
func (s *Scorer) Score(ev *flow.Evidence, n *snapshot.Node, ctx Context) Breakdown {
	var b Breakdown
	add := func(sig Signal, o Outcome) {
		v := s.weights.Signal(sig).For(o)
		b.Signals = append(b.Signals, SignalScore{Signal: sig, Outcome: o, Value: v})
		b.Total += v
	}

	add(SignalIdentifier, s.identifierOutcome(ev.ResourceID, n.ResourceID))
	add(SignalPath, s.pathOutcome(ev.Path, n))
	add(SignalText, s.TextOutcome(ev.Text, n.Text))
	add(SignalDescription, s.DescriptionOutcome(ev.Description, n.ContentDesc))
	add(SignalClass, s.classOutcome(ev.ClassName, n.ClassName))

	adjust := func(name string, v float64) {
		b.Adjustments = append(b.Adjustments, Adjustment{Name: name, Value: v})
		b.Total += v
	}
	if ev.ContainerScoped {
		adjust("container_scoped", s.weights.ContainerScoped)
	}
	if ev.ParentClickable && ctx.ClickableTarget {
		adjust("parent_clickable", s.weights.ParentClickable)
	}
	if ev.LocalIndex > 0 {
		adjust("local_index", s.weights.LocalIndex)
		if ctx.LightChecks {
			adjust("light_checks", s.weights.LightCheckRecovery)
		}
	}
	if ev.GlobalIndex > 0 {
		adjust("global_index", s.weights.GlobalIndex)
	}
	return b
}

func presence(recorded, live bool) (Outcome, bool) {
	switch {
	case recorded && !live:
		return OutcomeLost, true
	case !recorded && live:
		return OutcomeUnexpected, true
	case !recorded && !live:
		return OutcomeBothAbsent, true
	}
	return 0, false
}

func (s *Scorer) identifierOutcome(recorded, live string) Outcome {
	if o, done := presence(recorded != "", live != ""); done {
		return o
	}
	if IdentifierEqual(recorded, live) {
		return OutcomeMatch
	}
	return OutcomeMismatch
}

// pathOutcome matches when the recorded path is the live node's path or
// names the live node's class.
func (s *Scorer) pathOutcome(recorded string, n *snapshot.Node) Outcome {
	if o, done := presence(recorded != "", n.ClassName != ""); done {
		return o
	}
	if recorded == n.Path || strings.Contains(recorded, n.ClassName) {
		return OutcomeMatch
	}
	return OutcomeMismatch
}

// TextOutcome compares text aliases with live text. Any alias equal to, or
// contained in either direction by, the live text is a match, unless the two
// are opposite states of one control.
func (s *Scorer) TextOutcome(aliases []string, live string) Outcome {
	liveN := Normalize(live)
	recorded := false
	for _, a := range aliases {
		if Normalize(a) != "" {
			recorded = true
			break
		}
	}
	if o, done := presence(recorded, liveN != ""); done {
		return o
	}
	for _, a := range aliases {
		if s.textAgrees(Normalize(a), liveN) {
			return OutcomeMatch
		}
	}
	return OutcomeMismatch
}

// DescriptionOutcome compares description semantic cores.
func (s *Scorer) DescriptionOutcome(recorded, live string) Outcome {
	rc, lc := DescriptionCore(recorded), DescriptionCore(live)
	if o, done := presence(rc != "", lc != ""); done {
		return o
	}
	if s.textAgrees(rc, lc) {
		return OutcomeMatch
	}
	return OutcomeMismatch
}

func (s *Scorer) textAgrees(a, b string) bool {
	if a == b {
		return true
	}
	if !containsEither(a, b) {
		return false
	}
	return !s.toggles.IsToggle(a, b)
}

func (s *Scorer) classOutcome(recorded, live string) Outcome {
	r, l := strings.ToLower(recorded), strings.ToLower(live)
	if o, done := presence(r != "", l != ""); done {
		return o
	}
	if containsEither(r, l) {
		return OutcomeMatch
	}
	return OutcomeMismatch
}
