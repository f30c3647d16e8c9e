package flow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default plan thresholds.
const (
	DefaultMinConfidence      = 0.70
	DefaultGapThreshold       = 0.15
	DefaultTimeBudget         = 1200 * time.Millisecond
	DefaultPerCandidateBudget = 180 * time.Millisecond
)

// Plan is the resolution plan for one step: the ordered strategy variants
// plus the thresholds the evaluator and gates apply. The safety gate
// (fullscreen and container prohibition) is always on and is not a plan
// setting.
type Plan struct {
	Variants []Variant

	MinConfidence float64
	GapThreshold  float64
	// MaxMatches caps how many raw candidates a rung may produce before it is
	// treated as ambiguous. 0 means unlimited.
	MaxMatches int

	// IgnoreUniqueness skips the uniqueness gate. Batch mode sets it because
	// every qualifying element is a target.
	IgnoreUniqueness bool
	// FallbackToBounds permits the bounds-tap rung, including after a tree
	// rung's candidate was rejected by the safety gate.
	FallbackToBounds bool

	TimeBudget         time.Duration
	PerCandidateBudget time.Duration
}

type planRaw struct {
	Variants             []yaml.Node `yaml:"variants"`
	MinConfidence        *float64    `yaml:"minConfidence"`
	GapThreshold         *float64    `yaml:"gapThreshold"`
	MaxMatches           *int        `yaml:"maxMatches"`
	IgnoreUniqueness     *bool       `yaml:"ignoreUniqueness"`
	FallbackToBounds     *bool       `yaml:"fallbackToBounds"`
	TimeBudgetMs         *int        `yaml:"timeBudgetMs"`
	PerCandidateBudgetMs *int        `yaml:"perCandidateBudgetMs"`
}

// UnmarshalYAML decodes a plan, building each variant from its kind.
func (p *Plan) UnmarshalYAML(node *yaml.Node) error {
	var raw planRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	for i := range raw.Variants {
		v, err := DecodeVariant(&raw.Variants[i])
		if err != nil {
			return fmt.Errorf("line %d: %w", raw.Variants[i].Line, err)
		}
		p.Variants = append(p.Variants, v)
	}
	if raw.MinConfidence != nil {
		p.MinConfidence = *raw.MinConfidence
	}
	if raw.GapThreshold != nil {
		p.GapThreshold = *raw.GapThreshold
	}
	if raw.MaxMatches != nil {
		p.MaxMatches = *raw.MaxMatches
	}
	if raw.IgnoreUniqueness != nil {
		p.IgnoreUniqueness = *raw.IgnoreUniqueness
	}
	if raw.FallbackToBounds != nil {
		p.FallbackToBounds = *raw.FallbackToBounds
	}
	if raw.TimeBudgetMs != nil {
		p.TimeBudget = time.Duration(*raw.TimeBudgetMs) * time.Millisecond
	}
	if raw.PerCandidateBudgetMs != nil {
		p.PerCandidateBudget = time.Duration(*raw.PerCandidateBudgetMs) * time.Millisecond
	}
	return nil
}

// MarshalYAML writes the plan in the shape UnmarshalYAML reads. Unset
// thresholds are omitted.
func (p Plan) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{}
	if len(p.Variants) > 0 {
		vs := make([]interface{}, len(p.Variants))
		for i, v := range p.Variants {
			vs[i] = EncodeVariant(v)
		}
		out["variants"] = vs
	}
	if p.MinConfidence != 0 {
		out["minConfidence"] = p.MinConfidence
	}
	if p.GapThreshold != 0 {
		out["gapThreshold"] = p.GapThreshold
	}
	if p.MaxMatches != 0 {
		out["maxMatches"] = p.MaxMatches
	}
	if p.IgnoreUniqueness {
		out["ignoreUniqueness"] = true
	}
	if p.FallbackToBounds {
		out["fallbackToBounds"] = true
	}
	if p.TimeBudget != 0 {
		out["timeBudgetMs"] = p.TimeBudget.Milliseconds()
	}
	if p.PerCandidateBudget != 0 {
		out["perCandidateBudgetMs"] = p.PerCandidateBudget.Milliseconds()
	}
	return out, nil
}

// Merge returns a copy of p with every unset field taken from defaults.
// Variants are never merged: a plan without variants gets a ladder
// synthesised from evidence by the resolver.
func (p *Plan) Merge(defaults *Plan) *Plan {
	out := &Plan{}
	if p != nil {
		*out = *p
		out.Variants = append([]Variant(nil), p.Variants...)
	}
	if defaults == nil {
		return out
	}
	if out.MinConfidence == 0 {
		out.MinConfidence = defaults.MinConfidence
	}
	if out.GapThreshold == 0 {
		out.GapThreshold = defaults.GapThreshold
	}
	if out.MaxMatches == 0 {
		out.MaxMatches = defaults.MaxMatches
	}
	if out.TimeBudget == 0 {
		out.TimeBudget = defaults.TimeBudget
	}
	if out.PerCandidateBudget == 0 {
		out.PerCandidateBudget = defaults.PerCandidateBudget
	}
	out.IgnoreUniqueness = out.IgnoreUniqueness || defaults.IgnoreUniqueness
	out.FallbackToBounds = out.FallbackToBounds || defaults.FallbackToBounds
	return out
}

// DefaultPlan returns the built-in thresholds with bounds fallback allowed.
func DefaultPlan() *Plan {
	return &Plan{
		MinConfidence:      DefaultMinConfidence,
		GapThreshold:       DefaultGapThreshold,
		FallbackToBounds:   true,
		TimeBudget:         DefaultTimeBudget,
		PerCandidateBudget: DefaultPerCandidateBudget,
	}
}

// Validate checks thresholds and budgets.
func (p *Plan) Validate() error {
	if p.MinConfidence < 0 {
		return fmt.Errorf("minConfidence must not be negative")
	}
	if p.GapThreshold < 0 {
		return fmt.Errorf("gapThreshold must not be negative")
	}
	if p.MaxMatches < 0 {
		return fmt.Errorf("maxMatches must not be negative")
	}
	if p.TimeBudget < 0 || p.PerCandidateBudget < 0 {
		return fmt.Errorf("budgets must not be negative")
	}
	if p.PerCandidateBudget > 0 && p.TimeBudget > 0 && p.PerCandidateBudget > p.TimeBudget {
		return fmt.Errorf("perCandidateBudgetMs (%v) exceeds timeBudgetMs (%v)", p.PerCandidateBudget, p.TimeBudget)
	}
	return nil
}
