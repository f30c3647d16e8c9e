// Package scoring implements the multi-signal confidence scorer: five
// signals, each with five outcomes, plus structural adjustments.
package scoring

// Signal is one evidence dimension compared against a live node.
type Signal int

// Signal values, in scoring order.
const (
	SignalIdentifier Signal = iota
	SignalPath
	SignalText
	SignalDescription
	SignalClass
)

// String returns the string representation of Signal
func (s Signal) String() string {
	switch s {
	case SignalIdentifier:
		return "identifier"
	case SignalPath:
		return "path"
	case SignalText:
		return "text"
	case SignalDescription:
		return "description"
	case SignalClass:
		return "class"
	default:
		return "unknown"
	}
}

// Outcome is the comparison result for one signal.
type Outcome int

// Outcome values
const (
	OutcomeMatch        Outcome = iota // both present, agree
	OutcomeMismatch                    // both present, disagree
	OutcomeLost                        // recorded present, live absent
	OutcomeUnexpected                  // recorded absent, live present
	OutcomeBothAbsent                  // neither present
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeLost:
		return "lost"
	case OutcomeUnexpected:
		return "unexpected"
	case OutcomeBothAbsent:
		return "both_absent"
	default:
		return "unknown"
	}
}

// SignalWeights holds the contribution of each outcome for one signal.
type SignalWeights struct {
	Match      float64 `yaml:"match"`
	Mismatch   float64 `yaml:"mismatch"`
	Lost       float64 `yaml:"lost"`
	Unexpected float64 `yaml:"unexpected"`
	BothAbsent float64 `yaml:"bothAbsent"`
}

// For returns the weight of outcome o.
func (w SignalWeights) For(o Outcome) float64 {
	switch o {
	case OutcomeMatch:
		return w.Match
	case OutcomeMismatch:
		return w.Mismatch
	case OutcomeLost:
		return w.Lost
	case OutcomeUnexpected:
		return w.Unexpected
	case OutcomeBothAbsent:
		return w.BothAbsent
	}
	return 0
}

// Weights is the full scoring table.
type Weights struct {
	Identifier  SignalWeights `yaml:"identifier"`
	Path        SignalWeights `yaml:"path"`
	Text        SignalWeights `yaml:"text"`
	Description SignalWeights `yaml:"description"`
	Class       SignalWeights `yaml:"class"`

	ContainerScoped    float64 `yaml:"containerScoped"`
	ParentClickable    float64 `yaml:"parentClickable"`
	LocalIndex         float64 `yaml:"localIndex"`
	LightCheckRecovery float64 `yaml:"lightCheckRecovery"`
	GlobalIndex        float64 `yaml:"globalIndex"`
}

// Signal returns the weights for s.
func (w *Weights) Signal(s Signal) SignalWeights {
	switch s {
	case SignalIdentifier:
		return w.Identifier
	case SignalPath:
		return w.Path
	case SignalText:
		return w.Text
	case SignalDescription:
		return w.Description
	case SignalClass:
		return w.Class
	}
	return SignalWeights{}
}

// DefaultWeights returns the standard table. Identifier and path dominate;
// text and description follow; class is weak.
func DefaultWeights() Weights {
	return Weights{
		Identifier:  SignalWeights{Match: 0.85, Mismatch: -0.50, Lost: -0.35, Unexpected: -0.08, BothAbsent: 0.02},
		Path:        SignalWeights{Match: 0.85, Mismatch: -0.45, Lost: -0.30, Unexpected: -0.05, BothAbsent: 0.01},
		Text:        SignalWeights{Match: 0.70, Mismatch: -0.25, Lost: -0.20, Unexpected: -0.03, BothAbsent: 0.02},
		Description: SignalWeights{Match: 0.60, Mismatch: -0.20, Lost: -0.15, Unexpected: -0.02, BothAbsent: 0.01},
		Class:       SignalWeights{Match: 0.30, Mismatch: -0.15, Lost: -0.10, Unexpected: -0.02, BothAbsent: 0.01},

		ContainerScoped:    0.30,
		ParentClickable:    0.20,
		LocalIndex:         -0.15,
		LightCheckRecovery: 0.10,
		GlobalIndex:        -0.60,
	}
}
