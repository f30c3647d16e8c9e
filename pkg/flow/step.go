package flow

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	StepTapOn       StepType = "tapOn"
	StepLongPressOn StepType = "longPressOn"
	StepInputText   StepType = "inputText"
	StepPressKey    StepType = "pressKey"
	StepBatchTapOn  StepType = "batchTapOn"
	StepWait        StepType = "wait"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// Definition is a stored step definition: what was recorded about one
// target and how to resolve it.
type Definition struct {
	ID           string   `yaml:"id"`
	Evidence     Evidence `yaml:"evidence"`
	Plan         *Plan    `yaml:"plan"`
	SnapshotHash string   `yaml:"snapshot"` // content hash of the recorded dump, if kept
}

// Target is either a reference to a stored definition or an inline one.
type Target struct {
	Ref        string
	Definition Definition
}

type targetRaw struct {
	Ref          string   `yaml:"ref"`
	ID           string   `yaml:"id"`
	Evidence     Evidence `yaml:"evidence"`
	Plan         *Plan    `yaml:"plan"`
	SnapshotHash string   `yaml:"snapshot"`
}

// UnmarshalYAML allows Target to be unmarshaled from a text scalar or a struct.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = Target{Definition: Definition{Evidence: Evidence{Text: Aliases{node.Value}}}}
		return nil
	}
	var raw targetRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	t.Ref = raw.Ref
	t.Definition = Definition{
		ID:           raw.ID,
		Evidence:     raw.Evidence,
		Plan:         raw.Plan,
		SnapshotHash: raw.SnapshotHash,
	}
	if t.Ref == "" && t.Definition.Evidence.IsEmpty() && (t.Definition.Plan == nil || len(t.Definition.Plan.Variants) == 0) {
		return fmt.Errorf("target needs ref, evidence or plan variants")
	}
	return nil
}

// Describe returns a human-readable description.
func (t *Target) Describe() string {
	if t.Ref != "" {
		return "ref:" + t.Ref
	}
	if d := t.Definition.Evidence.Describe(); d != "" {
		return d
	}
	return t.Definition.ID
}

// ============================================
// Interaction Steps
// ============================================

// TapOnStep resolves a target and taps it.
type TapOnStep struct {
	BaseStep `yaml:",inline"`
	Target   Target `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *TapOnStep) Describe() string { return "tapOn " + s.Target.Describe() }

// LongPressOnStep resolves a target and long-presses it.
type LongPressOnStep struct {
	BaseStep   `yaml:",inline"`
	Target     Target `yaml:"-"`
	DurationMs int    `yaml:"duration"`
}

// Describe returns a human-readable description.
func (s *LongPressOnStep) Describe() string { return "longPressOn " + s.Target.Describe() }

// BatchTapOnStep taps every element matching the target, one per iteration.
type BatchTapOnStep struct {
	BaseStep `yaml:",inline"`
	Target   Target       `yaml:"-"`
	Batch    *BatchConfig `yaml:"batch"`
}

// Describe returns a human-readable description.
func (s *BatchTapOnStep) Describe() string { return "batchTapOn " + s.Target.Describe() }

// InputTextStep types text, optionally tapping a target field first.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string  `yaml:"text"`
	Into     *Target `yaml:"into"`
}

// Describe returns a human-readable description.
func (s *InputTextStep) Describe() string {
	if s.Into != nil {
		return fmt.Sprintf("inputText %q into %s", s.Text, s.Into.Describe())
	}
	return fmt.Sprintf("inputText %q", s.Text)
}

// PressKeyStep sends a key code; no resolution is involved.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
	Code     int    `yaml:"-"`
}

// Describe returns a human-readable description.
func (s *PressKeyStep) Describe() string { return "pressKey " + s.Key }

// WaitStep sleeps for a fixed duration.
type WaitStep struct {
	BaseStep   `yaml:",inline"`
	DurationMs int `yaml:"duration"`
}

// Describe returns a human-readable description.
func (s *WaitStep) Describe() string { return fmt.Sprintf("wait %dms", s.DurationMs) }

// Android key codes accepted by name in pressKey.
var keyCodes = map[string]int{
	"home":        3,
	"back":        4,
	"volume_up":   24,
	"volume_down": 25,
	"power":       26,
	"tab":         61,
	"enter":       66,
	"delete":      67,
	"backspace":   67,
	"menu":        82,
	"search":      84,
	"escape":      111,
}

// KeyCode converts a key name or numeric string to an Android key code.
func KeyCode(key string) (int, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, " ", "_")
	if code, ok := keyCodes[k]; ok {
		return code, nil
	}
	if n, err := strconv.Atoi(k); err == nil && n >= 0 {
		return n, nil
	}
	return 0, fmt.Errorf("unknown key %q", key)
}
