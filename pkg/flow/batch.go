package flow

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Default batch pacing.
const (
	DefaultBatchMaxIterations = 50
	DefaultBatchInterval      = 1000 * time.Millisecond
	DefaultBatchJitter        = 200 * time.Millisecond
	DefaultBatchCooldown      = 5000 * time.Millisecond
)

// BatchConfig configures a batch run: how many actions at most and how to
// pace them.
type BatchConfig struct {
	MaxIterations int
	Interval      time.Duration
	Jitter        time.Duration
	// Cooldown replaces Interval after every CooldownEvery actions.
	// CooldownEvery 0 disables the long pause.
	Cooldown        time.Duration
	CooldownEvery   int
	ContinueOnError *bool
}

type batchRaw struct {
	MaxIterations   *int  `yaml:"maxIterations"`
	MaxCount        *int  `yaml:"maxCount"`
	IntervalMs      *int  `yaml:"intervalMs"`
	JitterMs        *int  `yaml:"jitterMs"`
	CooldownMs      *int  `yaml:"cooldownMs"`
	CooldownEvery   *int  `yaml:"cooldownEvery"`
	ContinueOnError *bool `yaml:"continueOnError"`
}

// UnmarshalYAML reads millisecond fields into durations.
// A scalar is shorthand for maxIterations.
func (b *BatchConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		b.MaxIterations = n
		return nil
	}

	var raw batchRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxIterations != nil {
		b.MaxIterations = *raw.MaxIterations
	} else if raw.MaxCount != nil {
		b.MaxIterations = *raw.MaxCount
	}
	if raw.IntervalMs != nil {
		b.Interval = ms(*raw.IntervalMs)
	}
	if raw.JitterMs != nil {
		b.Jitter = ms(*raw.JitterMs)
	}
	if raw.CooldownMs != nil {
		b.Cooldown = ms(*raw.CooldownMs)
	}
	if raw.CooldownEvery != nil {
		b.CooldownEvery = *raw.CooldownEvery
	}
	b.ContinueOnError = raw.ContinueOnError
	return nil
}

// Merge returns a copy of b with every unset field taken from defaults.
func (b *BatchConfig) Merge(defaults *BatchConfig) *BatchConfig {
	out := &BatchConfig{}
	if b != nil {
		*out = *b
	}
	if defaults == nil {
		return out
	}
	if out.MaxIterations == 0 {
		out.MaxIterations = defaults.MaxIterations
	}
	if out.Interval == 0 {
		out.Interval = defaults.Interval
	}
	if out.Jitter == 0 {
		out.Jitter = defaults.Jitter
	}
	if out.Cooldown == 0 {
		out.Cooldown = defaults.Cooldown
	}
	if out.CooldownEvery == 0 {
		out.CooldownEvery = defaults.CooldownEvery
	}
	if out.ContinueOnError == nil {
		out.ContinueOnError = defaults.ContinueOnError
	}
	return out
}

// ShouldContinueOnError returns ContinueOnError, defaulting to true.
func (b *BatchConfig) ShouldContinueOnError() bool {
	return b.ContinueOnError == nil || *b.ContinueOnError
}

// DefaultBatchConfig returns the built-in pacing.
func DefaultBatchConfig() *BatchConfig {
	cont := true
	return &BatchConfig{
		MaxIterations:   DefaultBatchMaxIterations,
		Interval:        DefaultBatchInterval,
		Jitter:          DefaultBatchJitter,
		Cooldown:        DefaultBatchCooldown,
		ContinueOnError: &cont,
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
