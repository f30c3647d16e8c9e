// Package config handles workspace configuration for tapresolver.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/tapresolver/pkg/device"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Flow selection
	Flows       []string `yaml:"flows"`       // Glob patterns for flows
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	Resolution Resolution      `yaml:"resolution"`
	Weights    scoring.Weights `yaml:"weights"`
	// TogglePairs adds state-toggle pairs such as [Subscribe, Subscribed].
	TogglePairs [][]string        `yaml:"togglePairs"`
	Batch       *flow.BatchConfig `yaml:"batch"`
	Snapshot    Snapshot          `yaml:"snapshot"`

	Device     Device     `yaml:"device"`
	Repository Repository `yaml:"repository"`
	Log        Log        `yaml:"log"`
	Report     Report     `yaml:"report"`
}

// Resolution holds the plan defaults and the safety gate settings.
type Resolution struct {
	Plan             *flow.Plan
	MaxAreaRatio     float64
	ContainerClasses []string
	NavBandRatio     float64
}

type resolutionRaw struct {
	MaxAreaRatio     *float64 `yaml:"maxAreaRatio"`
	ContainerClasses []string `yaml:"containerClasses"`
	NavBandRatio     *float64 `yaml:"navBandRatio"`
	FallbackToBounds *bool    `yaml:"fallbackToBounds"`
	IgnoreUniqueness *bool    `yaml:"ignoreUniqueness"`
}

// UnmarshalYAML reads plan thresholds and gate settings from one mapping.
// Fields left out keep their current values.
func (r *Resolution) UnmarshalYAML(node *yaml.Node) error {
	var p flow.Plan
	if err := node.Decode(&p); err != nil {
		return err
	}
	var raw resolutionRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	merged := p.Merge(r.Plan)
	if raw.FallbackToBounds != nil {
		merged.FallbackToBounds = *raw.FallbackToBounds
	}
	if raw.IgnoreUniqueness != nil {
		merged.IgnoreUniqueness = *raw.IgnoreUniqueness
	}
	r.Plan = merged
	if raw.MaxAreaRatio != nil {
		r.MaxAreaRatio = *raw.MaxAreaRatio
	}
	if raw.ContainerClasses != nil {
		r.ContainerClasses = raw.ContainerClasses
	}
	if raw.NavBandRatio != nil {
		r.NavBandRatio = *raw.NavBandRatio
	}
	return nil
}

// Snapshot configures capture retries.
type Snapshot struct {
	Attempts          int `yaml:"attempts"`
	InitialIntervalMs int `yaml:"initialIntervalMs"`
	MaxIntervalMs     int `yaml:"maxIntervalMs"`
}

// Device selects and describes the device.
type Device struct {
	Serial         string `yaml:"serial"`
	ADBPath        string `yaml:"adbPath"`
	ScreenWidth    int    `yaml:"screenWidth"`
	ScreenHeight   int    `yaml:"screenHeight"`
	ReadyTimeoutMs int    `yaml:"readyTimeoutMs"`
}

// Repository configures definition persistence. An empty path keeps
// definitions in memory only.
type Repository struct {
	Path string `yaml:"path"`
}

// Log configures the process log file.
type Log struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// Report configures where run reports go.
type Report struct {
	OutputDir string `yaml:"outputDir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	acq := snapshot.DefaultAcquirePolicy()
	return &Config{
		Resolution: Resolution{
			Plan:             flow.DefaultPlan(),
			MaxAreaRatio:     resolver.DefaultMaxAreaRatio,
			ContainerClasses: append([]string(nil), resolver.DefaultContainerClasses...),
			NavBandRatio:     resolver.DefaultNavBandRatio,
		},
		Weights: scoring.DefaultWeights(),
		Batch:   flow.DefaultBatchConfig(),
		Snapshot: Snapshot{
			Attempts:          acq.Attempts,
			InitialIntervalMs: int(acq.InitialInterval.Milliseconds()),
			MaxIntervalMs:     int(acq.MaxInterval.Milliseconds()),
		},
		Log: Log{Level: "info"},
	}
}

// Load loads configuration from a file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Batch = cfg.Batch.Merge(flow.DefaultBatchConfig())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, use defaults
	return Default(), nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if err := c.Resolution.Plan.Validate(); err != nil {
		return fmt.Errorf("resolution: %w", err)
	}
	if c.Resolution.MaxAreaRatio <= 0 || c.Resolution.MaxAreaRatio > 1 {
		return fmt.Errorf("resolution.maxAreaRatio must be in (0,1], got %v", c.Resolution.MaxAreaRatio)
	}
	if c.Resolution.NavBandRatio < 0 || c.Resolution.NavBandRatio >= 1 {
		return fmt.Errorf("resolution.navBandRatio must be in [0,1), got %v", c.Resolution.NavBandRatio)
	}
	for i, p := range c.TogglePairs {
		if len(p) != 2 || p[0] == "" || p[1] == "" {
			return fmt.Errorf("togglePairs[%d]: want two non-empty texts, got %v", i, p)
		}
	}
	if b := c.Batch; b != nil && (b.MaxIterations < 0 || b.Interval < 0 || b.Jitter < 0 || b.Cooldown < 0 || b.CooldownEvery < 0) {
		return fmt.Errorf("batch: values must not be negative")
	}
	if c.Snapshot.Attempts < 0 {
		return fmt.Errorf("snapshot.attempts must not be negative")
	}
	return nil
}

// ResolverConfig builds the resolver configuration.
func (c *Config) ResolverConfig() resolver.Config {
	pairs := make([][2]string, 0, len(c.TogglePairs))
	for _, p := range c.TogglePairs {
		pairs = append(pairs, [2]string{p[0], p[1]})
	}
	return resolver.Config{
		Weights:          c.Weights,
		Toggles:          scoring.NewToggleDetector(pairs...),
		Plan:             c.Resolution.Plan,
		MaxAreaRatio:     c.Resolution.MaxAreaRatio,
		ContainerClasses: c.Resolution.ContainerClasses,
		NavBandRatio:     c.Resolution.NavBandRatio,
	}
}

// AcquirePolicy returns the snapshot retry policy.
func (c *Config) AcquirePolicy() snapshot.AcquirePolicy {
	return snapshot.AcquirePolicy{
		Attempts:        c.Snapshot.Attempts,
		InitialInterval: time.Duration(c.Snapshot.InitialIntervalMs) * time.Millisecond,
		MaxInterval:     time.Duration(c.Snapshot.MaxIntervalMs) * time.Millisecond,
	}
}

// DeviceConfig returns the ADB connection settings.
func (c *Config) DeviceConfig() device.Config {
	return device.Config{
		Serial:       c.Device.Serial,
		ADBPath:      c.Device.ADBPath,
		ScreenWidth:  c.Device.ScreenWidth,
		ScreenHeight: c.Device.ScreenHeight,
		ReadyTimeout: time.Duration(c.Device.ReadyTimeoutMs) * time.Millisecond,
	}
}

// RepositoryPath returns the definition store path, or "" for memory only.
// A relative path is taken from <home>/data.
func (c *Config) RepositoryPath() string {
	p := c.Repository.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetDataDir(), p)
}
