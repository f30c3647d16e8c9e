// Package flow handles parsing and representation of step-definition files:
// recorded evidence, strategy variants, resolution plans and batch pacing.
package flow

// Flow represents a parsed step-definition file.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Flow configuration (appId, name, plan defaults)
	Steps      []Step // Steps to execute

	// Definitions are stored step definitions declared in the config
	// document; steps reference them with ref.
	Definitions []Definition
}

// Config represents flow-level configuration.
type Config struct {
	AppID string   `yaml:"appId"`
	Name  string   `yaml:"name"`
	Tags  []string `yaml:"tags"`

	// Plan holds flow-wide plan defaults; step plans override them field by field.
	Plan *Plan `yaml:"plan"`
	// Batch holds flow-wide pacing defaults for batch steps.
	Batch *BatchConfig `yaml:"batch"`

	Definitions []Definition `yaml:"definitions"`
}
