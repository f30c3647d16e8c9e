package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
flows:
  - "**"
includeTags:
  - smoke
excludeTags:
  - wip
resolution:
  minConfidence: 0.8
  fallbackToBounds: false
  maxAreaRatio: 0.9
  navBandRatio: 0.1
weights:
  identifier:
    match: 0.9
togglePairs:
  - [Abonnieren, Abonniert]
batch:
  maxIterations: 10
  intervalMs: 500
snapshot:
  attempts: 5
  initialIntervalMs: 50
device:
  serial: emulator-5554
  readyTimeoutMs: 3000
repository:
  path: data/definitions.db
`
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.yaml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Flows) != 1 || cfg.Flows[0] != "**" {
		t.Errorf("expected flows [**], got %v", cfg.Flows)
	}
	if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "smoke" {
		t.Errorf("expected includeTags [smoke], got %v", cfg.IncludeTags)
	}
	if len(cfg.ExcludeTags) != 1 || cfg.ExcludeTags[0] != "wip" {
		t.Errorf("expected excludeTags [wip], got %v", cfg.ExcludeTags)
	}

	plan := cfg.Resolution.Plan
	if plan.MinConfidence != 0.8 {
		t.Errorf("minConfidence = %v, want 0.8", plan.MinConfidence)
	}
	if plan.GapThreshold != flow.DefaultGapThreshold {
		t.Errorf("gapThreshold = %v, want default %v", plan.GapThreshold, flow.DefaultGapThreshold)
	}
	if plan.FallbackToBounds {
		t.Error("fallbackToBounds: false should override the default")
	}
	if cfg.Resolution.MaxAreaRatio != 0.9 || cfg.Resolution.NavBandRatio != 0.1 {
		t.Errorf("gate = %v/%v, want 0.9/0.1", cfg.Resolution.MaxAreaRatio, cfg.Resolution.NavBandRatio)
	}
	if len(cfg.Resolution.ContainerClasses) != len(resolver.DefaultContainerClasses) {
		t.Errorf("container classes should keep defaults, got %v", cfg.Resolution.ContainerClasses)
	}

	def := scoring.DefaultWeights()
	if cfg.Weights.Identifier.Match != 0.9 {
		t.Errorf("identifier.match = %v, want 0.9", cfg.Weights.Identifier.Match)
	}
	if cfg.Weights.Identifier.Mismatch != def.Identifier.Mismatch {
		t.Errorf("identifier.mismatch = %v, want default %v", cfg.Weights.Identifier.Mismatch, def.Identifier.Mismatch)
	}
	if cfg.Weights.Text != def.Text {
		t.Errorf("text weights = %+v, want defaults", cfg.Weights.Text)
	}

	if cfg.Batch.MaxIterations != 10 || cfg.Batch.Interval != 500*time.Millisecond {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if cfg.Batch.Cooldown != flow.DefaultBatchCooldown {
		t.Errorf("batch cooldown = %v, want default", cfg.Batch.Cooldown)
	}

	acq := cfg.AcquirePolicy()
	if acq.Attempts != 5 || acq.InitialInterval != 50*time.Millisecond || acq.MaxInterval != time.Second {
		t.Errorf("acquire policy = %+v", acq)
	}

	dc := cfg.DeviceConfig()
	if dc.Serial != "emulator-5554" || dc.ReadyTimeout != 3*time.Second {
		t.Errorf("device config = %+v", dc)
	}
}

func TestConfig_ResolverConfig(t *testing.T) {
	content := `
togglePairs:
  - [Abonnieren, Abonniert]
`
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.yaml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc := cfg.ResolverConfig()
	if !rc.Toggles.IsToggle("Abonnieren", "Abonniert") {
		t.Error("configured toggle pair not registered")
	}
	if !rc.Toggles.IsToggle("Follow", "Following") {
		t.Error("built-in toggle pairs should stay")
	}
	if !rc.Plan.FallbackToBounds {
		t.Error("default plan should allow bounds fallback")
	}
	if rc.MaxAreaRatio != resolver.DefaultMaxAreaRatio {
		t.Errorf("MaxAreaRatio = %v", rc.MaxAreaRatio)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"yaml", `flows: [invalid yaml`},
		{"negative confidence", "resolution:\n  minConfidence: -1\n"},
		{"area ratio", "resolution:\n  maxAreaRatio: 1.5\n"},
		{"nav band", "resolution:\n  navBandRatio: 1\n"},
		{"budgets", "resolution:\n  timeBudgetMs: 100\n  perCandidateBudgetMs: 200\n"},
		{"toggle pair", "togglePairs:\n  - [Only]\n"},
		{"batch", "batch:\n  maxIterations: -2\n"},
		{"snapshot", "snapshot:\n  attempts: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), "config.yaml", tt.content))
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "config.yaml", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Flows) != 0 {
		t.Errorf("expected empty flows, got %v", cfg.Flows)
	}
	if cfg.Resolution.Plan.MinConfidence != flow.DefaultMinConfidence {
		t.Errorf("expected default minConfidence, got %v", cfg.Resolution.Plan.MinConfidence)
	}
	if cfg.Weights != scoring.DefaultWeights() {
		t.Error("expected default weights")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %q", cfg.Log.Level)
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("config.yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yaml", "includeTags: [yaml]\n")
		writeConfig(t, dir, "config.yml", "includeTags: [yml]\n")

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "yaml" {
			t.Errorf("config.yaml should win, got %v", cfg.IncludeTags)
		}
	})

	t.Run("config.yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yml", "includeTags: [yml]\n")

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "yml" {
			t.Errorf("expected [yml], got %v", cfg.IncludeTags)
		}
	})

	t.Run("none", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Batch.MaxIterations != flow.DefaultBatchMaxIterations {
			t.Errorf("expected default batch, got %+v", cfg.Batch)
		}
	})
}

func TestConfig_RepositoryPath(t *testing.T) {
	ResetHome()
	t.Cleanup(ResetHome)
	t.Setenv(envHome, "/opt/tapresolver")

	cfg := Default()
	if got := cfg.RepositoryPath(); got != "" {
		t.Errorf("empty path = %q, want memory only", got)
	}

	cfg.Repository.Path = "defs.db"
	if got := cfg.RepositoryPath(); got != filepath.Join("/opt/tapresolver", "data", "defs.db") {
		t.Errorf("relative path = %q", got)
	}

	cfg.Repository.Path = "/var/lib/defs.db"
	if got := cfg.RepositoryPath(); got != "/var/lib/defs.db" {
		t.Errorf("absolute path = %q", got)
	}
}
