package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

func sampleResults() []*core.FlowResult {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	passed := &core.FlowResult{
		Name:      "follow",
		FilePath:  "flows/follow.yaml",
		SessionID: "s-1",
		PlatformInfo: &core.PlatformInfo{
			Platform: "android", DeviceID: "emulator-5554", ScreenWidth: 1080, ScreenHeight: 2400,
		},
		Status:    core.StatusPassed,
		StartTime: start,
		Duration:  2 * time.Second,
		Steps: []core.StepResult{
			{
				Index:  0,
				StepID: "follow-button",
				Action: "tapOn",
				Status: core.StatusPassed,
				Resolution: &core.Resolution{
					Point:      core.Point{X: 900, Y: 250},
					Bounds:     core.Bounds{X: 800, Y: 200, Width: 200, Height: 100},
					Confidence: 0.85,
					Strategy:   "self_id",
					Reasons:    []string{"resourceId=match"},
				},
			},
			{
				Index:  1,
				Action: "batchTapOn",
				Status: core.StatusPassed,
				Batch: &core.BatchSummary{
					RunID:      "r-1",
					State:      core.BatchCompleted,
					StopReason: core.StopPoolExhausted,
					Attempted:  1,
					Succeeded:  1,
					Skipped:    4,
					Consumed:   []core.Bounds{{X: 800, Y: 500, Width: 200, Height: 100}},
					Iterations: []core.IterationResult{{
						Index:      1,
						Status:     core.StatusPassed,
						Resolution: &core.Resolution{Point: core.Point{X: 900, Y: 550}, Strategy: "self_desc", Confidence: 0.98},
					}},
				},
			},
		},
	}
	passed.ComputeSummary()

	failed := &core.FlowResult{
		FilePath:  "flows/login.yaml",
		Status:    core.StatusErrored,
		StartTime: start.Add(500 * time.Millisecond),
		Duration:  3 * time.Second,
		Error:     "step 1 (tapOn \"Log in\"): could not capture a UI snapshot",
		Steps: []core.StepResult{{
			Action:  "tapOn",
			Status:  core.StatusErrored,
			Failure: core.FailureAcquisition,
			Error:   "could not capture a UI snapshot",
		}},
	}
	failed.ComputeSummary()
	return []*core.FlowResult{passed, failed}
}

func TestBuild(t *testing.T) {
	index, details := Build(sampleResults(), BuilderConfig{RunnerVersion: "dev", Devices: 1})

	if index.Status != StatusFailed || index.Summary.Passed != 1 || index.Summary.Failed != 1 {
		t.Errorf("index = %+v", index.Summary)
	}
	if index.Duration != 3500 {
		t.Errorf("wall clock = %dms, want 3500", index.Duration)
	}
	if index.Flows[1].Name != "login.yaml" || details[1].Name != "login.yaml" {
		t.Errorf("unnamed flow should fall back to file name, got %q", details[1].Name)
	}
	if details[0].Device == nil || details[0].Device.Screen != "1080x2400" {
		t.Errorf("device = %+v", details[0].Device)
	}

	tap := details[0].Steps[0]
	if tap.Resolution == nil || tap.Resolution.Bounds != "[800,200][1000,300]" || tap.Definition != "follow-button" {
		t.Errorf("tap = %+v", tap)
	}
	b := details[0].Steps[1].Batch
	if b == nil || b.State != "completed" || b.StopReason != "pool_exhausted" || b.Consumed[0] != "[800,500][1000,600]" ||
		b.Iterations[0].X != 900 || b.Iterations[0].Strategy != "self_desc" {
		t.Errorf("batch = %+v", b)
	}
	if s := details[1].Steps[0]; s.Status != StatusFailed || s.Failure != "acquisition_failed" {
		t.Errorf("errored step = %+v", s)
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	index, details := Build(sampleResults(), BuilderConfig{})
	if err := Write(dir, index, details); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status": "failed"`) {
		t.Errorf("report.json:\n%s", data)
	}

	gotIndex, gotDetails, err := ReadReport(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(gotIndex.Flows) != 2 || len(gotDetails) != 2 || gotDetails[0].SessionID != "s-1" {
		t.Errorf("read back = %+v", gotIndex)
	}
	if r := gotDetails[0].Steps[0].Resolution; r == nil || r.X != 900 || r.Confidence != 0.85 {
		t.Errorf("resolution = %+v", r)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "flows", ".tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestReadReport_Missing(t *testing.T) {
	if _, _, err := ReadReport(t.TempDir()); err == nil {
		t.Error("expected error for missing report")
	}
}
