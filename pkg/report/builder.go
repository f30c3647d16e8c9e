package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

// BuilderConfig contains report metadata.
type BuilderConfig struct {
	RunnerVersion string
	Devices       int
	StartTime     time.Time // zero = earliest flow start
}

// Build converts flow results into the index and per-flow details.
// Flows are numbered in the order given.
func Build(results []*core.FlowResult, cfg BuilderConfig) (*Index, []FlowDetail) {
	index := &Index{
		Version:   Version,
		Status:    StatusPassed,
		StartTime: cfg.StartTime,
		Runner:    RunnerInfo{Version: cfg.RunnerVersion, Devices: cfg.Devices},
		Flows:     make([]FlowEntry, len(results)),
	}
	details := make([]FlowDetail, len(results))

	for i, fr := range results {
		flowID := fmt.Sprintf("flow-%03d", i)
		detail := buildFlowDetail(flowID, fr)
		details[i] = detail

		entry := FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       detail.Name,
			SourceFile: fr.FilePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			Device:     detail.Device,
			Status:     detail.Status,
			Duration:   detail.Duration,
			Error:      fr.Error,
			Steps: StepSummary{
				Total:   fr.TotalSteps,
				Passed:  fr.PassedSteps,
				Failed:  fr.FailedSteps,
				Skipped: fr.SkippedSteps,
			},
		}
		index.Flows[i] = entry

		index.Summary.Total++
		switch entry.Status {
		case StatusPassed:
			index.Summary.Passed++
		case StatusFailed:
			index.Summary.Failed++
			index.Status = StatusFailed
		case StatusSkipped:
			index.Summary.Skipped++
		}

		if !fr.StartTime.IsZero() && (index.StartTime.IsZero() || fr.StartTime.Before(index.StartTime)) {
			index.StartTime = fr.StartTime
		}
		if end := fr.StartTime.Add(fr.Duration); end.After(index.EndTime) {
			index.EndTime = end
		}
	}
	if !index.StartTime.IsZero() && index.EndTime.After(index.StartTime) {
		index.Duration = index.EndTime.Sub(index.StartTime).Milliseconds()
	}
	return index, details
}

func buildFlowDetail(id string, fr *core.FlowResult) FlowDetail {
	name := fr.Name
	if name == "" && fr.FilePath != "" {
		name = filepath.Base(fr.FilePath)
	}
	d := FlowDetail{
		ID:         id,
		Name:       name,
		SourceFile: fr.FilePath,
		SessionID:  fr.SessionID,
		Device:     buildDevice(fr.PlatformInfo),
		Status:     statusOf(fr.Status),
		StartTime:  fr.StartTime,
		Duration:   fr.Duration.Milliseconds(),
		Steps:      make([]Step, len(fr.Steps)),
		Error:      fr.Error,
	}
	for i := range fr.Steps {
		d.Steps[i] = buildStep(&fr.Steps[i])
	}
	return d
}

func buildDevice(p *core.PlatformInfo) *Device {
	if p == nil {
		return nil
	}
	d := &Device{
		ID:          p.DeviceID,
		Name:        p.DeviceName,
		Platform:    p.Platform,
		OSVersion:   p.OSVersion,
		IsSimulator: p.IsSimulator,
	}
	if p.ScreenWidth > 0 && p.ScreenHeight > 0 {
		d.Screen = fmt.Sprintf("%dx%d", p.ScreenWidth, p.ScreenHeight)
	}
	return d
}

func buildStep(sr *core.StepResult) Step {
	s := Step{
		Index:      sr.Index,
		Definition: sr.StepID,
		Type:       sr.Action,
		Status:     statusOf(sr.Status),
		Duration:   sr.Duration.Milliseconds(),
		Message:    sr.Message,
		Error:      sr.Error,
		Resolution: ResolutionOf(sr.Resolution),
		Batch:      buildBatch(sr.Batch),
	}
	if sr.Failure != core.FailureNone {
		s.Failure = sr.Failure.String()
	}
	return s
}

// ResolutionOf converts a resolution for reporting. Nil stays nil.
func ResolutionOf(r *core.Resolution) *Resolution {
	if r == nil {
		return nil
	}
	return &Resolution{
		Strategy:   r.Strategy,
		Variant:    r.VariantID,
		Confidence: r.Confidence,
		X:          r.Point.X,
		Y:          r.Point.Y,
		Bounds:     r.Bounds.String(),
		Class:      r.Class,
		Text:       r.Text,
		Snapshot:   r.Snapshot,
		Reasons:    r.Reasons,
		Attempts:   r.Attempts,
	}
}

func buildBatch(b *core.BatchSummary) *Batch {
	if b == nil {
		return nil
	}
	out := &Batch{
		RunID:      b.RunID,
		State:      b.State.String(),
		StopReason: string(b.StopReason),
		Attempted:  b.Attempted,
		Succeeded:  b.Succeeded,
		Failed:     b.Failed,
		Skipped:    b.Skipped,
		Consumed:   make([]string, len(b.Consumed)),
		Iterations: make([]BatchIteration, len(b.Iterations)),
		Duration:   b.Duration.Milliseconds(),
		Error:      b.Error,
	}
	for i, c := range b.Consumed {
		out.Consumed[i] = c.String()
	}
	for i, it := range b.Iterations {
		bi := BatchIteration{Index: it.Index, Status: statusOf(it.Status), Error: it.Error}
		if it.Failure != core.FailureNone {
			bi.Failure = it.Failure.String()
		}
		if it.Resolution != nil {
			bi.X, bi.Y = it.Resolution.Point.X, it.Resolution.Point.Y
			bi.Strategy = it.Resolution.Strategy
			bi.Score = it.Resolution.Confidence
		}
		out.Iterations[i] = bi
	}
	return out
}
