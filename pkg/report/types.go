// Package report writes the JSON run report.
//
// Layout:
//   - report.json: run index (status, summary, one entry per flow)
//   - flows/flow-XXX.json: per-flow detail with every step's resolution
//     trail and batch summary
package report

import (
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// statusOf folds a step status into a report status. Errored counts as
// failed.
func statusOf(s core.StepStatus) Status {
	switch s {
	case core.StatusPassed:
		return StatusPassed
	case core.StatusSkipped, core.StatusPending:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file.
type Index struct {
	Version   string      `json:"version"`
	Status    Status      `json:"status"`
	StartTime time.Time   `json:"startTime"`
	EndTime   time.Time   `json:"endTime"`
	Duration  int64       `json:"duration"` // milliseconds, wall clock
	Runner    RunnerInfo  `json:"runner"`
	Summary   Summary     `json:"summary"`
	Flows     []FlowEntry `json:"flows"`
}

// RunnerInfo identifies the tool that produced the report.
type RunnerInfo struct {
	Version string `json:"version"`
	Devices int    `json:"devices"`
}

// Summary contains aggregated flow counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// FlowEntry is the index entry for a flow.
type FlowEntry struct {
	Index      int         `json:"index"`
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	SourceFile string      `json:"sourceFile"`
	DataFile   string      `json:"dataFile"`
	Device     *Device     `json:"device,omitempty"`
	Status     Status      `json:"status"`
	Duration   int64       `json:"duration"` // milliseconds
	Steps      StepSummary `json:"steps"`
	Error      string      `json:"error,omitempty"`
}

// StepSummary contains step counts for a flow.
type StepSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Device contains device information.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Platform    string `json:"platform"`
	OSVersion   string `json:"osVersion,omitempty"`
	IsSimulator bool   `json:"isSimulator"`
	Screen      string `json:"screen,omitempty"` // WxH
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceFile string    `json:"sourceFile"`
	SessionID  string    `json:"sessionId"`
	Device     *Device   `json:"device,omitempty"`
	Status     Status    `json:"status"`
	StartTime  time.Time `json:"startTime"`
	Duration   int64     `json:"duration"` // milliseconds
	Steps      []Step    `json:"steps"`
	Error      string    `json:"error,omitempty"`
}

// Step is one executed step.
type Step struct {
	Index      int         `json:"index"`
	Definition string      `json:"definition,omitempty"`
	Type       string      `json:"type"`
	Status     Status      `json:"status"`
	Failure    string      `json:"failure,omitempty"`
	Duration   int64       `json:"duration"` // milliseconds
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Batch      *Batch      `json:"batch,omitempty"`
}

// Resolution is where a step landed and how.
type Resolution struct {
	Strategy   string         `json:"strategy"`
	Variant    string         `json:"variant,omitempty"`
	Confidence float64        `json:"confidence"`
	X          int            `json:"x"`
	Y          int            `json:"y"`
	Bounds     string         `json:"bounds"`
	Class      string         `json:"class,omitempty"`
	Text       string         `json:"text,omitempty"`
	Snapshot   string         `json:"snapshot,omitempty"`
	Reasons    []string       `json:"reasons"`
	Attempts   []core.Attempt `json:"attempts,omitempty"`
}

// Batch is the summary of a batch step.
type Batch struct {
	RunID      string           `json:"runId"`
	State      string           `json:"state"`
	StopReason string           `json:"stopReason"`
	Attempted  int              `json:"attempted"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Consumed   []string         `json:"consumed"`
	Iterations []BatchIteration `json:"iterations"`
	Duration   int64            `json:"duration"` // milliseconds
	Error      string           `json:"error,omitempty"`
}

// BatchIteration is one batch iteration.
type BatchIteration struct {
	Index    int     `json:"index"`
	Status   Status  `json:"status"`
	X        int     `json:"x,omitempty"`
	Y        int     `json:"y,omitempty"`
	Strategy string  `json:"strategy,omitempty"`
	Score    float64 `json:"confidence,omitempty"`
	Failure  string  `json:"failure,omitempty"`
	Error    string  `json:"error,omitempty"`
}
