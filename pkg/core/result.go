package core

import (
	"time"
)

// Attempt records one strategy rung tried during a resolution.
type Attempt struct {
	Strategy   string  `json:"strategy"`
	VariantID  string  `json:"variantId,omitempty"`
	Candidates int     `json:"candidates"`
	TopScore   float64 `json:"topScore,omitempty"`
	Reason     string  `json:"reason"`
	Failure    string  `json:"failure,omitempty"`
}

// Resolution is the outcome of a successful resolution: one executable
// coordinate with its confidence and provenance.
type Resolution struct {
	Point      Point     `json:"point"`
	Bounds     Bounds    `json:"bounds"`
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy"`
	VariantID  string    `json:"variantId,omitempty"`
	NodeIndex  int       `json:"nodeIndex"` // -1 for bounds-tap
	Class      string    `json:"class,omitempty"`
	Text       string    `json:"text,omitempty"`
	Reasons    []string  `json:"reasons"`
	Attempts   []Attempt `json:"attempts,omitempty"`
	Snapshot   string    `json:"snapshot,omitempty"` // content hash
}

// StopReason explains why a batch reached a terminal state.
type StopReason string

// StopReason values
const (
	StopIterationCap  StopReason = "iteration_cap"
	StopPoolExhausted StopReason = "pool_exhausted"
	StopCancelled     StopReason = "cancelled"
	StopError         StopReason = "error"
)

// IterationResult captures one batch iteration.
type IterationResult struct {
	Index      int           `json:"index"` // 1-based
	Status     StepStatus    `json:"status"`
	Resolution *Resolution   `json:"resolution,omitempty"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// BatchSummary is the final report of a batch run.
type BatchSummary struct {
	RunID      string            `json:"runId"`
	State      BatchState        `json:"state"`
	StopReason StopReason        `json:"stopReason"`
	Attempted  int               `json:"attempted"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Consumed   []Bounds          `json:"consumed"`
	Iterations []IterationResult `json:"iterations"`
	Duration   time.Duration     `json:"duration"`
	Error      string            `json:"error,omitempty"`
}

// StepResult captures the complete outcome of executing a single step
type StepResult struct {
	Index  int    `json:"index"`
	StepID string `json:"stepId,omitempty"`
	Action string `json:"action"`

	Status  StepStatus  `json:"status"`
	Failure FailureKind `json:"failure,omitempty"`

	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Message    string        `json:"message,omitempty"`
	Resolution *Resolution   `json:"resolution,omitempty"`
	Batch      *BatchSummary `json:"batch,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// FlowResult captures the complete outcome of executing a flow on one device
type FlowResult struct {
	Name         string        `json:"name"`
	FilePath     string        `json:"filePath"`
	SessionID    string        `json:"sessionId"`
	PlatformInfo *PlatformInfo `json:"platformInfo,omitempty"`

	Status    StepStatus    `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Steps []StepResult `json:"steps"`

	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	SkippedSteps int `json:"skippedSteps"`

	Error string `json:"error,omitempty"`
}

// ComputeSummary calculates step counts from the Steps slice
func (f *FlowResult) ComputeSummary() {
	f.TotalSteps = len(f.Steps)
	f.PassedSteps = 0
	f.FailedSteps = 0
	f.SkippedSteps = 0

	for _, step := range f.Steps {
		switch step.Status {
		case StatusPassed:
			f.PassedSteps++
		case StatusFailed, StatusErrored:
			f.FailedSteps++
		case StatusSkipped:
			f.SkippedSteps++
		}
	}
}

// AggregateStatus determines the flow status from step results
func (f *FlowResult) AggregateStatus() StepStatus {
	for _, step := range f.Steps {
		if step.Status == StatusFailed || step.Status == StatusErrored {
			return StatusFailed
		}
	}
	return StatusPassed
}
