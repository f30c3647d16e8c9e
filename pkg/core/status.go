package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Resolution or action failed
	StatusErrored                   // Infrastructure error (device, snapshot)
	StatusSkipped                   // Not executed
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed
}

// MarshalText renders the status by name in reports.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FailureKind classifies a resolution or execution failure
type FailureKind int

const (
	FailureNone          FailureKind = iota // No failure
	FailureAcquisition                      // Snapshot could not be captured or parsed
	FailureNoEvidence                       // Evidence lacks every field the strategy needs
	FailureAmbiguous                        // Several candidates and no uniqueness rule satisfied
	FailureUnsafe                           // Safety gate rejected the target
	FailureLowConfidence                    // Best candidate below plan minimum
	FailureExecution                        // Device adapter reported failure
	FailureConfig                           // Invalid plan or configuration
	FailureUnknown                          // Not a ResolutionError
)

// String returns the string representation of FailureKind
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureAcquisition:
		return "acquisition_failed"
	case FailureNoEvidence:
		return "no_usable_evidence"
	case FailureAmbiguous:
		return "ambiguous_match"
	case FailureUnsafe:
		return "unsafe_target"
	case FailureLowConfidence:
		return "low_confidence"
	case FailureExecution:
		return "execution_failed"
	case FailureConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in reports.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// BatchState is the Batch Iteration Controller state.
type BatchState int

const (
	BatchIdle BatchState = iota
	BatchResolving
	BatchActing
	BatchCooldown
	BatchCompleted
	BatchAborted
)

// String returns the string representation of BatchState
func (s BatchState) String() string {
	switch s {
	case BatchIdle:
		return "idle"
	case BatchResolving:
		return "resolving"
	case BatchActing:
		return "acting"
	case BatchCooldown:
		return "cooldown"
	case BatchCompleted:
		return "completed"
	case BatchAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Completed and Aborted.
func (s BatchState) IsTerminal() bool {
	return s == BatchCompleted || s == BatchAborted
}

// MarshalText renders the state by name in reports.
func (s BatchState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
