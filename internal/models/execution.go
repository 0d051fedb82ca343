package models

import "time"

// ExecutionStatus represents the state of a test execution.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// ExecutionRecord tracks the single active (or last) execution for a key.
type ExecutionRecord struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Status    ExecutionStatus `json:"status"`
	Output    string          `json:"output"`
	Reason    string          `json:"reason,omitempty"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	ExitCode  *int            `json:"exitCode,omitempty"`
}

// ExecutionResult is what ExecuteOne / ExecuteAll return to the caller.
type ExecutionResult struct {
	Key      string        `json:"key"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timedOut,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Termination reasons recorded on results and records.
const (
	ReasonTimeout   = "timeout"
	ReasonReplaced  = "replaced"
	ReasonCancelled = "cancelled"
	ReasonSpawn     = "spawn"
)

// Interrupted reports whether the run was stopped by a cancel or by a newer
// execution of the same key, rather than finishing on its own.
func (r *ExecutionResult) Interrupted() bool {
	return r.Reason == ReasonReplaced || r.Reason == ReasonCancelled
}

// Status maps a result to the terminal execution status.
func (r *ExecutionResult) Status() ExecutionStatus {
	if r.Success {
		return ExecutionSuccess
	}
	return ExecutionError
}
