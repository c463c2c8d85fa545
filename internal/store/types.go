package store

import (
	"time"
)

// ExecutionLogEntry is one append-only record of a script or block execution.
// ConsoleOutput carries the script's captured log lines in order.
type ExecutionLogEntry struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	SubjectID     string    `json:"subject_id"`   // block or hook id
	ScriptType    string    `json:"script_type"`  // block type or "lifecycle_hook"
	Status        string    `json:"status"`       // success | error | timeout
	DurationMs    int64     `json:"duration_ms"`
	ConsoleOutput []string  `json:"console_output,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StepValue is a durable per-run output value keyed by step id.
type StepValue struct {
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunUpdate is a partial update applied to a run. Nil fields are untouched.
type RunUpdate struct {
	Values           map[string]any
	Progress         *float64
	Completed        *bool
	CurrentSectionID *string
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	SubjectID  string
	ScriptType string
	Status     string
	Limit      int
}
