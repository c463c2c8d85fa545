package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR" // malformed block/hook configuration; fails before execution
	ErrCodeExecution    = "EXECUTION_ERROR"  // exception raised inside sandboxed script code
	ErrCodeTimeout      = "TIMEOUT_ERROR"    // script deadline exceeded
	ErrCodeMissingInput = "MISSING_INPUT"    // referenced variable/list absent (degraded, never thrown)
	ErrCodeStore        = "STORE_ERROR"      // durable write-through failure
	ErrCodeConnector    = "CONNECTOR_ERROR"  // data-source connector failure
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeSealed       = "RUN_SEALED" // run completed; script-driven writes rejected
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	SubjectID string         `json:"subject_id,omitempty"` // block or hook id
	Cause     error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.SubjectID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithSubject attaches the block or hook ID to the error.
func (e *EngineError) WithSubject(id string) *EngineError {
	e.SubjectID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
