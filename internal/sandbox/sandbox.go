// Package sandbox executes user-authored script code under a wall-clock
// deadline with a fixed helper surface and captured console output. Back-ends
// for each supported language sit behind the Executor interface (strategy
// pattern) and expose identical input/output/helper contracts: named input
// bindings, an emit channel where later emissions overwrite earlier ones, and
// log capture. Scripts get no filesystem, network, or process access.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// Status is the outcome classification of one script execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Result is the outcome of a single sandboxed execution. On timeout no partial
// output is carried: Emitted is nil and EmittedSet is false.
type Result struct {
	Status      Status   `json:"status"`
	Emitted     any      `json:"emitted,omitempty"`
	EmittedSet  bool     `json:"emitted_set"`
	ConsoleLogs []string `json:"console_logs,omitempty"`
	Error       string   `json:"error,omitempty"`
	DurationMs  int64    `json:"duration_ms"`
}

// Executor is one language back-end. Run evaluates code against the bindings,
// reporting emissions and console output through the sink. When the script
// makes no explicit emit, the back-end emits the program's result value as the
// single logical emission. Run must honor ctx cancellation.
type Executor interface {
	Language() string
	Run(ctx context.Context, code string, bindings map[string]any, sink *Sink) error
}

// Registry dispatches script executions to language back-ends and enforces
// the deadline/containment contract: no exception or partial output ever
// escapes to the caller.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

// Register adds a language back-end. Returns error on duplicate language.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	lang := exec.Language()
	if lang == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor language is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[lang]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for language %q already registered", lang)
	}
	r.executors[lang] = exec
	return nil
}

// Languages returns the registered language identifiers.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.executors))
	for lang := range r.executors {
		langs = append(langs, lang)
	}
	return langs
}

// Execute runs one script under the spec's clamped deadline. An unknown
// language is a configuration failure returned as an error before any
// execution. Every other failure mode (script exception, deadline expiry,
// panic inside a back-end) is contained in the Result.
func (r *Registry) Execute(ctx context.Context, spec *schema.ScriptSpec, bindings map[string]any) (*Result, error) {
	if spec == nil || spec.Code == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "script spec has no code")
	}

	r.mu.RLock()
	exec, ok := r.executors[spec.Language]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown script language %q", spec.Language)
	}

	normalized, err := normalizeBindings(bindings)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"script bindings are not JSON-representable: %s", err.Error()).WithCause(err)
	}

	sink := NewSink()
	timeout := spec.Timeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- schema.NewErrorf(schema.ErrCodeExecution, "script panic: %v", rec)
			}
		}()
		done <- exec.Run(execCtx, spec.Code, normalized, sink)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-execCtx.Done():
		// The back-end was cancelled through execCtx. Allow a brief unwind so
		// cooperative back-ends can surface their cancellation error, then
		// abandon the goroutine; the sink snapshot below ignores late writes.
		select {
		case runErr = <-done:
		case <-time.After(25 * time.Millisecond):
			runErr = execCtx.Err()
		}
	}

	result := &Result{
		ConsoleLogs: sink.Logs(),
		DurationMs:  time.Since(start).Milliseconds(),
	}

	switch {
	case runErr == nil:
		result.Status = StatusSuccess
		result.Emitted, result.EmittedSet = sink.Emitted()
	case execCtx.Err() != nil && (errors.Is(execCtx.Err(), context.DeadlineExceeded) || errors.Is(runErr, context.DeadlineExceeded)):
		result.Status = StatusTimeout
		result.Error = "script execution timeout after " + timeout.String()
	default:
		result.Status = StatusError
		result.Error = runErr.Error()
	}

	if result.Status != StatusSuccess {
		r.logger.DebugContext(ctx, "script execution failed",
			slog.String("language", spec.Language),
			slog.String("status", string(result.Status)),
			slog.String("error", result.Error))
	}

	return result, nil
}

// normalizeBindings round-trips bindings through JSON so every back-end sees
// the same plain value shapes (map[string]any, []any, float64, string, bool,
// nil). nil binding values survive the round trip.
func normalizeBindings(bindings map[string]any) (map[string]any, error) {
	if bindings == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(bindings)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(bindings))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	// json.Marshal drops nothing from a map, but explicit nils decode away
	// only when the key was absent; make sure every requested key exists.
	for k := range bindings {
		if _, ok := out[k]; !ok {
			out[k] = nil
		}
	}
	return out, nil
}
