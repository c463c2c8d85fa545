package engine

import (
	"context"
	"log/slog"

	"github.com/vaultlogic/pulse/internal/logging"
	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/internal/store"
	"github.com/vaultlogic/pulse/internal/validation"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// HookService executes lifecycle hooks at page/document phases. Hooks in one
// phase run sequentially in (order, id) order; each hook sees the data
// mutations of the hooks before it.
//
// The success flag is asymmetric: a script exception flips it to false, a
// timeout does not. Timed-out hooks are reported in Errors and in the
// execution log but the phase is still considered successful.
type HookService struct {
	store     store.Store
	sandbox   *sandbox.Registry
	validator *validation.ConfigValidator
	logger    *slog.Logger
}

func NewHookService(st store.Store, sb *sandbox.Registry, validator *validation.ConfigValidator, logger *slog.Logger) *HookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookService{store: st, sandbox: sb, validator: validator, logger: logger}
}

// ExecuteHooksForPhase runs every enabled hook configured for (workflowID,
// phase) against a copy of data. Hook input keys resolve from the phase data
// first, then from the run's persisted values, then bind as null.
func (s *HookService) ExecuteHooksForPhase(ctx context.Context, workflowID, runID string, phase schema.Phase, data map[string]any) (*PhaseResult, error) {
	if !phase.IsHookPhase() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown hook phase %q", phase)
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.WorkflowID != workflowID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"run %q belongs to workflow %q, not %q", runID, run.WorkflowID, workflowID)
	}

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithPhase(ctx, string(phase))

	hooks, err := s.store.ListHooks(ctx, workflowID, phase)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list hooks").WithCause(err)
	}

	working := make(map[string]any, len(data))
	for k, v := range data {
		working[k] = v
	}

	result := &PhaseResult{Success: true}

	for _, hook := range hooks {
		if !hook.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors,
				schema.NewError(schema.ErrCodeExecution, "phase cancelled").WithCause(err))
			break
		}
		s.executeHook(ctx, run, hook, working, result)
	}

	result.Data = working
	return result, nil
}

func (s *HookService) executeHook(ctx context.Context, run *schema.Run, hook *schema.LifecycleHook, working map[string]any, result *PhaseResult) {
	ctx = logging.WithSubjectID(ctx, hook.ID)

	if err := s.validator.ValidateHook(hook); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, asEngineError(err, hook.ID))
		return
	}

	bindings := make(map[string]any, len(hook.InputKeys))
	for _, key := range hook.InputKeys {
		if v, ok := working[key]; ok {
			bindings[key] = v
		} else if v, ok := run.Values[key]; ok {
			bindings[key] = v
		} else {
			bindings[key] = nil
		}
	}

	res, err := s.sandbox.Execute(ctx, hook.Script(), bindings)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, asEngineError(err, hook.ID))
		return
	}

	entry := &store.ExecutionLogEntry{
		RunID:         run.ID,
		SubjectID:     hook.ID,
		ScriptType:    "lifecycle_hook",
		Status:        string(res.Status),
		DurationMs:    res.DurationMs,
		ConsoleOutput: res.ConsoleLogs,
		Error:         res.Error,
	}
	if appendErr := s.store.AppendExecution(ctx, entry); appendErr != nil {
		s.logger.WarnContext(ctx, "append execution log entry failed",
			slog.String("hook_id", hook.ID),
			slog.String("error", appendErr.Error()))
	}

	switch res.Status {
	case sandbox.StatusError:
		result.Success = false
		result.Errors = append(result.Errors,
			schema.NewError(schema.ErrCodeExecution, res.Error).WithSubject(hook.ID))
	case sandbox.StatusTimeout:
		// Timeouts are reported but do not flip the success flag, and no
		// partial output is merged.
		result.Errors = append(result.Errors,
			schema.NewError(schema.ErrCodeTimeout, res.Error).WithSubject(hook.ID))
	case sandbox.StatusSuccess:
		s.applyEmission(ctx, hook, res, working)
	}
}

// applyEmission shallow-merges a successful hook's emitted object into the
// phase data when the hook runs in mutation mode. Non-object emissions and
// non-mutation hooks are recorded in the execution log only.
func (s *HookService) applyEmission(ctx context.Context, hook *schema.LifecycleHook, res *sandbox.Result, working map[string]any) {
	if !hook.MutationMode || !res.EmittedSet {
		return
	}
	emitted, ok := res.Emitted.(map[string]any)
	if !ok {
		s.logger.DebugContext(ctx, "hook emission is not an object; skipping merge",
			slog.String("hook_id", hook.ID))
		return
	}
	if len(hook.OutputKeys) == 0 {
		for k, v := range emitted {
			working[k] = v
		}
		return
	}
	for _, key := range hook.OutputKeys {
		if v, ok := emitted[key]; ok {
			working[key] = v
		}
	}
}
