// Package engine executes configured blocks and lifecycle hooks at their
// trigger phases. Within one phase, execution is strictly sequential in
// configured order; different runs execute concurrently through the
// dispatcher's per-run serialization.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultlogic/pulse/internal/conditions"
	"github.com/vaultlogic/pulse/internal/connector"
	"github.com/vaultlogic/pulse/internal/listops"
	"github.com/vaultlogic/pulse/internal/logging"
	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/internal/store"
	"github.com/vaultlogic/pulse/internal/validation"
	"github.com/vaultlogic/pulse/internal/variables"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// PhaseResult is the outcome of running all blocks or hooks for one phase.
// Per-item failures are collected in Errors and never abort the phase;
// Success reflects the surface's flag policy, not the absence of errors.
type PhaseResult struct {
	Success bool                  `json:"success"`
	Data    map[string]any        `json:"data,omitempty"`
	Errors  []*schema.EngineError `json:"errors,omitempty"`
}

// runContext is the per-phase working state threaded through block handlers.
type runContext struct {
	run  *schema.Run
	vars *variables.Store
}

// BlockOutput is what a handler hands back for the progressive merge. Console
// carries captured script output for the execution log.
type BlockOutput struct {
	Vars    map[string]any
	Console []string
}

// BlockHandler executes one block type.
type BlockHandler interface {
	Type() schema.BlockType
	Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error)
}

// Runner executes the blocks configured for a run phase.
type Runner struct {
	store     store.Store
	sandbox   *sandbox.Registry
	eval      *conditions.Evaluator
	pipeline  *listops.Pipeline
	connector connector.DataSourceConnector
	client    *http.Client
	validator *validation.ConfigValidator
	logger    *slog.Logger
	handlers  map[schema.BlockType]BlockHandler
}

// NewRunner wires a Runner with its block handlers. The http.Client is used
// by external_send blocks; pass nil to use a default with a 10s timeout.
func NewRunner(
	st store.Store,
	sb *sandbox.Registry,
	eval *conditions.Evaluator,
	conn connector.DataSourceConnector,
	validator *validation.ConfigValidator,
	client *http.Client,
	logger *slog.Logger,
) *Runner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:     st,
		sandbox:   sb,
		eval:      eval,
		pipeline:  listops.New(eval),
		connector: conn,
		client:    client,
		validator: validator,
		logger:    logger,
		handlers:  make(map[schema.BlockType]BlockHandler),
	}
	for _, h := range []BlockHandler{
		&prefillHandler{runner: r},
		&validateHandler{runner: r},
		&branchHandler{runner: r},
		&queryHandler{runner: r},
		&writeHandler{runner: r},
		&externalSendHandler{runner: r},
		&listToolsHandler{runner: r},
		&transformHandler{runner: r},
	} {
		r.handlers[h.Type()] = h
	}
	return r
}

// RunPhase executes every enabled block configured for (workflowID, phase) in
// (order, id) order against the run's variable space seeded with the caller's
// snapshot. Host-level failures (unknown run, unknown phase) return an error;
// everything below that is collected into the result.
func (r *Runner) RunPhase(ctx context.Context, workflowID, runID string, phase schema.Phase, seed map[string]any) (*PhaseResult, error) {
	if !phase.IsBlockPhase() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown block phase %q", phase)
	}

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.WorkflowID != workflowID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"run %q belongs to workflow %q, not %q", runID, run.WorkflowID, workflowID)
	}

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithPhase(ctx, string(phase))

	if run.Completed {
		return &PhaseResult{
			Success: false,
			Data:    run.Values,
			Errors: []*schema.EngineError{
				schema.NewErrorf(schema.ErrCodeSealed,
					"run %q is completed; script-driven writes are rejected", runID).WithSubject(runID),
			},
		}, nil
	}

	vars, err := variables.Seed(run.Values, seed)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "seed run variables").WithCause(err)
	}

	blocks, err := r.store.ListBlocks(ctx, workflowID, phase)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list blocks").WithCause(err)
	}

	rc := &runContext{run: run, vars: vars}
	result := &PhaseResult{Success: true}

	for _, block := range blocks {
		if !block.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors,
				schema.NewError(schema.ErrCodeExecution, "phase cancelled").WithCause(err))
			break
		}
		r.executeBlock(ctx, rc, block, result)
	}

	// Persist the merged variable space. A persistence failure is reported
	// but the in-memory result is still returned.
	if err := r.store.UpdateRun(ctx, runID, store.RunUpdate{Values: vars.GetAll()}); err != nil {
		result.Errors = append(result.Errors,
			schema.NewError(schema.ErrCodeStore, "persist run values").WithCause(err).WithSubject(runID))
	}

	result.Data = vars.GetAll()
	return result, nil
}

func (r *Runner) executeBlock(ctx context.Context, rc *runContext, block *schema.Block, result *PhaseResult) {
	ctx = logging.WithSubjectID(ctx, block.ID)
	blockType := block.Type.Normalize()

	handler, ok := r.handlers[blockType]
	if !ok {
		result.Errors = append(result.Errors,
			schema.NewErrorf(schema.ErrCodeValidation, "unknown block type %q", block.Type).WithSubject(block.ID))
		return
	}

	if err := r.validator.ValidateBlock(block); err != nil {
		result.Errors = append(result.Errors, asEngineError(err, block.ID))
		return
	}

	// A block-level condition gates execution; a skipped block is not an
	// error. Branch blocks are exempt: their condition selects the target
	// rather than gating the block.
	if blockType != schema.BlockTypeBranch {
		cond, err := blockCondition(block.Config)
		if err != nil {
			result.Errors = append(result.Errors,
				schema.NewError(schema.ErrCodeValidation, "malformed block condition").WithSubject(block.ID).WithCause(err))
			return
		}
		if cond != nil && !r.eval.Evaluate(cond, rc.vars) {
			r.logger.DebugContext(ctx, "block skipped by condition", slog.String("block_id", block.ID))
			return
		}
	}

	start := time.Now()
	out, err := handler.Execute(ctx, rc, block)
	durationMs := time.Since(start).Milliseconds()

	entry := &store.ExecutionLogEntry{
		RunID:      rc.run.ID,
		SubjectID:  block.ID,
		ScriptType: string(blockType),
		Status:     string(sandbox.StatusSuccess),
		DurationMs: durationMs,
	}
	if out != nil {
		entry.ConsoleOutput = out.Console
	}

	if err != nil {
		engErr := asEngineError(err, block.ID)
		entry.Status = string(sandbox.StatusError)
		if engErr.Code == schema.ErrCodeTimeout {
			entry.Status = string(sandbox.StatusTimeout)
		}
		entry.Error = engErr.Error()
		result.Errors = append(result.Errors, engErr)
		if isRequiredBlock(block.Config) {
			result.Success = false
		}
		r.logger.WarnContext(ctx, "block failed",
			slog.String("block_id", block.ID),
			slog.String("type", string(blockType)),
			slog.String("error", engErr.Error()))
	} else if out != nil && len(out.Vars) > 0 {
		rc.vars.Merge(out.Vars)
	}

	// Best effort: the execution log never blocks the phase.
	if appendErr := r.store.AppendExecution(ctx, entry); appendErr != nil {
		r.logger.WarnContext(ctx, "append execution log entry failed",
			slog.String("block_id", block.ID),
			slog.String("error", appendErr.Error()))
	}
}

// blockCondition peels the optional gating condition out of a block config.
func blockCondition(raw json.RawMessage) (*schema.ConditionExpression, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var envelope struct {
		Condition *schema.ConditionExpression `json:"condition"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Condition, nil
}

// isRequiredBlock reports whether the block config carries "required": true.
// Required block failures flip the phase result's success flag but still do
// not stop sibling blocks.
func isRequiredBlock(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var envelope struct {
		Required bool `json:"required"`
	}
	_ = json.Unmarshal(raw, &envelope)
	return envelope.Required
}

func asEngineError(err error, subject string) *schema.EngineError {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		if engErr.SubjectID == "" {
			return engErr.WithSubject(subject)
		}
		return engErr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithSubject(subject).WithCause(err)
}
