package engine

import (
	"context"
	"encoding/json"

	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// transformConfig is a sandboxed script with named inputs and exactly one
// output key. The output is written only on success; errors and timeouts
// leave the variable space untouched.
type transformConfig struct {
	schema.ScriptSpec
}

type transformHandler struct {
	runner *Runner
}

func (h *transformHandler) Type() schema.BlockType { return schema.BlockTypeJS }

func (h *transformHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg transformConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed transform config").WithCause(err)
	}
	if cfg.OutputKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform block requires outputKey")
	}

	// Missing inputs bind as null; the script sees them as undefined values.
	bindings := make(map[string]any, len(cfg.InputKeys))
	for _, key := range cfg.InputKeys {
		bindings[key] = rc.vars.Get(key)
	}

	res, err := h.runner.sandbox.Execute(ctx, &cfg.ScriptSpec, bindings)
	if err != nil {
		return nil, err
	}

	out := &BlockOutput{Console: res.ConsoleLogs}
	switch res.Status {
	case sandbox.StatusTimeout:
		return out, schema.NewError(schema.ErrCodeTimeout, res.Error)
	case sandbox.StatusError:
		return out, schema.NewError(schema.ErrCodeExecution, res.Error)
	}

	// Write through to the durable step-value store before the phase
	// returns. On failure the in-memory value is still applied.
	if storeErr := h.runner.store.UpsertStepValue(ctx, rc.run.ID, cfg.OutputKey, res.Emitted); storeErr != nil {
		rc.vars.Set(cfg.OutputKey, res.Emitted)
		return out, schema.NewErrorf(schema.ErrCodeStore,
			"persist step value %q failed: %s", cfg.OutputKey, storeErr.Error()).WithCause(storeErr)
	}

	out.Vars = map[string]any{cfg.OutputKey: res.Emitted}
	return out, nil
}
