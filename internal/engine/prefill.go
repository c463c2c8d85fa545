package engine

import (
	"context"
	"encoding/json"

	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// prefillConfig declares values injected into the variable space: static
// literals and computed expressions (expr language) evaluated against the
// current variables. Unless overwrite is set, only unset or empty keys are
// filled.
type prefillConfig struct {
	Values    map[string]any    `json:"values,omitempty"`
	Computed  map[string]string `json:"computed,omitempty"`
	Overwrite bool              `json:"overwrite,omitempty"`
}

type prefillHandler struct {
	runner *Runner
}

func (h *prefillHandler) Type() schema.BlockType { return schema.BlockTypePrefill }

func (h *prefillHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg prefillConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed prefill config").WithCause(err)
	}

	out := &BlockOutput{Vars: make(map[string]any)}

	for key, value := range cfg.Values {
		if cfg.Overwrite || isBlank(rc.vars.Get(key)) {
			out.Vars[key] = value
		}
	}

	for key, code := range cfg.Computed {
		if !cfg.Overwrite && !isBlank(rc.vars.Get(key)) {
			continue
		}
		spec := &schema.ScriptSpec{
			Language: schema.ScriptLanguageExpr,
			Code:     code,
		}
		res, err := h.runner.sandbox.Execute(ctx, spec, rc.vars.GetAll())
		if err != nil {
			return out, err
		}
		if res.Status != sandbox.StatusSuccess {
			return out, schema.NewErrorf(schema.ErrCodeExecution,
				"computed prefill %q failed: %s", key, res.Error)
		}
		out.Vars[key] = res.Emitted
	}

	return out, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
