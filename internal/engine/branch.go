package engine

import (
	"context"
	"encoding/json"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// branchConfig routes between sections based on a condition.
//
// Deprecated: section routing belongs to the run orchestrator. The handler
// still evaluates the condition for stored configurations and records the
// chosen target under _branchTarget, but performs no navigation itself.
type branchConfig struct {
	Condition       *schema.ConditionExpression `json:"condition"`
	TargetSectionID string                      `json:"targetSectionId"`
	ElseSectionID   string                      `json:"elseSectionId,omitempty"`
}

type branchHandler struct {
	runner *Runner
}

func (h *branchHandler) Type() schema.BlockType { return schema.BlockTypeBranch }

func (h *branchHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg branchConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed branch config").WithCause(err)
	}

	h.runner.logger.WarnContext(ctx, "deprecated branch block executed",
		"block_id", block.ID)

	target := cfg.ElseSectionID
	if h.runner.eval.Evaluate(cfg.Condition, rc.vars) {
		target = cfg.TargetSectionID
	}
	if target == "" {
		return &BlockOutput{}, nil
	}
	return &BlockOutput{Vars: map[string]any{"_branchTarget": target}}, nil
}
