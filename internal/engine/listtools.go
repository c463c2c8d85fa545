package engine

import (
	"context"

	"github.com/vaultlogic/pulse/internal/listops"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// listToolsHandler runs the fixed list transformation pipeline. The pipeline
// writes its output list and auxiliary variables directly into the run's
// variable space.
type listToolsHandler struct {
	runner *Runner
}

func (h *listToolsHandler) Type() schema.BlockType { return schema.BlockTypeListTools }

func (h *listToolsHandler) Execute(_ context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	cfg, err := listops.ParseConfig(block.Config)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed list_tools config").WithCause(err)
	}
	h.runner.pipeline.Apply(cfg, rc.vars)
	return &BlockOutput{}, nil
}
