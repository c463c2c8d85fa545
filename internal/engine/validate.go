package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// validateConfig holds assertion rules checked against the variable space.
// Each rule is a condition leaf; the block fails when any rule is false.
type validateConfig struct {
	Rules []validateRule `json:"rules"`
}

type validateRule struct {
	FieldPath   string `json:"fieldPath"`
	Op          string `json:"op"`
	ValueSource string `json:"valueSource,omitempty"`
	Value       any    `json:"value,omitempty"`
	Message     string `json:"message,omitempty"`
}

type validateHandler struct {
	runner *Runner
}

func (h *validateHandler) Type() schema.BlockType { return schema.BlockTypeValidate }

func (h *validateHandler) Execute(_ context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg validateConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed validate config").WithCause(err)
	}

	var failures []string
	for i, rule := range cfg.Rules {
		leaf := &schema.ConditionExpression{
			FieldPath:   rule.FieldPath,
			Op:          rule.Op,
			ValueSource: rule.ValueSource,
			Value:       rule.Value,
		}
		if h.runner.eval.Evaluate(leaf, rc.vars) {
			continue
		}
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("rule %d: %s %s failed", i, rule.FieldPath, rule.Op)
		}
		failures = append(failures, msg)
	}

	if len(failures) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"validation failed: %s", strings.Join(failures, "; ")).
			WithDetails(map[string]any{"failures": failures})
	}
	return &BlockOutput{}, nil
}
