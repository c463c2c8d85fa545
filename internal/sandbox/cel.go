package sandbox

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// CELExecutor runs CEL programs. The environment is built per execution: the
// binding keys become dyn-typed variables and the helper functions capture the
// execution's sink, so nothing compiled can be shared across executions.
// Interrupt checks plus ContextEval honor the registry's deadline.
type CELExecutor struct{}

func NewCELExecutor() *CELExecutor {
	return &CELExecutor{}
}

func (e *CELExecutor) Language() string {
	return schema.ScriptLanguageCEL
}

func (e *CELExecutor) Run(ctx context.Context, code string, bindings map[string]any, sink *Sink) error {
	env, err := e.buildEnv(bindings, sink)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"cel environment failed: %s", err.Error()).WithCause(err)
	}

	ast, issues := env.Compile(code)
	if issues != nil && issues.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"cel compile failed: %s", issues.Err().Error()).WithCause(issues.Err())
	}

	program, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"cel program failed: %s", err.Error()).WithCause(err)
	}

	activation := make(map[string]any, len(bindings))
	for k, v := range bindings {
		activation[k] = v
	}

	out, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return schema.NewErrorf(schema.ErrCodeExecution,
			"cel evaluation failed: %s", err.Error()).WithCause(err)
	}

	sink.EmitDefault(celValueToNative(out))
	return nil
}

func (e *CELExecutor) buildEnv(bindings map[string]any, sink *Sink) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(bindings)+6)
	for k := range bindings {
		opts = append(opts, cel.Variable(k, cel.DynType))
	}

	opts = append(opts,
		cel.Function("emit",
			cel.Overload("emit_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					sink.Emit(celValueToNative(v))
					return types.Bool(true)
				}))),
		cel.Function("log",
			cel.Overload("log_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					sink.Log(celValueToNative(v))
					return types.Bool(true)
				}))),
		cel.Function("nowMillis",
			cel.Overload("now_millis", nil, cel.IntType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.Int(helperNowMillis())
				}))),
		cel.Function("uuid",
			cel.Overload("uuid_string", nil, cel.StringType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.String(helperUUID())
				}))),
		cel.Function("formatDate",
			cel.Overload("format_date_dyn_string", []*cel.Type{cel.DynType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(v, layout ref.Val) ref.Val {
					l, _ := layout.Value().(string)
					return types.String(helperFormatDate(celValueToNative(v), l))
				}))),
		cel.Function("parseDate",
			cel.Overload("parse_date_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, _ := v.Value().(string)
					return types.Int(helperParseDate(s))
				}))),
	)

	return cel.NewEnv(opts...)
}

// celValueToNative unwraps a CEL value into plain Go shapes. CEL maps and
// lists come back as ref.Val containers, so convert through JSON-compatible
// traversal rather than relying on Value() alone.
func celValueToNative(v ref.Val) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case types.Null:
		return nil
	}
	native := v.Value()
	switch n := native.(type) {
	case map[ref.Val]ref.Val:
		out := make(map[string]any, len(n))
		for key, val := range n {
			ks, _ := key.Value().(string)
			out[ks] = celValueToNative(val)
		}
		return out
	case []ref.Val:
		out := make([]any, 0, len(n))
		for _, item := range n {
			out = append(out, celValueToNative(item))
		}
		return out
	default:
		return native
	}
}
