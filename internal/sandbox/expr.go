package sandbox

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// ExprExecutor runs expr-lang programs. Compiled programs are cached by
// source; per-execution state (bindings, helper closures, context) travels in
// the runtime environment, so a cached program is safe to share.
type ExprExecutor struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprExecutor() *ExprExecutor {
	return &ExprExecutor{
		cache: make(map[string]*vm.Program),
	}
}

func (e *ExprExecutor) Language() string {
	return schema.ScriptLanguageExpr
}

func (e *ExprExecutor) Run(ctx context.Context, code string, bindings map[string]any, sink *Sink) error {
	program, err := e.compile(code)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"expr compile failed: %s", err.Error()).WithCause(err)
	}

	env := e.buildEnv(ctx, bindings, sink)
	out, err := vm.Run(program, env)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed: %s", err.Error()).WithCause(err)
	}

	sink.EmitDefault(out)
	return nil
}

func (e *ExprExecutor) compile(code string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[code]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[code]; ok {
		return program, nil
	}

	program, err := expr.Compile(code,
		expr.AllowUndefinedVariables(),
		expr.WithContext("ctx"),
	)
	if err != nil {
		return nil, err
	}
	e.cache[code] = program
	return program, nil
}

func (e *ExprExecutor) buildEnv(ctx context.Context, bindings map[string]any, sink *Sink) map[string]any {
	env := make(map[string]any, len(bindings)+7)
	for k, v := range bindings {
		env[k] = v
	}
	env["ctx"] = ctx
	env["emit"] = func(v any) bool {
		sink.Emit(v)
		return true
	}
	env["log"] = func(args ...any) bool {
		sink.Log(args...)
		return true
	}
	env["nowMillis"] = helperNowMillis
	env["uuid"] = helperUUID
	env["formatDate"] = helperFormatDate
	env["parseDate"] = helperParseDate
	return env
}
