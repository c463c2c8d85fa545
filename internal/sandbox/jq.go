package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// JQExecutor runs jq programs with gojq. The bindings map is the program's
// root input (`.`), every value the program outputs is an emission with later
// outputs overwriting earlier ones, and the environment loader is blanked so
// scripts cannot read host environment variables. Parsed queries are cached;
// compilation happens per execution because the helper functions capture the
// execution's sink.
type JQExecutor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Query
}

func NewJQExecutor() *JQExecutor {
	return &JQExecutor{
		cache: make(map[string]*gojq.Query),
	}
}

func (e *JQExecutor) Language() string {
	return schema.ScriptLanguageJQ
}

func (e *JQExecutor) Run(ctx context.Context, code string, bindings map[string]any, sink *Sink) error {
	query, err := e.parse(code)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"jq parse failed: %s", err.Error()).WithCause(err)
	}

	compiled, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
		gojq.WithFunction("emit", 1, 1, func(_ any, args []any) any {
			sink.Emit(args[0])
			return args[0]
		}),
		// log/0 is jq's natural logarithm; log/1..3 are console capture.
		gojq.WithFunction("log", 1, 3, func(_ any, args []any) any {
			sink.Log(args...)
			return true
		}),
		gojq.WithFunction("nowMillis", 0, 0, func(_ any, _ []any) any {
			return helperNowMillis()
		}),
		gojq.WithFunction("uuid", 0, 0, func(_ any, _ []any) any {
			return helperUUID()
		}),
		gojq.WithFunction("formatDate", 2, 2, func(_ any, args []any) any {
			layout, _ := args[1].(string)
			return helperFormatDate(args[0], layout)
		}),
		gojq.WithFunction("parseDate", 1, 1, func(_ any, args []any) any {
			s, _ := args[0].(string)
			return helperParseDate(s)
		}),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"jq compile failed: %s", err.Error()).WithCause(err)
	}

	input := make(map[string]any, len(bindings))
	for k, v := range bindings {
		input[k] = v
	}

	iter := compiled.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.ExitCode() == 0 {
				break
			}
			return schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed: %s", err.Error()).WithCause(err)
		}
		sink.Emit(v)
	}
	return nil
}

func (e *JQExecutor) parse(code string) (*gojq.Query, error) {
	e.mu.RLock()
	query, ok := e.cache[code]
	e.mu.RUnlock()
	if ok {
		return query, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if query, ok := e.cache[code]; ok {
		return query, nil
	}

	query, err := gojq.Parse(code)
	if err != nil {
		return nil, err
	}
	e.cache[code] = query
	return query, nil
}
