package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// stubExecutor lets tests control back-end behavior directly.
type stubExecutor struct {
	language string
	run      func(ctx context.Context, code string, bindings map[string]any, sink *Sink) error
}

func (s *stubExecutor) Language() string { return s.language }
func (s *stubExecutor) Run(ctx context.Context, code string, bindings map[string]any, sink *Sink) error {
	return s.run(ctx, code, bindings, sink)
}

func newTestRegistry(t *testing.T, execs ...Executor) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for _, e := range execs {
		require.NoError(t, r.Register(e))
	}
	return r
}

func TestRegistryRejectsUnknownLanguage(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), &schema.ScriptSpec{Language: "lua", Code: "1"}, nil)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestRegistryRejectsDuplicateLanguage(t *testing.T) {
	r := newTestRegistry(t, &stubExecutor{language: "stub"})
	err := r.Register(&stubExecutor{language: "stub"})
	require.Error(t, err)
}

func TestRegistryTimeoutDiscardsPartialOutput(t *testing.T) {
	slow := &stubExecutor{
		language: "stub",
		run: func(ctx context.Context, _ string, _ map[string]any, sink *Sink) error {
			sink.Log("started")
			sink.Emit("partial")
			select {
			case <-time.After(2 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	r := newTestRegistry(t, slow)

	res, err := r.Execute(context.Background(),
		&schema.ScriptSpec{Language: "stub", Code: "slow", TimeoutMs: 100}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.False(t, res.EmittedSet)
	assert.Nil(t, res.Emitted)
	assert.Contains(t, res.Error, "timeout")
	assert.GreaterOrEqual(t, res.DurationMs, int64(100))
	// Console output captured before the deadline is kept.
	assert.Equal(t, []string{"started"}, res.ConsoleLogs)
}

func TestRegistryContainsPanics(t *testing.T) {
	boom := &stubExecutor{
		language: "stub",
		run: func(context.Context, string, map[string]any, *Sink) error {
			panic("kaboom")
		},
	}
	r := newTestRegistry(t, boom)

	res, err := r.Execute(context.Background(),
		&schema.ScriptSpec{Language: "stub", Code: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "script panic")
}

func TestRegistryNormalizesBindings(t *testing.T) {
	var seen map[string]any
	capture := &stubExecutor{
		language: "stub",
		run: func(_ context.Context, _ string, bindings map[string]any, sink *Sink) error {
			seen = bindings
			sink.Emit(true)
			return nil
		},
	}
	r := newTestRegistry(t, capture)

	list := schema.NewListVariable(
		[]map[string]any{{"id": "1", "name": "Alice"}},
		schema.ListMetadata{Source: "table", SourceID: "contacts"},
	)
	_, err := r.Execute(context.Background(),
		&schema.ScriptSpec{Language: "stub", Code: "x"},
		map[string]any{"people": list, "n": 3, "missing": nil})
	require.NoError(t, err)

	// Structs arrive as plain JSON maps, ints as float64, nils survive.
	people, ok := seen["people"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, people["count"])
	assert.Equal(t, float64(3), seen["n"])
	_, hasMissing := seen["missing"]
	assert.True(t, hasMissing)
	assert.Nil(t, seen["missing"])
}

func TestSinkLaterEmitsOverwrite(t *testing.T) {
	s := NewSink()
	s.Emit(1)
	s.Emit(2)
	v, ok := s.Emitted()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	s.EmitDefault(3) // explicit emission already made; no-op
	v, _ = s.Emitted()
	assert.Equal(t, 2, v)
}

func TestSinkLogStringifiesArgs(t *testing.T) {
	s := NewSink()
	s.Log("hi", 42, map[string]any{"a": 1}, nil)
	logs := s.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, `hi 42 {"a":1} null`, logs[0])
}

func TestHelperDates(t *testing.T) {
	ms := helperParseDate("2026-08-26T00:00:00Z")
	require.Greater(t, ms, int64(0))
	assert.Equal(t, "2026-08-26", helperFormatDate(ms, "2006-01-02"))
	assert.Equal(t, int64(-1), helperParseDate("not a date"))
	assert.Equal(t, "", helperFormatDate("junk", "2006-01-02"))
}
