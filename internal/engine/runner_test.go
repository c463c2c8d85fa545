package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultlogic/pulse/internal/conditions"
	"github.com/vaultlogic/pulse/internal/connector"
	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/internal/store"
	"github.com/vaultlogic/pulse/internal/validation"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// slowExecutor blocks until the deadline fires. Registered under a real
// language name so configurations pass schema validation.
type slowExecutor struct {
	lang string
}

func (e *slowExecutor) Language() string { return e.lang }

func (e *slowExecutor) Run(ctx context.Context, _ string, _ map[string]any, _ *sandbox.Sink) error {
	<-ctx.Done()
	return ctx.Err()
}

type testEnv struct {
	store  *store.MemoryStore
	conn   *connector.MemoryConnector
	runner *Runner
	hooks  *HookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := sandbox.NewRegistry(logger)
	require.NoError(t, registry.Register(sandbox.NewExprExecutor()))
	require.NoError(t, registry.Register(sandbox.NewJQExecutor()))
	require.NoError(t, registry.Register(&slowExecutor{lang: schema.ScriptLanguageCEL}))

	validator, err := validation.NewConfigValidator()
	require.NoError(t, err)

	st := store.NewMemoryStore()
	conn := connector.NewMemoryConnector()
	eval := conditions.New(logger)

	return &testEnv{
		store:  st,
		conn:   conn,
		runner: NewRunner(st, registry, eval, conn, validator, nil, logger),
		hooks:  NewHookService(st, registry, validator, logger),
	}
}

func (e *testEnv) createRun(t *testing.T, id string, values map[string]any) {
	t.Helper()
	err := e.store.CreateRun(context.Background(), &schema.Run{
		ID:         id,
		WorkflowID: "wf-1",
		Values:     values,
	})
	require.NoError(t, err)
}

func (e *testEnv) putBlock(t *testing.T, id string, order int, blockType schema.BlockType, phase schema.Phase, config string) {
	t.Helper()
	err := e.store.PutBlock(context.Background(), &schema.Block{
		ID:         id,
		WorkflowID: "wf-1",
		Type:       blockType,
		Phase:      phase,
		Config:     json.RawMessage(config),
		Enabled:    true,
		Order:      order,
	})
	require.NoError(t, err)
}

func errorCodes(errs []*schema.EngineError) []string {
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, string(e.Code))
	}
	return codes
}

func TestRunPhaseRejectsUnknownPhase(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)

	_, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", "beforePage", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.EngineError).Code)
}

func TestRunPhaseRejectsUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.runner.RunPhase(context.Background(), "wf-1", "ghost", schema.PhaseRunStart, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.EngineError).Code)
}

func TestRunPhaseRejectsWorkflowMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)

	_, err := env.runner.RunPhase(context.Background(), "other-wf", "run-1", schema.PhaseRunStart, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.EngineError).Code)
}

func TestRunPhaseSealedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateRun(ctx, &schema.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Completed:  true,
		Values:     map[string]any{"kept": 1},
	}))
	env.putBlock(t, "b1", 0, schema.BlockTypePrefill, schema.PhaseRunStart, `{"values": {"x": 1}}`)

	result, err := env.runner.RunPhase(ctx, "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeSealed, result.Errors[0].Code)

	// No block ran and nothing was written.
	run, err := env.store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.NotContains(t, run.Values, "x")
	entries, err := env.store.ListExecutions(ctx, "run-1", store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunPhaseOrderingAndProgressiveMerge(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	// Insertion order deliberately scrambled; execution must follow
	// (order asc, id asc): z, a, b.
	env.putBlock(t, "b", 1, schema.BlockTypeJS, schema.PhaseSectionSubmit,
		`{"language": "expr", "code": "a_out * 10", "inputKeys": ["a_out"], "outputKey": "b_out"}`)
	env.putBlock(t, "z", 0, schema.BlockTypePrefill, schema.PhaseSectionSubmit, `{"values": {"base": 1}}`)
	env.putBlock(t, "a", 1, schema.BlockTypeJS, schema.PhaseSectionSubmit,
		`{"language": "expr", "code": "base + 1", "inputKeys": ["base"], "outputKey": "a_out"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseSectionSubmit, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Equal(t, float64(2), result.Data["a_out"])
	assert.Equal(t, float64(20), result.Data["b_out"])

	entries, err := env.store.ListExecutions(context.Background(), "run-1", store.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "z", entries[0].SubjectID)
	assert.Equal(t, "a", entries[1].SubjectID)
	assert.Equal(t, "b", entries[2].SubjectID)
}

func TestRunPhaseSkipsDisabledBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	require.NoError(t, env.store.PutBlock(context.Background(), &schema.Block{
		ID:         "off",
		WorkflowID: "wf-1",
		Type:       schema.BlockTypePrefill,
		Phase:      schema.PhaseRunStart,
		Config:     json.RawMessage(`{"values": {"x": 1}}`),
		Enabled:    false,
	}))

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Data, "x")
}

func TestRunPhaseConditionGatesBlock(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"mode": "draft"})
	env.putBlock(t, "gated", 0, schema.BlockTypePrefill, schema.PhaseRunStart,
		`{"condition": {"fieldPath": "mode", "op": "equals", "value": "final"}, "values": {"x": 1}}`)
	env.putBlock(t, "open", 1, schema.BlockTypePrefill, schema.PhaseRunStart,
		`{"condition": {"fieldPath": "mode", "op": "equals", "value": "draft"}, "values": {"y": 2}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.NotContains(t, result.Data, "x")
	assert.Equal(t, float64(2), result.Data["y"])

	// Skipped blocks leave no execution log entry.
	entries, err := env.store.ListExecutions(context.Background(), "run-1", store.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "open", entries[0].SubjectID)
}

func TestRunPhaseFailureDoesNotStopSiblings(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "broken", 0, schema.BlockTypeJS, schema.PhaseRunStart,
		`{"language": "expr", "code": "1 +", "outputKey": "never"}`)
	env.putBlock(t, "fine", 1, schema.BlockTypePrefill, schema.PhaseRunStart, `{"values": {"x": 1}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	// Non-required failures are collected but do not flip the flag.
	assert.True(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeExecution, result.Errors[0].Code)
	assert.Equal(t, "broken", result.Errors[0].SubjectID)
	assert.NotContains(t, result.Data, "never")
	assert.Equal(t, float64(1), result.Data["x"])
}

func TestRunPhaseRequiredBlockFlipsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "send", 0, schema.BlockTypeExternalSend, schema.PhaseRunComplete,
		`{"url": "`+srv.URL+`", "required": true}`)
	env.putBlock(t, "after", 1, schema.BlockTypePrefill, schema.PhaseRunComplete, `{"values": {"x": 1}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunComplete, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeConnector, result.Errors[0].Code)
	// Siblings still run after a required failure.
	assert.Equal(t, float64(1), result.Data["x"])
}

func TestRunPhaseInvalidConfigIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "bad", 0, schema.BlockTypeQuery, schema.PhaseRunStart, `{"outputVar": "rows"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeValidation, result.Errors[0].Code)
	assert.Equal(t, "bad", result.Errors[0].SubjectID)
}

func TestRunPhaseUnknownBlockType(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "odd", 0, "teleport", schema.PhaseRunStart, `{}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{string(schema.ErrCodeValidation)}, errorCodes(result.Errors))
}

func TestRunPhaseLegacyAliasResolves(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.conn.SeedTable("contacts", []map[string]any{{"id": "1", "name": "Alice"}})
	env.putBlock(t, "legacy", 0, "read_table", schema.PhaseRunStart,
		`{"tableId": "contacts", "outputVar": "people"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	list := schema.NormalizeList(result.Data["people"])
	assert.Equal(t, 1, list.Count)
}

func TestRunPhasePersistsMergedValues(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"kept": "old"})
	env.putBlock(t, "b1", 0, schema.BlockTypePrefill, schema.PhaseRunStart, `{"values": {"added": true}}`)

	_, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart,
		map[string]any{"seeded": 7})
	require.NoError(t, err)

	run, err := env.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "old", run.Values["kept"])
	assert.Equal(t, 7, run.Values["seeded"])
	assert.Equal(t, true, run.Values["added"])
}

func TestTransformBlockSuccessWritesStepValue(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"n": 4})
	env.putBlock(t, "calc", 0, schema.BlockTypeJS, schema.PhaseNext,
		`{"language": "expr", "code": "n * n", "inputKeys": ["n"], "outputKey": "squared"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseNext, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(16), result.Data["squared"])

	sv, err := env.store.GetStepValue(context.Background(), "run-1", "squared")
	require.NoError(t, err)
	assert.Equal(t, float64(16), sv.Value)
}

func TestTransformBlockErrorLeavesVariablesUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "boom", 0, schema.BlockTypeJS, schema.PhaseNext,
		`{"language": "jq", "code": "error(\"boom\")", "outputKey": "out"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseNext, nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Data, "out")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeExecution, result.Errors[0].Code)

	entries, err := env.store.ListExecutions(context.Background(), "run-1", store.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(sandbox.StatusError), entries[0].Status)
}

func TestTransformBlockTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	// The test registry's cel slot blocks until the deadline fires.
	env.putBlock(t, "slow", 0, schema.BlockTypeJS, schema.PhaseNext,
		`{"language": "cel", "code": "1 + 1", "outputKey": "out", "timeoutMs": 100}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseNext, nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Data, "out")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeTimeout, result.Errors[0].Code)

	entries, err := env.store.ListExecutions(context.Background(), "run-1", store.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(sandbox.StatusTimeout), entries[0].Status)
}

func TestPrefillFillsOnlyBlankKeys(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"name": "set", "empty": ""})
	env.putBlock(t, "p", 0, schema.BlockTypePrefill, schema.PhaseRunStart,
		`{"values": {"name": "new", "empty": "filled", "city": "LA"}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.Equal(t, "set", result.Data["name"])
	assert.Equal(t, "filled", result.Data["empty"])
	assert.Equal(t, "LA", result.Data["city"])
}

func TestPrefillOverwriteReplacesValues(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"name": "set"})
	env.putBlock(t, "p", 0, schema.BlockTypePrefill, schema.PhaseRunStart,
		`{"values": {"name": "new"}, "overwrite": true}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", result.Data["name"])
}

func TestPrefillComputedExpressions(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"first": "Ada", "last": "Lovelace"})
	env.putBlock(t, "p", 0, schema.BlockTypePrefill, schema.PhaseRunStart,
		`{"computed": {"full": "first + \" \" + last"}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunStart, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "Ada Lovelace", result.Data["full"])
}

func TestValidateBlockCollectsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"age": 10, "name": "Bo"})
	env.putBlock(t, "check", 0, schema.BlockTypeValidate, schema.PhaseSectionSubmit,
		`{"rules": [
			{"fieldPath": "age", "op": "greater_than_or_equal", "value": 18, "message": "must be an adult"},
			{"fieldPath": "name", "op": "is_not_empty"}
		]}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseSectionSubmit, nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	engErr := result.Errors[0]
	assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
	assert.Contains(t, engErr.Message, "must be an adult")
	failures, ok := engErr.Details["failures"].([]string)
	require.True(t, ok)
	assert.Len(t, failures, 1)
}

func TestQueryBlockFiltersAndWindows(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", nil)
	env.conn.SeedTable("contacts", []map[string]any{
		{"id": "1", "name": "Alice", "city": "NYC"},
		{"id": "2", "name": "Bob", "city": "LA"},
		{"id": "3", "name": "Charlie", "city": "NYC"},
		{"id": "4", "name": "Eve", "city": "NYC"},
	})
	env.putBlock(t, "q", 0, schema.BlockTypeQuery, schema.PhaseSectionEnter,
		`{"tableId": "contacts", "outputVar": "locals",
		  "filters": {"fieldPath": "city", "op": "equals", "value": "NYC"},
		  "limit": 2}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseSectionEnter, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	list := schema.NormalizeList(result.Data["locals"])
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "Alice", list.Rows[0]["name"])
	assert.Equal(t, "Charlie", list.Rows[1]["name"])
}

func TestWriteBlockUpsertsRows(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SeedTable("targets", []map[string]any{{"id": "1", "name": "old"}})
	env.createRun(t, "run-1", map[string]any{
		"outgoing": map[string]any{"rows": []any{
			map[string]any{"id": "1", "name": "updated"},
			map[string]any{"id": "2", "name": "fresh"},
		}},
	})
	env.putBlock(t, "w", 0, schema.BlockTypeWrite, schema.PhaseRunComplete,
		`{"tableId": "targets", "sourceListVar": "outgoing"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunComplete, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, result.Data["outgoing_written"])

	rows, err := env.conn.ReadRows(context.Background(), "targets", connector.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestWriteBlockMissingSourceIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SeedTable("targets", nil)
	env.createRun(t, "run-1", nil)
	env.putBlock(t, "w", 0, schema.BlockTypeWrite, schema.PhaseRunComplete,
		`{"tableId": "targets", "sourceListVar": "ghost"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunComplete, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.NotContains(t, result.Data, "ghost_written")
}

func TestExternalSendPostsSelectedVariables(t *testing.T) {
	var mu sync.Mutex
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &captured)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"a": 1, "secret": "hidden"})
	env.putBlock(t, "send", 0, schema.BlockTypeExternalSend, schema.PhaseRunComplete,
		`{"url": "`+srv.URL+`", "payloadVars": ["a", "missing"]}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseRunComplete, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, captured)
	assert.Equal(t, float64(1), captured["a"])
	val, ok := captured["missing"]
	assert.True(t, ok)
	assert.Nil(t, val)
	assert.NotContains(t, captured, "secret")
}

func TestListToolsBlockRunsPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{
		"people": map[string]any{"rows": []any{
			map[string]any{"id": "1", "name": "Alice", "age": float64(30)},
			map[string]any{"id": "2", "name": "Bob", "age": float64(25)},
		}},
	})
	env.putBlock(t, "lt", 0, schema.BlockTypeListTools, schema.PhaseSectionEnter,
		`{"sourceListVar": "people", "outputListVar": "sorted",
		  "sort": [{"fieldPath": "age"}],
		  "outputs": {"countVar": "people_count"}}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseSectionEnter, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	list := schema.NormalizeList(result.Data["sorted"])
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "Bob", list.Rows[0]["name"])
	assert.Equal(t, 2, result.Data["people_count"])
}

func TestBranchBlockRecordsTarget(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"score": 80})
	env.putBlock(t, "route", 0, schema.BlockTypeBranch, schema.PhaseNext,
		`{"condition": {"fieldPath": "score", "op": "greater_than", "value": 50},
		  "targetSectionId": "advanced", "elseSectionId": "basics"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseNext, nil)
	require.NoError(t, err)
	assert.Equal(t, "advanced", result.Data["_branchTarget"])
}

func TestBranchBlockFalseConditionTakesElse(t *testing.T) {
	env := newTestEnv(t)
	env.createRun(t, "run-1", map[string]any{"score": 20})
	// The condition selects the target; it must not gate the block itself.
	env.putBlock(t, "route", 0, schema.BlockTypeBranch, schema.PhaseNext,
		`{"condition": {"fieldPath": "score", "op": "greater_than", "value": 50},
		  "targetSectionId": "advanced", "elseSectionId": "basics"}`)

	result, err := env.runner.RunPhase(context.Background(), "wf-1", "run-1", schema.PhaseNext, nil)
	require.NoError(t, err)
	assert.Equal(t, "basics", result.Data["_branchTarget"])
}
