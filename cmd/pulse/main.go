// Command pulse loads a workflow bundle, executes block or hook phases for a
// run, and prints the phase result and execution log as JSON.
//
// Usage:
//
//	pulse -bundle wf.json -phase onRunStart [-data '{"k":"v"}']
//	pulse -bundle wf.json -phase beforePage -data '{"page":1}'
//	pulse -bundle wf.json -log          (print the run's execution log)
//	pulse -bundle wf.json -clear-log    (clear the run's execution log)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vaultlogic/pulse/internal/conditions"
	"github.com/vaultlogic/pulse/internal/connector"
	"github.com/vaultlogic/pulse/internal/engine"
	"github.com/vaultlogic/pulse/internal/logging"
	"github.com/vaultlogic/pulse/internal/sandbox"
	"github.com/vaultlogic/pulse/internal/store"
	"github.com/vaultlogic/pulse/internal/validation"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// bundle is the self-contained workflow description the CLI loads: a run,
// its configured blocks and hooks, and seed tables for the data connector.
type bundle struct {
	WorkflowID string                      `json:"workflow_id"`
	Run        *schema.Run                 `json:"run"`
	Blocks     []*schema.Block             `json:"blocks,omitempty"`
	Hooks      []*schema.LifecycleHook     `json:"hooks,omitempty"`
	Tables     map[string][]map[string]any `json:"tables,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pulse:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	bundlePath := flag.String("bundle", "", "path to workflow bundle JSON")
	phaseName := flag.String("phase", "", "trigger phase to execute")
	dataJSON := flag.String("data", "", "phase seed data as JSON object")
	dbPath := flag.String("db", "", "libSQL database path (default: in-memory)")
	showLog := flag.Bool("log", false, "print the run's execution log and exit")
	clearLog := flag.Bool("clear-log", false, "clear the run's execution log and exit")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if *bundlePath == "" {
		return fmt.Errorf("-bundle is required")
	}
	b, err := loadBundle(*bundlePath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seedStore(ctx, st, b); err != nil {
		return err
	}

	switch {
	case *showLog:
		entries, err := st.ListExecutions(ctx, b.Run.ID, store.ExecutionFilter{})
		if err != nil {
			return err
		}
		return printJSON(entries)
	case *clearLog:
		n, err := st.ClearExecutions(ctx, b.Run.ID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"cleared": n})
	}

	if *phaseName == "" {
		return fmt.Errorf("-phase is required")
	}
	phase := schema.Phase(*phaseName)
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", *phaseName)
	}

	var data map[string]any
	if *dataJSON != "" {
		if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
			return fmt.Errorf("parse -data: %w", err)
		}
	}

	dispatcher, err := buildDispatcher(st, b, cfg.PoolSize, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Shutdown()

	var result *engine.PhaseResult
	if phase.IsBlockPhase() {
		result, err = dispatcher.DispatchBlocks(ctx, b.WorkflowID, b.Run.ID, phase, data)
	} else {
		result, err = dispatcher.DispatchHooks(ctx, b.WorkflowID, b.Run.ID, phase, data)
	}
	if err != nil {
		return err
	}

	entries, _ := st.ListExecutions(ctx, b.Run.ID, store.ExecutionFilter{})
	return printJSON(map[string]any{
		"result":        result,
		"execution_log": entries,
	})
}

func buildDispatcher(st store.Store, b *bundle, poolSize int, logger *slog.Logger) (*engine.Dispatcher, error) {
	registry := sandbox.NewRegistry(logger)
	for _, exec := range []sandbox.Executor{
		sandbox.NewExprExecutor(),
		sandbox.NewJQExecutor(),
		sandbox.NewCELExecutor(),
	} {
		if err := registry.Register(exec); err != nil {
			return nil, err
		}
	}

	validator, err := validation.NewConfigValidator()
	if err != nil {
		return nil, err
	}

	conn := connector.NewMemoryConnector()
	for tableID, rows := range b.Tables {
		conn.SeedTable(tableID, rows)
	}

	eval := conditions.New(logger)
	runner := engine.NewRunner(st, registry, eval, conn, validator, nil, logger)
	hooks := engine.NewHookService(st, registry, validator, logger)
	return engine.NewDispatcher(runner, hooks, poolSize), nil
}

func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	if dbPath == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func seedStore(ctx context.Context, st store.Store, b *bundle) error {
	if b.Run == nil || b.Run.ID == "" {
		return fmt.Errorf("bundle has no run")
	}
	if err := st.CreateRun(ctx, b.Run); err != nil {
		// An existing run (persistent db) keeps its state.
		var engErr *schema.EngineError
		if !asConflict(err, &engErr) {
			return err
		}
	}
	for _, block := range b.Blocks {
		if block.WorkflowID == "" {
			block.WorkflowID = b.WorkflowID
		}
		if err := st.PutBlock(ctx, block); err != nil {
			return err
		}
	}
	for _, hook := range b.Hooks {
		if hook.WorkflowID == "" {
			hook.WorkflowID = b.WorkflowID
		}
		if err := st.PutHook(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}

func asConflict(err error, target **schema.EngineError) bool {
	if e, ok := err.(*schema.EngineError); ok && e.Code == schema.ErrCodeConflict {
		*target = e
		return true
	}
	return false
}

func loadBundle(path string) (*bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
