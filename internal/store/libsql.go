package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	metadata, err := marshalMapOrDefault(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	values, err := marshalMapOrDefault(run.Values)
	if err != nil {
		return fmt.Errorf("marshal run values: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, created_by, completed, current_section_id, progress, metadata, step_values, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, nullStr(run.CreatedBy), boolInt(run.Completed),
		nullStr(run.CurrentSectionID), run.Progress, string(metadata), string(values),
		timeOrNow(run.CreatedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		createdBy, sectionID   sql.NullString
		metadataJSON, valsJSON string
		completed              int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, created_by, completed, current_section_id, progress, metadata, step_values, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.WorkflowID, &createdBy, &completed, &sectionID,
		&run.Progress, &metadataJSON, &valsJSON, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.CreatedBy = createdBy.String
	run.CurrentSectionID = sectionID.String
	run.Completed = completed != 0
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &run.Metadata)
	}
	if valsJSON != "" {
		_ = json.Unmarshal([]byte(valsJSON), &run.Values)
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Values != nil {
		vals, err := json.Marshal(update.Values)
		if err != nil {
			return fmt.Errorf("marshal run values: %w", err)
		}
		sets = append(sets, "step_values = ?")
		args = append(args, string(vals))
	}
	if update.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *update.Progress)
	}
	if update.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, boolInt(*update.Completed))
	}
	if update.CurrentSectionID != nil {
		sets = append(sets, "current_section_id = ?")
		args = append(args, nullStr(*update.CurrentSectionID))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

// --- Blocks ---

func (s *LibSQLStore) PutBlock(ctx context.Context, block *schema.Block) error {
	config := "{}"
	if len(block.Config) > 0 {
		config = string(block.Config)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (id, workflow_id, section_id, type, phase, config, enabled, block_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, section_id=excluded.section_id, type=excluded.type,
		   phase=excluded.phase, config=excluded.config, enabled=excluded.enabled, block_order=excluded.block_order`,
		block.ID, block.WorkflowID, nullStr(block.SectionID), string(block.Type),
		string(block.Phase), config, boolInt(block.Enabled), block.Order,
	)
	return err
}

func (s *LibSQLStore) ListBlocks(ctx context.Context, workflowID string, phase schema.Phase) ([]*schema.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, section_id, type, phase, config, enabled, block_order
		 FROM blocks WHERE workflow_id = ? AND phase = ?
		 ORDER BY block_order ASC, id ASC`,
		workflowID, string(phase),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*schema.Block
	for rows.Next() {
		b := &schema.Block{}
		var sectionID sql.NullString
		var blockType, blockPhase, config string
		var enabled int
		if err := rows.Scan(&b.ID, &b.WorkflowID, &sectionID, &blockType, &blockPhase,
			&config, &enabled, &b.Order); err != nil {
			return nil, err
		}
		b.SectionID = sectionID.String
		b.Type = schema.BlockType(blockType).Normalize()
		b.Phase = schema.Phase(blockPhase)
		b.Config = json.RawMessage(config)
		b.Enabled = enabled != 0
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// --- Lifecycle Hooks ---

func (s *LibSQLStore) PutHook(ctx context.Context, hook *schema.LifecycleHook) error {
	inputKeys, err := json.Marshal(hook.InputKeys)
	if err != nil {
		return fmt.Errorf("marshal hook input keys: %w", err)
	}
	outputKeys, err := json.Marshal(hook.OutputKeys)
	if err != nil {
		return fmt.Errorf("marshal hook output keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lifecycle_hooks (id, workflow_id, name, phase, language, code, input_keys, output_keys, timeout_ms, mutation_mode, enabled, hook_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, name=excluded.name, phase=excluded.phase,
		   language=excluded.language, code=excluded.code, input_keys=excluded.input_keys,
		   output_keys=excluded.output_keys, timeout_ms=excluded.timeout_ms,
		   mutation_mode=excluded.mutation_mode, enabled=excluded.enabled, hook_order=excluded.hook_order`,
		hook.ID, hook.WorkflowID, nullStr(hook.Name), string(hook.Phase),
		hook.Language, hook.Code, string(inputKeys), string(outputKeys),
		hook.TimeoutMs, boolInt(hook.MutationMode), boolInt(hook.Enabled), hook.Order,
	)
	return err
}

func (s *LibSQLStore) ListHooks(ctx context.Context, workflowID string, phase schema.Phase) ([]*schema.LifecycleHook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, phase, language, code, input_keys, output_keys, timeout_ms, mutation_mode, enabled, hook_order
		 FROM lifecycle_hooks WHERE workflow_id = ? AND phase = ?
		 ORDER BY hook_order ASC, id ASC`,
		workflowID, string(phase),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []*schema.LifecycleHook
	for rows.Next() {
		h := &schema.LifecycleHook{}
		var name sql.NullString
		var hookPhase, inputKeys, outputKeys string
		var mutationMode, enabled int
		if err := rows.Scan(&h.ID, &h.WorkflowID, &name, &hookPhase, &h.Language, &h.Code,
			&inputKeys, &outputKeys, &h.TimeoutMs, &mutationMode, &enabled, &h.Order); err != nil {
			return nil, err
		}
		h.Name = name.String
		h.Phase = schema.Phase(hookPhase)
		_ = json.Unmarshal([]byte(inputKeys), &h.InputKeys)
		_ = json.Unmarshal([]byte(outputKeys), &h.OutputKeys)
		h.MutationMode = mutationMode != 0
		h.Enabled = enabled != 0
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

// --- Execution Log ---

func (s *LibSQLStore) AppendExecution(ctx context.Context, entry *ExecutionLogEntry) error {
	console, err := json.Marshal(entry.ConsoleOutput)
	if err != nil {
		return fmt.Errorf("marshal console output: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_log (run_id, subject_id, script_type, status, duration_ms, console_output, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.SubjectID, entry.ScriptType, entry.Status,
		entry.DurationMs, string(console), nullStr(entry.Error), timeOrNow(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, runID string, filter ExecutionFilter) ([]*ExecutionLogEntry, error) {
	where := []string{"run_id = ?"}
	args := []any{runID}

	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.ScriptType != "" {
		where = append(where, "script_type = ?")
		args = append(args, filter.ScriptType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT id, run_id, subject_id, script_type, status, duration_ms, console_output, error, created_at
	 FROM execution_log WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ExecutionLogEntry
	for rows.Next() {
		e := &ExecutionLogEntry{}
		var console string
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.SubjectID, &e.ScriptType, &e.Status,
			&e.DurationMs, &console, &errMsg, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(console), &e.ConsoleOutput)
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LibSQLStore) ClearExecutions(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_log WHERE run_id = ?`, runID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Step Values ---

func (s *LibSQLStore) UpsertStepValue(ctx context.Context, runID, stepID string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal step value: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_values (run_id, step_id, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		runID, stepID, string(raw),
	)
	return err
}

func (s *LibSQLStore) GetStepValue(ctx context.Context, runID, stepID string) (*StepValue, error) {
	sv := &StepValue{}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, step_id, value, updated_at FROM step_values WHERE run_id = ? AND step_id = ?`,
		runID, stepID,
	).Scan(&sv.RunID, &sv.StepID, &raw, &sv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step_value", runID+"/"+stepID)
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(raw), &sv.Value)
	return sv, nil
}

func (s *LibSQLStore) ListStepValues(ctx context.Context, runID string) ([]*StepValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, value, updated_at FROM step_values WHERE run_id = ? ORDER BY step_id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []*StepValue
	for rows.Next() {
		sv := &StepValue{}
		var raw string
		if err := rows.Scan(&sv.RunID, &sv.StepID, &raw, &sv.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(raw), &sv.Value)
		values = append(values, sv)
	}
	return values, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
