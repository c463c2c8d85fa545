package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// MemoryStore is an in-memory Store used by tests and ephemeral CLI sessions.
// It applies the same ordering and not-found semantics as the libSQL store.
type MemoryStore struct {
	mu         sync.RWMutex
	runs       map[string]*schema.Run
	blocks     map[string]*schema.Block
	hooks      map[string]*schema.LifecycleHook
	executions map[string][]*ExecutionLogEntry // keyed by run ID, append order
	stepValues map[string]map[string]*StepValue
	nextLogID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*schema.Run),
		blocks:     make(map[string]*schema.Block),
		hooks:      make(map[string]*schema.LifecycleHook),
		executions: make(map[string][]*ExecutionLogEntry),
		stepValues: make(map[string]map[string]*StepValue),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) CreateRun(_ context.Context, run *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	cp := cloneRun(run)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.runs[run.ID] = cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Values != nil {
		run.Values = cloneMap(update.Values)
	}
	if update.Progress != nil {
		run.Progress = *update.Progress
	}
	if update.Completed != nil {
		run.Completed = *update.Completed
	}
	if update.CurrentSectionID != nil {
		run.CurrentSectionID = *update.CurrentSectionID
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return storeNotFound("run", id)
	}
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) PutBlock(_ context.Context, block *schema.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *block
	cp.Config = append(json.RawMessage(nil), block.Config...)
	s.blocks[block.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBlocks(_ context.Context, workflowID string, phase schema.Phase) ([]*schema.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var blocks []*schema.Block
	for _, b := range s.blocks {
		if b.WorkflowID != workflowID || b.Phase != phase {
			continue
		}
		cp := *b
		cp.Type = cp.Type.Normalize()
		cp.Config = append(json.RawMessage(nil), b.Config...)
		blocks = append(blocks, &cp)
	}
	schema.SortBlocks(blocks)
	return blocks, nil
}

func (s *MemoryStore) PutHook(_ context.Context, hook *schema.LifecycleHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hook
	s.hooks[hook.ID] = &cp
	return nil
}

func (s *MemoryStore) ListHooks(_ context.Context, workflowID string, phase schema.Phase) ([]*schema.LifecycleHook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hooks []*schema.LifecycleHook
	for _, h := range s.hooks {
		if h.WorkflowID != workflowID || h.Phase != phase {
			continue
		}
		cp := *h
		hooks = append(hooks, &cp)
	}
	schema.SortHooks(hooks)
	return hooks, nil
}

func (s *MemoryStore) AppendExecution(_ context.Context, entry *ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	cp := *entry
	cp.ID = s.nextLogID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.ConsoleOutput = append([]string(nil), entry.ConsoleOutput...)
	s.executions[entry.RunID] = append(s.executions[entry.RunID], &cp)
	entry.ID = cp.ID
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, runID string, filter ExecutionFilter) ([]*ExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*ExecutionLogEntry
	for _, e := range s.executions[runID] {
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ScriptType != "" && e.ScriptType != filter.ScriptType {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		cp := *e
		cp.ConsoleOutput = append([]string(nil), e.ConsoleOutput...)
		entries = append(entries, &cp)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	return entries, nil
}

func (s *MemoryStore) ClearExecutions(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.executions[runID]))
	delete(s.executions, runID)
	return n, nil
}

func (s *MemoryStore) UpsertStepValue(_ context.Context, runID, stepID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStep, ok := s.stepValues[runID]
	if !ok {
		byStep = make(map[string]*StepValue)
		s.stepValues[runID] = byStep
	}
	byStep[stepID] = &StepValue{
		RunID:     runID,
		StepID:    stepID,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetStepValue(_ context.Context, runID, stepID string) (*StepValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.stepValues[runID][stepID]
	if !ok {
		return nil, storeNotFound("step_value", runID+"/"+stepID)
	}
	cp := *sv
	return &cp, nil
}

func (s *MemoryStore) ListStepValues(_ context.Context, runID string) ([]*StepValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var values []*StepValue
	for _, sv := range s.stepValues[runID] {
		cp := *sv
		values = append(values, &cp)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].StepID < values[j].StepID })
	return values, nil
}

func cloneRun(run *schema.Run) *schema.Run {
	cp := *run
	cp.Metadata = cloneMap(run.Metadata)
	cp.Values = cloneMap(run.Values)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
