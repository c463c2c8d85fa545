// Package store persists runs, block and hook configuration, step values, and
// the append-only execution log.
package store

import (
	"context"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// Store is the persistence interface for the engine. All errors surfaced to
// callers are persistence failures except NotFound, which carries
// schema.ErrCodeNotFound.
type Store interface {
	// Runs.
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	DeleteRun(ctx context.Context, id string) error

	// Block and hook configuration.
	PutBlock(ctx context.Context, block *schema.Block) error
	ListBlocks(ctx context.Context, workflowID string, phase schema.Phase) ([]*schema.Block, error)
	PutHook(ctx context.Context, hook *schema.LifecycleHook) error
	ListHooks(ctx context.Context, workflowID string, phase schema.Phase) ([]*schema.LifecycleHook, error)

	// Execution log: append-only per run, with list and clear.
	AppendExecution(ctx context.Context, entry *ExecutionLogEntry) error
	ListExecutions(ctx context.Context, runID string, filter ExecutionFilter) ([]*ExecutionLogEntry, error)
	ClearExecutions(ctx context.Context, runID string) (int64, error)

	// Durable step values.
	UpsertStepValue(ctx context.Context, runID, stepID string, value any) error
	GetStepValue(ctx context.Context, runID, stepID string) (*StepValue, error)
	ListStepValues(ctx context.Context, runID string) ([]*StepValue, error)

	Migrate(ctx context.Context) error
	Close() error
}
