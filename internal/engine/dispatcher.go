package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// ErrDispatcherShutdown is returned when a phase is submitted after Shutdown.
var ErrDispatcherShutdown = errors.New("dispatcher is shut down")

// DispatcherMetrics tracks phase dispatch counters.
type DispatcherMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Dispatcher runs phases concurrently across runs while serializing phases of
// the same run. Concurrency is bounded by a semaphore; a per-run mutex keeps
// two phases of one run from interleaving.
type Dispatcher struct {
	runner  *Runner
	hooks   *HookService
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics DispatcherMetrics

	mu       sync.Mutex
	runLocks map[string]*runLock
	closed   bool
	done     chan struct{}
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher creates a dispatcher with the given max concurrency.
func NewDispatcher(runner *Runner, hooks *HookService, size int) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		runner:   runner,
		hooks:    hooks,
		sem:      make(chan struct{}, size),
		runLocks: make(map[string]*runLock),
		done:     make(chan struct{}),
	}
}

// DispatchBlocks runs a block phase for one run, serialized against other
// phases of the same run. It blocks until the phase completes.
func (d *Dispatcher) DispatchBlocks(ctx context.Context, workflowID, runID string, phase schema.Phase, seed map[string]any) (*PhaseResult, error) {
	var result *PhaseResult
	err := d.withRun(ctx, runID, func(ctx context.Context) error {
		var phaseErr error
		result, phaseErr = d.runner.RunPhase(ctx, workflowID, runID, phase, seed)
		return phaseErr
	})
	return result, err
}

// DispatchHooks runs a hook phase for one run under the same serialization.
func (d *Dispatcher) DispatchHooks(ctx context.Context, workflowID, runID string, phase schema.Phase, data map[string]any) (*PhaseResult, error) {
	var result *PhaseResult
	err := d.withRun(ctx, runID, func(ctx context.Context) error {
		var phaseErr error
		result, phaseErr = d.hooks.ExecuteHooksForPhase(ctx, workflowID, runID, phase, data)
		return phaseErr
	})
	return result, err
}

// withRun acquires a concurrency slot and the run's lock, then executes fn.
func (d *Dispatcher) withRun(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherShutdown
	}
	d.mu.Unlock()

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherShutdown
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.sem
		return ErrDispatcherShutdown
	}
	d.wg.Add(1)
	lock := d.acquireRunLockLocked(runID)
	d.mu.Unlock()

	atomic.AddInt64(&d.metrics.Active, 1)
	defer func() {
		atomic.AddInt64(&d.metrics.Active, -1)
		d.mu.Lock()
		d.releaseRunLockLocked(runID, lock)
		d.mu.Unlock()
		<-d.sem
		d.wg.Done()
	}()

	lock.mu.Lock()
	defer lock.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		atomic.AddInt64(&d.metrics.Failed, 1)
	} else {
		atomic.AddInt64(&d.metrics.Completed, 1)
	}
	return err
}

func (d *Dispatcher) acquireRunLockLocked(runID string) *runLock {
	lock, ok := d.runLocks[runID]
	if !ok {
		lock = &runLock{}
		d.runLocks[runID] = lock
	}
	lock.refs++
	return lock
}

func (d *Dispatcher) releaseRunLockLocked(runID string, lock *runLock) {
	lock.refs--
	if lock.refs <= 0 {
		delete(d.runLocks, runID)
	}
}

// Shutdown prevents new dispatches and waits for in-flight phases.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
}

// Metrics returns a snapshot of the dispatch counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		Active:    atomic.LoadInt64(&d.metrics.Active),
		Completed: atomic.LoadInt64(&d.metrics.Completed),
		Failed:    atomic.LoadInt64(&d.metrics.Failed),
	}
}
