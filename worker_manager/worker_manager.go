package worker_manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fornellas/slogxt/log"
)

type workerType struct {
	name  string
	fn    func(context.Context) error
	errCh chan error
}

// WorkerManager runs a group of named workers, each in its own goroutine. A worker returning does
// not stop the others: they all share one context, cancelled by Cancel.
type WorkerManager struct {
	mu         sync.Mutex
	workers    []*workerType
	cancelFunc context.CancelFunc
}

func NewWorkerManager() *WorkerManager {
	return &WorkerManager{}
}

// AddWorker registers a worker. It must be called before Start.
func (wm *WorkerManager) AddWorker(name string, fn func(context.Context) error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if wm.cancelFunc != nil {
		panic("bug: AddWorker called after Start")
	}
	wm.workers = append(wm.workers, &workerType{name: name, fn: fn})
}

// Start runs all workers. Panics are recovered and reported as the worker error.
func (wm *WorkerManager) Start(ctx context.Context) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	ctx, logger := log.MustWithGroup(ctx, "Worker Manager")
	ctx, wm.cancelFunc = context.WithCancel(ctx)
	logger.Debug("Starting workers")
	for _, worker := range wm.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, worker.name)
		worker.errCh = make(chan error, 1)
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					workerLogger.Error("Panic", "recovered", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("panic: %v", r)
				}
				workerLogger.Debug("Finished", "err", err)
				worker.errCh <- err
			}()
			workerLogger.Debug("Starting")
			err = worker.fn(workerCtx)
		}()
	}
}

// Cancel cancels the context shared by all workers.
func (wm *WorkerManager) Cancel() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if wm.cancelFunc != nil {
		wm.cancelFunc()
	}
}

// Wait blocks until every worker returned, or ctx is done, and returns each worker error by name.
// Workers still running when ctx is done are reported with the context error.
func (wm *WorkerManager) Wait(ctx context.Context) map[string]error {
	wm.mu.Lock()
	workers := wm.workers
	wm.mu.Unlock()

	logger := log.MustLogger(ctx).WithGroup("Worker Manager")
	logger.Debug("Waiting for all workers")
	errMap := map[string]error{}
	for _, worker := range workers {
		if worker.errCh == nil {
			continue
		}
		errMap[worker.name] = worker.wait(ctx)
	}
	logger.Debug("All workers returned")
	return errMap
}

// wait returns the worker error, leaving it in errCh for the next Wait. A worker which already
// returned is reported even when ctx is done.
func (w *workerType) wait(ctx context.Context) error {
	select {
	case err := <-w.errCh:
		w.errCh <- err
		return err
	default:
	}
	select {
	case err := <-w.errCh:
		w.errCh <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
