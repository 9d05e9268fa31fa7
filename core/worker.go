package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Tier distinguishes persistent core workers from single-shot on-demand ones.
type Tier string

const (
	TierCore     Tier = "core"
	TierOnDemand Tier = "on-demand"
)

// worker executes tasks pulled from the shared queue and emits progress
// events. Core workers loop until the queue closes; on-demand workers take at
// most one task and exit.
type worker struct {
	id        int
	tier      Tier
	queue     *taskQueue
	updates   chan<- ProgressUpdate
	logger    *slog.Logger
	spawnedAt time.Time

	// done is closed when the worker's loop returns; the pool reaps
	// on-demand workers by polling it.
	done chan struct{}
}

func newWorker(id int, tier Tier, queue *taskQueue, updates chan<- ProgressUpdate, logger *slog.Logger) *worker {
	return &worker{
		id:        id,
		tier:      tier,
		queue:     queue,
		updates:   updates,
		logger:    logger,
		spawnedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// run is the core-worker loop. It blocks on the queue between tasks and
// returns once the queue closes or ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		t, ok := w.queue.Get(ctx.Done())
		if !ok {
			return
		}
		w.execute(ctx, t)
	}
}

// runOnce is the on-demand variant: one task, then exit. If another worker
// drains the queue first the goroutine exits idle after maxIdle.
func (w *worker) runOnce(ctx context.Context, maxIdle time.Duration) {
	defer close(w.done)

	idle := time.NewTimer(maxIdle)
	defer idle.Stop()

	for {
		if t, ok := w.queue.Pop(); ok {
			w.execute(ctx, t)
			return
		}

		select {
		case <-w.queue.signal:
		case <-w.queue.done:
			return
		case <-ctx.Done():
			return
		case <-idle.C:
			w.logger.Debug("on-demand worker exiting idle", "workerID", w.id)
			return
		}
	}
}

// execute runs a single task: Running/0.0 first, then the handler, then
// exactly one terminal event. A panicking or failing handler is reported as
// Failed and never crashes the worker.
func (w *worker) execute(ctx context.Context, t *Task) {
	w.emit(ProgressUpdate{
		WorkerID:  w.id,
		TaskID:    t.ID,
		Status:    StatusRunning,
		Progress:  0.0,
		EmittedAt: time.Now(),
	})

	reporter := NewReporter(w.id, t.ID, w.updates)

	result, err := w.invoke(ctx, t, reporter)
	if err != nil {
		w.logger.Warn("task failed", "taskID", t.ID, "workerID", w.id, "error", err)
		w.emit(ProgressUpdate{
			WorkerID:  w.id,
			TaskID:    t.ID,
			Status:    StatusFailed,
			Progress:  reporter.Last(),
			Error:     err.Error(),
			EmittedAt: time.Now(),
		})
		return
	}

	w.emit(ProgressUpdate{
		WorkerID:  w.id,
		TaskID:    t.ID,
		Status:    StatusCompleted,
		Progress:  1.0,
		Result:    result,
		EmittedAt: time.Now(),
	})
}

func (w *worker) invoke(ctx context.Context, t *Task, reporter *Reporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.handler(ctx, t.Call, reporter)
}

func (w *worker) emit(u ProgressUpdate) {
	w.updates <- u
}
