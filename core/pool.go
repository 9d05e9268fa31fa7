package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Config sizes the worker pool.
type Config struct {
	// CoreWorkers is the number of persistent workers spawned at Start.
	CoreWorkers int

	// MaxWorkers caps core plus on-demand workers combined.
	MaxWorkers int

	// QueueThreshold is the backlog depth that triggers spawning one
	// on-demand worker, provided the MaxWorkers cap allows it.
	QueueThreshold int

	// ShutdownGrace bounds how long Shutdown waits for in-flight tasks
	// before cancelling the worker context.
	ShutdownGrace time.Duration

	// OnDemandIdle bounds how long a freshly spawned on-demand worker waits
	// for a task before exiting idle.
	OnDemandIdle time.Duration

	// UpdateBuffer is the capacity of the progress event channel.
	UpdateBuffer int
}

func (c Config) withDefaults() Config {
	if c.CoreWorkers < 1 {
		c.CoreWorkers = 2
	}
	if c.MaxWorkers < c.CoreWorkers+1 {
		c.MaxWorkers = max(runtime.NumCPU()*2, c.CoreWorkers+1)
	}
	if c.QueueThreshold < 1 {
		c.QueueThreshold = 3
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.OnDemandIdle <= 0 {
		c.OnDemandIdle = 500 * time.Millisecond
	}
	if c.UpdateBuffer < 1 {
		c.UpdateBuffer = 1024
	}
	return c
}

// Stats is a read-only snapshot of the pool.
type Stats struct {
	Running         bool           `json:"running"`
	CoreWorkers     int            `json:"core_workers"`
	OnDemandWorkers int            `json:"on_demand_workers"`
	QueueDepth      int            `json:"queue_depth"`
	Tasks           map[Status]int `json:"tasks"`
}

// Pool owns both worker tiers, the shared task queue and the progress event
// channel. It decides when to grow the on-demand tier and performs orderly
// shutdown.
type Pool struct {
	cfg      Config
	handlers *HandlerRegistry
	registry *Registry
	logger   *slog.Logger

	queue   *taskQueue
	updates chan ProgressUpdate

	mu           sync.Mutex
	running      bool
	stopped      bool
	nextWorkerID int
	coreWorkers  []*worker
	onDemand     map[int]*worker
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewPool(cfg Config, handlers *HandlerRegistry, registry *Registry, logger *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		handlers: handlers,
		registry: registry,
		logger:   logger,
		queue:    newTaskQueue(cfg.MaxWorkers),
		updates:  make(chan ProgressUpdate, cfg.UpdateBuffer),
		onDemand: make(map[int]*worker),
	}
}

// Start spawns the core worker tier. Calling it again is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < p.cfg.CoreWorkers; i++ {
		w := newWorker(p.nextID(), TierCore, p.queue, p.updates, p.logger)
		p.coreWorkers = append(p.coreWorkers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(p.ctx)
		}()
	}

	p.logger.Info("worker pool started",
		"coreWorkers", p.cfg.CoreWorkers,
		"maxWorkers", p.cfg.MaxWorkers,
		"queueThreshold", p.cfg.QueueThreshold)
}

// Submit registers a Pending record, enqueues the task and kicks the
// autoscaler. Task ids must be unique among non-terminal tasks.
func (p *Pool) Submit(taskID, function string, call Call) error {
	if taskID == "" {
		return fmt.Errorf("task id must not be empty")
	}

	p.mu.Lock()
	alive := p.running && !p.stopped
	p.mu.Unlock()
	if !alive {
		return ErrNotRunning
	}

	handler, ok := p.handlers.Resolve(function)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}

	t := &Task{
		ID:          taskID,
		Function:    function,
		Call:        call,
		SubmittedAt: time.Now(),
		handler:     handler,
	}
	if err := p.registry.Create(t); err != nil {
		return fmt.Errorf("submit %q: %w", taskID, err)
	}
	if !p.queue.Push(t) {
		return ErrNotRunning
	}

	p.MaybeScale()
	return nil
}

// Updates exposes the progress event stream consumed by the broadcaster.
func (p *Pool) Updates() <-chan ProgressUpdate {
	return p.updates
}

// MaybeScale spawns at most one on-demand worker when the backlog is at or
// above the threshold and the worker cap allows it. There is no hysteresis:
// bursts can fill the on-demand tier up to MaxWorkers, never beyond.
func (p *Pool) MaybeScale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stopped {
		return
	}
	p.reapLocked()

	if p.queue.Len() < p.cfg.QueueThreshold {
		return
	}
	if len(p.coreWorkers)+len(p.onDemand) >= p.cfg.MaxWorkers {
		return
	}

	w := newWorker(p.nextID(), TierOnDemand, p.queue, p.updates, p.logger)
	p.onDemand[w.id] = w
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.runOnce(p.ctx, p.cfg.OnDemandIdle)
	}()

	p.logger.Debug("spawned on-demand worker",
		"workerID", w.id,
		"queueDepth", p.queue.Len(),
		"onDemand", len(p.onDemand))
}

// Reap removes on-demand workers whose goroutine has exited.
func (p *Pool) Reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapLocked()
}

func (p *Pool) reapLocked() {
	for id, w := range p.onDemand {
		if w.exited() {
			delete(p.onDemand, id)
		}
	}
}

// Shutdown closes the queue (discarding not-yet-dequeued tasks), waits up to
// ShutdownGrace for in-flight tasks, then cancels the worker context and
// waits for the stragglers. Calling it again is a no-op.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	grace := p.cfg.ShutdownGrace
	p.mu.Unlock()

	p.queue.Close()

	if !p.waitWorkers(grace) {
		p.logger.Warn("shutdown grace exceeded, cancelling in-flight tasks", "grace", grace)
		p.cancel()
		p.waitWorkers(2 * time.Second)
	} else {
		p.cancel()
	}

	p.mu.Lock()
	p.running = false
	p.reapLocked()
	p.mu.Unlock()

	p.logger.Info("worker pool stopped")
}

// Stats returns a point-in-time snapshot; it has no side effects.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := 0
	for _, w := range p.onDemand {
		if !w.exited() {
			live++
		}
	}

	coreAlive := 0
	if p.running && !p.stopped {
		coreAlive = len(p.coreWorkers)
	}

	return Stats{
		Running:         p.running && !p.stopped,
		CoreWorkers:     coreAlive,
		OnDemandWorkers: live,
		QueueDepth:      p.queue.Len(),
		Tasks:           p.registry.CountByStatus(),
	}
}

func (p *Pool) waitWorkers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Pool) nextID() int {
	p.nextWorkerID++
	return p.nextWorkerID
}
