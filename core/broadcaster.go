package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultBroadcastInterval = 100 * time.Millisecond

// Sink receives progress events. Sessions implement it; tests use fakes.
type Sink interface {
	ID() string
	SendProgress(ProgressUpdate) error
}

// Broadcaster drains the pool's progress events on a fixed cadence, applies
// them to the registry and fans them out, in emission order, to every
// attached sink. It is the single writer of the registry, so the registry
// needs no per-field locking.
type Broadcaster struct {
	pool     *Pool
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	sinksMu sync.Mutex
	sinks   map[string]Sink

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewBroadcaster(pool *Pool, registry *Registry, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = defaultBroadcastInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		pool:     pool,
		registry: registry,
		interval: interval,
		logger:   logger,
		sinks:    make(map[string]Sink),
	}
}

// Attach registers a sink for future events. Events drained while a sink was
// not attached are not replayed.
func (b *Broadcaster) Attach(s Sink) {
	b.sinksMu.Lock()
	b.sinks[s.ID()] = s
	b.sinksMu.Unlock()
}

// Detach removes a sink; unknown ids are ignored.
func (b *Broadcaster) Detach(id string) {
	b.sinksMu.Lock()
	delete(b.sinks, id)
	b.sinksMu.Unlock()
}

// Start begins the drain loop; repeated calls are no-ops.
func (b *Broadcaster) Start(ctx context.Context) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go b.loop(loopCtx)
}

// Stop halts the loop after one final flush; repeated calls are safe.
func (b *Broadcaster) Stop() {
	b.stateMu.Lock()
	if !b.running {
		b.stateMu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	b.stateMu.Unlock()

	cancel()
	<-done

	b.stateMu.Lock()
	b.running = false
	b.cancel = nil
	b.done = nil
	b.stateMu.Unlock()
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

// flush performs one broadcast cycle: drain, apply, fan out, then kick the
// pool's reaper and autoscaler.
func (b *Broadcaster) flush() {
	batch := b.drain()
	if len(batch) > 0 {
		for _, u := range batch {
			b.registry.Apply(u)
		}
		b.deliver(batch)
	}

	b.pool.Reap()
	b.pool.MaybeScale()
}

// drain empties the progress channel without blocking.
func (b *Broadcaster) drain() []ProgressUpdate {
	var batch []ProgressUpdate
	for {
		select {
		case u := <-b.pool.Updates():
			batch = append(batch, u)
		default:
			return batch
		}
	}
}

// deliver forwards the batch to every attached sink. The sink set is
// snapshotted under the lock; sends happen outside it so one slow client
// cannot stall membership changes. A failing sink is skipped for the rest of
// the batch and detached, without affecting delivery to the others.
func (b *Broadcaster) deliver(batch []ProgressUpdate) {
	b.sinksMu.Lock()
	targets := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		targets = append(targets, s)
	}
	b.sinksMu.Unlock()

	if len(targets) == 0 {
		return
	}

	dead := make(map[string]bool)
	for _, u := range batch {
		for _, s := range targets {
			if dead[s.ID()] {
				continue
			}
			if err := s.SendProgress(u); err != nil {
				b.logger.Warn("dropping unreachable session", "sessionID", s.ID(), "error", err)
				dead[s.ID()] = true
			}
		}
	}

	for id := range dead {
		b.Detach(id)
	}
}
