// Package prometheus exports worker-pool and task snapshots as Prometheus
// gauges, polled on a fixed interval.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/filebro/backend/core"
)

// PoolSnapshotProvider provides point-in-time pool statistics.
type PoolSnapshotProvider interface {
	Stats() core.Stats
}

// SnapshotPoller periodically copies Stats() snapshots into gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	poolRunning     *prom.GaugeVec
	poolCoreWorkers *prom.GaugeVec
	poolOnDemand    *prom.GaugeVec
	poolQueueDepth  *prom.GaugeVec
	tasksByStatus   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "filebro",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool"})
	poolCoreWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "filebro",
		Name:      "pool_core_workers",
		Help:      "Live core workers per pool.",
	}, []string{"pool"})
	poolOnDemand := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "filebro",
		Name:      "pool_on_demand_workers",
		Help:      "Live on-demand workers per pool.",
	}, []string{"pool"})
	poolQueueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "filebro",
		Name:      "pool_queue_depth",
		Help:      "Task backlog depth per pool.",
	}, []string{"pool"})
	tasksByStatus := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "filebro",
		Name:      "tasks",
		Help:      "Tracked tasks per pool and status.",
	}, []string{"pool", "status"})

	var err error
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}
	if poolCoreWorkers, err = registerCollector(reg, poolCoreWorkers); err != nil {
		return nil, err
	}
	if poolOnDemand, err = registerCollector(reg, poolOnDemand); err != nil {
		return nil, err
	}
	if poolQueueDepth, err = registerCollector(reg, poolQueueDepth); err != nil {
		return nil, err
	}
	if tasksByStatus, err = registerCollector(reg, tasksByStatus); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:        interval,
		pools:           make(map[string]PoolSnapshotProvider),
		poolRunning:     poolRunning,
		poolCoreWorkers: poolCoreWorkers,
		poolOnDemand:    poolOnDemand,
		poolQueueDepth:  poolQueueDepth,
		tasksByStatus:   tasksByStatus,
	}, nil
}

// AddPool adds or replaces a snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if provider == nil {
		return
	}
	if name == "" {
		name = "pool"
	}
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		if stats.Running {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
		p.poolCoreWorkers.WithLabelValues(name).Set(float64(stats.CoreWorkers))
		p.poolOnDemand.WithLabelValues(name).Set(float64(stats.OnDemandWorkers))
		p.poolQueueDepth.WithLabelValues(name).Set(float64(stats.QueueDepth))
		for status, count := range stats.Tasks {
			p.tasksByStatus.WithLabelValues(name, string(status)).Set(float64(count))
		}
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
