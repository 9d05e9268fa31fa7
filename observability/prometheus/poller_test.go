package prometheus

import (
	"context"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filebro/backend/core"
)

type fakeProvider struct {
	mu    sync.Mutex
	stats core.Stats
}

func (f *fakeProvider) Stats() core.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeProvider) set(stats core.Stats) {
	f.mu.Lock()
	f.stats = stats
	f.mu.Unlock()
}

func TestSnapshotPollerCollectsGauges(t *testing.T) {
	reg := prom.NewRegistry()
	p, err := NewSnapshotPoller(reg, time.Hour)
	require.NoError(t, err)

	provider := &fakeProvider{}
	provider.set(core.Stats{
		Running:         true,
		CoreWorkers:     2,
		OnDemandWorkers: 3,
		QueueDepth:      7,
		Tasks: map[core.Status]int{
			core.StatusRunning:   4,
			core.StatusCompleted: 11,
		},
	})
	p.AddPool("main", provider)

	p.collectOnce()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.poolRunning.WithLabelValues("main")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.poolCoreWorkers.WithLabelValues("main")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.poolOnDemand.WithLabelValues("main")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.poolQueueDepth.WithLabelValues("main")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.tasksByStatus.WithLabelValues("main", "running")))
	assert.Equal(t, 11.0, testutil.ToFloat64(p.tasksByStatus.WithLabelValues("main", "completed")))

	provider.set(core.Stats{Running: false, QueueDepth: 0})
	p.collectOnce()

	assert.Equal(t, 0.0, testutil.ToFloat64(p.poolRunning.WithLabelValues("main")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.poolQueueDepth.WithLabelValues("main")))
}

func TestSnapshotPollerIgnoresNilAndNamelessProviders(t *testing.T) {
	p, err := NewSnapshotPoller(prom.NewRegistry(), time.Hour)
	require.NoError(t, err)

	p.AddPool("ghost", nil)
	p.poolsMu.RLock()
	assert.Empty(t, p.pools)
	p.poolsMu.RUnlock()

	p.AddPool("", &fakeProvider{})
	p.poolsMu.RLock()
	assert.Contains(t, p.pools, "pool")
	p.poolsMu.RUnlock()
}

func TestSnapshotPollerRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prom.NewRegistry()

	first, err := NewSnapshotPoller(reg, time.Hour)
	require.NoError(t, err)
	second, err := NewSnapshotPoller(reg, time.Hour)
	require.NoError(t, err)

	// Both pollers share the same underlying gauge vectors.
	assert.Same(t, first.poolRunning, second.poolRunning)
}

func TestSnapshotPollerStartStopLifecycle(t *testing.T) {
	p, err := NewSnapshotPoller(prom.NewRegistry(), 10*time.Millisecond)
	require.NoError(t, err)

	provider := &fakeProvider{}
	provider.set(core.Stats{Running: true, QueueDepth: 5})
	p.AddPool("main", provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Start(ctx) // no-op

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(p.poolQueueDepth.WithLabelValues("main")) == 5.0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(p.poolQueueDepth.WithLabelValues("main")))

	p.Stop()
	p.Stop()
}
