package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, workers, queue int) (*WorkerPool, *prometheus.Registry) {
	t.Helper()
	reg := resetWorkerPoolMetricsForTesting()
	pool := NewWorkerPool(config.WorkerPoolConfig{MaxWorkers: workers, QueueSize: queue, ShutdownTimeoutSeconds: 5})
	pool.Start()
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return pool, reg
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestWorkerPool_SubmitAndExecute(t *testing.T) {
	pool, reg := newTestPool(t, 2, 10)

	done := make(chan struct{})
	require.True(t, pool.Submit(Job{
		Name: "learning:T1",
		Execute: func(ctx context.Context) error {
			close(done)
			return nil
		},
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Eventually(t, func() bool {
		return gatherValue(t, reg, "learning_worker_pool_jobs_total", map[string]string{"outcome": "success"}) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	pool, _ := newTestPool(t, 2, 100)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Submit(Job{
			Name: "concurrent",
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				n := atomic.AddInt32(&current, 1)
				defer atomic.AddInt32(&current, -1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return nil
			},
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestWorkerPool_QueueFullDrops(t *testing.T) {
	pool, reg := newTestPool(t, 1, 1)

	started := make(chan struct{})
	blocker := make(chan struct{})
	defer close(blocker)
	require.True(t, pool.Submit(Job{Name: "blocker", Execute: func(ctx context.Context) error {
		close(started)
		<-blocker
		return nil
	}}))
	<-started

	noop := func(ctx context.Context) error { return nil }
	require.True(t, pool.Submit(Job{Name: "queued", Execute: noop}))
	assert.False(t, pool.Submit(Job{Name: "overflow", Execute: noop}))
	assert.Equal(t, 1, pool.QueueDepth())
	assert.Equal(t, 1.0, gatherValue(t, reg, "learning_worker_pool_jobs_total", map[string]string{"outcome": "dropped"}))
}

func TestWorkerPool_ErrorDoesNotStopWorker(t *testing.T) {
	pool, reg := newTestPool(t, 1, 10)

	done := make(chan struct{})
	pool.Submit(Job{Name: "failing", Execute: func(ctx context.Context) error { return assert.AnError }})
	pool.Submit(Job{Name: "next", Execute: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second job did not run")
	}
	assert.Eventually(t, func() bool {
		return gatherValue(t, reg, "learning_worker_pool_jobs_total", map[string]string{"outcome": "error"}) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	resetWorkerPoolMetricsForTesting()
	pool := NewWorkerPool(config.WorkerPoolConfig{MaxWorkers: 1, QueueSize: 10})
	pool.Start()

	var completed int32
	for i := 0; i < 3; i++ {
		pool.Submit(Job{Name: "slow", Execute: func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&completed))
	assert.False(t, pool.IsRunning())

	assert.False(t, pool.Submit(Job{Name: "late", Execute: func(ctx context.Context) error { return nil }}))
	require.NoError(t, pool.Shutdown(ctx), "second shutdown is a no-op")
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	resetWorkerPoolMetricsForTesting()
	pool := NewWorkerPool(config.WorkerPoolConfig{MaxWorkers: 1, QueueSize: 10})
	pool.Start()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	pool.Submit(Job{Name: "uncooperative", Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestWorkerPool_DoubleStart(t *testing.T) {
	pool, _ := newTestPool(t, 2, 10)
	pool.Start()
	assert.True(t, pool.IsRunning())
}
