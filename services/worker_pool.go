// Package services wires the review workflow to shared infrastructure:
// sessions, the learning submission queue, the ticker search cache and
// health checks.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/logger"
	"go.uber.org/zap"
)

// jobTimeout bounds a single background job.
const jobTimeout = 30 * time.Second

// Job is a unit of background work.
type Job struct {
	// Name is used in logs only
	Name    string
	Execute func(ctx context.Context) error
}

// WorkerPool runs fire-and-forget jobs on a fixed number of workers fed by a
// bounded queue. Jobs submitted to a full queue are dropped.
type WorkerPool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.SugaredLogger
	metrics *workerPoolMetrics
	cfg     config.WorkerPoolConfig

	mu      sync.RWMutex
	running bool
	stopped bool
}

type workerPoolMetrics struct {
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	jobs          *prometheus.CounterVec
	jobDuration   prometheus.Histogram
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	wpMetricsInstance *workerPoolMetrics
	wpMetricsOnce     sync.Once
	wpDefaultRegistry = prometheus.DefaultRegisterer
)

func newWorkerPoolMetrics() *workerPoolMetrics {
	wpMetricsOnce.Do(func() {
		wpMetricsInstance = &workerPoolMetrics{
			queueDepth: promauto.With(wpDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "learning_worker_pool_queue_depth",
				Help: "Jobs waiting in the learning queue",
			}),
			activeWorkers: promauto.With(wpDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "learning_worker_pool_active_workers",
				Help: "Workers currently running a job",
			}),
			jobs: promauto.With(wpDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "learning_worker_pool_jobs_total",
				Help: "Learning jobs by outcome",
			}, []string{"outcome"}),
			jobDuration: promauto.With(wpDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "learning_worker_pool_job_duration_seconds",
				Help:    "Time taken to execute learning jobs",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}),
		}
	})
	return wpMetricsInstance
}

// resetWorkerPoolMetricsForTesting swaps in a fresh registry. Tests only.
func resetWorkerPoolMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	wpDefaultRegistry = reg
	wpMetricsInstance = nil
	wpMetricsOnce = sync.Once{}
	return reg
}

// NewWorkerPool creates a pool. Start must be called before jobs run.
func NewWorkerPool(cfg config.WorkerPoolConfig) *WorkerPool {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:    make(chan Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.GetLogger().Named("learning-pool"),
		metrics: newWorkerPoolMetrics(),
		cfg:     cfg,
	}
}

// Start launches the workers. Repeated calls are no-ops.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running || wp.stopped {
		return
	}
	wp.running = true
	wp.log.Infow("Starting learning worker pool", "maxWorkers", wp.cfg.MaxWorkers, "queueSize", wp.cfg.QueueSize)

	for i := 0; i < wp.cfg.MaxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.run(id, job)
	}
}

func (wp *WorkerPool) run(workerID int, job Job) {
	wp.metrics.queueDepth.Dec()
	wp.metrics.activeWorkers.Inc()
	defer wp.metrics.activeWorkers.Dec()

	start := time.Now()
	ctx, cancel := context.WithTimeout(wp.ctx, jobTimeout)
	defer cancel()

	err := job.Execute(ctx)
	wp.metrics.jobDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		wp.metrics.jobs.WithLabelValues("error").Inc()
		wp.log.Warnw("Learning job failed", "job", job.Name, "workerId", workerID, "error", err, "duration", time.Since(start))
		return
	}
	wp.metrics.jobs.WithLabelValues("success").Inc()
	wp.log.Debugw("Learning job completed", "job", job.Name, "workerId", workerID, "duration", time.Since(start))
}

// Submit queues a job without blocking. It reports false when the job was
// dropped because the queue is full or the pool has shut down.
func (wp *WorkerPool) Submit(job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		wp.metrics.jobs.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case wp.jobs <- job:
		wp.metrics.queueDepth.Inc()
		return true
	default:
		wp.metrics.jobs.WithLabelValues("dropped").Inc()
		wp.log.Warnw("Learning job dropped, queue full", "job", job.Name, "queueSize", wp.cfg.QueueSize)
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to drain. When ctx
// expires first, running jobs are cancelled and ctx.Err() is returned.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return nil
	}
	wp.stopped = true
	wasRunning := wp.running
	wp.running = false
	close(wp.jobs)
	wp.mu.Unlock()

	if !wasRunning {
		wp.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		wp.log.Info("Learning worker pool drained")
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.log.Warn("Learning worker pool shutdown timed out")
		return ctx.Err()
	}
}

// QueueDepth returns the number of queued jobs.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}
