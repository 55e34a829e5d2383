package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

// SessionCounter reports session usage for health checks.
type SessionCounter interface {
	Count() int
	Capacity() int
}

// ServiceName identifies this service in health responses.
const ServiceName = "receipt-review"

type HealthService struct {
	redisClient *redis.Client
	sessions    SessionCounter
	pool        *WorkerPool
	version     string
	startTime   time.Time
	log         *zap.SugaredLogger
}

// NewHealthService creates the service. redisClient and pool may be nil.
func NewHealthService(redisClient *redis.Client, sessions SessionCounter, pool *WorkerPool, version string) *HealthService {
	return &HealthService{
		redisClient: redisClient,
		sessions:    sessions,
		pool:        pool,
		version:     version,
		startTime:   time.Now(),
		log:         logger.GetLogger(),
	}
}

func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := make(map[string]types.HealthComponent)
	overall := types.HealthStatusUp

	merge := func(name string, c types.HealthComponent) {
		components[name] = c
		switch {
		case c.Status == types.HealthStatusDown:
			overall = types.HealthStatusDown
		case c.Status == types.HealthStatusDegraded && overall != types.HealthStatusDown:
			overall = types.HealthStatusDegraded
		}
	}

	if h.redisClient != nil {
		merge(types.ComponentRedis, h.checkRedis(ctx))
	}
	if h.sessions != nil {
		merge(types.ComponentSessions, h.checkSessions())
	}
	if h.pool != nil {
		merge(types.ComponentLearningQueue, h.checkPool())
	}

	return types.HealthCheck{
		Service:    ServiceName,
		Status:     overall,
		Components: components,
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
}

// IsReady reports whether the service can take review traffic.
func (h *HealthService) IsReady(ctx context.Context) bool {
	return h.CheckHealth(ctx).Status != types.HealthStatusDown
}

func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		h.log.Errorw("Redis health check failed", "error", err)
		// The in-process fallback still serves searches, only without sharing.
		return types.HealthComponent{Status: types.HealthStatusDegraded, Details: "Redis connection failed"}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}

func (h *HealthService) checkSessions() types.HealthComponent {
	count, capacity := h.sessions.Count(), h.sessions.Capacity()
	usage := &types.HealthUsage{InUse: count, Capacity: capacity}
	if capacity > 0 {
		if count >= capacity {
			return types.HealthComponent{Status: types.HealthStatusDown, Details: "Session limit reached", Usage: usage}
		}
		if float64(count)/float64(capacity) > 0.8 {
			return types.HealthComponent{Status: types.HealthStatusDegraded, Details: fmt.Sprintf("%d of %d sessions in use", count, capacity), Usage: usage}
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp, Usage: usage}
}

func (h *HealthService) checkPool() types.HealthComponent {
	if !h.pool.IsRunning() {
		return types.HealthComponent{Status: types.HealthStatusDegraded, Details: "Learning queue not running"}
	}
	usage := &types.HealthUsage{InUse: h.pool.QueueDepth(), Capacity: h.pool.cfg.QueueSize}
	if usage.Capacity > 0 && float64(usage.InUse)/float64(usage.Capacity) > 0.8 {
		return types.HealthComponent{Status: types.HealthStatusDegraded, Details: "Learning queue near capacity", Usage: usage}
	}
	return types.HealthComponent{Status: types.HealthStatusUp, Usage: usage}
}
