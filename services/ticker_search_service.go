package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

const tickerCacheKeyPrefix = "ticker-search:"

// tickerCache stores search results keyed by normalised query.
type tickerCache interface {
	get(ctx context.Context, key string) ([]types.TickerSuggestion, bool)
	set(ctx context.Context, key string, suggestions []types.TickerSuggestion)
}

type redisTickerCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func (c *redisTickerCache) get(ctx context.Context, key string) ([]types.TickerSuggestion, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			c.log.Warnw("Ticker cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var suggestions []types.TickerSuggestion
	if err := json.Unmarshal(raw, &suggestions); err != nil {
		c.log.Warnw("Discarding malformed ticker cache entry", "key", key, "error", err)
		return nil, false
	}
	return suggestions, true
}

func (c *redisTickerCache) set(ctx context.Context, key string, suggestions []types.TickerSuggestion) {
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warnw("Ticker cache write failed", "key", key, "error", err)
	}
}

type memoryTickerCache struct {
	cache *cache.Cache
}

func (c *memoryTickerCache) get(_ context.Context, key string) ([]types.TickerSuggestion, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	suggestions, ok := v.([]types.TickerSuggestion)
	return suggestions, ok
}

func (c *memoryTickerCache) set(_ context.Context, key string, suggestions []types.TickerSuggestion) {
	c.cache.SetDefault(key, suggestions)
}

type tickerCacheMetrics struct {
	lookups *prometheus.CounterVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	tcMetricsInstance *tickerCacheMetrics
	tcMetricsOnce     sync.Once
	tcDefaultRegistry = prometheus.DefaultRegisterer
)

func newTickerCacheMetrics() *tickerCacheMetrics {
	tcMetricsOnce.Do(func() {
		tcMetricsInstance = &tickerCacheMetrics{
			lookups: promauto.With(tcDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "ticker_search_cache_lookups_total",
				Help: "Ticker search cache lookups by result",
			}, []string{"result"}),
		}
	})
	return tcMetricsInstance
}

func resetTickerCacheMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	tcDefaultRegistry = reg
	tcMetricsInstance = nil
	tcMetricsOnce = sync.Once{}
	return reg
}

// TickerSearchService caches ticker search results across sessions. Results
// are shared in Redis when it is configured and kept in process otherwise.
type TickerSearchService struct {
	cache   tickerCache
	log     *zap.SugaredLogger
	metrics *tickerCacheMetrics
}

// NewTickerSearchService creates the service. A nil redisClient selects the
// in-process cache.
func NewTickerSearchService(redisClient *redis.Client, ttl time.Duration) *TickerSearchService {
	log := logger.GetLogger().Named("ticker-cache")
	var c tickerCache
	if redisClient != nil {
		c = &redisTickerCache{client: redisClient, ttl: ttl, log: log}
	} else {
		c = &memoryTickerCache{cache: cache.New(ttl, 2*ttl)}
	}
	return &TickerSearchService{cache: c, log: log, metrics: newTickerCacheMetrics()}
}

// Backend wraps next with the cache. Failed searches are not cached.
func (s *TickerSearchService) Backend(next suggest.Backend) suggest.Backend {
	return &cachedBackend{service: s, next: next}
}

type cachedBackend struct {
	service *TickerSearchService
	next    suggest.Backend
}

func (b *cachedBackend) SearchTicker(ctx context.Context, query string) ([]types.TickerSuggestion, error) {
	key := tickerCacheKey(query)
	if suggestions, ok := b.service.cache.get(ctx, key); ok {
		b.service.metrics.lookups.WithLabelValues("hit").Inc()
		return suggestions, nil
	}
	b.service.metrics.lookups.WithLabelValues("miss").Inc()

	suggestions, err := b.next.SearchTicker(ctx, query)
	if err != nil {
		return nil, err
	}
	b.service.cache.set(ctx, key, suggestions)
	return suggestions, nil
}

// tickerCacheKey folds case and whitespace so equivalent queries share an entry.
func tickerCacheKey(query string) string {
	return tickerCacheKeyPrefix + strings.ToLower(strings.Join(strings.Fields(query), " "))
}
