package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/logger"
	"golang.org/x/time/rate"
)

// SessionCreateRateLimiter limits session creation per client IP to
// requestsPerWindow. With redis the limit is a fixed window shared by all
// replicas (INCR + EXPIRE); without it each process keeps a token bucket
// per IP. A redis failure lets the request through.
func SessionCreateRateLimiter(redisClient *redis.Client, requestsPerWindow int, window time.Duration) gin.HandlerFunc {
	if requestsPerWindow <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if redisClient == nil {
		return localRateLimiter(requestsPerWindow, window)
	}

	log := logger.GetLogger().Named("rate_limit")
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("ratelimit:sessions:%s", getClientIP(c))

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			log.Warnw("Rate limit check failed, allowing request", "error", err)
			c.Next()
			return
		}
		if count == 1 {
			if err := redisClient.Expire(ctx, key, window).Err(); err != nil {
				log.Warnw("Failed to set rate limit window", "key", key, "error", err)
			}
		}

		if count > int64(requestsPerWindow) {
			ttl, err := redisClient.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				ttl = window
			}
			rejectRateLimited(c, requestsPerWindow, ttl)
			return
		}

		remaining := requestsPerWindow - int(count)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerWindow))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(window).Unix()))
		c.Next()
	}
}

func localRateLimiter(requestsPerWindow int, window time.Duration) gin.HandlerFunc {
	limiters := cache.New(2*window, 4*window)
	every := window / time.Duration(requestsPerWindow)

	return func(c *gin.Context) {
		ip := getClientIP(c)
		var limiter *rate.Limiter
		if v, ok := limiters.Get(ip); ok {
			limiter = v.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(rate.Every(every), requestsPerWindow)
			if err := limiters.Add(ip, limiter, cache.DefaultExpiration); err != nil {
				// Another request for the same IP won the race.
				if v, ok := limiters.Get(ip); ok {
					limiter = v.(*rate.Limiter)
				}
			}
		}

		if !limiter.Allow() {
			rejectRateLimited(c, requestsPerWindow, every)
			return
		}
		limiters.SetDefault(ip, limiter)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerWindow))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, limit int, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(retryAfter).Unix()))
	c.Header("Retry-After", fmt.Sprintf("%d", seconds))
	_ = c.Error(errors.RateLimitExceeded("Too many sessions created. Please try again later.", seconds))
	c.Abort()
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func getClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}
