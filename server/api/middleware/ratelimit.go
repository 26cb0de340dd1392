package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. Buckets idle for longer than ttl are dropped.
type RateLimiter struct {
	logger  logging.Logger
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client IP, in bursts of up to perMinute
func NewRateLimiter(logger logging.Logger, perMinute int, ttl time.Duration) *RateLimiter {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &RateLimiter{
		logger:  logger,
		limit:   rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:   perMinute,
		ttl:     ttl,
		entries: make(map[string]*limBucket),
	}
}

func (l *RateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entries[key]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
		l.entries[key] = b
	}
	b.lastSeen = now

	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.entries, k)
		}
	}
	return b.lim.Allow()
}

// Limit rejects requests beyond the client's budget with 429
func (l *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.allow(ip) {
			l.logger.Warn("Rate limit exceeded", "ip", ip, "path", c.FullPath())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
