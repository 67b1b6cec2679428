package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter is a per-client token bucket. Comparisons are expensive (up to
// ten upstream detector calls each), so the default limits are low.
type RateLimiter struct {
	clients map[string]*clientBucket
	mutex   sync.Mutex
	rps     float64
	burst   float64
	logger  *zap.Logger
	cleanup *time.Ticker
	stopCh  chan struct{}
}

type clientBucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewRateLimiter(rps, burst int, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     float64(rps),
		burst:   float64(burst),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	rl.cleanup = time.NewTicker(5 * time.Minute)
	go rl.cleanupIdleClients()

	return rl
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !rl.allow(clientIP) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(clientIP string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	bucket, exists := rl.clients[clientIP]
	if !exists {
		bucket = &clientBucket{tokens: rl.burst, lastRefill: now}
		rl.clients[clientIP] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens = min(rl.burst, bucket.tokens+elapsed*rl.rps)
	bucket.lastRefill = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

func (rl *RateLimiter) cleanupIdleClients() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.mutex.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for ip, bucket := range rl.clients {
				if bucket.lastRefill.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mutex.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) Shutdown() {
	close(rl.stopCh)
	rl.cleanup.Stop()
}
