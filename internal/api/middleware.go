// internal/api/middleware.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/Lumina/internal/utils"
)

const requestIDKey = "request_id"

// DefaultLimiterSweep is how often expired rate-limit windows are dropped
const DefaultLimiterSweep = time.Hour

// RateLimiter counts requests per key in fixed windows
type RateLimiter struct {
	windows  map[string]*limitWindow
	mu       sync.Mutex
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type limitWindow struct {
	limit     int
	remaining int
	reset     time.Time
}

// NewRateLimiter starts a limiter whose sweeper runs until Stop
func NewRateLimiter(sweep time.Duration) *RateLimiter {
	if sweep <= 0 {
		sweep = DefaultLimiterSweep
	}
	rl := &RateLimiter{
		windows: make(map[string]*limitWindow),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go rl.sweep(sweep)
	return rl
}

// Stop ends the sweeper; the limiter keeps counting
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer func() {
		ticker.Stop()
		close(rl.stopped)
	}()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, w := range rl.windows {
				if now.After(w.reset) {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes one request from key's window and reports the window state afterwards
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.windows[key]
	if !exists || now.After(w.reset) {
		w = &limitWindow{limit: limit, remaining: limit, reset: now.Add(window)}
		rl.windows[key] = w
	}
	if w.remaining <= 0 {
		return false, 0, w.reset
	}
	w.remaining--
	return true, w.remaining, w.reset
}

// Len is the number of live windows
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Middleware limits requests per key, keyFunc decides the bucket
func (rl *RateLimiter) Middleware(limit int, window time.Duration, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	responses := NewResponseHelper()
	return func(c *gin.Context) {
		allowed, remaining, reset := rl.Allow(keyFunc(c), limit, window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			responses.Error(c, http.StatusTooManyRequests, ErrorRateLimited, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ByIP limits requests per client IP
func (rl *RateLimiter) ByIP(limit int, window time.Duration) gin.HandlerFunc {
	return rl.Middleware(limit, window, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// Generate limits the generate-* endpoints in their own bucket
func (rl *RateLimiter) Generate(limit int) gin.HandlerFunc {
	if limit <= 0 {
		limit = 30
	}
	return rl.Middleware(limit, time.Minute, func(c *gin.Context) string {
		return "generate:" + c.ClientIP()
	})
}

// Default is 100 requests per minute per IP
func (rl *RateLimiter) Default() gin.HandlerFunc {
	return rl.ByIP(100, time.Minute)
}

// RequestIDMiddleware tags every request with an ID, reusing X-Request-ID when the caller sends one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// MetricsMiddleware records status and latency per route
func MetricsMiddleware(metrics *utils.GenerationMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if metrics == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
