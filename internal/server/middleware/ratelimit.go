// file: internal/server/middleware/ratelimit.go
// version: 2.1.0
// guid: 046e9fad-aa3d-4ab0-ba0a-88ba3b39aad4

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const idleClientTTL = 15 * time.Minute

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// IPRateLimiter throttles the control endpoints per client address.
type IPRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	every     time.Duration
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewIPRateLimiter allows requestsPerMinute per client with the given burst.
func NewIPRateLimiter(requestsPerMinute int, burst int) *IPRateLimiter {
	requestsPerMinute = max(requestsPerMinute, 1)
	return &IPRateLimiter{
		buckets: make(map[string]*bucket),
		every:   time.Minute / time.Duration(requestsPerMinute),
		burst:   max(burst, 1),
		now:     time.Now,
	}
}

// reserve takes a token for ip and returns how long the caller would have
// to wait for one. A positive wait leaves the bucket untouched.
func (r *IPRateLimiter) reserve(ip string) time.Duration {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) >= idleClientTTL {
		for key, b := range r.buckets {
			if now.Sub(b.seen) > idleClientTTL {
				delete(r.buckets, key)
			}
		}
		r.lastSweep = now
	}

	b, ok := r.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(r.every), r.burst)}
		r.buckets[ip] = b
	}
	b.seen = now

	res := b.limiter.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait
	}
	return 0
}

// Clients returns the number of tracked clients.
func (r *IPRateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header.
func (r *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if wait := r.reserve(ip); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate limit exceeded",
				"code":   "RATE_LIMITED",
				"status": http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}
