package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per client IP and forgets idle ones.
// Idle buckets are swept at most once per ttl.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	entries   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int, ttl time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*bucket),
	}
}

func (l *ipLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.entries[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = b
	}
	b.lastSeen = now

	if now.Sub(l.lastSweep) >= l.ttl {
		l.sweep(now)
	}
	return b.lim.AllowN(now, 1)
}

func (l *ipLimiter) sweep(now time.Time) {
	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

// RateLimit rejects clients exceeding perSecond requests (with burst) with 429.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	l := newIPLimiter(rate.Limit(perSecond), burst, 10*time.Minute)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
