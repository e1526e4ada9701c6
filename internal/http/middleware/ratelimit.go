package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// ThrottledMessage is the message carried by rate-limited responses.
const ThrottledMessage = "ThrottlerException: Too Many Requests"

const (
	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = 5000
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated requests by user id and everything else
// by client IP. The "user:" and "ip:" prefixes keep the namespaces apart.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := UserIDFrom(c); ok && id != "" {
			return "user:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per identity. Buckets idle for
// longer than bucketIdleTTL are dropped during a periodic sweep.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups uint64
}

// NewRateLimiter allows rps requests per second per key with the given
// burst. A burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
	}
}

// limiterFor returns the bucket for key, creating it on first use. The
// sweep runs before the lookup so a stale bucket for key is replaced.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= sweepEvery {
		rl.sweep(now)
		rl.lookups = 0
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// sweep drops idle buckets. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.idleTTL {
			delete(rl.buckets, k)
		}
	}
}

// Handler throttles requests whose bucket is empty. The rejection is
// recorded as a common 429 for ErrorFilter to render, with Retry-After set
// to the wait for the next token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := rl.limiterFor(rl.key(c)).Reserve()
		if res.OK() && res.Delay() == 0 {
			c.Next()
			return
		}
		wait := res.Delay()
		res.Cancel()

		c.Header("Retry-After", retryAfter(wait))
		_ = c.Error(apperr.Common(http.StatusTooManyRequests, ThrottledMessage))
		c.Abort()
	}
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	if d == rate.InfDuration {
		return "1"
	}
	return strconv.Itoa(max(int(math.Ceil(d.Seconds())), 1))
}
