package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HTTPLimiter is a per-client token bucket guarding every route. It is
// separate from the AI budgets.
type HTTPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

func NewHTTPLimiter(rps float64, burst int) *HTTPLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HTTPLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may proceed and, if not, how long to wait.
func (l *HTTPLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

// Sweep drops limiters idle for longer than limiterIdleTTL.
func (l *HTTPLimiter) Sweep() int {
	cutoff := l.now().Add(-limiterIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// RateLimitMiddleware rejects clients exceeding the limiter with a 429.
func RateLimitMiddleware(l *HTTPLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := l.Allow(rateKey(c))
		if allowed {
			c.Next()
			return
		}
		metrics.HTTPThrottledTotal.Inc()
		retryAfter := int((wait + time.Second - 1) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, platformerrors.HTTPErrorResponse{
			Success:    false,
			Message:    "Too many requests",
			Error:      string(platformerrors.ErrorTypeRateLimited),
			RetryAfter: retryAfter,
		})
	}
}

func rateKey(c *gin.Context) string {
	if principal, ok := PrincipalFromContext(c); ok {
		return "pid:" + principal.ID
	}
	if ip := clientIP(c.ClientIP()); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

// Normalize IPv6-mapped IPv4 etc.
func clientIP(raw string) string {
	if raw == "" {
		return ""
	}
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return raw
}
