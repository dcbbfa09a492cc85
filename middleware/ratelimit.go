package middleware

import (
	"net/http"
	"sync"
	"time"

	"PPFeed/logger"
	"PPFeed/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserRateLimiter REST 写接口限流：已认证按 userId，否则按 IP
type UserRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	keyOf    func(*gin.Context) string
}

type visitor struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewUserRateLimiter(perMinute, burst int, keyOf func(*gin.Context) string) *UserRateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &UserRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		keyOf: keyOf,
	}
}

func (l *UserRateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	v, _ := l.visitors.LoadOrStore(key, &visitor{limiter: rate.NewLimiter(l.rps, l.burst)})
	vi := v.(*visitor)
	vi.mu.Lock()
	vi.lastSeen = now
	vi.mu.Unlock()
	return vi.limiter
}

// Sweep 清理 idle 之前的访客，main 里定期调用
func (l *UserRateLimiter) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	l.visitors.Range(func(k, v any) bool {
		vi := v.(*visitor)
		vi.mu.Lock()
		stale := vi.lastSeen.Before(cutoff)
		vi.mu.Unlock()
		if stale {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *UserRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			return
		}
		key := ""
		if l.keyOf != nil {
			key = l.keyOf(c)
		}
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.limiterFor(key, time.Now()).Allow() {
			logger.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded",
				"code":    errs.RateLimitedError,
			})
		}
	}
}
