package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter 每用户一个令牌桶，长时间不用的定期清理
type userLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*limiterEntry
	lastGC   time.Time
}

type limiterEntry struct {
	l    *rate.Limiter
	seen time.Time
}

func newUserLimiter(perMin int) *userLimiter {
	return &userLimiter{perMin: perMin, limiters: make(map[string]*limiterEntry)}
}

func (u *userLimiter) Allow(userID string, now time.Time) bool {
	if u == nil || u.perMin <= 0 {
		return true
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.Sub(u.lastGC) > 10*time.Minute {
		for id, e := range u.limiters {
			if now.Sub(e.seen) > 10*time.Minute {
				delete(u.limiters, id)
			}
		}
		u.lastGC = now
	}
	e := u.limiters[userID]
	if e == nil {
		e = &limiterEntry{l: rate.NewLimiter(rate.Every(time.Minute/time.Duration(u.perMin)), u.perMin)}
		u.limiters[userID] = e
	}
	e.seen = now
	return e.l.AllowN(now, 1)
}
