package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle      = time.Hour
	limiterPruneSize = 256
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[int64]*limiterEntry
	now      func() time.Time
}

func newUserLimiter(perMinute, burst int, now func() time.Time) *userLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[int64]*limiterEntry),
		now:      now,
	}
}

// Allow consumes one token from user's bucket.
func (u *userLimiter) Allow(user int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	e, ok := u.limiters[user]
	if !ok {
		if len(u.limiters) >= limiterPruneSize {
			u.pruneLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(u.every, u.burst)}
		u.limiters[user] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (u *userLimiter) pruneLocked(now time.Time) {
	for id, e := range u.limiters {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(u.limiters, id)
		}
	}
}
