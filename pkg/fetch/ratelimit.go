package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out successive operations against the same key (a host, or a site's page stream).
type RateLimiter struct {
	last   map[string]time.Time // key -> time the last operation finished
	lastMu sync.Mutex
	log    *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		last: make(map[string]time.Time),
		log:  log,
	}
}

// ApplyDelay sleeps until minDelay (+/- 10% jitter) has passed since the last recorded operation on key.
// Returns ctx.Err() if the context ends while waiting.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, key string, minDelay time.Duration) error {
	if minDelay <= 0 {
		return ctx.Err()
	}

	rl.lastMu.Lock()
	lastTime, exists := rl.last[key]
	rl.lastMu.Unlock()
	if !exists {
		return ctx.Err()
	}

	elapsed := time.Since(lastTime)
	if elapsed >= minDelay {
		return ctx.Err()
	}
	sleep := minDelay - elapsed
	if jitterRange := int64(sleep) / 5; jitterRange > 0 {
		sleep += time.Duration(rand.Int63n(jitterRange)) - sleep/10
	}
	if sleep <= 0 {
		return ctx.Err()
	}

	rl.log.WithFields(logrus.Fields{"key": key, "sleep": sleep, "required_delay": minDelay}).Debug("Rate limit applying sleep")
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLastRequestTime records now as the end of the last operation on key
func (rl *RateLimiter) UpdateLastRequestTime(key string) {
	rl.lastMu.Lock()
	rl.last[key] = time.Now()
	rl.lastMu.Unlock()
}
