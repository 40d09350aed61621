package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionRefetch     = "refetch"
	ActionSendMessage = "send_message"

	// SendMessageBurst is how many sends a single chat allows back to back.
	SendMessageBurst = 30
)

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiter keeps one token bucket per "key:action" pair.
type RateLimiter struct {
	buckets map[string]*bucket
	mutex   sync.Mutex
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func newLimiter(action string) *rate.Limiter {
	switch action {
	case ActionRefetch:
		// background refetches triggered by unknown chats or other sessions:
		// at most one every 2 seconds
		return rate.NewLimiter(rate.Every(2*time.Second), 1)
	case ActionSendMessage:
		// runaway-loop guard only: a burst of 30, then one per second
		return rate.NewLimiter(rate.Every(time.Second), SendMessageBurst)
	default:
		return rate.NewLimiter(rate.Every(3*time.Second), 20)
	}
}

// Allow consumes a token for key/action. When none is available it returns
// false and how long to wait for the next one.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	now := rl.now()

	rl.mutex.Lock()
	b, ok := rl.buckets[key+":"+action]
	if !ok {
		b = &bucket{limiter: newLimiter(action)}
		rl.buckets[key+":"+action] = b
	}
	b.lastUsed = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup removes buckets unused for an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUsed) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup periodically until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
