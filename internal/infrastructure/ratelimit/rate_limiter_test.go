package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefetchAllowsOneEveryTwoSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("admin-1", ActionRefetch)
	assert.True(t, ok)

	ok, wait := rl.Allow("admin-1", ActionRefetch)
	assert.False(t, ok)
	assert.True(t, wait > 0 && wait <= 2*time.Second)

	// other keys have their own bucket
	ok, _ = rl.Allow("admin-2", ActionRefetch)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = rl.Allow("admin-1", ActionRefetch)
	assert.True(t, ok)
}

func TestSendMessageBurst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < SendMessageBurst; i++ {
		ok, _ := rl.Allow("buyer-1", ActionSendMessage)
		assert.True(t, ok, "message %d", i)
	}
	ok, wait := rl.Allow("buyer-1", ActionSendMessage)
	assert.False(t, ok)
	assert.LessOrEqual(t, wait, time.Second)

	now = now.Add(time.Second)
	ok, _ = rl.Allow("buyer-1", ActionSendMessage)
	assert.True(t, ok)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	rl.Allow("buyer-1", ActionRefetch)
	now = now.Add(2 * time.Hour)
	rl.Cleanup()

	assert.Empty(t, rl.buckets)
}
