package api

import (
	"fmt"
	"testing"
	"time"

	"fieldsync/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterDisabled(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("k"))
	}
	assert.Equal(t, 0, l.size())

	var nilLimiter *rateLimiter
	assert.True(t, nilLimiter.allow("k"))
}

func TestRateLimiterDefaultBurst(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 0.001})
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.allow("k") {
			allowed++
		}
	}
	assert.Equal(t, defaultBurst, allowed)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1, Burst: 1})
	l.now = func() time.Time { return now }

	for i := 0; i < maxBuckets; i++ {
		l.allow(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, maxBuckets, l.size())

	now = now.Add(bucketIdle)
	assert.True(t, l.allow("fresh"))
	assert.Equal(t, 1, l.size())
}
