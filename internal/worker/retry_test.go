package worker

import (
	"testing"
	"time"

	"fieldsync/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5))
	assert.Equal(t, time.Second, policy.NextDelay(0))
}

func TestRetryPolicyBackoffFor(t *testing.T) {
	policy := NewRetryPolicy(config.QueueConfig{
		MaxRetries: 3,
		Backoff:    config.BackoffConfig{Initial: 5 * time.Second, Max: time.Minute, Factor: 2},
	})

	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, time.Duration(0), policy.BackoffFor(0))
	assert.Equal(t, 5*time.Second, policy.BackoffFor(1))
	assert.Equal(t, 10*time.Second, policy.BackoffFor(2))
	assert.Equal(t, time.Minute, policy.BackoffFor(10))
}
