package worker

import (
	"math"
	"time"

	"fieldsync/internal/config"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NewRetryPolicy maps the queue configuration onto a policy.
func NewRetryPolicy(cfg config.QueueConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.Backoff.Initial,
		MaxDelay:      cfg.Backoff.Max,
		BackoffFactor: cfg.Backoff.Factor,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// BackoffFor is the wait required after an item's last attempt given how many
// attempts it has used. Items never attempted wait for nothing.
func (r RetryPolicy) BackoffFor(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	return r.NextDelay(retryCount)
}
