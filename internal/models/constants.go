package models

import "time"

const (
	// DefaultMaxRetries bounds attempts before an item is permanently FAILED.
	DefaultMaxRetries = 3

	// DefaultListRetryInterval bounds automatic batch retry frequency.
	DefaultListRetryInterval = 60 * time.Second

	// DefaultHealthInterval is the reachability probe period.
	DefaultHealthInterval = 30 * time.Second

	// DefaultAttemptTimeout bounds a single network submission.
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultConcurrency is the number of items processed in parallel within a pass.
	DefaultConcurrency = 4
)

// Storage keys. They must stay stable across releases.
const (
	KeyActiveQueue      = "active_queue"
	KeyCompletedQueue   = "completed_queue"
	KeyLastBatchAttempt = "last_batch_attempt"
)

// ManufacturingAction is the only action that carries a manufacturing sub-record.
const ManufacturingAction = "Manufacturing"

// collectorActionsWithHiddenQR only need weights for incoming materials when they have no outgoing ones.
var collectorActionsWithHiddenQR = map[string]struct{}{
	"Fishing for litter": {},
	"Prevention":         {},
	"Ad-hoc":             {},
	"Beach cleanup":      {},
}
