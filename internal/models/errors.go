package models

import (
	"errors"
	"fmt"
)

const (
	ErrorKindTransient  = "transient"
	ErrorKindValidation = "validation"
	ErrorKindStorage    = "storage"
)

var (
	ErrDuplicateLocalID     = errors.New("queue item with this local id already exists")
	ErrInvalidItem          = errors.New("invalid queue item")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrUnknownAction        = errors.New("unknown action")
)

// ErrorClassifier lets errors declare whether they are worth retrying.
type ErrorClassifier interface {
	ErrorKind() string
}

// TransientError is a retryable downstream failure: timeouts, transport errors, 5xx.
type TransientError struct {
	Service    Service
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (http %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) ErrorKind() string { return ErrorKindTransient }

// ValidationError is a non-retryable rejection of the payload (4xx, malformed data).
type ValidationError struct {
	Service    Service
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: rejected (http %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Service, e.Message)
}

func (e *ValidationError) ErrorKind() string { return ErrorKindValidation }

// StorageCorruptionError reports an unreadable persisted collection.
type StorageCorruptionError struct {
	Key string
	Err error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("storage key %q is corrupted: %v", e.Key, e.Err)
}

func (e *StorageCorruptionError) Unwrap() error { return e.Err }

func (e *StorageCorruptionError) ErrorKind() string { return ErrorKindStorage }

// IsRetryable reports whether a downstream error should count against the retry
// budget instead of failing the item immediately. Unclassified errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind() != ErrorKindValidation
	}
	return true
}
