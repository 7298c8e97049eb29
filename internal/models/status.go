package models

import "time"

// DeriveOverallStatus computes the item status from its sub-service states.
//
// COMPLETED when all three services completed, PROCESSING while any service is in
// flight, FAILED when a service failed and the failure is permanent or the retry
// budget is spent, PENDING otherwise.
func DeriveOverallStatus(item *QueueItem, maxRetries int) ItemStatus {
	states := []ServiceState{item.Directus, item.EAS, item.Linking}

	allCompleted := true
	for _, s := range states {
		if s.Status != ServiceCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return ItemCompleted
	}

	for _, s := range states {
		if s.Status == ServiceProcessing {
			return ItemProcessing
		}
	}

	for _, s := range states {
		if s.Status != ServiceFailed {
			continue
		}
		if s.Permanent || item.TotalRetryCount >= maxRetries {
			return ItemFailed
		}
	}
	return ItemPending
}

// IsTerminal reports whether the item belongs in the completed collection.
func IsTerminal(item *QueueItem, maxRetries int) bool {
	switch DeriveOverallStatus(item, maxRetries) {
	case ItemCompleted, ItemFailed:
		return true
	default:
		return false
	}
}

// IsRetryEligible reports whether the engine may attempt the item at now.
// backoff is the minimum wait since the item's last attempt; zero disables the check.
func IsRetryEligible(item *QueueItem, now time.Time, maxRetries int, backoff time.Duration) bool {
	status := DeriveOverallStatus(item, maxRetries)
	if status == ItemCompleted || status == ItemFailed {
		return false
	}
	if item.TotalRetryCount >= maxRetries {
		return false
	}
	if backoff <= 0 {
		return true
	}
	last := item.LastAttempt()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= backoff
}

// HasFailedService reports whether any sub-service is FAILED.
func HasFailedService(item *QueueItem) bool {
	for _, s := range Steps {
		if item.State(s).Status == ServiceFailed {
			return true
		}
	}
	return false
}

// LastAttempt returns the most recent attempt time across all sub-services.
func (q *QueueItem) LastAttempt() time.Time {
	var last time.Time
	for _, s := range []ServiceState{q.Directus, q.EAS, q.Linking} {
		if s.LastAttempt != nil && s.LastAttempt.After(last) {
			last = *s.LastAttempt
		}
	}
	return last
}

// NextStep returns the next service to attempt, honouring directus -> eas -> linking.
// ok is false when every step is completed.
func NextStep(item *QueueItem) (Service, bool) {
	for _, s := range Steps {
		if item.State(s).Status != ServiceCompleted {
			return s, true
		}
	}
	return "", false
}

// RecoverInterrupted resets sub-states left PROCESSING by an interrupted pass.
// It returns true when anything changed.
func RecoverInterrupted(item *QueueItem, maxRetries int) bool {
	changed := false
	for _, s := range Steps {
		st := item.State(s)
		if st.Status == ServiceProcessing {
			st.Status = ServiceIncomplete
			changed = true
		}
	}
	if item.Status == ItemProcessing || changed {
		item.Status = DeriveOverallStatus(item, maxRetries)
		changed = true
	}
	return changed
}
