package models

import (
	"fmt"
	"strings"
)

// ValidateItem checks a producer-supplied item before it enters the queue.
// A nil taxonomy skips the action lookup.
func ValidateItem(item *QueueItem, taxonomy *Taxonomy) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidItem)
	}
	if strings.TrimSpace(item.LocalID) == "" {
		return fmt.Errorf("%w: localId is required", ErrInvalidItem)
	}
	if item.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidItem)
	}

	if taxonomy != nil {
		action, ok := taxonomy.Lookup(item.ActionID)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAction, item.ActionID)
		}
		if item.ActionName == "" {
			item.ActionName = action.Name
		}
	}

	return validateMaterials(item)
}

func validateMaterials(item *QueueItem) error {
	incoming, outgoing := item.IncomingMaterials, item.OutgoingMaterials
	if len(incoming) == 0 && len(outgoing) == 0 {
		return fmt.Errorf("%w: at least one material is required", ErrInvalidItem)
	}

	_, collector := collectorActionsWithHiddenQR[item.ActionName]
	weightOnly := collector && len(outgoing) == 0

	for i, m := range incoming {
		if !hasWeight(m) {
			return fmt.Errorf("%w: incoming material %d needs a weight", ErrInvalidItem, i)
		}
		if !weightOnly && strings.TrimSpace(m.Code) == "" {
			return fmt.Errorf("%w: incoming material %d needs a code", ErrInvalidItem, i)
		}
	}
	for i, m := range outgoing {
		if !hasWeight(m) || strings.TrimSpace(m.Code) == "" {
			return fmt.Errorf("%w: outgoing material %d needs a code and a weight", ErrInvalidItem, i)
		}
	}

	if item.ActionName == ManufacturingAction {
		mf := item.Manufacturing
		if mf == nil || mf.Product == nil || *mf.Product <= 0 {
			return fmt.Errorf("%w: manufacturing product is required", ErrInvalidItem)
		}
		if mf.Quantity == nil || *mf.Quantity <= 0 || mf.WeightInKg == nil || *mf.WeightInKg <= 0 {
			return fmt.Errorf("%w: manufacturing quantity and weight are required", ErrInvalidItem)
		}
	}
	return nil
}

func hasWeight(m MaterialDetail) bool {
	return m.Weight != nil && *m.Weight > 0
}
