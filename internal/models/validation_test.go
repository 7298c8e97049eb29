package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestValidateItem(t *testing.T) {
	taxonomy := NewTaxonomy([]Action{
		{ID: 1, Name: "Beach cleanup", Category: "collection"},
		{ID: 2, Name: "Sorting", Category: "processing"},
		{ID: 3, Name: ManufacturingAction, Category: "manufacturing"},
	})

	base := func(actionID int64, name string) *QueueItem {
		return NewQueueItem(Action{ID: actionID, Name: name}, time.Now())
	}

	tests := []struct {
		name    string
		item    func() *QueueItem
		wantErr error
	}{
		{
			name:    "NoMaterials",
			item:    func() *QueueItem { return base(2, "Sorting") },
			wantErr: ErrInvalidItem,
		},
		{
			name: "CollectorWeightOnly",
			item: func() *QueueItem {
				it := base(1, "Beach cleanup")
				it.IncomingMaterials = []MaterialDetail{{ID: 1, Weight: ptr(3.0)}}
				return it
			},
		},
		{
			name: "ProcessingNeedsCode",
			item: func() *QueueItem {
				it := base(2, "Sorting")
				it.IncomingMaterials = []MaterialDetail{{ID: 1, Weight: ptr(3.0)}}
				return it
			},
			wantErr: ErrInvalidItem,
		},
		{
			name: "OutgoingNeedsWeight",
			item: func() *QueueItem {
				it := base(2, "Sorting")
				it.OutgoingMaterials = []MaterialDetail{{ID: 1, Code: "X"}}
				return it
			},
			wantErr: ErrInvalidItem,
		},
		{
			name: "ManufacturingMissingDetails",
			item: func() *QueueItem {
				it := base(3, ManufacturingAction)
				it.IncomingMaterials = []MaterialDetail{{ID: 1, Weight: ptr(1.0), Code: "C"}}
				it.Manufacturing = &Manufacturing{Product: ptr(int64(4))}
				return it
			},
			wantErr: ErrInvalidItem,
		},
		{
			name: "ManufacturingComplete",
			item: func() *QueueItem {
				it := base(3, ManufacturingAction)
				it.IncomingMaterials = []MaterialDetail{{ID: 1, Weight: ptr(1.0), Code: "C"}}
				it.Manufacturing = &Manufacturing{Product: ptr(int64(4)), Quantity: ptr(10.0), WeightInKg: ptr(2.0)}
				return it
			},
		},
		{
			name: "UnknownAction",
			item: func() *QueueItem {
				it := base(99, "Nope")
				it.IncomingMaterials = []MaterialDetail{{ID: 1, Weight: ptr(1.0), Code: "C"}}
				return it
			},
			wantErr: ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItem(tt.item(), taxonomy)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(&TransientError{Service: ServiceEAS, Err: errors.New("timeout")}))
	assert.False(t, IsRetryable(&ValidationError{Service: ServiceDirectus, StatusCode: 400, Message: "bad"}))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", &ValidationError{Service: ServiceDirectus})))
}
