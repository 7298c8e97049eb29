package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the overall lifecycle state of a queue item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "PENDING"
	ItemProcessing ItemStatus = "PROCESSING"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemFailed     ItemStatus = "FAILED"
)

// ServiceStatus tracks progress against a single downstream service.
type ServiceStatus string

const (
	ServiceIncomplete ServiceStatus = "INCOMPLETE"
	ServiceProcessing ServiceStatus = "PROCESSING"
	ServiceCompleted  ServiceStatus = "COMPLETED"
	ServiceFailed     ServiceStatus = "FAILED"
)

// Service names a downstream step. Steps run strictly in the order of Steps.
type Service string

const (
	ServiceDirectus Service = "directus"
	ServiceEAS      Service = "eas"
	ServiceLinking  Service = "linking"
)

// Steps lists sub-services in dependency order.
var Steps = []Service{ServiceDirectus, ServiceEAS, ServiceLinking}

// ServiceState is the per-service progress of a queue item.
type ServiceState struct {
	Status      ServiceStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	LastAttempt *time.Time    `json:"lastAttempt,omitempty"`
	// Permanent is set when the last failure was classified non-retryable.
	Permanent bool `json:"permanent,omitempty"`
}

// MaterialDetail is one entry of the incoming or outgoing material flow.
type MaterialDetail struct {
	ID     int64    `json:"id"`
	Weight *float64 `json:"weight,omitempty"`
	Code   string   `json:"code,omitempty"`
}

// Manufacturing is only required for the "Manufacturing" action.
type Manufacturing struct {
	Product    *int64   `json:"product,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`
	WeightInKg *float64 `json:"weightInKg,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Location struct {
	Coords    Coordinates `json:"coords"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// QueueItem is a single attestation submission travelling through the queue.
type QueueItem struct {
	LocalID    string    `json:"localId"`
	ActionID   int64     `json:"actionId"`
	ActionName string    `json:"actionName"`
	Date       time.Time `json:"date"`

	IncomingMaterials []MaterialDetail `json:"incomingMaterials"`
	OutgoingMaterials []MaterialDetail `json:"outgoingMaterials"`
	Manufacturing     *Manufacturing   `json:"manufacturing,omitempty"`

	CollectorID string    `json:"collectorId,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Company     *int64    `json:"company,omitempty"`

	Status   ItemStatus   `json:"status"`
	Directus ServiceState `json:"directus"`
	EAS      ServiceState `json:"eas"`
	Linking  ServiceState `json:"linking"`

	DirectusID string `json:"directusId,omitempty"`
	EASUID     string `json:"easUid,omitempty"`
	TxHash     string `json:"txHash,omitempty"`

	TotalRetryCount    int  `json:"totalRetryCount"`
	SkipRetryIncrement bool `json:"skipRetryIncrement,omitempty"`
}

// NewQueueItem builds a fresh PENDING item for the given action.
func NewQueueItem(action Action, now time.Time) *QueueItem {
	item := &QueueItem{
		LocalID:    uuid.NewString(),
		ActionID:   action.ID,
		ActionName: action.Name,
		Date:       now.UTC(),
	}
	item.Reset()
	return item
}

// Reset puts the item back into its just-created state while keeping its payload.
func (q *QueueItem) Reset() {
	q.Status = ItemPending
	q.Directus = ServiceState{Status: ServiceIncomplete}
	q.EAS = ServiceState{Status: ServiceIncomplete}
	q.Linking = ServiceState{Status: ServiceIncomplete}
	q.DirectusID = ""
	q.EASUID = ""
	q.TxHash = ""
	q.TotalRetryCount = 0
	q.SkipRetryIncrement = false
	if q.IncomingMaterials == nil {
		q.IncomingMaterials = []MaterialDetail{}
	}
	if q.OutgoingMaterials == nil {
		q.OutgoingMaterials = []MaterialDetail{}
	}
}

// State returns a pointer to the sub-state for the given service.
func (q *QueueItem) State(s Service) *ServiceState {
	switch s {
	case ServiceDirectus:
		return &q.Directus
	case ServiceEAS:
		return &q.EAS
	case ServiceLinking:
		return &q.Linking
	default:
		return nil
	}
}

// Clone returns a deep copy so callers can mutate it without sharing slices or pointers.
func (q *QueueItem) Clone() *QueueItem {
	if q == nil {
		return nil
	}
	c := *q
	c.IncomingMaterials = cloneMaterials(q.IncomingMaterials)
	c.OutgoingMaterials = cloneMaterials(q.OutgoingMaterials)
	if q.Manufacturing != nil {
		m := Manufacturing{
			Product:    clonePtr(q.Manufacturing.Product),
			Quantity:   clonePtr(q.Manufacturing.Quantity),
			WeightInKg: clonePtr(q.Manufacturing.WeightInKg),
		}
		c.Manufacturing = &m
	}
	if q.Location != nil {
		l := *q.Location
		c.Location = &l
	}
	c.Company = clonePtr(q.Company)
	c.Directus = q.Directus.clone()
	c.EAS = q.EAS.clone()
	c.Linking = q.Linking.clone()
	return &c
}

func (s ServiceState) clone() ServiceState {
	s.LastAttempt = clonePtr(s.LastAttempt)
	return s
}

func cloneMaterials(in []MaterialDetail) []MaterialDetail {
	if in == nil {
		return nil
	}
	out := make([]MaterialDetail, len(in))
	for i, m := range in {
		out[i] = MaterialDetail{ID: m.ID, Weight: clonePtr(m.Weight), Code: m.Code}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []*QueueItem) []*QueueItem {
	out := make([]*QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.Clone())
	}
	return out
}
