package domain

import (
	"context"

	"fieldsync/internal/models"
)

// KVStore is the durable key-value namespace behind the queue collections.
type KVStore interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetMany writes all pairs atomically: either every key is updated or none is.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// QueueStore persists the active and completed collections.
type QueueStore interface {
	ReadActive(ctx context.Context) ([]*models.QueueItem, error)
	ReadCompleted(ctx context.Context) ([]*models.QueueItem, error)
	WriteActive(ctx context.Context, items []*models.QueueItem) error
	WriteCompleted(ctx context.Context, items []*models.QueueItem) error
	WriteCollections(ctx context.Context, active, completed []*models.QueueItem) error
}

// DatabaseSubmitter creates the structured record for an item.
type DatabaseSubmitter interface {
	SubmitEvent(ctx context.Context, item *models.QueueItem) (recordID string, err error)
}

// Attestation is the result of a blockchain submission.
type Attestation struct {
	UID    string `json:"uid"`
	TxHash string `json:"txHash"`
}

// Attester submits a signed attestation for an item.
type Attester interface {
	// Payload returns the canonical bytes the wallet signs for item.
	Payload(item *models.QueueItem) ([]byte, error)
	Attest(ctx context.Context, item *models.QueueItem, signature Signature) (*Attestation, error)
}

// Linker associates the database record with its attestation.
type Linker interface {
	LinkAttestation(ctx context.Context, recordID, attestationUID string) error
}

// Signature is produced by the wallet collaborator.
type Signature struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// Signer is the wallet collaborator. Signing never happens inside fieldsync.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (Signature, error)
}

// Pinger probes a downstream service's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DeviceSignals exposes the host app's connectivity and foreground state.
type DeviceSignals interface {
	Online() bool
	Foreground() bool
}

// HealthSnapshot is the latest reachability view of the downstream services.
type HealthSnapshot interface {
	Healthy(service models.Service) bool
	AllHealthy() bool
	MarkHealthy(service models.Service)
}
