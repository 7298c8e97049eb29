// Package eas submits signed attestations to the attestation service.
package eas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
	"fieldsync/internal/services"
)

type Client struct {
	http *services.Client
}

var (
	_ domain.Attester = (*Client)(nil)
	_ domain.Pinger   = (*Client)(nil)
)

func NewClient(opts services.Options) *Client {
	return &Client{http: services.NewClient(models.ServiceEAS, opts)}
}

// attestationData is the signed content. Field order is fixed so the bytes
// are stable across retries of the same item.
type attestationData struct {
	LocalID           string                  `json:"localId"`
	ActionID          int64                   `json:"actionId"`
	Date              string                  `json:"date"`
	IncomingMaterials []models.MaterialDetail `json:"incomingMaterials"`
	OutgoingMaterials []models.MaterialDetail `json:"outgoingMaterials"`
	Manufacturing     *models.Manufacturing   `json:"manufacturing,omitempty"`
	CollectorID       string                  `json:"collectorId,omitempty"`
	Location          *models.Location        `json:"location,omitempty"`
	Company           *int64                  `json:"company,omitempty"`
	DirectusID        string                  `json:"directusId"`
}

func (c *Client) Payload(item *models.QueueItem) ([]byte, error) {
	data := attestationData{
		LocalID:           item.LocalID,
		ActionID:          item.ActionID,
		Date:              item.Date.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		IncomingMaterials: item.IncomingMaterials,
		OutgoingMaterials: item.OutgoingMaterials,
		Manufacturing:     item.Manufacturing,
		CollectorID:       item.CollectorID,
		Location:          item.Location,
		Company:           item.Company,
		DirectusID:        item.DirectusID,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode attestation payload: %w", err)
	}
	return raw, nil
}

type attestRequest struct {
	LocalID   string          `json:"localId"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
	Signer    string          `json:"signer"`
}

// Attest submits the payload with its wallet signature.
func (c *Client) Attest(ctx context.Context, item *models.QueueItem, sig domain.Signature) (*domain.Attestation, error) {
	payload, err := c.Payload(item)
	if err != nil {
		return nil, err
	}

	var out domain.Attestation
	req := attestRequest{LocalID: item.LocalID, Data: payload, Signature: sig.Signature, Signer: sig.Address}
	if err := c.http.Do(ctx, http.MethodPost, "/attestations", item.LocalID, req, &out); err != nil {
		return nil, err
	}
	if out.UID == "" {
		return nil, &models.TransientError{Service: models.ServiceEAS, Err: fmt.Errorf("response carried no attestation uid")}
	}
	return &out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.http.Get(ctx, "/health")
}
