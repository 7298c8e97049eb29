// Package wallet talks to the remote signer that holds the user's keys.
package wallet

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
	"fieldsync/internal/services"
)

type Client struct {
	http *services.Client
}

var _ domain.Signer = (*Client)(nil)

func NewClient(opts services.Options) *Client {
	// Signing failures block the eas step, so they are reported under it.
	return &Client{http: services.NewClient(models.ServiceEAS, opts)}
}

type signRequest struct {
	Payload string `json:"payload"`
}

func (c *Client) Sign(ctx context.Context, payload []byte) (domain.Signature, error) {
	var sig domain.Signature
	req := signRequest{Payload: base64.StdEncoding.EncodeToString(payload)}
	if err := c.http.Do(ctx, http.MethodPost, "/sign", "", req, &sig); err != nil {
		return domain.Signature{}, fmt.Errorf("wallet sign: %w", err)
	}
	if sig.Signature == "" {
		return domain.Signature{}, &models.TransientError{Service: models.ServiceEAS, Err: fmt.Errorf("wallet returned an empty signature")}
	}
	return sig, nil
}
