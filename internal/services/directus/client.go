// Package directus submits events to the Directus structured database.
package directus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
	"fieldsync/internal/services"
)

type Client struct {
	http       *services.Client
	collection string
}

var (
	_ domain.DatabaseSubmitter = (*Client)(nil)
	_ domain.Linker            = (*Client)(nil)
	_ domain.Pinger            = (*Client)(nil)
)

func NewClient(collection string, opts services.Options) *Client {
	return &Client{
		http:       services.NewClient(models.ServiceDirectus, opts),
		collection: collection,
	}
}

// EventRecord is the Directus representation of a queue item.
type EventRecord struct {
	LocalID           string                  `json:"local_id"`
	Action            int64                   `json:"action"`
	ActionName        string                  `json:"action_name,omitempty"`
	Date              time.Time               `json:"date"`
	IncomingMaterials []models.MaterialDetail `json:"incoming_materials"`
	OutgoingMaterials []models.MaterialDetail `json:"outgoing_materials"`
	Manufacturing     *models.Manufacturing   `json:"manufacturing,omitempty"`
	CollectorID       string                  `json:"collector_id,omitempty"`
	Location          *models.Location        `json:"location,omitempty"`
	Company           *int64                  `json:"company,omitempty"`
}

func NewEventRecord(item *models.QueueItem) EventRecord {
	return EventRecord{
		LocalID:           item.LocalID,
		Action:            item.ActionID,
		ActionName:        item.ActionName,
		Date:              item.Date,
		IncomingMaterials: item.IncomingMaterials,
		OutgoingMaterials: item.OutgoingMaterials,
		Manufacturing:     item.Manufacturing,
		CollectorID:       item.CollectorID,
		Location:          item.Location,
		Company:           item.Company,
	}
}

type itemResponse struct {
	Data struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// SubmitEvent creates the event record and returns its Directus id.
func (c *Client) SubmitEvent(ctx context.Context, item *models.QueueItem) (string, error) {
	var resp itemResponse
	path := "/items/" + url.PathEscape(c.collection)
	if err := c.http.Do(ctx, http.MethodPost, path, item.LocalID, NewEventRecord(item), &resp); err != nil {
		return "", err
	}
	id := strings.Trim(string(resp.Data.ID), `"`)
	if id == "" || id == "null" {
		return "", &models.TransientError{Service: models.ServiceDirectus, Err: fmt.Errorf("response carried no record id")}
	}
	return id, nil
}

// LinkAttestation stores the attestation uid on the event record.
func (c *Client) LinkAttestation(ctx context.Context, recordID, attestationUID string) error {
	path := fmt.Sprintf("/items/%s/%s", url.PathEscape(c.collection), url.PathEscape(recordID))
	body := map[string]string{"eas_uid": attestationUID}
	err := c.http.Do(ctx, http.MethodPatch, path, "link-"+recordID, body, nil)
	if err == nil {
		return nil
	}
	return asLinking(err)
}

// asLinking attributes errors from the PATCH to the linking step.
func asLinking(err error) error {
	switch e := err.(type) {
	case *models.TransientError:
		e.Service = models.ServiceLinking
	case *models.ValidationError:
		e.Service = models.ServiceLinking
	}
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.http.Get(ctx, "/server/ping")
}
