package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// commentRequest is the crm.timeline.comment.add request body.
type commentRequest struct {
	Fields commentFields `json:"fields"`
}

type commentFields struct {
	EntityID   string `json:"ENTITY_ID"`
	EntityType string `json:"ENTITY_TYPE"`
	Comment    string `json:"COMMENT"`
}

// updateRequest is the crm.deal.update request body. Field keys are
// Bitrix user-field identifiers (UF_CRM_*), opaque to this package.
type updateRequest struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// AddComment appends one comment to the deal's timeline. Failures
// propagate to the caller: a comment that did not land means the paired
// field update must not proceed.
func (c *Client) AddComment(ctx context.Context, dealID, text string) error {
	body := commentRequest{Fields: commentFields{
		EntityID:   dealID,
		EntityType: "deal",
		Comment:    text,
	}}

	if _, err := c.call(ctx, http.MethodPost, "crm.timeline.comment.add", nil, body); err != nil {
		return err
	}

	c.logger.Debug("timeline comment added", slog.String("deal_id", dealID))

	return nil
}

// UpdateDeal sets the given fields on a deal via crm.deal.update. The
// returned bool mirrors the server's acknowledgement: false without an
// error is a soft failure the caller logs and counts but does not retry
// within the same pass.
func (c *Client) UpdateDeal(ctx context.Context, dealID string, fields map[string]string) (bool, error) {
	body := updateRequest{ID: dealID, Fields: fields}

	env, err := c.call(ctx, http.MethodPost, "crm.deal.update", nil, body)
	if err != nil {
		return false, err
	}

	var acknowledged bool
	if err := json.Unmarshal(env.Result, &acknowledged); err != nil {
		return false, fmt.Errorf("bitrix: decoding deal update result: %w", err)
	}

	if !acknowledged {
		c.logger.Warn("deal update not acknowledged", slog.String("deal_id", dealID))
	}

	return acknowledged, nil
}
