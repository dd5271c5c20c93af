package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetSignals fetches historical signals. An empty botID fetches across all
// bots. History is request-reply only; live signals come off the stream.
func (c *Client) GetSignals(ctx context.Context, botID string, limit int) ([]APISignal, error) {
	query := url.Values{}
	if botID != "" {
		query.Set("bot_id", botID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp SignalsResponse
	if err := c.get(ctx, "/signals", query, &resp); err != nil {
		return nil, fmt.Errorf("get signals: %w", err)
	}

	return resp.Signals, nil
}

// ApproveSignal approves a signal held for manual confirmation. The status
// transition arrives later as a stream delta.
func (c *Client) ApproveSignal(ctx context.Context, signalID string) error {
	if err := c.post(ctx, "/signals/"+signalID+"/approve"); err != nil {
		return fmt.Errorf("approve signal %s: %w", signalID, err)
	}
	return nil
}
