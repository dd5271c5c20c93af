package api

import (
	"context"
	"fmt"
)

// GetBots fetches all bot records. Used to pre-register series metadata and
// to drive auto-subscription.
func (c *Client) GetBots(ctx context.Context) ([]APIBot, error) {
	var resp BotsResponse
	if err := c.get(ctx, "/bots", nil, &resp); err != nil {
		return nil, fmt.Errorf("get bots: %w", err)
	}
	return resp.Bots, nil
}

// GetStatus checks backend liveness.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &resp, nil
}

// StartBot asks the backend to start a bot. Fire-and-forget: success means
// the backend accepted the command, the status change arrives as a delta.
func (c *Client) StartBot(ctx context.Context, botID string) error {
	if err := c.post(ctx, "/bots/"+botID+"/start"); err != nil {
		return fmt.Errorf("start bot %s: %w", botID, err)
	}
	return nil
}

// StopBot asks the backend to stop a bot.
func (c *Client) StopBot(ctx context.Context, botID string) error {
	if err := c.post(ctx, "/bots/"+botID+"/stop"); err != nil {
		return fmt.Errorf("stop bot %s: %w", botID, err)
	}
	return nil
}
