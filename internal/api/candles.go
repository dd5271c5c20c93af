package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetCandles fetches candle history for a series, newest last. Seeds the
// store's candle series before live ticks take over.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]APICandle, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("timeframe", timeframe)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp CandlesResponse
	if err := c.get(ctx, "/market/candles", query, &resp); err != nil {
		return nil, fmt.Errorf("get candles %s/%s: %w", symbol, timeframe, err)
	}

	return resp.Candles, nil
}
