package polymarket

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/copybot/internal/domain"
)

const activityLimit = 100

// FetchActivity devuelve la actividad on-chain reciente de una wallet, más
// nueva primero. Implementa ports.ActivityFeed.
func (c *Client) FetchActivity(ctx context.Context, address string) ([]domain.FeedActivity, error) {
	url := fmt.Sprintf("%s/activity?user=%s&limit=%d&sortBy=TIMESTAMP&sortDirection=DESC",
		c.dataBase, address, activityLimit)

	var resp []rawActivity
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchActivity: %s: %w", address, err)
	}

	out := make([]domain.FeedActivity, 0, len(resp))
	for _, r := range resp {
		out = append(out, toFeedActivity(r))
	}
	return out, nil
}

// FetchPositions devuelve las posiciones actuales de una wallet.
func (c *Client) FetchPositions(ctx context.Context, address string) ([]domain.FeedPosition, error) {
	url := fmt.Sprintf("%s/positions?user=%s", c.dataBase, address)

	var resp []rawPosition
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchPositions: %s: %w", address, err)
	}

	out := make([]domain.FeedPosition, 0, len(resp))
	for _, r := range resp {
		out = append(out, toFeedPosition(r))
	}
	return out, nil
}
