package polymarket

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// placeOrderRequest es el payload del CLOB para órdenes.
type placeOrderRequest struct {
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Type    string  `json:"type"`
}

// PlaceOrder envía una orden al CLOB. Requiere apiKey configurada.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if c.apiKey == "" {
		return domain.Order{}, fmt.Errorf("polymarket.PlaceOrder: no API key configured")
	}

	payload := placeOrderRequest{
		TokenID: req.OutcomeID,
		Side:    string(req.Side),
		Price:   req.Price,
		Size:    req.Size,
		Type:    "FOK", // copias: o se ejecuta entera ya, o no interesa
	}

	var resp rawOrder
	url := c.clobBase + "/order"
	if err := c.post(ctx, c.clobLimiter, url, payload, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("polymarket.PlaceOrder: %w", err)
	}

	order := toOrder(resp)
	order.MarketID = req.MarketID
	return order, nil
}

// CancelOrder cancela una orden concreta.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	url := fmt.Sprintf("%s/order/%s", c.clobBase, orderID)
	if err := c.del(ctx, c.clobLimiter, url, nil); err != nil {
		return fmt.Errorf("polymarket.CancelOrder: %s: %w", orderID, err)
	}
	return nil
}

// CancelAllOrders cancela todas las órdenes abiertas; marketID opcional.
func (c *Client) CancelAllOrders(ctx context.Context, marketID string) error {
	url := c.clobBase + "/cancel-all"
	if marketID != "" {
		url = fmt.Sprintf("%s/cancel-market-orders?market=%s", c.clobBase, marketID)
	}
	if err := c.del(ctx, c.clobLimiter, url, nil); err != nil {
		return fmt.Errorf("polymarket.CancelAllOrders: %w", err)
	}
	return nil
}

// GetOpenOrders devuelve las órdenes abiertas de la cuenta.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	var resp []rawOrder
	url := c.clobBase + "/orders"
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.GetOpenOrders: %w", err)
	}

	out := make([]domain.Order, 0, len(resp))
	for _, r := range resp {
		order := toOrder(r)
		if order.Status == domain.OrderStatusOpen || order.Status == domain.OrderStatusPartial {
			out = append(out, order)
		}
	}
	return out, nil
}

// GetOrder devuelve el estado actual de una orden.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var resp rawOrder
	url := fmt.Sprintf("%s/order/%s", c.clobBase, orderID)
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("polymarket.GetOrder: %s: %w", orderID, err)
	}
	return toOrder(resp), nil
}

// GetBalance devuelve el saldo USDC.e disponible en el CLOB.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	var resp rawBalance
	url := c.clobBase + "/balance"
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("polymarket.GetBalance: %w", err)
	}
	available := num(resp.Available)
	locked := num(resp.Locked)
	return domain.Balance{
		Available: available,
		Locked:    locked,
		Total:     available + locked,
		Currency:  "USDC",
	}, nil
}

// GetPositions devuelve las posiciones de la cuenta según el venue.
func (c *Client) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	var resp []rawPosition
	url := c.clobBase + "/positions"
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.GetPositions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(resp))
	for _, r := range resp {
		out = append(out, domain.VenuePosition{
			MarketID:  r.ConditionID,
			OutcomeID: r.Asset,
			Size:      num(r.Size),
			AvgPrice:  num(r.AvgPrice),
			CurPrice:  num(r.CurPrice),
		})
	}
	return out, nil
}

// GetOrderBook devuelve el snapshot del libro para un outcome.
func (c *Client) GetOrderBook(ctx context.Context, marketID, outcomeID string) (domain.OrderBook, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", c.clobBase, outcomeID)

	var resp rawOrderBook
	if err := c.get(ctx, c.booksLimiter, url, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket.GetOrderBook: %s: %w", outcomeID, err)
	}

	book := toOrderBook(resp)
	if book.MarketID == "" {
		book.MarketID = marketID
	}
	if book.OutcomeID == "" {
		book.OutcomeID = outcomeID
	}
	return book, nil
}
