package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/pkg/types"
)

// OpenPosition places a market order in hedge mode and returns the order id
// and fill price. The open side and size are remembered so ClosePosition can
// later close exactly this slice of the aggregate position.
func (c *Client) OpenPosition(ctx context.Context, symbol string, side types.Side, lot float64, leverage int) (types.OrderResult, error) {
	body := map[string]string{
		"symbol":      symbol,
		"productType": c.productType,
		"marginMode":  "crossed",
		"marginCoin":  c.marginCoin,
		"size":        strconv.FormatFloat(lot, 'f', -1, 64),
		"side":        string(side),
		"tradeSide":   "open",
		"orderType":   "market",
		"clientOid":   uuid.NewString(),
	}

	data, err := c.do(ctx, "POST", "/api/v2/mix/order/place-order", nil, body)
	if err != nil {
		return types.OrderResult{}, err
	}

	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &placed); err != nil {
		return types.OrderResult{}, fmt.Errorf("decode place order: %w", err)
	}
	if placed.OrderID == "" {
		return types.OrderResult{}, fmt.Errorf("place order: %w", errMissingField)
	}

	c.mu.Lock()
	c.orders[placed.OrderID] = orderInfo{side: string(side), size: lot}
	c.mu.Unlock()

	filled, err := c.fillPrice(ctx, symbol, placed.OrderID)
	if err != nil {
		// Market order is accepted; fall back to the last traded price.
		ticker, terr := c.GetTicker(ctx, symbol)
		if terr != nil {
			return types.OrderResult{}, terr
		}
		filled = ticker.LastPrice
	}

	return types.OrderResult{OrderID: placed.OrderID, FilledPrice: filled}, nil
}

// fillPrice looks up the average fill price of an order.
func (c *Client) fillPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("productType", c.productType)
	query.Set("orderId", orderID)

	data, err := c.do(ctx, "GET", "/api/v2/mix/order/detail", query, nil)
	if err != nil {
		return 0, err
	}

	var detail struct {
		PriceAvg string `json:"priceAvg"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		return 0, fmt.Errorf("decode order detail: %w", err)
	}

	price := parseFloat(detail.PriceAvg)
	if price == 0 {
		return 0, fmt.Errorf("order %s fill price: %w", orderID, errMissingField)
	}
	return price, nil
}

// ClosePosition closes the slice opened under positionID with a reduce
// order on the matching hold side and reports its share of the side's
// unrealized PnL as realized.
func (c *Client) ClosePosition(ctx context.Context, symbol, positionID string) (types.CloseResult, error) {
	c.mu.Lock()
	info, ok := c.orders[positionID]
	c.mu.Unlock()
	if !ok {
		return types.CloseResult{}, exchange.NewError(exchange.KindNotFound,
			"close position", "", fmt.Errorf("unknown position id %s", positionID))
	}

	realized := c.realizedEstimate(ctx, symbol, info)

	body := map[string]string{
		"symbol":      symbol,
		"productType": c.productType,
		"marginMode":  "crossed",
		"marginCoin":  c.marginCoin,
		"size":        strconv.FormatFloat(info.size, 'f', -1, 64),
		"side":        info.side,
		"tradeSide":   "close",
		"orderType":   "market",
		"clientOid":   uuid.NewString(),
	}

	if _, err := c.do(ctx, "POST", "/api/v2/mix/order/place-order", nil, body); err != nil {
		return types.CloseResult{}, err
	}

	c.mu.Lock()
	delete(c.orders, positionID)
	c.mu.Unlock()

	return types.CloseResult{RealizedPnL: realized}, nil
}

// realizedEstimate apportions the side's unrealized PnL to the closing lot.
// Best effort: a fetch failure just reports 0.
func (c *Client) realizedEstimate(ctx context.Context, symbol string, info orderInfo) float64 {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return 0
	}
	want := types.Side(info.side)
	for _, p := range positions {
		if p.Side == want && p.Size > 0 {
			return p.UnrealizedPnL * (info.size / p.Size)
		}
	}
	return 0
}

// CancelAllOrders cancels every pending order for symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{
		"symbol":      symbol,
		"productType": c.productType,
		"marginCoin":  c.marginCoin,
	}
	_, err := c.do(ctx, "POST", "/api/v2/mix/order/cancel-all-orders", nil, body)
	return err
}
