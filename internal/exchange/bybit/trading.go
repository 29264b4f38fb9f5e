package bybit

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/risk-control-plane/internal/executor"
)

// Venue trigger directions for conditional orders
const (
	triggerOnRise = 1
	triggerOnFall = 2
)

// SubmitOrder places order at the venue and returns the venue order id.
// The executor's order id is sent as orderLinkId so status queries and
// cancels can address the order before the venue id is known.
func (c *Client) SubmitOrder(ctx context.Context, order executor.Order) (string, error) {
	if order.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	qty, err := c.instruments.normalize(ctx, order.Symbol, order.Quantity)
	if err != nil {
		return "", err
	}

	params := map[string]interface{}{
		"category":    c.cfg.Category,
		"symbol":      order.Symbol,
		"side":        venueSide(order.Side),
		"qty":         qty,
		"orderLinkId": order.ID,
	}

	switch order.Type {
	case executor.TypeMarket:
		params["orderType"] = "Market"
	case executor.TypeLimit:
		if order.Price <= 0 {
			return "", fmt.Errorf("price is required for limit orders")
		}
		params["orderType"] = "Limit"
		params["price"] = formatFloat(order.Price)
		params["timeInForce"] = "GTC"
	case executor.TypeStop:
		if order.Price <= 0 {
			return "", fmt.Errorf("trigger price is required for stop orders")
		}
		params["orderType"] = "Market"
		params["triggerPrice"] = formatFloat(order.Price)
		params["triggerDirection"] = stopDirection(order.Side)
		if c.cfg.Category == "spot" {
			params["orderFilter"] = "StopOrder"
		}
	default:
		return "", fmt.Errorf("unsupported order type %s", order.Type)
	}
	if order.ParentOrderID != "" && c.cfg.Category != "spot" {
		params["reduceOnly"] = true
	}

	resp, err := c.call(ctx, endpointPlaceOrder, params)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	var placed placeOrderResult
	if err := decodeResult(resp, &placed); err != nil {
		return "", err
	}
	if placed.OrderID == "" {
		return "", fmt.Errorf("venue returned no order id for %s", order.ID)
	}
	c.log.Info("placed %s %s %s qty=%s link=%s id=%s", order.Type, order.Side, order.Symbol, qty, order.ID, placed.OrderID)
	return placed.OrderID, nil
}

// OrderStatus looks the order up among open orders first and then in the
// order history.
func (c *Client) OrderStatus(ctx context.Context, order executor.Order) (executor.OrderUpdate, error) {
	params := orderRef(c.cfg.Category, order)

	for _, ep := range []endpoint{endpointOpenOrders, endpointOrderHistory} {
		resp, err := c.call(ctx, ep, params)
		if err != nil {
			return executor.OrderUpdate{}, fmt.Errorf("failed to get order status: %w", err)
		}
		var result orderListResult
		if err := decodeResult(resp, &result); err != nil {
			return executor.OrderUpdate{}, err
		}
		for _, row := range result.List {
			if row.OrderLinkID == order.ID || (order.ExchangeID != "" && row.OrderID == order.ExchangeID) {
				return toUpdate(row), nil
			}
		}
	}
	return executor.OrderUpdate{}, NewBybitError(ErrCodeOrderNotFound, GetErrorDescription(ErrCodeOrderNotFound), order.ID)
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, order executor.Order) error {
	if _, err := c.call(ctx, endpointCancelOrder, orderRef(c.cfg.Category, order)); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

func orderRef(category string, order executor.Order) map[string]interface{} {
	params := map[string]interface{}{
		"category": category,
		"symbol":   order.Symbol,
	}
	if order.ExchangeID != "" {
		params["orderId"] = order.ExchangeID
	} else {
		params["orderLinkId"] = order.ID
	}
	return params
}

func venueSide(s executor.OrderSide) string {
	if s == executor.SideSell {
		return "Sell"
	}
	return "Buy"
}

// A sell stop protects a long and fires on the way down.
func stopDirection(s executor.OrderSide) int {
	if s == executor.SideSell {
		return triggerOnFall
	}
	return triggerOnRise
}

func toUpdate(row orderRow) executor.OrderUpdate {
	return executor.OrderUpdate{
		Status:    mapStatus(row.OrderStatus),
		AvgPrice:  parseFloat64(row.AvgPrice),
		FilledQty: parseFloat64(row.CumExecQty),
	}
}

func mapStatus(s string) executor.OrderStatus {
	switch s {
	case statusFilled:
		return executor.StatusFilled
	case statusCancelled, statusPartiallyFilledCancel, statusDeactivated:
		return executor.StatusCancelled
	case statusRejected:
		return executor.StatusRejected
	default:
		// New, PartiallyFilled, Untriggered, Triggered
		return executor.StatusPending
	}
}
