package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

// CreateOrder fetches a fresh quote, rejects the order when slippage
// exceeds MaxSlippage, submits it and attaches protective children.
// Connectivity failures are retried up to MaxRetries attempts with a fixed
// delay. A nil order means no order was created.
func (e *TradeExecutor) CreateOrder(ctx context.Context, signal Signal, quantity float64) (*Order, error) {
	if quantity <= 0 {
		return nil, riskerrors.NewValidationError(component, "create_order", "quantity must be positive")
	}
	if signal.Price <= 0 {
		return nil, riskerrors.NewValidationError(component, "create_order", "signal price must be positive")
	}
	side := SideBuy
	if signal.Action == ActionSell {
		side = SideSell
	} else if signal.Action != ActionBuy {
		return nil, riskerrors.NewValidationError(component, "create_order", fmt.Sprintf("cannot create order for action %q", signal.Action))
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		order, err := e.attemptOrder(ctx, signal, side, quantity)
		if err == nil {
			e.recordAttempt(signal.Symbol, true)
			e.AttachProtection(ctx, *order, signal.StopLoss, signal.TakeProfit)
			return order, nil
		}
		e.recordAttempt(signal.Symbol, false)
		lastErr = err

		if riskerrors.Is(err, riskerrors.ErrSlippageExceeded) || !riskerrors.IsRetryable(err) {
			return nil, err
		}

		e.log.Warning("order attempt %d/%d for %s failed: %v", attempt, e.cfg.MaxRetries, signal.Symbol, err)
		if attempt == e.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, riskerrors.Categorize(ctx.Err(), component, "create_order")
		case <-time.After(e.cfg.RetryDelay):
		}
	}

	e.breaker.Trip(breaker.TypeExecution,
		fmt.Sprintf("order creation failed after %d attempts: %v", e.cfg.MaxRetries, lastErr),
		breaker.WithScope(signal.Symbol), breaker.WithStatus(breaker.StatusRestricted))

	return nil, &riskerrors.RiskError{
		Category:   riskerrors.CategoryConnectivity,
		Component:  component,
		Operation:  "create_order",
		Message:    fmt.Sprintf("%v after %d attempts", riskerrors.ErrRetriesExhausted, e.cfg.MaxRetries),
		Underlying: fmt.Errorf("%w: %v", riskerrors.ErrRetriesExhausted, lastErr),
	}
}

func (e *TradeExecutor) attemptOrder(ctx context.Context, signal Signal, side OrderSide, quantity float64) (*Order, error) {
	quote, err := e.market.GetQuote(ctx, signal.Symbol)
	if err != nil {
		return nil, riskerrors.Categorize(err, component, "get_quote")
	}
	if quote.Price <= 0 {
		return nil, riskerrors.New(riskerrors.CategoryConnectivity, component, "get_quote",
			fmt.Sprintf("invalid quote price %.8f for %s", quote.Price, signal.Symbol))
	}

	slippage := math.Abs(quote.Price-signal.Price) / signal.Price
	e.recordSlippage(signal.Symbol, slippage)
	if slippage > e.cfg.MaxSlippage {
		return nil, &riskerrors.RiskError{
			Category:   riskerrors.CategoryValidation,
			Component:  component,
			Operation:  "create_order",
			Message:    fmt.Sprintf("slippage %.4f exceeds %.4f for %s", slippage, e.cfg.MaxSlippage, signal.Symbol),
			Underlying: riskerrors.ErrSlippageExceeded,
		}
	}

	now := e.now()
	order := &Order{
		ID:          uuid.NewString(),
		StrategyID:  signal.StrategyID,
		Symbol:      signal.Symbol,
		Side:        side,
		Type:        TypeMarket,
		Quantity:    quantity,
		Price:       quote.Price,
		SignalPrice: signal.Price,
		Slippage:    slippage,
		Status:      StatusPending,
		CreatedAt:   now,
	}

	exchangeID, err := e.gateway.SubmitOrder(ctx, *order)
	if err != nil {
		return nil, riskerrors.Categorize(err, component, "submit_order")
	}
	order.ExchangeID = exchangeID
	order.Status = StatusFilled
	filledAt := e.now()
	order.FilledAt = &filledAt

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	e.log.Trade("%s %s %.8f @ %.8f filled (slippage %.4f%%, order %s)",
		order.Side, order.Symbol, order.Quantity, order.Price, slippage*100, order.ID)

	out := order.clone()
	return &out, nil
}

// AttachProtection creates the STOP and LIMIT children of a filled parent.
// Children are submitted to the gateway and tracked as active orders.
func (e *TradeExecutor) AttachProtection(ctx context.Context, parent Order, stopLoss, takeProfit float64) []Order {
	if e.cfg.DeriveProtection && parent.Price > 0 {
		dir := 1.0
		if parent.Side == SideSell {
			dir = -1.0
		}
		if stopLoss <= 0 {
			if pct := e.limits.Float(riskconfig.PathStopLossPct, e.cfg.Profile, 0); pct > 0 {
				stopLoss = parent.Price * (1 - dir*pct)
			}
		}
		if takeProfit <= 0 {
			if pct := e.limits.Float(riskconfig.PathTakeProfitPct, e.cfg.Profile, 0); pct > 0 {
				takeProfit = parent.Price * (1 + dir*pct)
			}
		}
	}

	var children []Order
	for _, leg := range []struct {
		typ   OrderType
		price float64
	}{
		{TypeStop, stopLoss},
		{TypeLimit, takeProfit},
	} {
		if leg.price <= 0 {
			continue
		}
		child := &Order{
			ID:            uuid.NewString(),
			StrategyID:    parent.StrategyID,
			Symbol:        parent.Symbol,
			Side:          parent.Side.Opposite(),
			Type:          leg.typ,
			Quantity:      parent.Quantity,
			Price:         leg.price,
			Status:        StatusPending,
			ParentOrderID: parent.ID,
			CreatedAt:     e.now(),
		}

		exchangeID, err := e.gateway.SubmitOrder(ctx, *child)
		if err != nil {
			e.log.Error("failed to submit %s child for order %s: %v", leg.typ, parent.ID, err)
			continue
		}
		child.ExchangeID = exchangeID

		e.mu.Lock()
		e.orders[child.ID] = child
		e.active[child.ID] = child
		e.mu.Unlock()

		e.log.Info("%s child %s %s @ %.8f attached to %s", leg.typ, child.Side, child.Symbol, child.Price, parent.ID)
		children = append(children, child.clone())
	}
	return children
}

// Children returns copies of the child orders of parentID
func (e *TradeExecutor) Children(parentID string) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Order
	for _, o := range e.orders {
		if o.ParentOrderID == parentID {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type > out[j].Type })
	return out
}

// CancelOrder cancels an active order at the gateway and stops tracking it
func (e *TradeExecutor) CancelOrder(ctx context.Context, id string) error {
	e.mu.Lock()
	order, ok := e.active[id]
	var snapshot Order
	if ok {
		snapshot = order.clone()
	}
	e.mu.Unlock()
	if !ok {
		return riskerrors.Wrap(riskerrors.ErrOrderNotFound, riskerrors.CategoryValidation, component, "cancel_order")
	}

	if err := e.gateway.CancelOrder(ctx, snapshot); err != nil {
		return riskerrors.Categorize(err, component, "cancel_order")
	}

	e.mu.Lock()
	if current, ok := e.active[id]; ok {
		current.Status = StatusCancelled
		delete(e.active, id)
	}
	e.mu.Unlock()

	e.log.Info("order %s cancelled", id)
	return nil
}
