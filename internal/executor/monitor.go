package executor

import (
	"context"
	"fmt"
	"time"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
)

// MonitorOrder polls the gateway every PollInterval until the order reaches
// a terminal status, ctx is done, or MonitorTimeout elapses. On FILLED the
// position is reconciled. On timeout the order keeps its last known status
// and stays active.
func (e *TradeExecutor) MonitorOrder(ctx context.Context, id string) (OrderStatus, error) {
	e.mu.Lock()
	order, ok := e.active[id]
	var snapshot Order
	if ok {
		snapshot = order.clone()
	}
	e.mu.Unlock()
	if !ok {
		return "", riskerrors.Wrap(riskerrors.ErrOrderNotFound, riskerrors.CategoryValidation, component, "monitor_order")
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.MonitorTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	last := snapshot.Status
	for {
		if status, tracked := e.activeStatus(id); !tracked {
			return status, nil
		}

		update, err := e.gateway.OrderStatus(ctx, snapshot)
		if err != nil {
			e.log.Warning("status poll for order %s failed: %v", id, err)
		} else {
			last = update.Status
			if update.Status.Terminal() {
				e.finishOrder(id, update)
				return update.Status, nil
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				e.log.Warning("monitoring of order %s timed out in status %s", id, last)
				return last, &riskerrors.RiskError{
					Category:   riskerrors.CategoryConnectivity,
					Component:  component,
					Operation:  "monitor_order",
					Message:    fmt.Sprintf("order %s still %s", id, last),
					Underlying: riskerrors.ErrMonitorTimeout,
				}
			}
			return last, riskerrors.Categorize(ctx.Err(), component, "monitor_order")
		case <-ticker.C:
		}
	}
}

// activeStatus reports whether id is still active, and otherwise the status
// it ended in.
func (e *TradeExecutor) activeStatus(id string) (OrderStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return StatusPending, true
	}
	if o, ok := e.orders[id]; ok {
		return o.Status, false
	}
	return "", false
}

// finishOrder applies a terminal update and removes the order from the
// active set. A concurrent cancel may already have removed it.
func (e *TradeExecutor) finishOrder(id string, update OrderUpdate) {
	e.mu.Lock()
	order, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, id)
	order.Status = update.Status
	if update.Status == StatusFilled {
		if update.AvgPrice > 0 {
			order.Price = update.AvgPrice
		}
		if update.FilledQty > 0 {
			order.Quantity = update.FilledQty
		}
		filledAt := e.now()
		order.FilledAt = &filledAt
	}
	filled := order.clone()
	e.mu.Unlock()

	switch update.Status {
	case StatusFilled:
		e.log.Trade("%s %s %s %.8f @ %.8f filled (order %s)", filled.Type, filled.Side, filled.Symbol, filled.Quantity, filled.Price, id)
		e.ApplyFill(filled)
		if filled.ParentOrderID != "" {
			e.cancelSiblings(filled)
		}
	default:
		e.log.Info("order %s %s", id, update.Status)
	}
}

// cancelSiblings drops the other protective child once one has filled.
// The venue-side cancel is best effort.
func (e *TradeExecutor) cancelSiblings(filled Order) {
	e.mu.Lock()
	var siblings []Order
	for _, o := range e.active {
		if o.ParentOrderID == filled.ParentOrderID && o.ID != filled.ID {
			siblings = append(siblings, o.clone())
		}
	}
	e.mu.Unlock()

	for _, s := range siblings {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PollInterval*5)
		if err := e.CancelOrder(ctx, s.ID); err != nil {
			e.log.Warning("failed to cancel sibling %s of %s: %v", s.ID, filled.ID, err)
		}
		cancel()
	}
}
