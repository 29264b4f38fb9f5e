package executor

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type position struct {
	quantity  decimal.Decimal
	costBasis decimal.Decimal
	updatedAt time.Time
}

func (p *position) view(symbol string) Position {
	return Position{
		Symbol:    symbol,
		Quantity:  p.quantity.InexactFloat64(),
		CostBasis: p.costBasis.InexactFloat64(),
		UpdatedAt: p.updatedAt,
	}
}

// ApplyFill reconciles a filled order into the position for its symbol.
// BUY fills create the position or fold into a quantity-weighted average
// cost basis. SELL fills reduce quantity and delete the position at zero.
func (e *TradeExecutor) ApplyFill(order Order) {
	if order.Quantity <= 0 {
		return
	}
	qty := decimal.NewFromFloat(order.Quantity)
	price := decimal.NewFromFloat(order.Price)

	e.mu.Lock()
	pos, exists := e.positions[order.Symbol]
	var remaining float64
	switch order.Side {
	case SideBuy:
		if !exists {
			pos = &position{quantity: qty, costBasis: price}
			e.positions[order.Symbol] = pos
		} else {
			total := pos.quantity.Add(qty)
			pos.costBasis = pos.quantity.Mul(pos.costBasis).Add(qty.Mul(price)).Div(total)
			pos.quantity = total
		}
		pos.updatedAt = e.now()
		remaining = pos.quantity.InexactFloat64()
	case SideSell:
		if !exists {
			e.mu.Unlock()
			e.log.Warning("sell fill for %s with no open position ignored (order %s)", order.Symbol, order.ID)
			return
		}
		pos.quantity = pos.quantity.Sub(qty)
		pos.updatedAt = e.now()
		if pos.quantity.LessThanOrEqual(decimal.Zero) {
			delete(e.positions, order.Symbol)
			remaining = 0
		} else {
			remaining = pos.quantity.InexactFloat64()
		}
	}
	e.mu.Unlock()

	e.recorder.PositionUpdated(order.Symbol, remaining)
}

// Position returns the current position for symbol
func (e *TradeExecutor) Position(symbol string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return pos.view(symbol), true
}

// Positions returns every open position ordered by symbol
func (e *TradeExecutor) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for symbol, pos := range e.positions {
		out = append(out, pos.view(symbol))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
