package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Action is what a strategy wants to do
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction parses a strategy action
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Signal is produced by a strategy. Quantity, StopLoss and TakeProfit are
// optional (zero means unset).
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	AssetClass string    `json:"asset_class,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
	TypeStop   OrderType = "STOP"
)

// OrderStatus moves from PENDING to exactly one terminal status
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Order is one order created by the executor
type Order struct {
	ID            string      `json:"id"`
	ExchangeID    string      `json:"exchange_id,omitempty"`
	StrategyID    string      `json:"strategy_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"order_type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price"`
	SignalPrice   float64     `json:"signal_price,omitempty"`
	Slippage      float64     `json:"slippage"`
	Status        OrderStatus `json:"status"`
	ParentOrderID string      `json:"parent_order_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	FilledAt      *time.Time  `json:"filled_at,omitempty"`
}

func (o *Order) clone() Order {
	out := *o
	if o.FilledAt != nil {
		at := *o.FilledAt
		out.FilledAt = &at
	}
	return out
}

// Position is the reconciled holding for one symbol
type Position struct {
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	CostBasis float64   `json:"cost_basis"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionMetrics are running execution-quality counters
type ExecutionMetrics struct {
	TotalOrders      int     `json:"total_orders"`
	SuccessfulOrders int     `json:"successful_orders"`
	FailedOrders     int     `json:"failed_orders"`
	AverageSlippage  float64 `json:"average_slippage"`
	SlippageSamples  int     `json:"slippage_samples"`
}

// SuccessRate returns successful/total, or 0 before the first order
func (m ExecutionMetrics) SuccessRate() float64 {
	if m.TotalOrders == 0 {
		return 0
	}
	return float64(m.SuccessfulOrders) / float64(m.TotalOrders)
}

// Quote is a fresh market price
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bar is one OHLCV candle
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OrderUpdate is what the gateway reports for a submitted order
type OrderUpdate struct {
	Status    OrderStatus
	AvgPrice  float64
	FilledQty float64
}

// MarketDataService supplies quotes and history
type MarketDataService interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Portfolio exposes the account state the risk limits need
type Portfolio interface {
	TotalValue() float64
	DailyDrawdown() float64
	DailyTradeCount() int
}

// OrderGateway submits and tracks orders at a venue
type OrderGateway interface {
	SubmitOrder(ctx context.Context, order Order) (exchangeID string, err error)
	OrderStatus(ctx context.Context, order Order) (OrderUpdate, error)
	CancelOrder(ctx context.Context, order Order) error
}

// MetricsRecorder mirrors execution metrics to an external sink
type MetricsRecorder interface {
	OrderAttempt(symbol string, success bool)
	Slippage(symbol string, slippage float64)
	ValidationRejected(code string)
	PositionUpdated(symbol string, quantity float64)
}

type nopRecorder struct{}

func (nopRecorder) OrderAttempt(string, bool)       {}
func (nopRecorder) Slippage(string, float64)        {}
func (nopRecorder) ValidationRejected(string)       {}
func (nopRecorder) PositionUpdated(string, float64) {}

// StaticPortfolio is a fixed Portfolio snapshot
type StaticPortfolio struct {
	Value      float64 `json:"total_value"`
	Drawdown   float64 `json:"daily_drawdown"`
	TradeCount int     `json:"daily_trade_count"`
}

func (p StaticPortfolio) TotalValue() float64   { return p.Value }
func (p StaticPortfolio) DailyDrawdown() float64 { return p.Drawdown }
func (p StaticPortfolio) DailyTradeCount() int   { return p.TradeCount }
