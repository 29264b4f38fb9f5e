package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

var errFlaky = errors.New("connection reset by peer")

type fakeMarket struct {
	mu        sync.Mutex
	prices    map[string]float64
	failures  int // quote calls that fail before succeeding
	bars      []Bar
	barsErr   error
	quoteHits int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50, "LUNAUSDT": 1}}
}

func (m *fakeMarket) GetQuote(_ context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteHits++
	if m.failures > 0 {
		m.failures--
		return Quote{}, errFlaky
	}
	price, ok := m.prices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("invalid symbol %s", symbol)
	}
	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (m *fakeMarket) GetHistoricalData(context.Context, string, time.Time, time.Time) ([]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bars, m.barsErr
}

func (m *fakeMarket) setPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

type fakeGateway struct {
	mu        sync.Mutex
	submitted []Order
	cancelled []string
	submitErr error
	statusErr error
	updates   map[OrderType][]OrderUpdate
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{updates: make(map[OrderType][]OrderUpdate)}
}

func (g *fakeGateway) SubmitOrder(_ context.Context, order Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submitted = append(g.submitted, order)
	return fmt.Sprintf("ex-%d", len(g.submitted)), nil
}

func (g *fakeGateway) OrderStatus(_ context.Context, order Order) (OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return OrderUpdate{}, g.statusErr
	}
	for _, id := range g.cancelled {
		if id == order.ID {
			return OrderUpdate{Status: StatusCancelled}, nil
		}
	}
	queue := g.updates[order.Type]
	if len(queue) == 0 {
		return OrderUpdate{Status: StatusPending}, nil
	}
	next := queue[0]
	g.updates[order.Type] = queue[1:]
	return next, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, order Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, order.ID)
	return nil
}

func (g *fakeGateway) queue(t OrderType, updates ...OrderUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates[t] = append(g.updates[t], updates...)
}

func (g *fakeGateway) submittedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

func (g *fakeGateway) cancelledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type recordingMetrics struct {
	mu         sync.Mutex
	attempts   int
	rejections []string
	positions  map[string]float64
}

func (r *recordingMetrics) OrderAttempt(string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *recordingMetrics) Slippage(string, float64) {}

func (r *recordingMetrics) ValidationRejected(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, code)
}

func (r *recordingMetrics) PositionUpdated(symbol string, qty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.positions == nil {
		r.positions = make(map[string]float64)
	}
	r.positions[symbol] = qty
}

type fixture struct {
	exec    *TradeExecutor
	breaker *breaker.CircuitBreaker
	config  *riskconfig.Manager
	market  *fakeMarket
	gateway *fakeGateway
	metrics *recordingMetrics
	now     time.Time
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	now := time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC) // Wednesday
	clock := func() time.Time { return now }

	f := &fixture{
		breaker: breaker.New(breaker.Options{Now: clock, Rand: fixedRand(0.99)}),
		config:  riskconfig.NewManager(riskconfig.Options{Now: clock}),
		market:  newFakeMarket(),
		gateway: newFakeGateway(),
		metrics: &recordingMetrics{},
		now:     now,
	}

	opts := Options{
		Config: Config{
			Profile:        riskconfig.Moderate,
			RetryDelay:     time.Millisecond,
			PollInterval:   2 * time.Millisecond,
			MonitorTimeout: time.Second,
		},
		Breaker:    f.breaker,
		Limits:     f.config,
		MarketData: f.market,
		Gateway:    f.gateway,
		Metrics:    f.metrics,
		Now:        clock,
	}
	if mutate != nil {
		mutate(&opts)
	}

	exec, err := New(opts)
	require.NoError(t, err)
	f.exec = exec
	return f
}

func buySignal(qty float64) Signal {
	return Signal{
		StrategyID: "ma-cross",
		Symbol:     "BTCUSDT",
		Action:     ActionBuy,
		Confidence: 0.8,
		Price:      100,
		Quantity:   qty,
	}
}

func healthyPortfolio() StaticPortfolio {
	return StaticPortfolio{Value: 100000, Drawdown: 0.005, TradeCount: 3}
}
