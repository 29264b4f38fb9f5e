package bybit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
)

type call struct {
	ep     endpoint
	params map[string]interface{}
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     []call
	responses map[endpoint][]*bybit_api.ServerResponse
	errs      map[endpoint]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[endpoint][]*bybit_api.ServerResponse),
		errs:      make(map[endpoint]error),
	}
}

func (f *fakeTransport) Do(_ context.Context, ep endpoint, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{ep: ep, params: params})
	if err := f.errs[ep]; err != nil {
		return nil, err
	}
	queue := f.responses[ep]
	if len(queue) == 0 {
		return ok(map[string]interface{}{"list": []interface{}{}}), nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[ep] = queue[1:]
	}
	return resp, nil
}

func (f *fakeTransport) respond(ep endpoint, resps ...*bybit_api.ServerResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[ep] = resps
}

func (f *fakeTransport) callsTo(ep endpoint) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.ep == ep {
			out = append(out, c)
		}
	}
	return out
}

func ok(result interface{}) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: 0, RetMsg: "OK", Result: result}
}

func apiErr(code int, msg string) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: code, RetMsg: msg}
}

func btcInstrument() *bybit_api.ServerResponse {
	return ok(map[string]interface{}{
		"category": "spot",
		"list": []interface{}{map[string]interface{}{
			"symbol": "BTCUSDT",
			"status": "Trading",
			"lotSizeFilter": map[string]interface{}{
				"basePrecision": "0.000001",
				"minOrderQty":   "0.000048",
				"maxOrderQty":   "71.73956243",
			},
		}},
	})
}

func newTestClient(t *testing.T, ft *fakeTransport, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	cfg.FailureThreshold = 3
	if mutate != nil {
		mutate(&cfg)
	}
	c := newClient(cfg, ft, logger.Nop())
	c.now = func() time.Time { return time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC) }
	return c
}

func TestEnvironment(t *testing.T) {
	assert.Equal(t, "mainnet", newTestClient(t, newFakeTransport(), nil).Environment())
	assert.Equal(t, "testnet", newTestClient(t, newFakeTransport(), func(c *Config) { c.Testnet = true }).Environment())
	assert.Equal(t, "demo", newTestClient(t, newFakeTransport(), func(c *Config) { c.Demo = true; c.Testnet = true }).Environment())
}

func TestGetQuote(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointTickers, ok(map[string]interface{}{
		"category": "spot",
		"list": []interface{}{map[string]interface{}{
			"symbol": "BTCUSDT", "lastPrice": "64250.5", "bid1Price": "64250.4", "ask1Price": "64250.6",
		}},
	}))
	c := newTestClient(t, ft, nil)

	q, err := c.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 64250.5, q.Price)
	assert.Equal(t, 64250.4, q.Bid)
	assert.Equal(t, 64250.6, q.Ask)

	calls := ft.callsTo(endpointTickers)
	require.Len(t, calls, 1)
	assert.Equal(t, "spot", calls[0].params["category"])
	assert.Equal(t, "BTCUSDT", calls[0].params["symbol"])
}

func TestGetQuoteEmptyList(t *testing.T) {
	c := newTestClient(t, newFakeTransport(), nil)
	_, err := c.GetQuote(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestGetHistoricalDataOldestFirst(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointKline, ok(map[string]interface{}{
		"symbol": "BTCUSDT",
		"list": []interface{}{
			[]string{"1709733600000", "102", "103", "101", "102.5", "10", "1025"},
			[]string{"1709730000000", "101", "102", "100", "102", "12", "1224"},
			[]string{"1709726400000", "100", "101", "99", "101", "9", "909"},
			[]string{"bad"},
		},
	}))
	c := newTestClient(t, ft, nil)

	end := time.UnixMilli(1709733600000)
	start := end.Add(-2 * time.Hour)
	bars, err := c.GetHistoricalData(context.Background(), "BTCUSDT", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{101, 102, 102.5}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
	assert.True(t, bars[0].Time.Before(bars[2].Time))

	p := ft.callsTo(endpointKline)[0].params
	assert.Equal(t, "60", p["interval"])
	assert.Equal(t, start.UnixMilli(), p["start"])
	assert.Equal(t, end.UnixMilli(), p["end"])
}

func TestSubmitOrderParams(t *testing.T) {
	tests := []struct {
		name  string
		order executor.Order
		want  map[string]interface{}
		skip  []string
	}{
		{
			name:  "market buy rounds quantity down",
			order: executor.Order{ID: "p-1", Symbol: "BTCUSDT", Side: executor.SideBuy, Type: executor.TypeMarket, Quantity: 0.0123456789},
			want:  map[string]interface{}{"side": "Buy", "orderType": "Market", "qty": "0.012345", "orderLinkId": "p-1"},
			skip:  []string{"price", "triggerPrice"},
		},
		{
			name:  "take profit limit",
			order: executor.Order{ID: "c-1", Symbol: "BTCUSDT", Side: executor.SideSell, Type: executor.TypeLimit, Quantity: 0.5, Price: 70000, ParentOrderID: "p-1"},
			want:  map[string]interface{}{"side": "Sell", "orderType": "Limit", "price": "70000", "timeInForce": "GTC", "qty": "0.5"},
			skip:  []string{"reduceOnly"},
		},
		{
			name:  "stop loss trigger",
			order: executor.Order{ID: "c-2", Symbol: "BTCUSDT", Side: executor.SideSell, Type: executor.TypeStop, Quantity: 0.5, Price: 60000.5, ParentOrderID: "p-1"},
			want:  map[string]interface{}{"orderType": "Market", "triggerPrice": "60000.5", "triggerDirection": triggerOnFall, "orderFilter": "StopOrder"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.respond(endpointInstruments, btcInstrument())
			ft.respond(endpointPlaceOrder, ok(map[string]interface{}{"orderId": "1690", "orderLinkId": tt.order.ID}))
			c := newTestClient(t, ft, nil)

			id, err := c.SubmitOrder(context.Background(), tt.order)
			require.NoError(t, err)
			assert.Equal(t, "1690", id)

			calls := ft.callsTo(endpointPlaceOrder)
			require.Len(t, calls, 1)
			for k, v := range tt.want {
				assert.Equal(t, v, calls[0].params[k], k)
			}
			for _, k := range tt.skip {
				assert.NotContains(t, calls[0].params, k)
			}
		})
	}
}

func TestSubmitOrderReduceOnlyForDerivatives(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointInstruments, ok(map[string]interface{}{
		"list": []interface{}{map[string]interface{}{
			"symbol":        "BTCUSDT",
			"lotSizeFilter": map[string]interface{}{"minOrderQty": "0.001", "maxOrderQty": "100", "qtyStep": "0.001"},
		}},
	}))
	ft.respond(endpointPlaceOrder, ok(map[string]interface{}{"orderId": "7"}))
	c := newTestClient(t, ft, func(c *Config) { c.Category = "linear" })

	_, err := c.SubmitOrder(context.Background(), executor.Order{
		ID: "c-1", Symbol: "BTCUSDT", Side: executor.SideSell, Type: executor.TypeStop, Quantity: 0.0155, Price: 60000, ParentOrderID: "p-1",
	})
	require.NoError(t, err)

	p := ft.callsTo(endpointPlaceOrder)[0].params
	assert.Equal(t, true, p["reduceOnly"])
	assert.Equal(t, "0.015", p["qty"])
	assert.NotContains(t, p, "orderFilter")
}

func TestSubmitOrderBelowMinimum(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointInstruments, btcInstrument())
	c := newTestClient(t, ft, nil)

	_, err := c.SubmitOrder(context.Background(), executor.Order{ID: "p-1", Symbol: "BTCUSDT", Side: executor.SideBuy, Type: executor.TypeMarket, Quantity: 0.00001})
	assert.True(t, riskerrors.IsCategory(err, riskerrors.CategoryValidation))
	assert.Empty(t, ft.callsTo(endpointPlaceOrder))
}

func TestInstrumentFiltersAreCached(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointInstruments, btcInstrument())
	ft.respond(endpointPlaceOrder, ok(map[string]interface{}{"orderId": "1"}))
	c := newTestClient(t, ft, nil)

	for i := 0; i < 3; i++ {
		_, err := c.SubmitOrder(context.Background(), executor.Order{ID: "p", Symbol: "BTCUSDT", Side: executor.SideBuy, Type: executor.TypeMarket, Quantity: 0.01})
		require.NoError(t, err)
	}
	assert.Len(t, ft.callsTo(endpointInstruments), 1)
}

func TestOrderStatusMapping(t *testing.T) {
	tests := []struct {
		venue string
		want  executor.OrderStatus
	}{
		{"New", executor.StatusPending},
		{"PartiallyFilled", executor.StatusPending},
		{"Untriggered", executor.StatusPending},
		{"Filled", executor.StatusFilled},
		{"Cancelled", executor.StatusCancelled},
		{"PartiallyFilledCanceled", executor.StatusCancelled},
		{"Deactivated", executor.StatusCancelled},
		{"Rejected", executor.StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.venue, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.venue))
		})
	}
}

func TestOrderStatusFallsBackToHistory(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointOrderHistory, ok(map[string]interface{}{
		"list": []interface{}{map[string]interface{}{
			"orderId": "1690", "orderLinkId": "c-1", "orderStatus": "Filled", "avgPrice": "70010.5", "cumExecQty": "0.5",
		}},
	}))
	c := newTestClient(t, ft, nil)

	update, err := c.OrderStatus(context.Background(), executor.Order{ID: "c-1", ExchangeID: "1690", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusFilled, update.Status)
	assert.Equal(t, 70010.5, update.AvgPrice)
	assert.Equal(t, 0.5, update.FilledQty)

	assert.Len(t, ft.callsTo(endpointOpenOrders), 1)
	assert.Equal(t, "1690", ft.callsTo(endpointOrderHistory)[0].params["orderId"])
}

func TestOrderStatusNotFound(t *testing.T) {
	c := newTestClient(t, newFakeTransport(), nil)
	_, err := c.OrderStatus(context.Background(), executor.Order{ID: "c-1", Symbol: "BTCUSDT"})
	assert.True(t, IsOrderNotFoundError(err))
}

func TestCancelOrderByLinkID(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, nil)

	require.NoError(t, c.CancelOrder(context.Background(), executor.Order{ID: "c-1", Symbol: "BTCUSDT"}))
	p := ft.callsTo(endpointCancelOrder)[0].params
	assert.Equal(t, "c-1", p["orderLinkId"])
	assert.NotContains(t, p, "orderId")
}

func TestAPIErrorsAreCategorized(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"rate limit", ErrCodeRateLimitExceeded, true},
		{"server timeout", ErrCodeServerTimeout, true},
		{"insufficient balance", ErrCodeInsufficientBalance, false},
		{"bad api key", ErrCodeInvalidAPIKey, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.respond(endpointTickers, apiErr(tt.code, ""))
			c := newTestClient(t, ft, nil)

			_, err := c.GetQuote(context.Background(), "BTCUSDT")
			require.Error(t, err)

			var bybitErr *BybitError
			require.True(t, errors.As(err, &bybitErr))
			assert.Equal(t, tt.code, bybitErr.Code)
			assert.Equal(t, GetErrorDescription(tt.code), bybitErr.Message)

			categorized := riskerrors.Categorize(err, "executor", "get_quote")
			assert.Equal(t, riskerrors.CategoryConnectivity, categorized.Category)
			assert.Equal(t, tt.retryable, riskerrors.IsRetryable(categorized))
		})
	}
}

func TestGuardTripsOnConsecutiveFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.errs[endpointTickers] = errors.New("connection refused")
	c := newTestClient(t, ft, nil)

	var reasons []string
	c.SetStateHooks(StateHooks{OnTrip: func(reason string) { reasons = append(reasons, reason) }})

	for i := 0; i < 5; i++ {
		_, err := c.GetQuote(context.Background(), "BTCUSDT")
		assert.Error(t, err)
	}

	// Three requests reached the transport before the guard opened.
	assert.Len(t, ft.callsTo(endpointTickers), 3)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "bybit-mainnet")
}

func TestGuardIgnoresVenueRejections(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(endpointCancelOrder, apiErr(ErrCodeOrderNotFound, "order not exists"))
	c := newTestClient(t, ft, nil)

	tripped := false
	c.SetStateHooks(StateHooks{OnTrip: func(string) { tripped = true }})

	for i := 0; i < 5; i++ {
		err := c.CancelOrder(context.Background(), executor.Order{ID: "x", Symbol: "BTCUSDT"})
		assert.True(t, IsOrderNotFoundError(err))
	}
	assert.False(t, tripped)
	assert.Len(t, ft.callsTo(endpointCancelOrder), 5)
}

func TestGuardRecovers(t *testing.T) {
	ft := newFakeTransport()
	ft.errs[endpointTickers] = errors.New("connection refused")
	c := newTestClient(t, ft, func(c *Config) { c.OpenTimeout = 10 * time.Millisecond })

	recovered := false
	c.SetStateHooks(StateHooks{OnRecover: func() { recovered = true }})

	for i := 0; i < 3; i++ {
		_, _ = c.GetQuote(context.Background(), "BTCUSDT")
	}

	ft.mu.Lock()
	delete(ft.errs, endpointTickers)
	ft.mu.Unlock()
	ft.respond(endpointTickers, ok(map[string]interface{}{
		"list": []interface{}{map[string]interface{}{"symbol": "BTCUSDT", "lastPrice": "1"}},
	}))

	time.Sleep(20 * time.Millisecond)
	_, err := c.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, recovered)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, func(c *Config) { c.RequestsPerSecond = 0.001; c.Burst = 1 })

	_, _ = c.GetQuote(context.Background(), "BTCUSDT")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetQuote(ctx, "BTCUSDT")
	assert.Error(t, err)
	assert.Len(t, ft.callsTo(endpointTickers), 1)
}
