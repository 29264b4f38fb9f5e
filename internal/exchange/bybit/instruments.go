package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
)

type lotSize struct {
	min, max, step decimal.Decimal
	fetched        time.Time
}

// instrumentCache keeps per-symbol lot size filters
type instrumentCache struct {
	client *Client
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]lotSize
}

func newInstrumentCache(c *Client, ttl time.Duration) *instrumentCache {
	return &instrumentCache{client: c, ttl: ttl, entries: make(map[string]lotSize)}
}

func (ic *instrumentCache) get(ctx context.Context, symbol string) (lotSize, error) {
	ic.mu.RLock()
	ls, ok := ic.entries[symbol]
	ic.mu.RUnlock()
	if ok && ic.client.now().Sub(ls.fetched) < ic.ttl {
		return ls, nil
	}

	params := map[string]interface{}{
		"category": ic.client.cfg.Category,
		"symbol":   symbol,
	}
	resp, err := ic.client.call(ctx, endpointInstruments, params)
	if err != nil {
		return lotSize{}, fmt.Errorf("failed to fetch instrument info: %w", err)
	}
	var result instrumentResult
	if err := decodeResult(resp, &result); err != nil {
		return lotSize{}, err
	}

	for _, item := range result.List {
		if item.Symbol != symbol {
			continue
		}
		f := item.LotSizeFilter
		step := f.QtyStep
		if step == "" {
			// spot instruments publish basePrecision instead of qtyStep
			step = f.BasePrecision
		}
		ls = lotSize{
			min:     decimalOrZero(f.MinOrderQty),
			max:     decimalOrZero(f.MaxOrderQty),
			step:    decimalOrZero(step),
			fetched: ic.client.now(),
		}
		ic.mu.Lock()
		ic.entries[symbol] = ls
		ic.mu.Unlock()
		return ls, nil
	}
	return lotSize{}, NewBybitError(ErrCodeSymbolNotFound, GetErrorDescription(ErrCodeSymbolNotFound), symbol)
}

// normalize rounds qty down to the lot step and caps it at the maximum.
// Rounding never increases the size the risk checks approved.
func (ic *instrumentCache) normalize(ctx context.Context, symbol string, qty float64) (string, error) {
	ls, err := ic.get(ctx, symbol)
	if err != nil {
		return "", err
	}

	q := decimal.NewFromFloat(qty)
	if ls.max.IsPositive() && q.GreaterThan(ls.max) {
		q = ls.max
	}
	if ls.step.IsPositive() {
		q = q.Div(ls.step).Floor().Mul(ls.step)
	}
	if q.LessThan(ls.min) || !q.IsPositive() {
		return "", riskerrors.NewValidationError("bybit", "submit_order",
			fmt.Sprintf("quantity %s for %s is below the minimum order size %s", formatFloat(qty), symbol, ls.min))
	}
	return q.String(), nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
