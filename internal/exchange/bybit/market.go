package bybit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ducminhle1904/risk-control-plane/internal/executor"
)

const maxKlineLimit = 1000

// GetQuote returns the last traded price with the top of book
func (c *Client) GetQuote(ctx context.Context, symbol string) (executor.Quote, error) {
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
	}

	resp, err := c.call(ctx, endpointTickers, params)
	if err != nil {
		return executor.Quote{}, fmt.Errorf("failed to get latest price: %w", err)
	}

	var result tickerResult
	if err := decodeResult(resp, &result); err != nil {
		return executor.Quote{}, err
	}
	if len(result.List) == 0 {
		return executor.Quote{}, fmt.Errorf("no ticker data found for %s", symbol)
	}

	t := result.List[0]
	return executor.Quote{
		Symbol:    symbol,
		Price:     parseFloat64(t.LastPrice),
		Bid:       parseFloat64(t.Bid1Price),
		Ask:       parseFloat64(t.Ask1Price),
		Timestamp: c.now(),
	}, nil
}

// GetHistoricalData returns bars between start and end, oldest first
func (c *Client) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]executor.Bar, error) {
	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   symbol,
		"interval": string(c.cfg.KlineInterval),
		"start":    start.UnixMilli(),
		"end":      end.UnixMilli(),
		"limit":    maxKlineLimit,
	}

	resp, err := c.call(ctx, endpointKline, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	var result klineResult
	if err := decodeResult(resp, &result); err != nil {
		return nil, err
	}

	bars := make([]executor.Bar, 0, len(result.List))
	for _, item := range result.List {
		if len(item) < 6 {
			continue
		}
		bars = append(bars, executor.Bar{
			Time:   time.UnixMilli(parseInt64(item[0])).UTC(),
			Open:   parseFloat64(item[1]),
			High:   parseFloat64(item[2]),
			Low:    parseFloat64(item[3]),
			Close:  parseFloat64(item[4]),
			Volume: parseFloat64(item[5]),
		})
	}
	// The venue returns newest first.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
