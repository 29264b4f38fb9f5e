package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
)

const minVolatilityBars = 3

// RefreshVolatility measures the standard deviation of log returns over
// the lookback window and feeds it to the circuit breaker for the symbol
// scope.
func (e *TradeExecutor) RefreshVolatility(ctx context.Context, symbol, assetClass string) (breaker.VolatilityDecision, error) {
	end := e.now()
	start := end.Add(-e.cfg.VolatilityLookback)

	bars, err := e.market.GetHistoricalData(ctx, symbol, start, end)
	if err != nil {
		return breaker.VolatilityDecision{}, riskerrors.Categorize(err, component, "get_historical_data")
	}
	if len(bars) < minVolatilityBars {
		return breaker.VolatilityDecision{}, riskerrors.NewValidationError(component, "refresh_volatility",
			fmt.Sprintf("need at least %d bars for %s, got %d", minVolatilityBars, symbol, len(bars)))
	}

	vol := LogReturnStdDev(bars)
	decision := e.breaker.ProcessVolatility(breaker.LevelUnknown, vol, symbol, assetClass)
	e.log.Debug("volatility %s=%.5f sample=%s effective=%s", symbol, vol, decision.Sample, decision.Effective)
	return decision, nil
}

// LogReturnStdDev returns the sample standard deviation of close-to-close
// log returns. Bars with a non-positive close are skipped.
func LogReturnStdDev(bars []Bar) float64 {
	var returns []float64
	prev := 0.0
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		if prev > 0 {
			returns = append(returns, math.Log(b.Close/prev))
		}
		prev = b.Close
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
