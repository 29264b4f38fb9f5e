package riskconfig

import (
	"fmt"
	"strings"
)

// ProfileName identifies a risk profile
type ProfileName string

const (
	Conservative ProfileName = "conservative"
	Moderate     ProfileName = "moderate"
	Aggressive   ProfileName = "aggressive"
	Custom       ProfileName = "custom"
)

// DefaultProfile is used when a caller names no profile or an unknown one
const DefaultProfile = Moderate

// Parameter paths read by the executor
const (
	PathMaxPositionSize    = "position_sizing.max_position_size"
	PathMaxDailyDrawdown   = "drawdown_limits.max_daily_drawdown"
	PathMaxTradesPerDay    = "trade_limitations.max_trades_per_day"
	PathRestrictedAssets   = "trade_limitations.restricted_assets"
	PathMaxCorrelation     = "correlation_limits.max_correlation"
	PathMaxVolatility      = "volatility_limits.max_volatility"
	PathMaxTotalExposure   = "exposure_limits.max_total_exposure"
	PathStopLossPct        = "position_sizing.stop_loss_pct"
	PathTakeProfitPct      = "position_sizing.take_profit_pct"
	PathVolatilityLookback = "volatility_limits.lookback_hours"
)

// Tree is a nested parameter mapping: category -> parameter -> value
type Tree = map[string]interface{}

// ParseProfileName validates a profile name
func ParseProfileName(s string) (ProfileName, error) {
	switch p := ProfileName(strings.ToLower(strings.TrimSpace(s))); p {
	case Conservative, Moderate, Aggressive, Custom:
		return p, nil
	case "":
		return DefaultProfile, nil
	default:
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
}

// BuiltinProfiles lists the profiles that always exist
func BuiltinProfiles() []ProfileName {
	return []ProfileName{Conservative, Moderate, Aggressive}
}

// DefaultTree returns a fresh copy of the hard-coded tree for name. ok is
// false for custom, which has no default.
func DefaultTree(name ProfileName) (Tree, bool) {
	switch name {
	case Conservative:
		return buildTree(limits{
			maxPositionSize: 0.05, riskPerTrade: 0.005, stopLoss: 0.02, takeProfit: 0.04,
			maxVolatility: 0.03,
			maxDailyDrawdown: 0.01, maxTotalDrawdown: 0.05,
			maxTradesPerDay: 10, minMinutesBetween: 30,
			maxCorrelation: 0.5,
			maxTotalExposure: 0.3, maxSymbolExposure: 0.1,
		}), true
	case Moderate:
		return buildTree(limits{
			maxPositionSize: 0.08, riskPerTrade: 0.01, stopLoss: 0.03, takeProfit: 0.06,
			maxVolatility: 0.05,
			maxDailyDrawdown: 0.02, maxTotalDrawdown: 0.10,
			maxTradesPerDay: 20, minMinutesBetween: 15,
			maxCorrelation: 0.7,
			maxTotalExposure: 0.6, maxSymbolExposure: 0.2,
		}), true
	case Aggressive:
		return buildTree(limits{
			maxPositionSize: 0.15, riskPerTrade: 0.02, stopLoss: 0.05, takeProfit: 0.10,
			maxVolatility: 0.08,
			maxDailyDrawdown: 0.04, maxTotalDrawdown: 0.20,
			maxTradesPerDay: 50, minMinutesBetween: 5,
			maxCorrelation: 0.85,
			maxTotalExposure: 0.9, maxSymbolExposure: 0.35,
		}), true
	default:
		return nil, false
	}
}

type limits struct {
	maxPositionSize, riskPerTrade, stopLoss, takeProfit float64
	maxVolatility                                        float64
	maxDailyDrawdown, maxTotalDrawdown                   float64
	maxTradesPerDay, minMinutesBetween                   int
	maxCorrelation                                       float64
	maxTotalExposure, maxSymbolExposure                  float64
}

func buildTree(l limits) Tree {
	return Tree{
		"position_sizing": map[string]interface{}{
			"max_position_size": l.maxPositionSize,
			"risk_per_trade":    l.riskPerTrade,
			"stop_loss_pct":     l.stopLoss,
			"take_profit_pct":   l.takeProfit,
		},
		"volatility_limits": map[string]interface{}{
			"max_volatility": l.maxVolatility,
			"lookback_hours": 24,
		},
		"drawdown_limits": map[string]interface{}{
			"max_daily_drawdown": l.maxDailyDrawdown,
			"max_total_drawdown": l.maxTotalDrawdown,
		},
		"trade_limitations": map[string]interface{}{
			"max_trades_per_day":         l.maxTradesPerDay,
			"min_minutes_between_trades": l.minMinutesBetween,
			"restricted_assets":          []interface{}{},
		},
		"correlation_limits": map[string]interface{}{
			"max_correlation": l.maxCorrelation,
		},
		"exposure_limits": map[string]interface{}{
			"max_total_exposure":  l.maxTotalExposure,
			"max_symbol_exposure": l.maxSymbolExposure,
		},
	}
}

// deepCopy clones maps and slices so callers never share nodes
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

func copyTree(t Tree) Tree {
	if t == nil {
		return nil
	}
	return deepCopy(t).(map[string]interface{})
}
