package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

// Rejection codes
const (
	CodeInvalidSignal   = "INVALID_SIGNAL"
	CodeSystemBreaker   = "SYSTEM_BREAKER"
	CodeStrategyBreaker = "STRATEGY_BREAKER"
	CodeSymbolBreaker   = "SYMBOL_BREAKER"
	CodeHoldSignal      = "HOLD_SIGNAL"
	CodeLowConfidence   = "LOW_CONFIDENCE"
	CodeMarketClosed    = "MARKET_CLOSED"
	CodePositionLimit   = "POSITION_LIMIT"
	CodeDailyDrawdown   = "DAILY_DRAWDOWN"
	CodeTradeLimit      = "TRADE_LIMIT"
	CodeCorrelation     = "CORRELATION_LIMIT"
	CodeRestrictedAsset = "RESTRICTED_ASSET"
	CodeZeroSize        = "ZERO_SIZE"
)

// ValidationResult represents the result of a pre-trade validation
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

func reject(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Validate runs the pre-trade checks in order and stops at the first
// failure. A drawdown breach trips a global daily-loss breaker that never
// auto-resets.
func (e *TradeExecutor) Validate(ctx context.Context, signal Signal, portfolio Portfolio) ValidationResult {
	result := e.validate(ctx, signal, portfolio)
	if !result.Valid {
		e.recorder.ValidationRejected(result.Code)
		e.log.Warning("signal %s %s from %q rejected [%s]: %s",
			signal.Action, signal.Symbol, signal.StrategyID, result.Code, result.Reason)
	}
	return result
}

func (e *TradeExecutor) validate(ctx context.Context, signal Signal, portfolio Portfolio) ValidationResult {
	if signal.Symbol == "" {
		return reject(CodeInvalidSignal, "signal has no symbol")
	}
	if portfolio == nil {
		return reject(CodeInvalidSignal, "no portfolio state")
	}
	if result, ok := checkSignalNumbers(signal); !ok {
		return result
	}

	if allowed, status := e.breaker.Check(""); !allowed {
		return reject(CodeSystemBreaker, "system-wide circuit breaker is %s", status)
	}
	if signal.StrategyID != "" {
		if allowed, status := e.breaker.Check(signal.StrategyID); !allowed {
			return reject(CodeStrategyBreaker, "circuit breaker for strategy %s is %s", signal.StrategyID, status)
		}
	}
	if allowed, status := e.breaker.Check(signal.Symbol); !allowed {
		return reject(CodeSymbolBreaker, "circuit breaker for %s is %s", signal.Symbol, status)
	}

	if signal.Action == ActionHold {
		return reject(CodeHoldSignal, "hold signals are not executed")
	}
	if signal.Action != ActionBuy && signal.Action != ActionSell {
		return reject(CodeInvalidSignal, "unknown action %q", signal.Action)
	}
	if signal.Confidence < e.cfg.MinSignalConfidence {
		return reject(CodeLowConfidence, "confidence %.2f below minimum %.2f", signal.Confidence, e.cfg.MinSignalConfidence)
	}

	if !e.hours.IsOpen(e.now()) {
		return reject(CodeMarketClosed, "market is closed")
	}

	return e.checkRiskLimits(ctx, signal, portfolio)
}

func (e *TradeExecutor) checkRiskLimits(ctx context.Context, signal Signal, portfolio Portfolio) ValidationResult {
	profile := e.cfg.Profile

	if signal.Price <= 0 {
		return reject(CodeInvalidSignal, "signal price must be positive")
	}
	quantity := signal.Quantity
	if quantity <= 0 {
		quantity = e.SizeQuantity(signal, portfolio)
		if quantity <= 0 {
			return reject(CodeZeroSize, "position sizing for %s is zero", signal.Symbol)
		}
	}
	positionValue := signal.Price * quantity
	maxPosition := portfolio.TotalValue() * e.limits.Float(riskconfig.PathMaxPositionSize, profile, 0.08)
	if positionValue > maxPosition {
		return reject(CodePositionLimit, "position value %.2f exceeds limit %.2f", positionValue, maxPosition)
	}

	maxDrawdown := e.limits.Float(riskconfig.PathMaxDailyDrawdown, profile, 0.02)
	if dd := portfolio.DailyDrawdown(); dd > maxDrawdown {
		reason := fmt.Sprintf("daily drawdown %.4f exceeds limit %.4f", dd, maxDrawdown)
		e.breaker.Trip(breaker.TypeDailyLoss, reason, breaker.WithResetAfter(0))
		return reject(CodeDailyDrawdown, "%s", reason)
	}

	maxTrades := e.limits.Int(riskconfig.PathMaxTradesPerDay, profile, 20)
	if count := portfolio.DailyTradeCount(); count >= maxTrades {
		return reject(CodeTradeLimit, "daily trade count %d reached limit %d", count, maxTrades)
	}

	maxCorrelation := e.limits.Float(riskconfig.PathMaxCorrelation, profile, 0.7)
	if !e.correlation.Allowed(ctx, signal, e.Positions(), maxCorrelation) {
		return reject(CodeCorrelation, "correlation with open positions exceeds %.2f", maxCorrelation)
	}

	symbol := strings.ToUpper(signal.Symbol)
	for _, asset := range e.limits.Strings(riskconfig.PathRestrictedAssets, profile) {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		if asset != "" && strings.Contains(symbol, asset) {
			return reject(CodeRestrictedAsset, "%s matches restricted asset %s", signal.Symbol, asset)
		}
	}

	return ValidationResult{Valid: true}
}

// SizeQuantity returns total_value x max_position_size x breaker multiplier
// / price. The multiplier is the smaller of the symbol and strategy scopes.
func (e *TradeExecutor) SizeQuantity(signal Signal, portfolio Portfolio) float64 {
	if signal.Price <= 0 || portfolio == nil {
		return 0
	}
	multiplier := e.breaker.PositionSizing(signal.Symbol)
	if signal.StrategyID != "" {
		if m := e.breaker.PositionSizing(signal.StrategyID); m < multiplier {
			multiplier = m
		}
	}
	maxSize := e.limits.Float(riskconfig.PathMaxPositionSize, e.cfg.Profile, 0.08)
	return portfolio.TotalValue() * maxSize * multiplier / signal.Price
}
