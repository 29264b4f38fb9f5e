package executor

import "math"

// checkSignalNumbers rejects signals whose numeric fields are NaN, infinite
// or negative, and confidence above 1. Zero is allowed where the field is
// optional.
func checkSignalNumbers(signal Signal) (ValidationResult, bool) {
	fields := []struct {
		name  string
		value float64
	}{
		{"price", signal.Price},
		{"quantity", signal.Quantity},
		{"confidence", signal.Confidence},
		{"stop_loss", signal.StopLoss},
		{"take_profit", signal.TakeProfit},
	}
	for _, f := range fields {
		switch {
		case math.IsNaN(f.value):
			return reject(CodeInvalidSignal, "invalid %s for %s: value is NaN", f.name, signal.Symbol), false
		case math.IsInf(f.value, 0):
			return reject(CodeInvalidSignal, "invalid %s for %s: value is infinite", f.name, signal.Symbol), false
		case f.value < 0:
			return reject(CodeInvalidSignal, "invalid %s %.8f for %s: must not be negative", f.name, f.value, signal.Symbol), false
		}
	}
	if signal.Confidence > 1 {
		return reject(CodeInvalidSignal, "invalid confidence %.4f for %s: must be at most 1", signal.Confidence, signal.Symbol), false
	}
	return ValidationResult{Valid: true}, true
}
