package breaker

import (
	"fmt"
	"strings"
)

// VolatilityThresholds are the lower bounds of each regime, expressed as the
// standard deviation of returns.
type VolatilityThresholds struct {
	Normal  float64 `json:"normal" yaml:"normal"`
	High    float64 `json:"high" yaml:"high"`
	Extreme float64 `json:"extreme" yaml:"extreme"`
}

// DefaultVolatilityThresholds returns the base regime cutoffs
func DefaultVolatilityThresholds() VolatilityThresholds {
	return VolatilityThresholds{Normal: 0.01, High: 0.025, Extreme: 0.05}
}

// DefaultAssetClassModifiers returns the per-asset-class threshold scale
func DefaultAssetClassModifiers() map[string]float64 {
	return map[string]float64{
		"crypto":  1.5,
		"forex":   0.8,
		"options": 1.2,
	}
}

// Scaled widens (m > 1) or narrows (m < 1) every cutoff
func (t VolatilityThresholds) Scaled(m float64) VolatilityThresholds {
	return VolatilityThresholds{Normal: t.Normal * m, High: t.High * m, Extreme: t.Extreme * m}
}

// Classify maps a volatility value to a regime
func (t VolatilityThresholds) Classify(value float64) VolatilityLevel {
	switch {
	case value >= t.Extreme:
		return LevelExtreme
	case value >= t.High:
		return LevelHigh
	case value >= t.Normal:
		return LevelNormal
	default:
		return LevelLow
	}
}

type regimeAction struct {
	status     Status
	multiplier float64
}

var regimeActions = map[VolatilityLevel]regimeAction{
	LevelExtreme: {status: StatusOpen, multiplier: 0.03},
	LevelHigh:    {status: StatusRestricted, multiplier: 0.10},
	LevelNormal:  {status: StatusCautious, multiplier: 0.90},
	LevelLow:     {status: StatusClosed, multiplier: 1.00},
}

// VolatilityDecision is the outcome of one ProcessVolatility call
type VolatilityDecision struct {
	Scope      string          `json:"scope"`
	Sample     VolatilityLevel `json:"sample"`
	Effective  VolatilityLevel `json:"effective"`
	Share      float64         `json:"share"`
	Changed    bool            `json:"changed"`
	Status     Status          `json:"status"`
	Multiplier float64         `json:"multiplier"`
}

// ProcessVolatility records one volatility sample for scope and applies the
// effective regime to the scope's volatility breaker.
//
// When assetClass has a configured modifier and value is positive, value is
// classified against the scaled thresholds and level is ignored. Otherwise
// level is used, falling back to the base thresholds when it is unknown or
// out of range.
//
// The dominant level of the rolling window becomes the effective regime only
// when its share of the window reaches the hysteresis threshold.
func (cb *CircuitBreaker) ProcessVolatility(level VolatilityLevel, value float64, scope, assetClass string) VolatilityDecision {
	cb.mu.Lock()

	sample := cb.sampleLevel(level, value, assetClass)

	hist := append(cb.history[scope], sample)
	if len(hist) > cb.window {
		hist = append([]VolatilityLevel(nil), hist[len(hist)-cb.window:]...)
	}
	cb.history[scope] = hist

	dominant, share := dominantLevel(hist)
	previous, known := cb.regimes[scope]
	effective := previous
	if !known || share >= cb.hysteresis {
		effective = dominant
	}
	cb.regimes[scope] = effective

	action := regimeActions[effective]
	var changes []transition
	mutated := false

	if effective == LevelLow {
		if rec, ok := cb.records[Key(TypeVolatility, scope)]; ok {
			cb.easeLocked(rec, &changes)
			mutated = true
		}
	} else {
		rec, ok := cb.records[Key(TypeVolatility, scope)]
		if !ok || rec.Status != action.status {
			reason := fmt.Sprintf("volatility regime %s (%.0f%% of last %d samples)", effective, share*100, len(hist))
			cb.tripLocked(TypeVolatility, tripParams{scope: scope, status: action.status}, reason, &changes)
			mutated = true
		}
	}

	status := StatusClosed
	if rec, ok := cb.records[Key(TypeVolatility, scope)]; ok {
		status = rec.Status
	}
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	decision := VolatilityDecision{
		Scope:      scope,
		Sample:     sample,
		Effective:  effective,
		Share:      share,
		Changed:    known && effective != previous,
		Status:     status,
		Multiplier: action.multiplier,
	}

	if decision.Changed {
		cb.log.Warning("volatility regime for %q changed %s -> %s", scope, previous, effective)
	}
	if mutated {
		cb.log.Warning("volatility breaker %s now %s", Key(TypeVolatility, scope), status)
		cb.afterMutation(snap, version, changes)
	}
	return decision
}

// Regime returns the last effective volatility regime for scope
func (cb *CircuitBreaker) Regime(scope string) VolatilityLevel {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.regimes[scope]
}

// History returns a copy of the rolling volatility window for scope
func (cb *CircuitBreaker) History(scope string) []VolatilityLevel {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]VolatilityLevel(nil), cb.history[scope]...)
}

// Thresholds returns the cutoffs used for assetClass
func (cb *CircuitBreaker) Thresholds(assetClass string) VolatilityThresholds {
	if m, ok := cb.modifiers[strings.ToLower(assetClass)]; ok {
		return cb.thresholds.Scaled(m)
	}
	return cb.thresholds
}

func (cb *CircuitBreaker) sampleLevel(level VolatilityLevel, value float64, assetClass string) VolatilityLevel {
	if m, ok := cb.modifiers[strings.ToLower(assetClass)]; ok && value > 0 {
		return cb.thresholds.Scaled(m).Classify(value)
	}
	if _, ok := regimeActions[level]; !ok {
		return cb.thresholds.Classify(value)
	}
	return level
}

// dominantLevel returns the most frequent level and its share of hist.
// Ties go to the more severe level.
func dominantLevel(hist []VolatilityLevel) (VolatilityLevel, float64) {
	if len(hist) == 0 {
		return LevelUnknown, 0
	}
	counts := make(map[VolatilityLevel]int, 4)
	for _, l := range hist {
		counts[l]++
	}
	best, bestCount := LevelUnknown, 0
	for _, l := range []VolatilityLevel{LevelExtreme, LevelHigh, LevelNormal, LevelLow} {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best, float64(bestCount) / float64(len(hist))
}
