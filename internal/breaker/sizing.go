package breaker

// sizingTable maps breaker status and volatility regime to a position-size
// multiplier. OPEN is absent: it always sizes to zero.
var sizingTable = map[Status]map[VolatilityLevel]float64{
	StatusRestricted: {LevelExtreme: 0.03, LevelHigh: 0.15, LevelNormal: 0.40, LevelLow: 0.60},
	StatusCautious:   {LevelExtreme: 0.05, LevelHigh: 0.25, LevelNormal: 0.60, LevelLow: 0.85},
	StatusClosed:     {LevelExtreme: 0.03, LevelHigh: 0.30, LevelNormal: 0.75, LevelLow: 1.00},
	StatusHalfOpen:   {LevelExtreme: 0.03, LevelHigh: 0.05, LevelNormal: 0.10, LevelLow: 0.25},
}

// SizingMultiplier looks up the multiplier for a status and regime. An
// unknown regime is treated as normal.
func SizingMultiplier(status Status, regime VolatilityLevel) float64 {
	if status == StatusOpen {
		return 0
	}
	row, ok := sizingTable[status]
	if !ok {
		return 0
	}
	if regime == LevelUnknown {
		regime = LevelNormal
	}
	return row[regime]
}

// PositionSizing returns the multiplier for scope, using the worst status
// across the scope's records and the global records.
func (cb *CircuitBreaker) PositionSizing(scope string) float64 {
	cb.mu.Lock()
	var changes []transition
	swept := cb.sweepLocked(&changes)

	worst := StatusClosed
	for _, rec := range cb.records {
		if rec.Scope != scope && rec.Scope != "" {
			continue
		}
		if rec.Status.Severity() > worst.Severity() {
			worst = rec.Status
		}
	}
	m := SizingMultiplier(worst, cb.regimeLocked(scope))
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	if swept {
		cb.afterMutation(snap, version, changes)
	}
	return m
}

// PositionSizingForType returns the multiplier for a single breaker
func (cb *CircuitBreaker) PositionSizingForType(t BreakerType, scope string) float64 {
	cb.mu.Lock()
	var changes []transition
	swept := cb.sweepLocked(&changes)

	status := StatusClosed
	if rec, ok := cb.records[Key(t, scope)]; ok {
		status = rec.Status
	}
	m := SizingMultiplier(status, cb.regimeLocked(scope))
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	if swept {
		cb.afterMutation(snap, version, changes)
	}
	return m
}

func (cb *CircuitBreaker) regimeLocked(scope string) VolatilityLevel {
	if r, ok := cb.regimes[scope]; ok && r != LevelUnknown {
		return r
	}
	if r, ok := cb.regimes[""]; ok {
		return r
	}
	return LevelUnknown
}
