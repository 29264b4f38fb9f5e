package breaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHysteresisRequiresSupermajority(t *testing.T) {
	cb, _ := newTestBreaker(t, nil, nil)

	for i := 0; i < 20; i++ {
		d := cb.ProcessVolatility(LevelNormal, 0, "BTCUSDT", "")
		assert.Equal(t, LevelNormal, d.Effective)
	}

	for k := 1; k <= 20; k++ {
		d := cb.ProcessVolatility(LevelHigh, 0, "BTCUSDT", "")
		if k < 17 {
			assert.Equal(t, LevelNormal, d.Effective, "k=%d share=%.2f", k, d.Share)
			assert.False(t, d.Changed, "k=%d", k)
		} else {
			assert.Equal(t, LevelHigh, d.Effective, "k=%d share=%.2f", k, d.Share)
		}
		if k == 17 {
			assert.True(t, d.Changed)
			assert.InDelta(t, 0.85, d.Share, 1e-9)
		}
	}
	assert.Len(t, cb.History("BTCUSDT"), 20)
}

func TestNoisySamplesDoNotFlap(t *testing.T) {
	cb, _ := newTestBreaker(t, nil, nil)
	cb.ProcessVolatility(LevelLow, 0, "ETHUSDT", "")

	levels := []VolatilityLevel{LevelHigh, LevelLow, LevelExtreme, LevelLow, LevelHigh}
	for i := 0; i < 40; i++ {
		d := cb.ProcessVolatility(levels[i%len(levels)], 0, "ETHUSDT", "")
		assert.Equal(t, LevelLow, d.Effective)
	}
	_, exists := cb.Record(TypeVolatility, "ETHUSDT")
	assert.False(t, exists)
}

func TestVolatilityRegimeDrivesBreaker(t *testing.T) {
	tests := []struct {
		level      VolatilityLevel
		status     Status
		multiplier float64
	}{
		{LevelExtreme, StatusOpen, 0.03},
		{LevelHigh, StatusRestricted, 0.10},
		{LevelNormal, StatusCautious, 0.90},
		{LevelLow, StatusClosed, 1.00},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			cb, _ := newTestBreaker(t, nil, nil)
			d := cb.ProcessVolatility(tt.level, 0, "SOLUSDT", "")
			assert.Equal(t, tt.level, d.Effective)
			assert.Equal(t, tt.status, d.Status)
			assert.Equal(t, tt.multiplier, d.Multiplier)

			_, status := cb.CheckType(TypeVolatility, "SOLUSDT")
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestVolatilityCooldownGraduated(t *testing.T) {
	cb, _ := newTestBreaker(t, nil, nil)
	cb.ProcessVolatility(LevelExtreme, 0, "BTCUSDT", "")

	rec, ok := cb.Record(TypeVolatility, "BTCUSDT")
	require.True(t, ok)
	require.NotNil(t, rec.AutoResetAt)
	assert.Equal(t, 90.0, rec.AutoResetAt.Sub(rec.TrippedAt).Minutes())

	cb.Reset(TypeVolatility, "BTCUSDT")
	rec, _ = cb.Record(TypeVolatility, "BTCUSDT")
	assert.Equal(t, StatusRestricted, rec.Status)
	assert.Equal(t, 45.0, rec.AutoResetAt.Sub(rec.TrippedAt).Minutes())
}

func TestLowRegimeEasesExistingBreaker(t *testing.T) {
	cb := New(Options{Now: newFakeClock().Now, HysteresisThreshold: 0.5, VolatilityWindow: 2})

	cb.ProcessVolatility(LevelExtreme, 0, "ADAUSDT", "")
	rec, _ := cb.Record(TypeVolatility, "ADAUSDT")
	require.Equal(t, StatusOpen, rec.Status)

	// Window of two: one low sample gives a tie resolved to extreme.
	d := cb.ProcessVolatility(LevelLow, 0, "ADAUSDT", "")
	assert.Equal(t, LevelExtreme, d.Effective)

	d = cb.ProcessVolatility(LevelLow, 0, "ADAUSDT", "")
	assert.Equal(t, LevelLow, d.Effective)
	assert.Equal(t, StatusRestricted, d.Status)

	d = cb.ProcessVolatility(LevelLow, 0, "ADAUSDT", "")
	assert.Equal(t, StatusCautious, d.Status)
	d = cb.ProcessVolatility(LevelLow, 0, "ADAUSDT", "")
	assert.Equal(t, StatusClosed, d.Status)
}

func TestAssetClassWidensThresholds(t *testing.T) {
	tests := []struct {
		name       string
		value      float64
		assetClass string
		want       VolatilityLevel
	}{
		{"base high", 0.03, "", LevelHigh},
		{"crypto widens to normal", 0.03, "crypto", LevelNormal},
		{"forex narrows to extreme", 0.045, "forex", LevelExtreme},
		{"options", 0.013, "options", LevelNormal},
		{"unknown class uses base", 0.06, "bonds", LevelExtreme},
		{"low", 0.001, "crypto", LevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(t, nil, nil)
			d := cb.ProcessVolatility(LevelUnknown, tt.value, "X", tt.assetClass)
			assert.Equal(t, tt.want, d.Sample)
		})
	}
}

func TestExplicitLevelWithoutAssetClass(t *testing.T) {
	cb, _ := newTestBreaker(t, nil, nil)
	d := cb.ProcessVolatility(LevelHigh, 0.0001, "X", "")
	assert.Equal(t, LevelHigh, d.Sample)
}

func TestDominantLevelTieBreak(t *testing.T) {
	level, share := dominantLevel([]VolatilityLevel{LevelLow, LevelHigh, LevelLow, LevelHigh})
	assert.Equal(t, LevelHigh, level)
	assert.Equal(t, 0.5, share)

	level, share = dominantLevel(nil)
	assert.Equal(t, LevelUnknown, level)
	assert.Zero(t, share)
}

func TestOutOfRangeLevelClassifiesByValue(t *testing.T) {
	cb, _ := newTestBreaker(t, nil, nil)

	d := cb.ProcessVolatility(VolatilityLevel(9), 0, "X", "")
	assert.Equal(t, LevelLow, d.Sample)
	assert.Equal(t, StatusClosed, d.Status)
	_, exists := cb.Record(TypeVolatility, "X")
	assert.False(t, exists)
	assert.Empty(t, cb.Snapshot())

	d = cb.ProcessVolatility(VolatilityLevel(9), 0.06, "Y", "")
	assert.Equal(t, LevelExtreme, d.Sample)
	rec, ok := cb.Record(TypeVolatility, "Y")
	require.True(t, ok)
	assert.Equal(t, StatusOpen, rec.Status)
}
