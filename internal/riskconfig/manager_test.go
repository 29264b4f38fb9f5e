package riskconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestDefaultsLoaded(t *testing.T) {
	m := NewManager(Options{Now: fixedNow})

	tests := []struct {
		profile ProfileName
		path    string
		want    float64
	}{
		{Conservative, PathMaxPositionSize, 0.05},
		{Moderate, PathMaxPositionSize, 0.08},
		{Aggressive, PathMaxPositionSize, 0.15},
		{Moderate, PathMaxDailyDrawdown, 0.02},
		{Moderate, PathMaxTradesPerDay, 20},
		{Conservative, PathMaxTradesPerDay, 10},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile)+"/"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Float(tt.path, tt.profile, -1))
		})
	}

	assert.Equal(t, []ProfileName{Aggressive, Conservative, Moderate}, m.Profiles())
}

func TestGetParamFallbacks(t *testing.T) {
	m := NewManager(Options{})

	// Unknown profile resolves against moderate.
	assert.Equal(t, 0.08, m.GetParam(PathMaxPositionSize, "yolo", nil))
	assert.Equal(t, 0.08, m.GetParam(PathMaxPositionSize, "", nil))

	assert.Equal(t, "fallback", m.GetParam("position_sizing.nope", Moderate, "fallback"))
	assert.Equal(t, 7, m.Int("nope.nope", Moderate, 7))
	assert.Equal(t, 0.5, m.Float(PathRestrictedAssets, Moderate, 0.5))

	category, ok := m.GetParam("drawdown_limits", Moderate, nil).(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, category, "max_daily_drawdown")
}

func TestSetThenGetAppendsOneAuditEntry(t *testing.T) {
	audit := NewMemoryAuditLog()
	m := NewManager(Options{Audit: audit, Now: fixedNow})

	require.NoError(t, m.SetParam(PathMaxPositionSize, 0.06, Moderate, "reduce size"))
	assert.Equal(t, 0.06, m.GetParam(PathMaxPositionSize, Moderate, nil))

	entries, err := m.AuditTrail(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditEntry{
		Timestamp: fixedNow(),
		Profile:   Moderate,
		Parameter: PathMaxPositionSize,
		OldValue:  0.08,
		NewValue:  0.06,
		Reason:    "reduce size",
	}, entries[0])

	// Other profiles are untouched.
	assert.Equal(t, 0.05, m.Float(PathMaxPositionSize, Conservative, 0))
}

func TestSetParamCreatesIntermediateNodes(t *testing.T) {
	m := NewManager(Options{})

	require.NoError(t, m.SetParam("liquidity_limits.min_depth.usd", 250000, Aggressive, "new gate"))
	assert.Equal(t, 250000, m.GetParam("liquidity_limits.min_depth.usd", Aggressive, nil))

	entries, err := m.AuditTrail(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].OldValue)
}

func TestSetParamRejects(t *testing.T) {
	m := NewManager(Options{})

	tests := []struct {
		name    string
		path    string
		profile ProfileName
		target  error
	}{
		{"empty path", "", Moderate, riskerrors.ErrInvalidPath},
		{"empty segment", "position_sizing..max", Moderate, riskerrors.ErrInvalidPath},
		{"through a leaf", "position_sizing.max_position_size.cap", Moderate, riskerrors.ErrInvalidPath},
		{"unknown profile", PathMaxPositionSize, "yolo", riskerrors.ErrUnknownProfile},
		{"custom before creation", PathMaxPositionSize, Custom, riskerrors.ErrUnknownProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetParam(tt.path, 1, tt.profile, "test")
			assert.ErrorIs(t, err, tt.target)
		})
	}

	entries, _ := m.AuditTrail(context.Background())
	assert.Empty(t, entries)
}

func TestCreateCustomProfileDeepCopies(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(Options{Store: store})

	require.NoError(t, m.CreateCustomProfile(Conservative))
	require.NoError(t, m.SetParam(PathRestrictedAssets, []interface{}{"LUNA"}, Custom, "delisted"))
	require.NoError(t, m.SetParam(PathMaxPositionSize, 0.02, Custom, "tight"))

	assert.Equal(t, []string{"LUNA"}, m.Strings(PathRestrictedAssets, Custom))
	assert.Empty(t, m.Strings(PathRestrictedAssets, Conservative))
	assert.Equal(t, 0.05, m.Float(PathMaxPositionSize, Conservative, 0))

	saved, found, err := store.Load(Custom)
	require.NoError(t, err)
	require.True(t, found)
	v, _ := lookup(saved, PathMaxPositionSize)
	assert.Equal(t, 0.02, v)

	// A fresh manager on the same store picks up the custom profile.
	reloaded := NewManager(Options{Store: store})
	assert.Equal(t, 0.02, reloaded.Float(PathMaxPositionSize, Custom, 0))

	assert.ErrorIs(t, m.CreateCustomProfile("yolo"), riskerrors.ErrUnknownProfile)
}

// gatedStore blocks the first save after hold until release is closed
type gatedStore struct {
	*MemoryStore
	mu      sync.Mutex
	held    bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: NewMemoryStore()}
}

func (g *gatedStore) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
}

func (g *gatedStore) Save(name ProfileName, tree Tree) error {
	g.mu.Lock()
	block := g.held
	g.held = false
	entered, release := g.entered, g.release
	g.mu.Unlock()

	if block {
		close(entered)
		<-release
	}
	return g.MemoryStore.Save(name, tree)
}

func TestConcurrentSetParamPersistsLatestTree(t *testing.T) {
	store := newGatedStore()
	audit := NewMemoryAuditLog()
	m := NewManager(Options{Store: store, Audit: audit, Now: fixedNow})
	store.hold()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.SetParam(PathMaxPositionSize, 0.09, Moderate, "first"))
	}()
	<-store.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		assert.NoError(t, m.SetParam(PathMaxDailyDrawdown, 0.03, Moderate, "second"))
	}()

	// The second write waits for the first save to finish.
	assert.Never(t, func() bool {
		select {
		case <-second:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(store.release)
	wg.Wait()
	<-second

	saved, found, err := store.Load(Moderate)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0.09, saved["position_sizing"].(map[string]interface{})["max_position_size"])
	assert.Equal(t, 0.03, saved["drawdown_limits"].(map[string]interface{})["max_daily_drawdown"])

	entries, err := m.AuditTrail(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Reason)
	assert.Equal(t, "second", entries[1].Reason)

	reloaded := NewManager(Options{Store: store})
	assert.Equal(t, 0.03, reloaded.Float(PathMaxDailyDrawdown, Moderate, 0))
	assert.Equal(t, 0.09, reloaded.Float(PathMaxPositionSize, Moderate, 0))
}

func TestStoreFailureKeepsMemoryValue(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(Options{Store: store})
	store.FailWith(errors.New("read-only filesystem"))

	require.NoError(t, m.SetParam(PathMaxTradesPerDay, 5, Moderate, "slow down"))
	assert.Equal(t, 5, m.Int(PathMaxTradesPerDay, Moderate, 0))
}

func TestReturnedValuesAreCopies(t *testing.T) {
	m := NewManager(Options{})
	category := m.GetParam("trade_limitations", Moderate, nil).(map[string]interface{})
	category["max_trades_per_day"] = 999

	assert.Equal(t, 20, m.Int(PathMaxTradesPerDay, Moderate, 0))

	tree, ok := m.Profile(Moderate)
	require.True(t, ok)
	tree["position_sizing"] = nil
	assert.Equal(t, 0.08, m.Float(PathMaxPositionSize, Moderate, 0))
}

func TestYAMLStoreWritesDefaultsAndReloads(t *testing.T) {
	dir := t.TempDir()
	store, err := NewYAMLStore(dir)
	require.NoError(t, err)

	m := NewManager(Options{Store: store})
	for _, name := range BuiltinProfiles() {
		assert.FileExists(t, filepath.Join(dir, string(name)+".yaml"))
	}

	require.NoError(t, m.SetParam(PathMaxDailyDrawdown, 0.015, Moderate, "tighten"))
	require.NoError(t, m.SetParam(PathRestrictedAssets, []string{"DOGE", "SHIB"}, Moderate, "memes"))

	reloaded := NewManager(Options{Store: store})
	assert.Equal(t, 0.015, reloaded.Float(PathMaxDailyDrawdown, Moderate, 0))
	assert.Equal(t, 20, reloaded.Int(PathMaxTradesPerDay, Moderate, 0))
	assert.Equal(t, []string{"DOGE", "SHIB"}, reloaded.Strings(PathRestrictedAssets, Moderate))

	raw, err := os.ReadFile(filepath.Join(dir, "moderate.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "max_daily_drawdown: 0.015")
}

func TestFileAuditLogAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "risk_audit.log")
	audit, err := NewFileAuditLog(path)
	require.NoError(t, err)

	m := NewManager(Options{Audit: audit, Now: fixedNow})
	require.NoError(t, m.SetParam(PathMaxPositionSize, 0.07, Moderate, "first"))
	require.NoError(t, m.SetParam(PathMaxPositionSize, 0.09, Moderate, "second"))

	entries, err := m.AuditTrail(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Reason)
	assert.Equal(t, 0.07, entries[1].OldValue)
	assert.Equal(t, 0.09, entries[1].NewValue)
	assert.True(t, entries[1].Timestamp.Equal(fixedNow()))
}

func TestParseProfileName(t *testing.T) {
	p, err := ParseProfileName(" Aggressive ")
	require.NoError(t, err)
	assert.Equal(t, Aggressive, p)

	p, err = ParseProfileName("")
	require.NoError(t, err)
	assert.Equal(t, Moderate, p)

	_, err = ParseProfileName("reckless")
	assert.Error(t, err)
}
