package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/risk-control-plane/internal/reporting"
)

type cli struct {
	dir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STATE_BACKEND", "file")
	t.Setenv("STATE_FILE", filepath.Join(dir, "state", "circuit_breakers.json"))
	t.Setenv("PROFILE_DIR", filepath.Join(dir, "profiles"))
	t.Setenv("ACTIVE_PROFILE", "moderate")
	t.Setenv("AUDIT_LOG_FILE", filepath.Join(dir, "audit", "risk_audit.log"))
	t.Setenv("AUDIT_DSN", "")
	return &cli{dir: dir}
}

func (c *cli) run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", filepath.Join(c.dir, "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBreakerCommands(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("breaker", "trip", "manual", "--reason", "exchange maintenance")
	require.NoError(t, err)
	assert.Contains(t, out, "manual tripped to OPEN")

	// State survives into the next invocation.
	out, err = c.run("breaker", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "exchange maintenance")
	assert.Contains(t, out, "trading allowed: false")

	out, err = c.run("breaker", "reset", "manual")
	require.NoError(t, err)
	assert.Contains(t, out, "manual eased to RESTRICTED")

	out, err = c.run("breaker", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "trading allowed: true")

	_, err = c.run("breaker", "reset", "volatility")
	assert.ErrorContains(t, err, "not tripped")
}

func TestBreakerTripScopedWithStatus(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("breaker", "trip", "strategy", "--scope", "ma-cross", "--status", "restricted",
		"--reset-after", "10m", "--reason", "losing streak")
	require.NoError(t, err)
	assert.Contains(t, out, "strategy:ma-cross tripped to RESTRICTED")

	out, err = c.run("breaker", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ma-cross")
	assert.Contains(t, out, "trading allowed: true")
}

func TestBreakerVolatility(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("breaker", "volatility", "BTCUSDT", "--level", "extreme")
	require.NoError(t, err)
	assert.Contains(t, out, "volatility:BTCUSDT regime extreme")
	assert.Contains(t, out, "status OPEN")

	out, err = c.run("breaker", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")

	// crypto widens the cutoffs, so 0.06 classifies as high rather than extreme.
	out, err = c.run("breaker", "volatility", "BTCUSDT", "--value", "0.06", "--asset-class", "crypto")
	require.NoError(t, err)
	assert.Contains(t, out, "regime high")
	assert.Contains(t, out, "status RESTRICTED")

	_, err = c.run("breaker", "volatility", "BTCUSDT", "--level", "bogus")
	assert.ErrorContains(t, err, "unknown volatility level")

	_, err = c.run("breaker", "volatility", "BTCUSDT")
	assert.ErrorContains(t, err, "--level or a positive --value")
}

func TestBreakerTripErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"breaker", "trip", "weather", "--reason", "x"}},
		{"missing reason", []string{"breaker", "trip", "manual"}},
		{"closed status", []string{"breaker", "trip", "manual", "--reason", "x", "--status", "CLOSED"}},
		{"missing type", []string{"breaker", "trip", "--reason", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestProfileCommands(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("profile", "get", "--path", "drawdown_limits.max_daily_drawdown")
	require.NoError(t, err)
	assert.Equal(t, "0.02\n", out)

	out, err = c.run("profile", "set", "drawdown_limits.max_daily_drawdown", "0.015", "--reason", "tighten")
	require.NoError(t, err)
	assert.Contains(t, out, "moderate.drawdown_limits.max_daily_drawdown = 0.015")

	out, err = c.run("profile", "get", "moderate", "--path", "drawdown_limits.max_daily_drawdown")
	require.NoError(t, err)
	assert.Equal(t, "0.015\n", out)
	assert.FileExists(t, filepath.Join(c.dir, "profiles", "moderate.yaml"))

	_, err = c.run("profile", "set", "trade_limitations.restricted_assets", "[LUNA, FTT]",
		"--profile", "conservative", "--reason", "delisted")
	require.NoError(t, err)
	out, err = c.run("profile", "get", "conservative", "--path", "trade_limitations.restricted_assets")
	require.NoError(t, err)
	assert.Equal(t, "- LUNA\n- FTT\n", out)

	out, err = c.run("profile", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "RISK PROFILE MODERATE")

	_, err = c.run("profile", "get", "--path", "no.such.param")
	assert.ErrorContains(t, err, "not set")

	_, err = c.run("profile", "set", "drawdown_limits.max_daily_drawdown", "0.01")
	assert.Error(t, err)
}

func TestProfileClone(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("profile", "get", "custom")
	assert.Error(t, err)

	out, err := c.run("profile", "clone", "aggressive")
	require.NoError(t, err)
	assert.Contains(t, out, "custom profile created from aggressive")

	out, err = c.run("profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "custom")
	assert.Contains(t, out, "* moderate")

	out, err = c.run("profile", "get", "custom", "--path", "position_sizing.max_position_size")
	require.NoError(t, err)
	assert.Equal(t, "0.15\n", out)
}

func TestAuditExport(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("profile", "set", "drawdown_limits.max_daily_drawdown", "0.015", "--reason", "tighten")
	require.NoError(t, err)
	_, err = c.run("breaker", "trip", "daily_loss", "--reason", "drawdown 0.025")
	require.NoError(t, err)

	out, err := c.run("audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "tighten")

	path := filepath.Join(c.dir, "exports", "audit.xlsx")
	out, err = c.run("audit", "export", "-o", path, "--breakers")
	require.NoError(t, err)
	assert.Contains(t, out, "1 audit entries written")

	_, err = os.Stat(path)
	require.NoError(t, err)

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	rows, err := fx.GetRows(reporting.AuditSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "tighten", rows[1][5])

	rows, err = fx.GetRows(reporting.BreakersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "daily_loss", rows[1][0])
}

func TestInvalidConfiguration(t *testing.T) {
	c := newCLI(t)
	t.Setenv("STATE_BACKEND", "etcd")

	_, err := c.run("breaker", "list")
	assert.ErrorContains(t, err, "STATE_BACKEND")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, splitList(" btcusdt, ,ETHUSDT,"))
	assert.Nil(t, splitList(""))
}
