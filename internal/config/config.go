package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

// State backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	LogLevel string
	HTTPAddr string

	State struct {
		Backend  string
		File     string
		RedisURL string
		RedisKey string
	}

	Profiles struct {
		Dir    string
		Active riskconfig.ProfileName
	}

	Audit struct {
		File string
		DSN  string
	}

	Exchange struct {
		APIKey   string
		Secret   string
		Testnet  bool
		Demo     bool
		Category string
	}

	Breaker struct {
		HalfOpenAdmitRate   float64
		VolatilityWindow    int
		HysteresisThreshold float64
	}

	Executor executor.Config
}

// Load reads envFile (".env" when empty) if it exists and then the
// process environment. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("could not load environment file %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	cfg.State.Backend = strings.ToLower(getEnv("STATE_BACKEND", BackendFile))
	cfg.State.File = getEnv("STATE_FILE", "circuit_breakers.json")
	cfg.State.RedisURL = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.State.RedisKey = getEnv("REDIS_KEY", breaker.DefaultRedisKey)

	cfg.Profiles.Dir = getEnv("PROFILE_DIR", "risk_profiles")
	active, err := riskconfig.ParseProfileName(getEnv("ACTIVE_PROFILE", string(riskconfig.DefaultProfile)))
	if err != nil {
		p.fail("ACTIVE_PROFILE", err)
	}
	cfg.Profiles.Active = active

	cfg.Audit.File = getEnv("AUDIT_LOG_FILE", "risk_audit.log")
	cfg.Audit.DSN = getEnv("AUDIT_DSN", "")

	cfg.Exchange.APIKey = getEnv("BYBIT_API_KEY", "")
	cfg.Exchange.Secret = getEnv("BYBIT_API_SECRET", "")
	cfg.Exchange.Testnet = p.getBool("BYBIT_TESTNET", true)
	cfg.Exchange.Demo = p.getBool("BYBIT_DEMO", false)
	cfg.Exchange.Category = getEnv("BYBIT_CATEGORY", "spot")

	cfg.Breaker.HalfOpenAdmitRate = p.getFloat("HALF_OPEN_ADMIT_RATE", breaker.DefaultHalfOpenAdmitRate)
	cfg.Breaker.VolatilityWindow = p.getInt("VOLATILITY_WINDOW", breaker.DefaultVolatilityWindow)
	cfg.Breaker.HysteresisThreshold = p.getFloat("HYSTERESIS_THRESHOLD", breaker.DefaultHysteresisThreshold)

	def := executor.DefaultConfig()
	cfg.Executor = executor.Config{
		Profile:             active,
		MinSignalConfidence: p.getFloat("MIN_SIGNAL_CONFIDENCE", def.MinSignalConfidence),
		MaxSlippage:         p.getFloat("MAX_SLIPPAGE", def.MaxSlippage),
		MaxRetries:          p.getInt("MAX_RETRIES", def.MaxRetries),
		RetryDelay:          p.getDuration("RETRY_DELAY", def.RetryDelay),
		PollInterval:        p.getDuration("POLL_INTERVAL", def.PollInterval),
		MonitorTimeout:      p.getDuration("MONITOR_TIMEOUT", def.MonitorTimeout),
		VolatilityLookback:  p.getDuration("VOLATILITY_LOOKBACK", def.VolatilityLookback),
		DeriveProtection:    p.getBool("DERIVE_PROTECTION", false),
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate rejects out-of-range values
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.File == "" {
			add("STATE_FILE is required for the file backend")
		}
	case BackendRedis:
		if c.State.RedisURL == "" {
			add("REDIS_ADDR is required for the redis backend")
		}
	default:
		add("STATE_BACKEND must be %q or %q, got %q", BackendFile, BackendRedis, c.State.Backend)
	}

	if r := c.Breaker.HalfOpenAdmitRate; r <= 0 || r > 1 {
		add("HALF_OPEN_ADMIT_RATE must be in (0, 1], got %g", r)
	}
	if c.Breaker.VolatilityWindow < 1 {
		add("VOLATILITY_WINDOW must be at least 1, got %d", c.Breaker.VolatilityWindow)
	}
	if h := c.Breaker.HysteresisThreshold; h <= 0 || h > 1 {
		add("HYSTERESIS_THRESHOLD must be in (0, 1], got %g", h)
	}

	e := c.Executor
	if e.MinSignalConfidence < 0 || e.MinSignalConfidence > 1 {
		add("MIN_SIGNAL_CONFIDENCE must be in [0, 1], got %g", e.MinSignalConfidence)
	}
	if e.MaxSlippage <= 0 || e.MaxSlippage >= 1 {
		add("MAX_SLIPPAGE must be in (0, 1), got %g", e.MaxSlippage)
	}
	if e.MaxRetries < 1 {
		add("MAX_RETRIES must be at least 1, got %d", e.MaxRetries)
	}
	if e.RetryDelay < 0 {
		add("RETRY_DELAY must not be negative")
	}
	if e.PollInterval <= 0 {
		add("POLL_INTERVAL must be positive")
	}
	if e.MonitorTimeout < e.PollInterval {
		add("MONITOR_TIMEOUT (%s) must be at least POLL_INTERVAL (%s)", e.MonitorTimeout, e.PollInterval)
	}

	switch c.Exchange.Category {
	case "spot", "linear", "inverse":
	default:
		add("BYBIT_CATEGORY must be spot, linear or inverse, got %q", c.Exchange.Category)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parser keeps the first conversion error
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (p *parser) getBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) getInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return i
}

func (p *parser) getFloat(key string, def float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}
