package bybit

import (
	"context"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/risk-control-plane/internal/logger"
)

// DemoURL is the Bybit demo trading (paper) environment
const DemoURL = "https://api-demo.bybit.com"

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // Demo trading environment

	Category      string        // "spot", "linear", "inverse"
	KlineInterval KlineInterval // bar size for GetHistoricalData

	RequestsPerSecond float64
	Burst             int
	// Consecutive transport failures before requests fail fast
	FailureThreshold uint32
	// How long requests fail fast before a probe is let through
	OpenTimeout time.Duration
	// Instrument filters are refetched after this long
	InstrumentTTL time.Duration
}

// DefaultConfig returns spot settings for mainnet
func DefaultConfig() Config {
	return Config{
		Category:          "spot",
		KlineInterval:     Interval1h,
		RequestsPerSecond: 10,
		Burst:             10,
		FailureThreshold:  5,
		OpenTimeout:       60 * time.Second,
		InstrumentTTL:     time.Hour,
	}
}

// StateHooks are called when the request guard opens or closes again
type StateHooks struct {
	OnTrip    func(reason string)
	OnRecover func()
}

// Client adapts the Bybit v5 API to the executor's market data and order
// gateway interfaces. Every request goes through a rate limiter and a
// failure-counting breaker.
type Client struct {
	cfg         Config
	transport   transport
	limiter     *rate.Limiter
	guard       *gobreaker.CircuitBreaker
	instruments *instrumentCache
	hooks       StateHooks
	log         *logger.Logger
	now         func() time.Time
}

// NewClient creates a new Bybit client
func NewClient(cfg Config, log *logger.Logger) *Client {
	var baseURL string
	switch {
	case cfg.Demo:
		baseURL = DemoURL
	case cfg.Testnet:
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)
	return newClient(cfg, &apiTransport{client: httpClient}, log)
}

func newClient(cfg Config, t transport, log *logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.Category == "" {
		cfg.Category = def.Category
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = def.KlineInterval
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.InstrumentTTL <= 0 {
		cfg.InstrumentTTL = def.InstrumentTTL
	}

	c := &Client{
		cfg:       cfg,
		transport: t,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:       logger.OrNop(log).With("bybit"),
		now:       time.Now,
	}
	c.guard = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bybit-" + c.Environment(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful:  countsAsSuccess,
		OnStateChange: c.onStateChange,
	})
	c.instruments = newInstrumentCache(c, cfg.InstrumentTTL)
	return c
}

// SetStateHooks registers callbacks for request guard transitions
func (c *Client) SetStateHooks(h StateHooks) {
	c.hooks = h
}

// Environment returns "demo", "testnet" or "mainnet"
func (c *Client) Environment() string {
	switch {
	case c.cfg.Demo:
		return "demo"
	case c.cfg.Testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// Category returns the product category orders are placed in
func (c *Client) Category() string {
	return c.cfg.Category
}

func (c *Client) onStateChange(name string, from, to gobreaker.State) {
	c.log.Warning("request guard %s: %s -> %s", name, from, to)
	switch to {
	case gobreaker.StateOpen:
		if c.hooks.OnTrip != nil {
			c.hooks.OnTrip(fmt.Sprintf("%s: %d consecutive request failures", name, c.cfg.FailureThreshold))
		}
	case gobreaker.StateClosed:
		if from == gobreaker.StateHalfOpen && c.hooks.OnRecover != nil {
			c.hooks.OnRecover()
		}
	}
}

// call sends one request through the limiter and the guard and returns
// the decoded envelope. A non-zero retCode is returned as *BybitError.
func (c *Client) call(ctx context.Context, ep endpoint, params map[string]interface{}) (*bybit_api.ServerResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", ep, err)
	}

	out, err := c.guard.Execute(func() (interface{}, error) {
		raw, err := c.transport.Do(ctx, ep, params)
		if err != nil {
			return nil, err
		}
		resp, ok := raw.(*bybit_api.ServerResponse)
		if !ok || resp == nil {
			return nil, fmt.Errorf("invalid response type %T", raw)
		}
		if err := ParseAPIError(resp.RetCode, resp.RetMsg); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, WrapAPIError(string(ep), err)
	}
	return out.(*bybit_api.ServerResponse), nil
}
