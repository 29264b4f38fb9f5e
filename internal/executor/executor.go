package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

const component = "executor"

// BreakerGate is the part of the circuit breaker the executor uses
type BreakerGate interface {
	Check(scope string) (bool, breaker.Status)
	Trip(t breaker.BreakerType, reason string, opts ...breaker.TripOption) breaker.Record
	PositionSizing(scope string) float64
	ProcessVolatility(level breaker.VolatilityLevel, value float64, scope, assetClass string) breaker.VolatilityDecision
}

// RiskLimits is the part of the risk configuration the executor reads
type RiskLimits interface {
	Float(path string, profile riskconfig.ProfileName, def float64) float64
	Int(path string, profile riskconfig.ProfileName, def int) int
	Strings(path string, profile riskconfig.ProfileName) []string
}

// Config holds executor tunables
type Config struct {
	Profile             riskconfig.ProfileName `json:"profile"`
	MinSignalConfidence float64                `json:"min_signal_confidence"`
	MaxSlippage         float64                `json:"max_slippage"`
	MaxRetries          int                    `json:"max_retries"` // total attempts
	RetryDelay          time.Duration          `json:"retry_delay"`
	PollInterval        time.Duration          `json:"poll_interval"`
	MonitorTimeout      time.Duration          `json:"monitor_timeout"`
	VolatilityLookback  time.Duration          `json:"volatility_lookback"`
	// Derive STOP/LIMIT children from the profile's stop_loss_pct and
	// take_profit_pct when a signal carries none.
	DeriveProtection bool `json:"derive_protection"`
}

// DefaultConfig returns the standard executor settings
func DefaultConfig() Config {
	return Config{
		Profile:             riskconfig.DefaultProfile,
		MinSignalConfidence: 0.3,
		MaxSlippage:         0.01,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		PollInterval:        time.Second,
		MonitorTimeout:      10 * time.Minute,
		VolatilityLookback:  24 * time.Hour,
	}
}

// Options wires the executor's collaborators
type Options struct {
	Config      Config
	Breaker     BreakerGate
	Limits      RiskLimits
	MarketData  MarketDataService
	Gateway     OrderGateway
	MarketHours MarketHours
	Correlation CorrelationChecker
	Metrics     MetricsRecorder
	Logger      *logger.Logger
	Now         func() time.Time
}

// TradeExecutor turns validated signals into orders and keeps positions
// and execution metrics. It owns both exclusively.
type TradeExecutor struct {
	cfg         Config
	breaker     BreakerGate
	limits      RiskLimits
	market      MarketDataService
	gateway     OrderGateway
	hours       MarketHours
	correlation CorrelationChecker
	recorder    MetricsRecorder
	log         *logger.Logger
	now         func() time.Time

	mu        sync.Mutex
	orders    map[string]*Order
	active    map[string]*Order
	positions map[string]*position
	metrics   ExecutionMetrics

	wg sync.WaitGroup
}

// New creates a trade executor. Breaker, Limits, MarketData and Gateway are
// required.
func New(opts Options) (*TradeExecutor, error) {
	if opts.Breaker == nil || opts.Limits == nil {
		return nil, fmt.Errorf("executor requires a circuit breaker and risk limits")
	}
	if opts.MarketData == nil || opts.Gateway == nil {
		return nil, fmt.Errorf("executor requires market data and an order gateway")
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Profile == "" {
		cfg.Profile = def.Profile
	}
	if cfg.MinSignalConfidence <= 0 {
		cfg.MinSignalConfidence = def.MinSignalConfidence
	}
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = def.MaxSlippage
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MonitorTimeout <= 0 {
		cfg.MonitorTimeout = def.MonitorTimeout
	}
	if cfg.VolatilityLookback <= 0 {
		cfg.VolatilityLookback = def.VolatilityLookback
	}

	e := &TradeExecutor{
		cfg:         cfg,
		breaker:     opts.Breaker,
		limits:      opts.Limits,
		market:      opts.MarketData,
		gateway:     opts.Gateway,
		hours:       opts.MarketHours,
		correlation: opts.Correlation,
		recorder:    opts.Metrics,
		log:         logger.OrNop(opts.Logger),
		now:         opts.Now,
		orders:      make(map[string]*Order),
		active:      make(map[string]*Order),
		positions:   make(map[string]*position),
	}
	if e.hours == nil {
		e.hours = AlwaysOpen{}
	}
	if e.correlation == nil {
		e.correlation = AllowAllCorrelation{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Config returns the effective configuration
func (e *TradeExecutor) Config() Config {
	return e.cfg
}

// Metrics returns a copy of the execution metrics
func (e *TradeExecutor) Metrics() ExecutionMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Order returns a copy of any order the executor has created
func (e *TradeExecutor) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// ActiveOrders returns copies of the orders still being tracked
func (e *TradeExecutor) ActiveOrders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until background monitors started by Execute return
func (e *TradeExecutor) Wait() {
	e.wg.Wait()
}

func (e *TradeExecutor) recordAttempt(symbol string, success bool) {
	e.mu.Lock()
	e.metrics.TotalOrders++
	if success {
		e.metrics.SuccessfulOrders++
	} else {
		e.metrics.FailedOrders++
	}
	e.mu.Unlock()
	e.recorder.OrderAttempt(symbol, success)
}

func (e *TradeExecutor) recordSlippage(symbol string, slippage float64) {
	e.mu.Lock()
	e.metrics.SlippageSamples++
	n := float64(e.metrics.SlippageSamples)
	e.metrics.AverageSlippage += (slippage - e.metrics.AverageSlippage) / n
	e.mu.Unlock()
	e.recorder.Slippage(symbol, slippage)
}
