package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
)

const namespace = "risk"

// Metrics is the Prometheus view of the risk plane. It implements
// executor.MetricsRecorder and follows breaker state changes.
type Metrics struct {
	registry prometheus.Gatherer

	orderAttempts *prometheus.CounterVec
	slippage      *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	positions     *prometheus.GaugeVec

	breakerStatus      *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	volatilityRegime   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith registers the collectors on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		orderAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_attempts_total",
				Help:      "Order creation attempts by outcome",
			},
			[]string{"symbol", "result"},
		),
		slippage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_slippage_ratio",
				Help:      "Distribution of |quote - signal| / signal at order creation",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05},
			},
			[]string{"symbol"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_rejections_total",
				Help:      "Signals rejected by pre-trade validation",
			},
			[]string{"code"},
		),
		positions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "position_quantity",
				Help:      "Open position quantity per symbol",
			},
			[]string{"symbol"},
		),
		breakerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_status",
				Help:      "Breaker status severity (0 closed .. 4 open)",
			},
			[]string{"type", "scope"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Breaker status transitions",
			},
			[]string{"type", "to"},
		),
		volatilityRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "volatility_regime",
				Help:      "Effective volatility regime (0 unknown, 1 low .. 4 extreme)",
			},
			[]string{"scope"},
		),
	}

	reg.MustRegister(
		m.orderAttempts,
		m.slippage,
		m.rejections,
		m.positions,
		m.breakerStatus,
		m.breakerTransitions,
		m.volatilityRegime,
	)
	return m
}

// Handler serves the Prometheus metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrderAttempt records an order creation attempt
func (m *Metrics) OrderAttempt(symbol string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.orderAttempts.WithLabelValues(symbol, result).Inc()
}

// Slippage records the slippage seen for a quote
func (m *Metrics) Slippage(symbol string, slippage float64) {
	m.slippage.WithLabelValues(symbol).Observe(slippage)
}

// ValidationRejected counts a rejected signal
func (m *Metrics) ValidationRejected(code string) {
	m.rejections.WithLabelValues(code).Inc()
}

// PositionUpdated sets the position gauge; a closed position is removed
func (m *Metrics) PositionUpdated(symbol string, quantity float64) {
	if quantity <= 0 {
		m.positions.DeleteLabelValues(symbol)
		return
	}
	m.positions.WithLabelValues(symbol).Set(quantity)
}

// BreakerChanged is a breaker.StateChangeFunc
func (m *Metrics) BreakerChanged(t breaker.BreakerType, scope string, from, to breaker.Status) {
	m.breakerTransitions.WithLabelValues(t.String(), to.String()).Inc()
	if to == breaker.StatusClosed {
		m.breakerStatus.DeleteLabelValues(t.String(), scope)
		return
	}
	m.breakerStatus.WithLabelValues(t.String(), scope).Set(float64(to.Severity()))
}

// VolatilityObserved records the effective regime of a decision
func (m *Metrics) VolatilityObserved(d breaker.VolatilityDecision) {
	m.volatilityRegime.WithLabelValues(d.Scope).Set(float64(d.Effective))
}

// SyncBreakers resets the status gauges from a snapshot
func (m *Metrics) SyncBreakers(records []breaker.Record) {
	m.breakerStatus.Reset()
	for _, r := range records {
		m.breakerStatus.WithLabelValues(r.Type.String(), r.Scope).Set(float64(r.Status.Severity()))
	}
}
