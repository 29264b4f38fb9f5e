package monitoring

import (
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SystemGate reports whether system-wide trading is allowed
type SystemGate interface {
	Check(scope string) (bool, breaker.Status)
}

// HealthChecker reports the plane's health from the system-wide breaker
// status and recent collaborator errors.
type HealthChecker struct {
	gate    SystemGate
	started time.Time
	now     func() time.Time
	window  time.Duration

	mu      sync.RWMutex
	lastErr string
	errAt   time.Time
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	TradingStatus string    `json:"trading_status"`
	Uptime        string    `json:"uptime"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// NewHealthChecker creates a checker over gate. Errors older than five
// minutes no longer degrade health.
func NewHealthChecker(gate SystemGate) *HealthChecker {
	return &HealthChecker{
		gate:    gate,
		started: time.Now(),
		now:     time.Now,
		window:  5 * time.Minute,
	}
}

// RecordError remembers a collaborator failure
func (h *HealthChecker) RecordError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err.Error()
	h.errAt = h.now()
}

// Status computes the current health
func (h *HealthChecker) Status() HealthStatus {
	now := h.now()
	allowed, status := h.gate.Check("")

	h.mu.RLock()
	lastErr, errAt := h.lastErr, h.errAt
	h.mu.RUnlock()

	health := HealthStatus{
		Status:        "healthy",
		Timestamp:     now,
		TradingStatus: status.String(),
		Uptime:        now.Sub(h.started).Truncate(time.Second).String(),
		LastError:     lastErr,
		LastErrorAt:   errAt,
	}
	switch {
	case !allowed:
		health.Status = "halted"
	case status != breaker.StatusClosed, lastErr != "" && now.Sub(errAt) < h.window:
		health.Status = "degraded"
	}
	return health
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "halted" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
