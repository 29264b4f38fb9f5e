package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// BreakersResponse lists tripped breakers with the system-wide verdict
type BreakersResponse struct {
	TradingAllowed bool             `json:"trading_allowed"`
	Status         string           `json:"status"`
	Records        []breaker.Record `json:"records"`
}

// CheckResponse is the verdict for one scope
type CheckResponse struct {
	Scope   string `json:"scope"`
	Allowed bool   `json:"allowed"`
	Status  string `json:"status"`
}

// TripRequest trips a breaker. Status defaults to OPEN and ResetAfter to
// the per-type cooldown.
type TripRequest struct {
	Reason     string `json:"reason"`
	Scope      string `json:"scope,omitempty"`
	Status     string `json:"status,omitempty"`
	ResetAfter string `json:"reset_after,omitempty"`
}

// ResetResponse reports the status a reset eased to
type ResetResponse struct {
	Type   string `json:"type"`
	Scope  string `json:"scope,omitempty"`
	Status string `json:"status"`
}

// ParamResponse is a single profile parameter
type ParamResponse struct {
	Profile riskconfig.ProfileName `json:"profile"`
	Path    string                 `json:"path"`
	Value   interface{}            `json:"value"`
}

// SetParamRequest changes a parameter. Reason is required and lands in
// the audit trail.
type SetParamRequest struct {
	Value  interface{} `json:"value"`
	Reason string      `json:"reason"`
}

// CustomProfileRequest clones Template into the custom profile
type CustomProfileRequest struct {
	Template string `json:"template"`
}

// ExecutorMetricsResponse adds the derived success rate
type ExecutorMetricsResponse struct {
	executor.ExecutionMetrics
	SuccessRate float64 `json:"success_rate"`
}

type handlers struct {
	deps Dependencies
	log  *logger.Logger
}

var missingParam = &struct{}{}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeRiskError(w http.ResponseWriter, err error) {
	switch {
	case riskerrors.Is(err, riskerrors.ErrUnknownProfile):
		writeError(w, http.StatusNotFound, "unknown_profile", err.Error())
	case riskerrors.IsCategory(err, riskerrors.CategoryValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (h *handlers) listBreakers(w http.ResponseWriter, r *http.Request) {
	allowed, status := h.deps.Breakers.Check("")
	records := h.deps.Breakers.Snapshot()
	if records == nil {
		records = []breaker.Record{}
	}
	writeJSON(w, http.StatusOK, BreakersResponse{TradingAllowed: allowed, Status: status.String(), Records: records})
}

func (h *handlers) checkBreakers(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	allowed, status := h.deps.Breakers.Check(scope)
	writeJSON(w, http.StatusOK, CheckResponse{Scope: scope, Allowed: allowed, Status: status.String()})
}

func (h *handlers) tripBreaker(w http.ResponseWriter, r *http.Request) {
	t, err := breaker.ParseBreakerType(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_breaker", err.Error())
		return
	}

	var req TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "validation", "reason is required")
		return
	}

	opts := []breaker.TripOption{breaker.WithScope(req.Scope)}
	if req.Status != "" {
		status, err := breaker.ParseStatus(req.Status)
		if err != nil || status == breaker.StatusClosed {
			writeError(w, http.StatusBadRequest, "validation", "status must be CAUTIOUS, RESTRICTED, HALF_OPEN or OPEN")
			return
		}
		opts = append(opts, breaker.WithStatus(status))
	}
	if req.ResetAfter != "" {
		d, err := time.ParseDuration(req.ResetAfter)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "validation", "reset_after must be a non-negative duration")
			return
		}
		opts = append(opts, breaker.WithResetAfter(d))
	}

	rec := h.deps.Breakers.Trip(t, req.Reason, opts...)
	h.log.Warning("breaker %s tripped over the admin API: %s", rec.Key(), req.Reason)
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) resetBreaker(w http.ResponseWriter, r *http.Request) {
	t, err := breaker.ParseBreakerType(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_breaker", err.Error())
		return
	}
	scope := r.URL.Query().Get("scope")

	status, found := h.deps.Breakers.Reset(t, scope)
	if !found {
		writeError(w, http.StatusNotFound, "not_tripped", "no breaker "+breaker.Key(t, scope))
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{Type: t.String(), Scope: scope, Status: status.String()})
}

func (h *handlers) listProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Profiles.Profiles())
}

func (h *handlers) profileName(w http.ResponseWriter, r *http.Request) (riskconfig.ProfileName, bool) {
	name, err := riskconfig.ParseProfileName(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_profile", err.Error())
		return "", false
	}
	if _, ok := h.deps.Profiles.Profile(name); !ok {
		writeError(w, http.StatusNotFound, "unknown_profile", "profile "+string(name)+" does not exist")
		return "", false
	}
	return name, true
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	name, ok := h.profileName(w, r)
	if !ok {
		return
	}
	tree, _ := h.deps.Profiles.Profile(name)
	writeJSON(w, http.StatusOK, tree)
}

func (h *handlers) getParam(w http.ResponseWriter, r *http.Request) {
	name, ok := h.profileName(w, r)
	if !ok {
		return
	}
	path := mux.Vars(r)["path"]
	value := h.deps.Profiles.GetParam(path, name, missingParam)
	if value == missingParam {
		writeError(w, http.StatusNotFound, "unknown_parameter", "parameter "+path+" not set in "+string(name))
		return
	}
	writeJSON(w, http.StatusOK, ParamResponse{Profile: name, Path: path, Value: value})
}

func (h *handlers) setParam(w http.ResponseWriter, r *http.Request) {
	name, ok := h.profileName(w, r)
	if !ok {
		return
	}
	path := mux.Vars(r)["path"]

	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "validation", "value is required")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "validation", "reason is required")
		return
	}

	if err := h.deps.Profiles.SetParam(path, req.Value, name, req.Reason); err != nil {
		writeRiskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParamResponse{Profile: name, Path: path, Value: h.deps.Profiles.GetParam(path, name, nil)})
}

func (h *handlers) createCustomProfile(w http.ResponseWriter, r *http.Request) {
	var req CustomProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	template, err := riskconfig.ParseProfileName(req.Template)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_profile", err.Error())
		return
	}
	if err := h.deps.Profiles.CreateCustomProfile(template); err != nil {
		writeRiskError(w, err)
		return
	}
	tree, _ := h.deps.Profiles.Profile(riskconfig.Custom)
	writeJSON(w, http.StatusCreated, tree)
}

func (h *handlers) auditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Profiles.AuditTrail(r.Context())
	if err != nil {
		h.log.Error("failed to read audit trail: %v", err)
		writeRiskError(w, err)
		return
	}
	if entries == nil {
		entries = []riskconfig.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) executorMetrics(w http.ResponseWriter, r *http.Request) {
	m := h.deps.Executor.Metrics()
	writeJSON(w, http.StatusOK, ExecutorMetricsResponse{ExecutionMetrics: m, SuccessRate: m.SuccessRate()})
}

func (h *handlers) positions(w http.ResponseWriter, r *http.Request) {
	positions := h.deps.Executor.Positions()
	if positions == nil {
		positions = []executor.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *handlers) activeOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.deps.Executor.ActiveOrders()
	if orders == nil {
		orders = []executor.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
