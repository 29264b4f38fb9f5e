package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

// Breakers is the circuit breaker surface exposed over HTTP
type Breakers interface {
	Snapshot() []breaker.Record
	Check(scope string) (bool, breaker.Status)
	Trip(t breaker.BreakerType, reason string, opts ...breaker.TripOption) breaker.Record
	Reset(t breaker.BreakerType, scope string) (breaker.Status, bool)
}

// Profiles is the risk configuration surface exposed over HTTP
type Profiles interface {
	Profiles() []riskconfig.ProfileName
	Profile(name riskconfig.ProfileName) (riskconfig.Tree, bool)
	GetParam(path string, profile riskconfig.ProfileName, def interface{}) interface{}
	SetParam(path string, value interface{}, profile riskconfig.ProfileName, reason string) error
	CreateCustomProfile(template riskconfig.ProfileName) error
	AuditTrail(ctx context.Context) ([]riskconfig.AuditEntry, error)
}

// Executor is the read-only executor surface exposed over HTTP
type Executor interface {
	Metrics() executor.ExecutionMetrics
	Positions() []executor.Position
	ActiveOrders() []executor.Order
}

// Dependencies wires the handlers. Executor, Health and Metrics may be nil.
type Dependencies struct {
	Breakers Breakers
	Profiles Profiles
	Executor Executor
	Health   http.Handler
	Metrics  http.Handler
	Logger   *logger.Logger
}

// NewRouter registers every route:
//
//	GET  /health
//	GET  /metrics
//	GET  /api/v1/breakers
//	GET  /api/v1/breakers/check?scope=
//	POST /api/v1/breakers/{type}/trip
//	POST /api/v1/breakers/{type}/reset?scope=
//	GET  /api/v1/profiles
//	POST /api/v1/profiles/custom
//	GET  /api/v1/profiles/{name}
//	GET  /api/v1/profiles/{name}/params/{path}
//	PUT  /api/v1/profiles/{name}/params/{path}
//	GET  /api/v1/audit
//	GET  /api/v1/executor/metrics
//	GET  /api/v1/executor/positions
//	GET  /api/v1/executor/orders
func NewRouter(deps Dependencies) *mux.Router {
	log := logger.OrNop(deps.Logger).With("api")
	h := &handlers{deps: deps, log: log}

	router := mux.NewRouter()
	router.Use(recovery(log))
	router.Use(logging(log))

	if deps.Health != nil {
		router.Handle("/health", deps.Health).Methods(http.MethodGet)
	}
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/breakers", h.listBreakers).Methods(http.MethodGet)
	v1.HandleFunc("/breakers/check", h.checkBreakers).Methods(http.MethodGet)
	v1.HandleFunc("/breakers/{type}/trip", h.tripBreaker).Methods(http.MethodPost)
	v1.HandleFunc("/breakers/{type}/reset", h.resetBreaker).Methods(http.MethodPost)

	v1.HandleFunc("/profiles", h.listProfiles).Methods(http.MethodGet)
	v1.HandleFunc("/profiles/custom", h.createCustomProfile).Methods(http.MethodPost)
	v1.HandleFunc("/profiles/{name}", h.getProfile).Methods(http.MethodGet)
	v1.HandleFunc("/profiles/{name}/params/{path}", h.getParam).Methods(http.MethodGet)
	v1.HandleFunc("/profiles/{name}/params/{path}", h.setParam).Methods(http.MethodPut)
	v1.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)

	if deps.Executor != nil {
		v1.HandleFunc("/executor/metrics", h.executorMetrics).Methods(http.MethodGet)
		v1.HandleFunc("/executor/positions", h.positions).Methods(http.MethodGet)
		v1.HandleFunc("/executor/orders", h.activeOrders).Methods(http.MethodGet)
	}

	return router
}

// Server is the admin HTTP server
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer creates a server on addr
func NewServer(addr string, deps Dependencies) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: logger.OrNop(deps.Logger).With("api"),
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("admin API listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
