// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/backtest"
	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/internal/montecarlo"
	"github.com/quantdesk/portfolio-engine/internal/rebalancer"
	"github.com/quantdesk/portfolio-engine/internal/refdata"
	"github.com/quantdesk/portfolio-engine/internal/simulator"
	"github.com/quantdesk/portfolio-engine/internal/workers"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Engine bundles the analytics components the server exposes.
type Engine struct {
	Metrics    *metrics.Calculator
	Simulator  *simulator.Simulator
	MonteCarlo *montecarlo.Simulator
	Rebalancer *rebalancer.Planner
	Backtester *backtest.Engine
	RefData    *refdata.Store
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger       *zap.Logger
	config       types.ServerConfig
	engine       Engine
	defaultCosts *types.CostModel
	router       *mux.Router
	httpServer   *http.Server
	hub          *Hub
	pool         *workers.Pool
	jobs         *jobRegistry
	metrics      *apiMetrics
	upgrader     websocket.Upgrader
}

// NewServer creates an API server around the engine components. The pool
// runs async jobs; defaultCosts applies when a request omits a cost model.
func NewServer(logger *zap.Logger, config types.ServerConfig, engine Engine, pool *workers.Pool, defaultCosts *types.CostModel) *Server {
	if defaultCosts == nil {
		defaultCosts = types.DefaultCostModel()
	}

	server := &Server{
		logger:       logger,
		config:       config,
		engine:       engine,
		defaultCosts: defaultCosts,
		router:       mux.NewRouter(),
		hub:          NewHub(logger),
		pool:         pool,
		jobs:         newJobRegistry(),
		metrics:      newAPIMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()
	go server.hub.Run()
	return server
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/simulate/trades", s.handleSimulateTrades).Methods("POST")
	api.HandleFunc("/simulate/scenarios", s.handleSimulateScenarios).Methods("POST")

	api.HandleFunc("/montecarlo/run", s.handleMonteCarloRun).Methods("POST")
	api.HandleFunc("/montecarlo/jobs", s.handleMonteCarloJob).Methods("POST")
	api.HandleFunc("/montecarlo/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/montecarlo/jobs/{id}", s.handleCancelJob).Methods("DELETE")

	api.HandleFunc("/rebalance/compute", s.handleRebalance).Methods("POST")

	api.HandleFunc("/backtest/run", s.handleBacktestRun).Methods("POST")
	api.HandleFunc("/backtest/jobs", s.handleBacktestJob).Methods("POST")
	api.HandleFunc("/backtest/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/backtest/jobs/{id}", s.handleCancelJob).Methods("DELETE")

	api.HandleFunc("/portfolio/metrics", s.handlePortfolioMetrics).Methods("POST")
	api.HandleFunc("/portfolio/performance", s.handlePortfolioPerformance).Methods("POST")

	api.HandleFunc("/refdata/symbols", s.handleListSymbols).Methods("GET")
	api.HandleFunc("/refdata/reference/{symbol}", s.handleGetReference).Methods("GET")
	api.HandleFunc("/refdata/reference/{symbol}", s.handlePutReference).Methods("PUT")
	api.HandleFunc("/refdata/calibrations/{symbol}", s.handleGetCalibration).Methods("GET")
	api.HandleFunc("/refdata/calibrations/{symbol}", s.handlePutCalibration).Methods("PUT")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.handler()).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, the hub and the job pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and joins it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	go client.ReadPump()
	go client.WritePump()
}

// jsonResponse writes a JSON body with the given status.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// errorResponse maps engine errors onto HTTP statuses: malformed or invalid
// input is 400, requests the portfolio state cannot satisfy are 422,
// anything else is 500.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": err.Error()}

	var domainErr *types.DomainError
	if errors.As(err, &domainErr) {
		body["kind"] = domainErr.Kind
		if domainErr.Field != "" {
			body["field"] = domainErr.Field
		}
		switch domainErr.Kind {
		case types.KindInvalidSnapshot, types.KindInvalidConfig, types.KindAllocationMismatch:
			status = http.StatusBadRequest
		case types.KindInsufficientFunds, types.KindInsufficientShares, types.KindNoPositionData:
			status = http.StatusUnprocessableEntity
		}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}

	s.jsonResponse(w, status, body)
}

// decode parses a JSON request body, rejecting unknown shapes early.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid request body: %v", err),
			"kind":  types.KindInvalidConfig,
		})
		return false
	}
	return true
}

// handleHealth reports liveness and basic runtime stats.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"time":      time.Now().Unix(),
		"wsClients": s.hub.ClientCount(),
		"pool":      s.pool.Stats(),
	})
}
