package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/portfolio-engine/internal/backtest"
	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// simulateTradesRequest is the body of POST /simulate/trades.
type simulateTradesRequest struct {
	Snapshot  *types.PortfolioSnapshot `json:"snapshot"`
	Trades    []types.SimulatedTrade   `json:"trades"`
	CostModel *types.CostModel         `json:"costModel,omitempty"`
}

// simulateScenariosRequest is the body of POST /simulate/scenarios.
type simulateScenariosRequest struct {
	Snapshot  *types.PortfolioSnapshot `json:"snapshot"`
	Scenarios []types.Scenario         `json:"scenarios"`
	CostModel *types.CostModel         `json:"costModel,omitempty"`
}

// monteCarloRequest is the body of the sync and async Monte Carlo routes.
// When Calibration is omitted the symbol is resolved via the reference data
// store.
type monteCarloRequest struct {
	Config      types.MonteCarloConfig `json:"config"`
	Calibration *types.Calibration     `json:"calibration,omitempty"`
}

// rebalanceRequest is the body of POST /rebalance/compute. Prices supplies
// quotes for target symbols not currently held.
type rebalanceRequest struct {
	Snapshot  *types.PortfolioSnapshot   `json:"snapshot"`
	Target    *types.TargetAllocation    `json:"target"`
	CostModel *types.CostModel           `json:"costModel,omitempty"`
	Prices    map[string]decimal.Decimal `json:"prices,omitempty"`
}

// portfolioMetricsRequest is the body of POST /portfolio/metrics.
type portfolioMetricsRequest struct {
	Snapshot *types.PortfolioSnapshot `json:"snapshot"`
}

// performanceRequest is the body of POST /portfolio/performance.
type performanceRequest struct {
	PnLs           []decimal.Decimal `json:"pnls"`
	InitialCapital decimal.Decimal   `json:"initialCapital"`
}

func (s *Server) costsOrDefault(costModel *types.CostModel) *types.CostModel {
	if costModel != nil {
		return costModel
	}
	return s.defaultCosts
}

func (s *Server) handleSimulateTrades(w http.ResponseWriter, r *http.Request) {
	var req simulateTradesRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.Simulator.Simulate(req.Snapshot, req.Trades, s.costsOrDefault(req.CostModel))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.metrics.simulationsTotal.WithLabelValues("trades").Inc()
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleSimulateScenarios(w http.ResponseWriter, r *http.Request) {
	var req simulateScenariosRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.Simulator.Compare(req.Snapshot, req.Scenarios, s.costsOrDefault(req.CostModel))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.metrics.simulationsTotal.WithLabelValues("scenarios").Inc()
	s.jsonResponse(w, http.StatusOK, result)
}

// resolveCalibration returns the request's inline calibration or looks the
// symbol up in the reference data store.
func (s *Server) resolveCalibration(req *monteCarloRequest) (types.Calibration, error) {
	if req.Calibration != nil {
		return *req.Calibration, nil
	}
	calibration, ok := s.engine.RefData.Calibration(req.Config.Symbol)
	if !ok {
		return types.Calibration{}, types.NewNoPositionData("calibration",
			fmt.Sprintf("no stored calibration for %s and none supplied", req.Config.Symbol))
	}
	return calibration, nil
}

func (s *Server) handleMonteCarloRun(w http.ResponseWriter, r *http.Request) {
	var req monteCarloRequest
	if !s.decode(w, r, &req) {
		return
	}
	calibration, err := s.resolveCalibration(&req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	result, err := s.engine.MonteCarlo.Run(r.Context(), req.Config, calibration)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.metrics.simulationsTotal.WithLabelValues("montecarlo").Inc()
	s.metrics.pathsGenerated.Add(float64(result.NumSimulations))
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleMonteCarloJob(w http.ResponseWriter, r *http.Request) {
	var req monteCarloRequest
	if !s.decode(w, r, &req) {
		return
	}
	calibration, err := s.resolveCalibration(&req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.submitJob(w, JobKindMonteCarlo, func(ctx context.Context) (interface{}, error) {
		result, err := s.engine.MonteCarlo.Run(ctx, req.Config, calibration)
		if err != nil {
			return nil, err
		}
		s.metrics.simulationsTotal.WithLabelValues("montecarlo").Inc()
		s.metrics.pathsGenerated.Add(float64(result.NumSimulations))
		return result, nil
	})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Target == nil {
		s.errorResponse(w, types.NewInvalidConfig("target", "target allocation is required"))
		return
	}

	suggestion, err := s.engine.Rebalancer.Compute(req.Snapshot, req.Target, s.costsOrDefault(req.CostModel), req.Prices)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.metrics.simulationsTotal.WithLabelValues("rebalance").Inc()
	s.jsonResponse(w, http.StatusOK, suggestion)
}

func (s *Server) handleBacktestRun(w http.ResponseWriter, r *http.Request) {
	var config types.BacktestConfig
	if !s.decode(w, r, &config) {
		return
	}

	result, err := s.engine.Backtester.Run(r.Context(), &config)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.metrics.simulationsTotal.WithLabelValues("backtest").Inc()
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleBacktestJob(w http.ResponseWriter, r *http.Request) {
	var config types.BacktestConfig
	if !s.decode(w, r, &config) {
		return
	}
	// Fail invalid configs at submission rather than inside the job.
	if err := config.Validate(); err != nil {
		s.errorResponse(w, err)
		return
	}

	s.submitJob(w, JobKindBacktest, func(ctx context.Context) (interface{}, error) {
		result, err := s.engine.Backtester.Run(ctx, &config)
		if err != nil {
			return nil, err
		}
		s.metrics.simulationsTotal.WithLabelValues("backtest").Inc()
		return result, nil
	})
}

// submitJob registers a job, queues it on the pool and responds 202 with
// the job ID. Progress is published to the jobs WebSocket channels.
func (s *Server) submitJob(w http.ResponseWriter, kind JobKind, run func(ctx context.Context) (interface{}, error)) {
	job := s.jobs.create(kind)

	err := s.pool.SubmitFunc(func(ctx context.Context) error {
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if !s.jobs.markRunning(job.ID, cancel) {
			// Cancelled before it started.
			return nil
		}
		s.broadcastJob(job.ID)

		result, err := run(jobCtx)
		if err != nil {
			s.jobs.fail(job.ID, err.Error())
			s.finishJob(job.ID)
			return err
		}
		s.jobs.complete(job.ID, result)
		s.finishJob(job.ID)
		return nil
	})
	if err != nil {
		s.jobs.fail(job.ID, err.Error())
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.broadcastJob(job.ID)
	s.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"status": JobPending,
	})
}

// broadcastJob publishes the current job state to its channels.
func (s *Server) broadcastJob(id string) {
	if job, ok := s.jobs.get(id); ok {
		s.hub.BroadcastJobUpdate(&job)
	}
}

// finishJob broadcasts a terminal state and counts it.
func (s *Server) finishJob(id string) {
	job, ok := s.jobs.get(id)
	if !ok {
		return
	}
	s.hub.BroadcastJobUpdate(&job)
	s.metrics.jobsTotal.WithLabelValues(string(job.Status)).Inc()
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.jobs.get(id)
	if !ok {
		s.jsonResponse(w, http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("unknown job %s", id),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found, cancelled := s.jobs.requestCancel(id)
	if !found {
		s.jsonResponse(w, http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("unknown job %s", id),
		})
		return
	}
	if cancelled {
		s.finishJob(id)
	}

	job, _ := s.jobs.get(id)
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handlePortfolioMetrics(w http.ResponseWriter, r *http.Request) {
	var req portfolioMetricsRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.Metrics.Compute(req.Snapshot)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handlePortfolioPerformance(w http.ResponseWriter, r *http.Request) {
	var req performanceRequest
	if !s.decode(w, r, &req) {
		return
	}

	stats, err := backtest.ComputePerformance(req.PnLs, req.InitialCapital)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"symbols": s.engine.RefData.Symbols(),
	})
}

func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	ref, ok := s.engine.RefData.Reference(symbol)
	if !ok {
		s.jsonResponse(w, http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("no reference data for %s", symbol),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, ref)
}

func (s *Server) handlePutReference(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	var ref metrics.SymbolReference
	if !s.decode(w, r, &ref) {
		return
	}
	ref.Symbol = symbol

	if err := s.engine.RefData.PutReference(ref); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ref)
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	calibration, ok := s.engine.RefData.Calibration(symbol)
	if !ok {
		s.jsonResponse(w, http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("no calibration for %s", symbol),
		})
		return
	}
	s.jsonResponse(w, http.StatusOK, calibration)
}

func (s *Server) handlePutCalibration(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	var calibration types.Calibration
	if !s.decode(w, r, &calibration) {
		return
	}
	calibration.Symbol = symbol

	if err := s.engine.RefData.PutCalibration(calibration); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, calibration)
}
