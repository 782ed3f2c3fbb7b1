// Package api implements the HTTP Operator API (C14): the chi route
// table wiring every other component to the outside world, in the
// handler style of the teacher's query_handlers.go (factory functions
// returning http.HandlerFunc, json.NewDecoder/Encoder, zerolog error
// logging, chi.URLParam for path params).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/querymesh/router/internal/dashboard"
	"github.com/querymesh/router/internal/events"
	"github.com/querymesh/router/internal/export"
	"github.com/querymesh/router/internal/monitoring"
	"github.com/querymesh/router/internal/orchestrator"
	"github.com/querymesh/router/internal/pagination"
	"github.com/querymesh/router/internal/querycache"
	"github.com/querymesh/router/internal/routererr"
	"github.com/querymesh/router/internal/schema"
)

// Server holds every collaborator the route table dispatches to.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Schemas      *schema.Registry
	Cache        *querycache.Cache
	Dashboard    *dashboard.Service
	Events       *events.Hub
	Health       *monitoring.HealthMonitor
	Metrics      *monitoring.Collector
}

// Routes mounts every C14 endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/explain", s.handleExplain)
	r.Post("/v1/schema/{table}", s.handleRegisterSchema)
	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Post("/v1/cache/clear", s.handleCacheClear)
	r.Get("/v1/dashboard", s.handleDashboard)
	r.Get("/v1/dashboard/ws", s.handleDashboardWS)
	r.Get("/v1/export", s.handleExport)
	r.Get("/v1/healthz", s.handleHealthz)
	r.Get("/v1/metrics", s.handleMetrics)
}

type queryRequest struct {
	SQL         string `json:"sql"`
	ForceEngine string `json:"force_engine,omitempty"`
	BypassCache bool   `json:"bypass_cache,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	PageToken   string `json:"page_token,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, routererr.Parse(err))
		return
	}

	resp, err := s.Orchestrator.Execute(r.Context(), orchestrator.ExecuteRequest{
		SQL:         req.SQL,
		ForceEngine: req.ForceEngine,
		BypassCache: req.BypassCache,
	})
	if s.Metrics != nil {
		s.Metrics.IncCounter("router_queries_total", 1)
	}
	if err != nil {
		failedEngine := ""
		if rerr, ok := err.(*routererr.RouterError); ok {
			failedEngine = rerr.EngineID
		}
		s.recordOutcome(req, failedEngine, 0, false)
		writeError(w, err)
		return
	}

	s.recordOutcome(req, resp.Result.EngineID, resp.Result.WallTimeS, true)

	page := pagination.Apply(resp.Result.Rows, pagination.PageRequest{PageSize: req.PageSize, PageToken: req.PageToken})
	writeJSON(w, http.StatusOK, map[string]any{
		"result": resp.Result,
		"page":   page,
		"trace":  resp.Trace,
	})
}

func (s *Server) recordOutcome(req queryRequest, engineID string, wallTimeS float64, success bool) {
	if s.Dashboard == nil {
		return
	}
	s.Dashboard.RecordExecution(dashboard.RecentQuery{
		SQL:       req.SQL,
		EngineID:  engineID,
		WallTimeS: wallTimeS,
		Success:   success,
		At:        time.Now(),
	})
}

type explainRequest struct {
	SQL         string `json:"sql"`
	ForceEngine string `json:"force_engine,omitempty"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, routererr.Parse(err))
		return
	}
	resp, err := s.Orchestrator.Explain(req.SQL, req.ForceEngine)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerSchemaRequest struct {
	Columns map[string]string `json:"columns"`
}

func (s *Server) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var req registerSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, routererr.Parse(err))
		return
	}
	s.Schemas.Register(table, req.Columns)
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": len(req.Columns)})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		writeJSON(w, http.StatusOK, querycache.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.Cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.Cache != nil {
		s.Cache.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Dashboard.Snapshot())
}

func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	s.Events.ServeWS(w, r)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sqlText := r.URL.Query().Get("sql")
	if sqlText == "" {
		writeError(w, routererr.NoTables())
		return
	}
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatCSV
	}

	resp, err := s.Orchestrator.Execute(r.Context(), orchestrator.ExecuteRequest{SQL: sqlText})
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	case export.FormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	if err := export.Write(w, resp.Result, format); err != nil {
		log.Error().Err(err).Msg("export write failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := s.Health.Check()
	status := http.StatusOK
	if health.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.Metrics.Render()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	rerr, ok := err.(*routererr.RouterError)
	if !ok {
		log.Error().Err(err).Msg("unclassified error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch rerr.Type {
	case routererr.ErrorTypeParse, routererr.ErrorTypeValidation, routererr.ErrorTypeConfig:
		status = http.StatusBadRequest
	case routererr.ErrorTypeCatalog:
		status = http.StatusNotFound
	case routererr.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	case routererr.ErrorTypeEngine:
		status = http.StatusBadGateway
	}
	log.Error().Err(rerr).Str("code", rerr.Code).Msg("request failed")
	writeJSON(w, status, map[string]any{
		"error": rerr.Message,
		"code":  rerr.Code,
		"type":  rerr.Type,
	})
}
