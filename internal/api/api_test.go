package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/api"
	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/dashboard"
	"github.com/querymesh/router/internal/enginerunner"
	"github.com/querymesh/router/internal/monitoring"
	"github.com/querymesh/router/internal/orchestrator"
	"github.com/querymesh/router/internal/querycache"
	"github.com/querymesh/router/internal/queryresult"
	"github.com/querymesh/router/internal/schema"
	"github.com/querymesh/router/internal/sqlfacade"
)

type stubEngine struct{ id string }

func (e *stubEngine) ID() string { return e.id }
func (e *stubEngine) Execute(ctx context.Context, table, sql string, partitions []enginerunner.PartitionGroup, maxRows int) (*queryresult.QueryResult, error) {
	return &queryresult.QueryResult{EngineID: e.id, RowCount: len(partitions)}, nil
}
func (e *stubEngine) Close() error { return nil }

type stubRunner struct{ engines map[string]enginerunner.Engine }

func (r *stubRunner) Get(id string) (enginerunner.Engine, error) { return r.engines[id], nil }

func newTestServer(t *testing.T) (*chi.Mux, *api.Server) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "events", "dt=2024-01-01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0.parquet"), make([]byte, 1024), 0o644))

	cfg := &config.Config{
		DataRoot:         root,
		SQLDialect:       "postgres",
		PartitionFileExt: "parquet",
		PartitionKey:     "dt",
		MaxRows:          1000,
		Engines:          config.DefaultEngineProfiles(),
	}
	runner := &stubRunner{engines: map[string]enginerunner.Engine{
		"single-columnar": &stubEngine{id: "single-columnar"},
		"parallel":        &stubEngine{id: "parallel"},
		"distributed":     &stubEngine{id: "distributed"},
	}}
	cache := querycache.New(10, 0, false)
	orch := orchestrator.New(cfg, sqlfacade.New("postgres"), schema.NewRegistry(), runner, cache)

	srv := &api.Server{
		Orchestrator: orch,
		Schemas:      schema.NewRegistry(),
		Cache:        cache,
		Dashboard:    dashboard.NewService(cache, nil),
		Health:       monitoring.NewHealthMonitor(),
		Metrics:      monitoring.NewCollector(),
	}
	r := chi.NewRouter()
	srv.Routes(r)
	return r, srv
}

func TestHandleQueryReturnsResultAndPage(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"sql": "SELECT * FROM events WHERE dt = '2024-01-01'"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out, "result")
	require.Contains(t, out, "page")
}

func TestHandleQueryOnMissingTableReturns404(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"sql": "SELECT * FROM nope"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleQueryOnMalformedBodyReturns400(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExplainNeverExecutes(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"sql": "SELECT * FROM events WHERE dt = '2024-01-01'"})
	req := httptest.NewRequest(http.MethodPost, "/v1/explain", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "events", out["Table"])
}

func TestHandleRegisterSchemaStoresColumns(t *testing.T) {
	t.Parallel()
	r, srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"columns": map[string]string{"dt": "DATE", "region": "VARCHAR"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/schema/events", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cols, ok := srv.Schemas.Get("events")
	require.True(t, ok)
	require.Len(t, cols, 2)
}

func TestHandleCacheStatsAndClear(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"sql": "SELECT * FROM events WHERE dt = '2024-01-01'"})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	var stats querycache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Size)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/cache/clear", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, 0, stats.Size)
}

func TestHandleHealthzReportsOKWithNoCheckers(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleMetricsReturnsPlainText(t *testing.T) {
	t.Parallel()
	r, srv := newTestServer(t)
	srv.Metrics.Describe("router_queries_total", monitoring.MetricCounter, "total queries")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "router_queries_total")
}

func TestHandleExportWritesCSV(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/export?sql=SELECT+*+FROM+events+WHERE+dt+=+'2024-01-01'&format=csv", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestHandleExportMissingSQLReturns400(t *testing.T) {
	t.Parallel()
	r, _ := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/export", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
