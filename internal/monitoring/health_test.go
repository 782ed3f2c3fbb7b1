package monitoring_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/monitoring"
)

func TestHealthMonitorIsOKWithNoCheckers(t *testing.T) {
	t.Parallel()
	h := monitoring.NewHealthMonitor()
	require.Equal(t, monitoring.StatusOK, h.Check().Status)
}

func TestHealthMonitorIsDownWhenAnyCheckerIsDown(t *testing.T) {
	t.Parallel()
	h := monitoring.NewHealthMonitor()
	h.RegisterChecker(&monitoring.DataRootChecker{StatFunc: func() error { return nil }})
	h.RegisterChecker(&monitoring.EngineChecker{EngineID: "distributed", Failing: func() bool { return false }})
	h.RegisterChecker(&monitoring.DataRootChecker{StatFunc: func() error { return errors.New("boom") }})

	sys := h.Check()
	require.Equal(t, monitoring.StatusDown, sys.Status)
	require.Len(t, sys.Components, 3)
}

func TestHealthMonitorIsDegradedWhenOnlyEngineFailing(t *testing.T) {
	t.Parallel()
	h := monitoring.NewHealthMonitor()
	h.RegisterChecker(&monitoring.DataRootChecker{StatFunc: func() error { return nil }})
	h.RegisterChecker(&monitoring.EngineChecker{EngineID: "parallel", Failing: func() bool { return true }})

	sys := h.Check()
	require.Equal(t, monitoring.StatusDegraded, sys.Status)
}

func TestDownStatusOutranksDegraded(t *testing.T) {
	t.Parallel()
	h := monitoring.NewHealthMonitor()
	h.RegisterChecker(&monitoring.EngineChecker{EngineID: "parallel", Failing: func() bool { return true }})
	h.RegisterChecker(&monitoring.DataRootChecker{StatFunc: func() error { return errors.New("boom") }})

	require.Equal(t, monitoring.StatusDown, h.Check().Status)
}

func TestCollectorRenderIncludesHelpTypeAndValue(t *testing.T) {
	t.Parallel()
	c := monitoring.NewCollector()
	c.Describe("router_queries_total", monitoring.MetricCounter, "total queries executed")
	c.IncCounter("router_queries_total", 3)
	c.Describe("router_cache_hit_rate", monitoring.MetricGauge, "cache hit rate")
	c.SetGauge("router_cache_hit_rate", 0.75)

	out := c.Render()
	require.Contains(t, out, "# HELP router_queries_total total queries executed")
	require.Contains(t, out, "# TYPE router_queries_total counter")
	require.Contains(t, out, "router_queries_total 3")
	require.Contains(t, out, "# TYPE router_cache_hit_rate gauge")
	require.Contains(t, out, "router_cache_hit_rate 0.75")
}

func TestCollectorRenderOrdersMetricsAlphabetically(t *testing.T) {
	t.Parallel()
	c := monitoring.NewCollector()
	c.SetGauge("zzz_metric", 1)
	c.IncCounter("aaa_metric", 1)

	out := c.Render()
	require.Less(t, indexOf(out, "aaa_metric"), indexOf(out, "zzz_metric"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestDescribeSeedsZeroValueBeforeFirstUse(t *testing.T) {
	t.Parallel()
	c := monitoring.NewCollector()
	c.Describe("router_connected_dashboards", monitoring.MetricGauge, "connected dashboard clients")
	require.Contains(t, c.Render(), "router_connected_dashboards 0")
}
