// Package monitoring implements the router's liveness/health surface
// and a hand-rolled Prometheus exposition-format metrics endpoint,
// adapted from the teacher's health.go/metrics.go/prometheus.go (no
// prometheus/client_golang import exists anywhere in the retrieval
// pack, so this keeps the teacher's own exposition-format writer
// instead of introducing an out-of-pack dependency).
package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthStatus is a component's liveness classification.
type HealthStatus string

const (
	StatusOK       HealthStatus = "ok"
	StatusDegraded HealthStatus = "degraded"
	StatusDown     HealthStatus = "down"
)

// Checker reports one subsystem's health.
type Checker interface {
	Name() string
	Check() (HealthStatus, string)
}

// HealthMonitor aggregates a fixed set of Checkers into one status.
type HealthMonitor struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewHealthMonitor returns an empty monitor; register checkers with
// RegisterChecker before serving traffic.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{}
}

// RegisterChecker adds c to the monitor's checked set.
func (h *HealthMonitor) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// ComponentHealth is one checker's result.
type ComponentHealth struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// SystemHealth is the aggregate of every registered checker: down if any
// component is down, degraded if any is degraded, else ok.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Check runs every registered checker and aggregates the result.
func (h *HealthMonitor) Check() SystemHealth {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	sys := SystemHealth{Status: StatusOK, CheckedAt: time.Now()}
	for _, c := range checkers {
		status, msg := c.Check()
		sys.Components = append(sys.Components, ComponentHealth{Name: c.Name(), Status: status, Message: msg})
		if status == StatusDown {
			sys.Status = StatusDown
		} else if status == StatusDegraded && sys.Status != StatusDown {
			sys.Status = StatusDegraded
		}
	}
	return sys
}

// DataRootChecker reports the query router's data root as down when it
// cannot be statted, matching the catalog's own failure mode.
type DataRootChecker struct {
	StatFunc func() error
}

func (c *DataRootChecker) Name() string { return "data_root" }

func (c *DataRootChecker) Check() (HealthStatus, string) {
	if err := c.StatFunc(); err != nil {
		return StatusDown, err.Error()
	}
	return StatusOK, ""
}

// EngineChecker reports an engine as degraded once it has failed since
// the last successful query, and ok otherwise.
type EngineChecker struct {
	EngineID string
	Failing  func() bool
}

func (c *EngineChecker) Name() string { return "engine:" + c.EngineID }

func (c *EngineChecker) Check() (HealthStatus, string) {
	if c.Failing() {
		return StatusDegraded, "last execution on this engine failed"
	}
	return StatusOK, ""
}

// MetricType classifies a Metric for exposition formatting.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// Collector accumulates named counters and gauges and renders them in
// Prometheus text exposition format on demand.
type Collector struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	help     map[string]string
	types    map[string]MetricType
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		help:     make(map[string]string),
		types:    make(map[string]MetricType),
	}
}

// Describe registers a metric's help text and type ahead of first use,
// so it still appears (as zero) in exposition output before any
// Inc/Set call.
func (c *Collector) Describe(name string, typ MetricType, help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[name] = typ
	c.help[name] = help
	switch typ {
	case MetricCounter:
		if _, ok := c.counters[name]; !ok {
			c.counters[name] = 0
		}
	case MetricGauge:
		if _, ok := c.gauges[name]; !ok {
			c.gauges[name] = 0
		}
	}
}

// IncCounter adds delta to name, creating it at 0 first if unseen.
func (c *Collector) IncCounter(name string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

// SetGauge sets name to value.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

// Render writes every known metric in Prometheus text exposition format.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.counters)+len(c.gauges))
	seen := make(map[string]bool)
	for n := range c.counters {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range c.gauges {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		if help, ok := c.help[name]; ok {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		}
		typ := c.types[name]
		if typ == "" {
			typ = MetricGauge
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, typ)
		if v, ok := c.counters[name]; ok {
			fmt.Fprintf(&b, "%s %g\n", name, v)
		} else if v, ok := c.gauges[name]; ok {
			fmt.Fprintf(&b, "%s %g\n", name, v)
		}
	}
	return b.String()
}
