// Package orchestrator implements the Query Orchestrator (C10): the
// single entry point wiring the SQL facade, predicate lifter, feature
// extractor, partition catalog and pruner, cost estimator, backend
// selector, engine runner, and query cache into the end-to-end
// execute/explain pipeline described by the router's dataflow.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/querymesh/router/internal/catalog"
	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/cost"
	"github.com/querymesh/router/internal/enginerunner"
	"github.com/querymesh/router/internal/features"
	"github.com/querymesh/router/internal/predicate"
	"github.com/querymesh/router/internal/pruner"
	"github.com/querymesh/router/internal/querycache"
	"github.com/querymesh/router/internal/queryresult"
	"github.com/querymesh/router/internal/routererr"
	"github.com/querymesh/router/internal/schema"
	"github.com/querymesh/router/internal/selector"
	"github.com/querymesh/router/internal/sqlfacade"
	"github.com/querymesh/router/internal/tracing"
)

// EventPublisher receives execution lifecycle notifications for the
// event feed (C13). Optional — a nil publisher simply means no events
// are emitted.
type EventPublisher interface {
	PublishExecuted(table, engineID string, wallTimeS float64)
	PublishEngineFailed(table, engineID string)
}

// ExecuteRequest is the orchestrator's execute() input.
type ExecuteRequest struct {
	SQL          string
	ForceEngine  string
	BypassCache  bool
}

// ExecuteResponse bundles the result with the planning artifacts a
// caller (the HTTP layer, tests) may want to inspect.
type ExecuteResponse struct {
	Result  *queryresult.QueryResult
	Trace   *tracing.QueryTrace
	Choice  selector.Choice
	Pruning *pruner.Result
}

// ExplainResponse is explain()'s output: every planning artifact, no
// execution.
type ExplainResponse struct {
	Table      string
	Predicates []predicate.Predicate
	Features   features.Features
	Pruning    *pruner.Result
	Estimates  []cost.Estimate
	Choice     selector.Choice
	Trace      *tracing.QueryTrace
}

// EngineGetter is the subset of *enginerunner.Runner the orchestrator
// depends on, narrowed to an interface so tests can substitute a fake
// engine without a real DuckDB or ClickHouse connection.
type EngineGetter interface {
	Get(engineID string) (enginerunner.Engine, error)
}

// Orchestrator is the C10 pipeline. Construct with New and reuse for
// the life of the process — it holds no per-query state.
type Orchestrator struct {
	cfg       *config.Config
	facade    *sqlfacade.Facade
	schemas   *schema.Registry
	runner    EngineGetter
	cache     *querycache.Cache
	publisher EventPublisher
}

// New wires an Orchestrator from its already-constructed collaborators.
func New(cfg *config.Config, facade *sqlfacade.Facade, schemas *schema.Registry, runner EngineGetter, cache *querycache.Cache) *Orchestrator {
	return &Orchestrator{cfg: cfg, facade: facade, schemas: schemas, runner: runner, cache: cache}
}

// SetPublisher wires the event feed. Safe to call once at startup before
// any Execute call.
func (o *Orchestrator) SetPublisher(p EventPublisher) {
	o.publisher = p
}

// Execute runs req.SQL end to end: cache check, parse, prune, cost,
// select, run, cache, publish. A cache hit short-circuits everything
// after the first step.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	trace := tracing.NewTrace(newTraceID())

	if !req.BypassCache && o.cache != nil {
		endCache := trace.Span("cache_lookup")
		if cached, ok := o.cache.Get(req.SQL); ok {
			endCache()
			cached.TraceID = trace.ID
			return &ExecuteResponse{Result: cached, Trace: trace}, nil
		}
		endCache()
	}

	plan, err := o.plan(trace, req.SQL, req.ForceEngine)
	if err != nil {
		return nil, err
	}

	endExec := trace.Span("execute")
	engineID := plan.Choice.EngineID
	result, err := o.runWithRetry(ctx, plan, engineID)
	endExec()
	if err != nil {
		return nil, err
	}

	result.Table = plan.Table
	result.KeptPartitions = len(plan.Pruning.Kept)
	result.TotalPartitions = int(plan.Pruning.TotalCount)
	result.ScanSizeGB = bytesToGB(plan.Pruning.KeptSizeBytes())
	result.TraceID = trace.ID
	if result.OptimizedSQL == "" {
		result.OptimizedSQL = plan.OptimizedSQL
	}

	if o.cache != nil {
		o.cache.Put(req.SQL, result, partitionPaths(plan.Pruning))
	}
	if o.publisher != nil {
		o.publisher.PublishExecuted(plan.Table, result.EngineID, result.WallTimeS)
	}

	return &ExecuteResponse{Result: result, Trace: trace, Choice: plan.Choice, Pruning: plan.Pruning}, nil
}

// Explain runs every planning stage without touching an engine.
func (o *Orchestrator) Explain(sql string, forceEngine string) (*ExplainResponse, error) {
	trace := tracing.NewTrace(newTraceID())
	plan, err := o.plan(trace, sql, forceEngine)
	if err != nil {
		return nil, err
	}
	return &ExplainResponse{
		Table:      plan.Table,
		Predicates: plan.Predicates,
		Features:   plan.Features,
		Pruning:    plan.Pruning,
		Estimates:  plan.Estimates,
		Choice:     plan.Choice,
		Trace:      trace,
	}, nil
}

// plannedQuery is everything execute() and explain() share: the part of
// the pipeline before an engine actually runs.
type plannedQuery struct {
	Table        string
	OptimizedSQL string
	Predicates   []predicate.Predicate
	Features     features.Features
	Pruning      *pruner.Result
	Estimates    []cost.Estimate
	ByID         map[string]cost.Estimate
	Choice       selector.Choice
}

func (o *Orchestrator) plan(trace *tracing.QueryTrace, sql string, forceEngine string) (*plannedQuery, error) {
	endParse := trace.Span("parse")
	ast, err := o.facade.Parse(sql)
	endParse()
	if err != nil {
		return nil, err
	}

	tables := o.facade.Tables(ast)
	if len(tables) == 0 {
		return nil, routererr.NoTables()
	}
	table := tables[0]

	ast = o.facade.Optimize(ast, schemaFor(o.schemas, table))
	where := o.facade.WhereOf(ast)

	endLift := trace.Span("lift_predicates")
	preds := predicate.Lift(where, o.cfg.PartitionKey)
	endLift()

	endFeat := trace.Span("extract_features")
	feats := features.Extract(ast.Select, where)
	endFeat()

	endCatalog := trace.Span("catalog_scan")
	cat, err := catalog.Scan(o.cfg.DataRoot, table, o.cfg.PartitionKey, o.cfg.PartitionFileExt)
	endCatalog()
	if err != nil {
		return nil, err
	}

	colType := o.schemas.ColumnType(table, o.cfg.PartitionKey)

	endPrune := trace.Span("prune")
	pruneResult := pruner.Prune(cat, preds, colType)
	endPrune()

	feats.ScanSizeGB = bytesToGB(pruneResult.KeptSizeBytes())

	endCost := trace.Span("estimate_cost")
	estimates, byID := cost.EstimateAll(o.cfg.Engines, feats)
	endCost()

	choice := selector.Select(estimates, byID, forceEngine)

	endRender := trace.Span("render")
	optimizedSQL, err := o.facade.Render(ast)
	endRender()
	if err != nil {
		return nil, err
	}

	return &plannedQuery{
		Table:        table,
		OptimizedSQL: optimizedSQL,
		Predicates:   preds,
		Features:     feats,
		Pruning:      pruneResult,
		Estimates:    estimates,
		ByID:         byID,
		Choice:       choice,
	}, nil
}

// runWithRetry executes plan against engineID. On engine failure it
// retries exactly once against the next-cheapest feasible engine other
// than the one that just failed, per the retry rule governing execution
// errors (parse/validation/catalog errors are never retried).
func (o *Orchestrator) runWithRetry(ctx context.Context, plan *plannedQuery, engineID string) (*queryresult.QueryResult, error) {
	engine, err := o.runner.Get(engineID)
	if err != nil {
		return nil, err
	}
	result, err := engine.Execute(ctx, plan.Table, plan.OptimizedSQL, partitionGroups(plan.Pruning), o.cfg.MaxRows)
	if err == nil {
		return result, nil
	}

	if o.publisher != nil {
		o.publisher.PublishEngineFailed(plan.Table, engineID)
	}

	fallback, ok := nextCheapest(plan.Estimates, engineID)
	if !ok {
		return nil, err
	}

	fallbackEngine, ferr := o.runner.Get(fallback)
	if ferr != nil {
		return nil, err
	}
	result, ferr = fallbackEngine.Execute(ctx, plan.Table, plan.OptimizedSQL, partitionGroups(plan.Pruning), o.cfg.MaxRows)
	if ferr != nil {
		if o.publisher != nil {
			o.publisher.PublishEngineFailed(plan.Table, fallback)
		}
		return nil, ferr
	}

	plan.Choice.EngineID = fallback
	plan.Choice.Reasoning = fmt.Sprintf("%s; retried on %s after %s failed (%s)", plan.Choice.Reasoning, fallback, engineID, err.Error())
	return result, nil
}

// nextCheapest returns the cheapest feasible engine in estimates other
// than exclude, by ascending est_time_s.
func nextCheapest(estimates []cost.Estimate, exclude string) (string, bool) {
	candidates := make([]cost.Estimate, 0, len(estimates))
	for _, e := range estimates {
		if e.EngineID == exclude || !e.Feasible() {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].EstTimeS < candidates[j].EstTimeS })
	return candidates[0].EngineID, true
}

func partitionPaths(r *pruner.Result) []string {
	paths := make([]string, 0, len(r.Kept))
	for _, e := range r.Kept {
		paths = append(paths, e.Path)
	}
	return paths
}

// partitionGroups carries each kept partition's key/value pair through to
// the engine layer, which must surface it as a column per the engine
// contract.
func partitionGroups(r *pruner.Result) []enginerunner.PartitionGroup {
	groups := make([]enginerunner.PartitionGroup, 0, len(r.Kept))
	for _, e := range r.Kept {
		groups = append(groups, enginerunner.PartitionGroup{Path: e.Path, Key: e.Key, Value: e.Value})
	}
	return groups
}

func schemaFor(registry *schema.Registry, table string) map[string]schema.Column {
	cols, _ := registry.Get(table)
	return cols
}

func bytesToGB(b uint64) float64 {
	return float64(b) / (1024 * 1024 * 1024)
}

var traceSeq atomic.Uint64

// newTraceID mints a short, monotonically increasing trace identifier.
// A real UUID would work equally well; this avoids importing
// google/uuid into the hot path for a value that's only ever used for
// correlating a trace with its own event-feed entries within one
// process lifetime.
func newTraceID() string {
	n := traceSeq.Add(1)
	return formatTraceID(n)
}

func formatTraceID(n uint64) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "trace-0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append([]byte{digits[n%16]}, buf...)
		n /= 16
	}
	return "trace-" + string(buf)
}
