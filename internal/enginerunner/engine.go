// Package enginerunner implements the Engine Runner (C8): lazy,
// process-lifetime-reused handles to the three execution engines named
// in the cost model (single-columnar and parallel DuckDB, distributed
// ClickHouse), each running an already-pruned, already-rewritten SQL
// statement over a concrete set of partition files and returning rows
// in the shared queryresult.QueryResult shape.
package enginerunner

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/queryresult"
	"github.com/querymesh/router/internal/routererr"
)

// PartitionGroup is one kept partition directory's worth of files,
// carrying the partition key/value pair the engine contract requires be
// surfaced as a column on every row read from that directory.
type PartitionGroup struct {
	Path  string
	Key   string
	Value string
}

// Engine runs a rewritten SQL statement against a concrete list of
// partitions and returns its rows. Implementations own their connection
// lifetime; Close releases it.
type Engine interface {
	ID() string
	Execute(ctx context.Context, table string, optimizedSQL string, partitions []PartitionGroup, maxRows int) (*queryresult.QueryResult, error)
	Close() error
}

// Runner owns one Engine per profile ID, created on first use and
// reused for the life of the process, mirroring the teacher's database
// connection pool lifecycle (open once, defer Close at shutdown).
type Runner struct {
	mu      sync.Mutex
	cfg     *config.Config
	engines map[string]Engine
}

// NewRunner returns a Runner that will lazily construct engines from cfg.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg, engines: make(map[string]Engine)}
}

// Get returns the Engine for engineID, constructing it on first call.
func (r *Runner) Get(engineID string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[engineID]; ok {
		return e, nil
	}

	var e Engine
	var err error
	switch engineID {
	case "single-columnar":
		e, err = newDuckDBEngine(engineID, r.cfg.DuckDBPath, 1, r.cfg.PartitionFileExt)
	case "parallel":
		e, err = newDuckDBEngine(engineID, r.cfg.DuckDBPath, r.cfg.DistributedWorkers, r.cfg.PartitionFileExt)
	case "distributed":
		e, err = newClickHouseEngine(engineID, r.cfg.ClickHouseDSN, r.cfg.DistributedWorkers, r.cfg.PartitionFileExt)
	default:
		return nil, routererr.Engine(engineID, fmt.Errorf("unknown engine id"))
	}
	if err != nil {
		return nil, err
	}
	r.engines[engineID] = e
	return e, nil
}

// Close releases every engine constructed so far.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, e := range r.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// duckDBEngine backs both the single-columnar and parallel profiles —
// the only difference between them is the PRAGMA threads setting applied
// at construction, matching the cost model's treatment of them as the
// same engine under two concurrency budgets.
type duckDBEngine struct {
	id  string
	db  *sql.DB
	ext string
}

func newDuckDBEngine(id, path string, threads int, ext string) (*duckDBEngine, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, routererr.Engine(id, err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA threads=%d", threads)); err != nil {
		db.Close()
		return nil, routererr.Engine(id, err)
	}
	if _, err := db.Exec("INSTALL httpfs; LOAD httpfs;"); err != nil {
		// httpfs is only needed for remote partitions; a local-only data
		// root still works without it.
		_ = err
	}
	return &duckDBEngine{id: id, db: db, ext: ext}, nil
}

func (e *duckDBEngine) ID() string { return e.id }

func (e *duckDBEngine) Execute(ctx context.Context, table, optimizedSQL string, partitions []PartitionGroup, maxRows int) (*queryresult.QueryResult, error) {
	start := time.Now()
	rewritten, err := rewriteForReadParquet(optimizedSQL, table, partitions, e.ext)
	if err != nil {
		return nil, routererr.Engine(e.id, err)
	}

	rows, err := e.db.QueryContext(ctx, rewritten)
	if err != nil {
		if ctx.Err() != nil {
			return nil, routererr.EngineTimeout(e.id)
		}
		return nil, routererr.Engine(e.id, err)
	}
	defer rows.Close()

	result, err := scanRows(rows, maxRows)
	if err != nil {
		return nil, routererr.Engine(e.id, err)
	}
	result.EngineID = e.id
	result.WallTimeS = time.Since(start).Seconds()
	result.OptimizedSQL = rewritten
	return result, nil
}

func (e *duckDBEngine) Close() error { return e.db.Close() }

// clickHouseEngine backs the distributed profile: it fans a query out
// across DistributedWorkers goroutines, each scanning a disjoint subset
// of the kept partition directories, and merges partial row sets as
// they complete.
type clickHouseEngine struct {
	id      string
	conn    clickhouse.Conn
	workers int
	ext     string
}

func newClickHouseEngine(id, dsn string, workers int, ext string) (*clickHouseEngine, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, routererr.Engine(id, err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, routererr.Engine(id, err)
	}
	if workers < 1 {
		workers = 1
	}
	return &clickHouseEngine{id: id, conn: conn, workers: workers, ext: ext}, nil
}

func (e *clickHouseEngine) ID() string { return e.id }

// Execute splits partitions into up to e.workers groups and runs one
// file()-backed, partition-value-injecting query per group concurrently,
// merging the resulting row sets under a mutex. A single group's
// failure fails the whole query — partial results are never surfaced as
// success.
func (e *clickHouseEngine) Execute(ctx context.Context, table, optimizedSQL string, partitions []PartitionGroup, maxRows int) (*queryresult.QueryResult, error) {
	start := time.Now()
	groups := splitIntoGroups(partitions, e.workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		allRows  []queryresult.Row
		firstErr error
	)

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		group := group
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := rewriteForClickHouseFile(optimizedSQL, table, group, e.ext)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			rows, err := e.conn.Query(ctx, q)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			defer rows.Close()

			partial, err := scanClickHouseRows(rows)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			allRows = append(allRows, partial...)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		if ctx.Err() != nil {
			return nil, routererr.EngineTimeout(e.id)
		}
		return nil, routererr.Engine(e.id, firstErr)
	}

	if maxRows > 0 && len(allRows) > maxRows {
		allRows = allRows[:maxRows]
	}

	return &queryresult.QueryResult{
		Rows:      allRows,
		EngineID:  e.id,
		WallTimeS: time.Since(start).Seconds(),
		RowCount:  len(allRows),
	}, nil
}

func (e *clickHouseEngine) Close() error { return e.conn.Close() }

func splitIntoGroups(partitions []PartitionGroup, workers int) [][]PartitionGroup {
	if workers < 1 {
		workers = 1
	}
	groups := make([][]PartitionGroup, workers)
	for i, p := range partitions {
		idx := i % workers
		groups[idx] = append(groups[idx], p)
	}
	return groups
}

var tableRefPattern = func(table string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\bfrom\s+` + regexp.QuoteMeta(table) + `\b`)
}

// rewriteForReadParquet replaces the bare "FROM <table>" reference in
// optimizedSQL with DuckDB's read_parquet table function over the kept
// partitions. hive_partitioning=true is what satisfies the engine
// contract's requirement to surface the partition key as a column: every
// path glob still contains its "key=value" directory segment, and
// DuckDB parses that segment into a real output column rather than this
// code having to inject a literal per file.
func rewriteForReadParquet(optimizedSQL, table string, partitions []PartitionGroup, ext string) (string, error) {
	if len(partitions) == 0 {
		return "", fmt.Errorf("no partition files to scan for table %q", table)
	}
	quoted := make([]string, len(partitions))
	for i, p := range partitions {
		quoted[i] = "'" + strings.ReplaceAll(p.Path, "'", "''") + "/*." + ext + "'"
	}
	replacement := fmt.Sprintf("FROM read_parquet([%s], union_by_name=true, hive_partitioning=true) AS %s", strings.Join(quoted, ", "), table)
	re := tableRefPattern(table)
	if !re.MatchString(optimizedSQL) {
		return "", fmt.Errorf("could not locate FROM %s in rewritten SQL", table)
	}
	return re.ReplaceAllString(optimizedSQL, replacement), nil
}

// rewriteForClickHouseFile replaces "FROM <table>" with a UNION ALL of
// one file()-backed subquery per partition directory in the group.
// ClickHouse's file() table function has no hive-partitioning
// autodetection, so each subquery explicitly projects the partition's
// key literal as an extra column, matching the same column the query's
// WHERE clause (and any SELECT list) expects to find.
func rewriteForClickHouseFile(optimizedSQL, table string, partitions []PartitionGroup, ext string) (string, error) {
	if len(partitions) == 0 {
		return "", fmt.Errorf("no partition files to scan for table %q", table)
	}
	subqueries := make([]string, len(partitions))
	for i, p := range partitions {
		glob := strings.ReplaceAll(p.Path, "'", "''") + "/*." + ext
		value := strings.ReplaceAll(p.Value, "'", "''")
		subqueries[i] = fmt.Sprintf("SELECT *, '%s' AS %s FROM file('%s', 'Parquet')", value, p.Key, glob)
	}
	replacement := fmt.Sprintf("FROM (%s) AS %s", strings.Join(subqueries, " UNION ALL "), table)
	re := tableRefPattern(table)
	if !re.MatchString(optimizedSQL) {
		return "", fmt.Errorf("could not locate FROM %s in rewritten SQL", table)
	}
	return re.ReplaceAllString(optimizedSQL, replacement), nil
}

func scanRows(rows *sql.Rows, maxRows int) (*queryresult.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result queryresult.QueryResult
	for rows.Next() {
		if maxRows > 0 && result.RowCount >= maxRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(queryresult.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &result, nil
}

func scanClickHouseRows(rows clickhouse.Rows) ([]queryresult.Row, error) {
	cols := rows.Columns()
	var out []queryresult.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(queryresult.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
