// Package sqlfacade implements the SQL Facade (C1) over
// github.com/pganalyze/pg_query_go/v6, the real PostgreSQL parser bound
// into Go. It is the only package that touches *pg_query.Node directly
// for anything beyond predicate lifting and feature extraction.
package sqlfacade

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/querymesh/router/internal/routererr"
	"github.com/querymesh/router/internal/schema"
)

// AST wraps a single parsed statement. The facade only supports
// single-statement SELECT queries — this is a routing layer over
// read-only analytical workloads, not a general SQL gateway.
type AST struct {
	result *pg_query.ParseResult
	Select *pg_query.SelectStmt
}

// Facade is stateless apart from the configured dialect tag, carried for
// forward compatibility with non-Postgres dialects (only "postgres" is
// implemented; see SPEC_FULL.md).
type Facade struct {
	Dialect string
}

// New returns a Facade configured for dialect.
func New(dialect string) *Facade {
	return &Facade{Dialect: dialect}
}

// Parse parses sql into an AST, failing with routererr.Parse on
// malformed text, multi-statement input, or anything that isn't a bare
// SELECT.
func (f *Facade) Parse(sql string) (*AST, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, routererr.Parse(err)
	}
	if len(result.Stmts) != 1 {
		return nil, routererr.Parse(fmt.Errorf("expected exactly one statement, got %d", len(result.Stmts)))
	}
	sel, ok := result.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil, routererr.Parse(fmt.Errorf("only SELECT statements are routable"))
	}
	return &AST{result: result, Select: sel.SelectStmt}, nil
}

// Optimize returns ast unchanged, with or without a schema. pg_query's
// parser already canonicalizes BETWEEN/IN/operator precedence at parse
// time; no schema-aware rewrites (such as constant folding of casts) are
// applied here.
func (f *Facade) Optimize(ast *AST, tableSchema map[string]schema.Column) *AST {
	return ast
}

// Tables returns every base table referenced in ast's FROM clause, in
// source order. Subquery and CTE-only references are not base tables and
// are omitted, matching the primary-table-only pruning scope.
func (f *Facade) Tables(ast *AST) []string {
	var out []string
	collectTables(ast.Select.FromClause, &out)
	if wc := ast.Select.WithClause; wc != nil {
		ctes := make(map[string]bool, len(wc.Ctes))
		for _, n := range wc.Ctes {
			if cte, ok := n.Node.(*pg_query.Node_CommonTableExpr); ok {
				ctes[cte.CommonTableExpr.Ctename] = true
			}
		}
		base := out[:0]
		for _, t := range out {
			if !ctes[t] {
				base = append(base, t)
			}
		}
		out = base
	}
	return out
}

func collectTables(nodes []*pg_query.Node, out *[]string) {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		switch v := n.Node.(type) {
		case *pg_query.Node_RangeVar:
			*out = append(*out, v.RangeVar.Relname)
		case *pg_query.Node_JoinExpr:
			collectTables([]*pg_query.Node{v.JoinExpr.Larg, v.JoinExpr.Rarg}, out)
		}
	}
}

// WhereOf returns ast's WHERE clause, or nil if there is none.
func (f *Facade) WhereOf(ast *AST) *pg_query.Node {
	return ast.Select.WhereClause
}

// Render deparses ast back to SQL text.
func (f *Facade) Render(ast *AST) (string, error) {
	sql, err := pg_query.Deparse(ast.result)
	if err != nil {
		return "", routererr.Parse(err)
	}
	return sql, nil
}

// Normalize lowercases and collapses whitespace for cache-key purposes —
// queries differing only in whitespace and letter case must hash
// identically (spec's normalization testable property).
func Normalize(sql string) string {
	fields := strings.Fields(strings.ToLower(sql))
	return strings.Join(fields, " ")
}
