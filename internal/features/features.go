// Package features implements the Feature Extractor (C5): walking the
// optimized AST to count joins, aggregations, and window operations, and
// to estimate selectivity in the absence of engine statistics.
package features

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var aggregateNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"stddev": true, "variance": true, "group_concat": true, "array_agg": true,
}

// Features is the extracted QueryFeatures record. ScanSizeGB is not set
// by Extract — the orchestrator fills it in from the pruning result
// before costing, since feature extraction and pruning run over
// independent inputs.
type Features struct {
	ScanSizeGB     float64
	Joins          uint32
	Aggregations   uint32
	Windows        uint32
	Distinct       bool
	OrderBy        bool
	Selectivity    float64
}

// ComplexityScore is 2*joins + 1*aggs + 3*windows + 1*distinct + 0.5*order_by.
func (f Features) ComplexityScore() float64 {
	score := 2*float64(f.Joins) + float64(f.Aggregations) + 3*float64(f.Windows)
	if f.Distinct {
		score += 1
	}
	if f.OrderBy {
		score += 0.5
	}
	return score
}

// Extract walks sel and returns its Features, with Selectivity computed
// from where per the equality/range heuristic.
func Extract(sel *pg_query.SelectStmt, where *pg_query.Node) Features {
	f := Features{}

	f.Joins = countJoins(sel.FromClause)

	hasAgg := walkAggregates(sel.TargetList, &f)
	if len(sel.GroupClause) > 0 && f.Aggregations == 0 {
		f.Aggregations = 1
	}
	_ = hasAgg

	f.Windows = countWindows(sel.TargetList, sel.WindowClause)

	f.Distinct = len(sel.DistinctClause) > 0 || hasCountDistinct(sel.TargetList)
	f.OrderBy = len(sel.SortClause) > 0

	f.Selectivity = selectivity(where)

	return f
}

func countJoins(from []*pg_query.Node) uint32 {
	var count uint32
	for _, n := range from {
		count += countJoinsInNode(n)
	}
	return count
}

func countJoinsInNode(n *pg_query.Node) uint32 {
	if n == nil {
		return 0
	}
	v, ok := n.Node.(*pg_query.Node_JoinExpr)
	if !ok {
		return 0
	}
	return 1 + countJoinsInNode(v.JoinExpr.Larg) + countJoinsInNode(v.JoinExpr.Rarg)
}

// walkAggregates counts aggregate function calls anywhere in the target
// list (including nested expressions) and reports whether any were seen.
func walkAggregates(nodes []*pg_query.Node, f *Features) bool {
	found := false
	var visit func(n *pg_query.Node)
	visit = func(n *pg_query.Node) {
		if n == nil {
			return
		}
		switch v := n.Node.(type) {
		case *pg_query.Node_ResTarget:
			visit(v.ResTarget.Val)
		case *pg_query.Node_FuncCall:
			if isAggregateCall(v.FuncCall) {
				f.Aggregations++
				found = true
			}
			for _, a := range v.FuncCall.Args {
				visit(a)
			}
		case *pg_query.Node_AExpr:
			visit(v.AExpr.Lexpr)
			visit(v.AExpr.Rexpr)
		case *pg_query.Node_BoolExpr:
			for _, a := range v.BoolExpr.Args {
				visit(a)
			}
		case *pg_query.Node_CoalesceExpr:
			for _, a := range v.CoalesceExpr.Args {
				visit(a)
			}
		case *pg_query.Node_TypeCast:
			visit(v.TypeCast.Arg)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	return found
}

func isAggregateCall(fc *pg_query.FuncCall) bool {
	if len(fc.Funcname) == 0 {
		return false
	}
	last := fc.Funcname[len(fc.Funcname)-1]
	s, ok := last.Node.(*pg_query.Node_String_)
	if !ok {
		return false
	}
	return aggregateNames[strings.ToLower(s.String_.Sval)]
}

func hasCountDistinct(nodes []*pg_query.Node) bool {
	found := false
	var visit func(n *pg_query.Node)
	visit = func(n *pg_query.Node) {
		if n == nil || found {
			return
		}
		switch v := n.Node.(type) {
		case *pg_query.Node_ResTarget:
			visit(v.ResTarget.Val)
		case *pg_query.Node_FuncCall:
			if v.FuncCall.AggDistinct {
				found = true
				return
			}
			for _, a := range v.FuncCall.Args {
				visit(a)
			}
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	return found
}

func countWindows(targetList []*pg_query.Node, windowClause []*pg_query.Node) uint32 {
	count := uint32(len(windowClause))
	var visit func(n *pg_query.Node)
	visit = func(n *pg_query.Node) {
		if n == nil {
			return
		}
		switch v := n.Node.(type) {
		case *pg_query.Node_ResTarget:
			visit(v.ResTarget.Val)
		case *pg_query.Node_FuncCall:
			if v.FuncCall.Over != nil {
				count++
			}
			for _, a := range v.FuncCall.Args {
				visit(a)
			}
		}
	}
	for _, n := range targetList {
		visit(n)
	}
	return count
}

// selectivity implements the spec's equality/range heuristic: no WHERE
// is 1.0; otherwise dominated by the count of equality predicates, with
// range-only WHERE clauses falling back to 0.5.
func selectivity(where *pg_query.Node) float64 {
	if where == nil {
		return 1.0
	}
	eq, rng := countComparisons(where)
	var s float64
	switch {
	case eq >= 1:
		s = pow01(eq)
	case rng >= 1:
		s = 0.5
	default:
		s = 0.5
	}
	if s < 0.01 {
		s = 0.01
	}
	if s > 1.0 {
		s = 1.0
	}
	return s
}

func pow01(exp int) float64 {
	v := 1.0
	for i := 0; i < exp; i++ {
		v *= 0.1
	}
	return v
}

func countComparisons(n *pg_query.Node) (eq, rng int) {
	if n == nil {
		return 0, 0
	}
	switch v := n.Node.(type) {
	case *pg_query.Node_BoolExpr:
		for _, a := range v.BoolExpr.Args {
			e, r := countComparisons(a)
			eq += e
			rng += r
		}
	case *pg_query.Node_AExpr:
		if v.AExpr.Kind == pg_query.A_Expr_Kind_AEXPR_OP {
			if op, ok := operatorText(v.AExpr.Name); ok {
				switch op {
				case "=":
					eq++
				case "<", "<=", ">", ">=":
					rng++
				}
			}
		}
	}
	return eq, rng
}

func operatorText(nodes []*pg_query.Node) (string, bool) {
	if len(nodes) == 0 {
		return "", false
	}
	s, ok := nodes[0].Node.(*pg_query.Node_String_)
	if !ok {
		return "", false
	}
	return s.String_.Sval, true
}
