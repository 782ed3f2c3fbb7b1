// Package predicate implements the Predicate Lifter (C2): translating a
// parsed SQL WHERE clause into a normalized, flat list of atomic
// predicates over a single partition column. Walks the pg_query AST
// directly, following the type-switch-over-node style of
// postgres-mcp's protection checker.
package predicate

import (
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Operator is the comparison kind of a lifted predicate.
type Operator string

const (
	EQ     Operator = "EQ"
	NEQ    Operator = "NEQ"
	LT     Operator = "LT"
	LTE    Operator = "LTE"
	GT     Operator = "GT"
	GTE    Operator = "GTE"
	IN     Operator = "IN"
	ISNULL Operator = "IS_NULL"
)

// Predicate is one atomic, immutable condition over a partition column.
// BETWEEN never survives lifting: it is expanded into a GTE/LTE pair at
// lift time, per the lifter's rules.
type Predicate struct {
	Column   string
	Operator Operator
	Value    string   // set for EQ, NEQ, LT, LTE, GT, GTE
	Values   []string // set for IN — the OR-ed set of candidate values
}

// Lift walks where and returns the atomic predicates that constrain
// partitionKey. Anything that cannot be proven to constrain only
// partitionKey is dropped — dropping is always safe because the pruner
// then keeps the corresponding partitions.
func Lift(where *pg_query.Node, partitionKey string) []Predicate {
	if where == nil {
		return nil
	}
	return liftAnd(where, partitionKey, false)
}

// liftAnd returns the flattened list of predicates implied by n under an
// AND context; negated tracks whether n sits under an odd number of NOTs.
func liftAnd(n *pg_query.Node, partitionKey string, negated bool) []Predicate {
	if n == nil {
		return nil
	}
	switch v := n.Node.(type) {
	case *pg_query.Node_BoolExpr:
		be := v.BoolExpr
		switch be.Boolop {
		case pg_query.BoolExprType_AND_EXPR:
			if negated {
				// NOT (a AND b) is (NOT a) OR (NOT b).
				return liftOr(be.Args, partitionKey, negated)
			}
			var out []Predicate
			for _, arg := range be.Args {
				out = append(out, liftAnd(arg, partitionKey, negated)...)
			}
			return out
		case pg_query.BoolExprType_OR_EXPR:
			if negated {
				// NOT (a OR b) is (NOT a) AND (NOT b).
				var out []Predicate
				for _, arg := range be.Args {
					out = append(out, liftAnd(arg, partitionKey, negated)...)
				}
				return out
			}
			return liftOr(be.Args, partitionKey, negated)
		case pg_query.BoolExprType_NOT_EXPR:
			if len(be.Args) != 1 {
				return nil
			}
			return liftAnd(be.Args[0], partitionKey, !negated)
		}
		return nil
	case *pg_query.Node_AExpr:
		ps, ok := liftAExpr(v.AExpr, partitionKey, negated)
		if !ok {
			return nil
		}
		return ps
	case *pg_query.Node_NullTest:
		p, ok := liftNullTest(v.NullTest, partitionKey, negated)
		return maybeOne(p, ok)
	default:
		// Scalar sub-selects, function calls used as bare booleans, and
		// anything else that isn't a comparison cannot be proven safe to
		// prune on; drop.
		return nil
	}
}

func maybeOne(p Predicate, ok bool) []Predicate {
	if !ok {
		return nil
	}
	return []Predicate{p}
}

// liftOr implements the "union if same column, else drop" rule: every
// disjunct must itself reduce to a single EQ/IN predicate on
// partitionKey, in which case the result is one IN predicate over the
// union of values.
func liftOr(args []*pg_query.Node, partitionKey string, negated bool) []Predicate {
	var values []string
	seen := make(map[string]bool)
	for _, arg := range args {
		sub := liftAnd(arg, partitionKey, negated)
		if len(sub) != 1 {
			return nil
		}
		switch sub[0].Operator {
		case EQ:
			if !seen[sub[0].Value] {
				seen[sub[0].Value] = true
				values = append(values, sub[0].Value)
			}
		case IN:
			for _, v := range sub[0].Values {
				if !seen[v] {
					seen[v] = true
					values = append(values, v)
				}
			}
		default:
			return nil
		}
	}
	if len(values) == 0 {
		return nil
	}
	return []Predicate{{Column: partitionKey, Operator: IN, Values: values}}
}

func liftAExpr(ae *pg_query.A_Expr, partitionKey string, negated bool) ([]Predicate, bool) {
	col, ok := columnOf(ae.Lexpr)
	if !ok || col != partitionKey {
		return nil, false
	}
	switch ae.Kind {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		opText, ok := opName(ae.Name)
		if !ok {
			return nil, false
		}
		operator, ok := mapOperator(opText)
		if !ok {
			return nil, false
		}
		if negated {
			operator = negateOperator(operator)
		}
		val, ok := constValue(ae.Rexpr)
		if !ok {
			return nil, false
		}
		return []Predicate{{Column: col, Operator: operator, Value: val}}, true

	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		isBetween := ae.Kind == pg_query.A_Expr_Kind_AEXPR_BETWEEN
		if negated {
			isBetween = !isBetween
		}
		if !isBetween {
			// NOT BETWEEN expands to (col < lo OR col > hi), a disjunction
			// across two different operators on the same column — not
			// representable as a single atomic predicate. Drop.
			return nil, false
		}
		lo, hi, ok := betweenBounds(ae.Rexpr)
		if !ok {
			return nil, false
		}
		return []Predicate{
			{Column: col, Operator: GTE, Value: lo},
			{Column: col, Operator: LTE, Value: hi},
		}, true

	case pg_query.A_Expr_Kind_AEXPR_IN:
		values, ok := listValues(ae.Rexpr)
		if !ok || negated {
			// NOT IN has no safe kept-set over-approximation; drop.
			return nil, false
		}
		return []Predicate{{Column: col, Operator: IN, Values: values}}, true
	}
	return nil, false
}

func betweenBounds(n *pg_query.Node) (string, string, bool) {
	if n == nil {
		return "", "", false
	}
	lst, ok := n.Node.(*pg_query.Node_List)
	if !ok || len(lst.List.Items) != 2 {
		return "", "", false
	}
	lo, ok1 := constValue(lst.List.Items[0])
	hi, ok2 := constValue(lst.List.Items[1])
	if !ok1 || !ok2 {
		return "", "", false
	}
	return lo, hi, true
}

// liftNullTest handles IS NULL / IS NOT NULL.
func liftNullTest(nt *pg_query.NullTest, partitionKey string, negated bool) (Predicate, bool) {
	col, ok := columnOf(nt.Arg)
	if !ok || col != partitionKey {
		return Predicate{}, false
	}
	isNull := nt.Nulltesttype == pg_query.NullTestType_IS_NULL
	if negated {
		isNull = !isNull
	}
	if !isNull {
		// IS NOT NULL restricts nothing a partition value could violate.
		return Predicate{}, false
	}
	return Predicate{Column: col, Operator: ISNULL}, true
}

func mapOperator(op string) (Operator, bool) {
	switch op {
	case "=":
		return EQ, true
	case "<>", "!=":
		return NEQ, true
	case "<":
		return LT, true
	case "<=":
		return LTE, true
	case ">":
		return GT, true
	case ">=":
		return GTE, true
	}
	return "", false
}

func negateOperator(o Operator) Operator {
	switch o {
	case EQ:
		return NEQ
	case NEQ:
		return EQ
	case LT:
		return GTE
	case LTE:
		return GT
	case GT:
		return LTE
	case GTE:
		return LT
	}
	return o
}

func columnOf(n *pg_query.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	cr, ok := n.Node.(*pg_query.Node_ColumnRef)
	if !ok {
		return "", false
	}
	fields := cr.ColumnRef.Fields
	if len(fields) == 0 {
		return "", false
	}
	last, ok := fields[len(fields)-1].Node.(*pg_query.Node_String_)
	if !ok {
		return "", false
	}
	return last.String_.Sval, true
}

func opName(nodes []*pg_query.Node) (string, bool) {
	if len(nodes) == 0 {
		return "", false
	}
	s, ok := nodes[0].Node.(*pg_query.Node_String_)
	if !ok {
		return "", false
	}
	return s.String_.Sval, true
}

func constValue(n *pg_query.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	ac, ok := n.Node.(*pg_query.Node_AConst)
	if !ok || ac.AConst.Isnull {
		return "", false
	}
	switch v := ac.AConst.Val.(type) {
	case *pg_query.A_Const_Sval:
		return v.Sval.Sval, true
	case *pg_query.A_Const_Ival:
		return strconv.Itoa(int(v.Ival.Ival)), true
	case *pg_query.A_Const_Fval:
		return v.Fval.Fval, true
	case *pg_query.A_Const_Boolval:
		return strconv.FormatBool(v.Boolval.Boolval), true
	}
	return "", false
}

func listValues(n *pg_query.Node) ([]string, bool) {
	if n == nil {
		return nil, false
	}
	lst, ok := n.Node.(*pg_query.Node_List)
	if !ok {
		return nil, false
	}
	values := make([]string, 0, len(lst.List.Items))
	for _, item := range lst.List.Items {
		v, ok := constValue(item)
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
