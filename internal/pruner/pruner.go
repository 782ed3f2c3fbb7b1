// Package pruner implements the Partition Pruner (C4): applying lifted
// predicates against catalog entries to produce the set of partitions
// worth scanning.
package pruner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/querymesh/router/internal/catalog"
	"github.com/querymesh/router/internal/predicate"
	"github.com/querymesh/router/internal/schema"
)

// Result is the outcome of pruning one table's catalog against one
// query's predicates.
type Result struct {
	Kept              []catalog.Entry
	TotalCount        uint32
	TotalSizeBytes    uint64
	TotalFiles        uint32
	PredicatesApplied []predicate.Predicate
}

// KeptSizeBytes sums the size of the surviving partitions.
func (r *Result) KeptSizeBytes() uint64 {
	var total uint64
	for _, e := range r.Kept {
		total += e.SizeBytes
	}
	return total
}

// KeptFiles sums the file count of the surviving partitions.
func (r *Result) KeptFiles() uint32 {
	var total uint32
	for _, e := range r.Kept {
		total += e.FileCount
	}
	return total
}

// PruningRatio is 1 - |kept|/total, 0 when the catalog is empty.
func (r *Result) PruningRatio() float64 {
	if r.TotalCount == 0 {
		return 0
	}
	return 1 - float64(len(r.Kept))/float64(r.TotalCount)
}

// SpeedupEstimate is total_size/scan_size, or 1.0 when scan_size is 0.
func (r *Result) SpeedupEstimate() float64 {
	scanSize := r.KeptSizeBytes()
	if scanSize == 0 {
		return 1.0
	}
	return float64(r.TotalSizeBytes) / float64(scanSize)
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Prune evaluates preds (already restricted by the lifter to columns
// equal to cat.Key) against every entry of cat, typed according to
// colType. An entry whose value fails to parse as colType is kept
// unconditionally (conservative). Order-independent with respect to the
// input predicate slice.
func Prune(cat *catalog.Catalog, preds []predicate.Predicate, colType schema.ColumnType) *Result {
	res := &Result{
		TotalCount:     uint32(len(cat.Entries)),
		TotalSizeBytes: cat.TotalSizeBytes(),
		TotalFiles:     cat.TotalFiles(),
	}

	applicable := coercibleOnly(preds, colType)
	if len(applicable) == 0 {
		res.Kept = cat.Entries
		return res
	}

	removedBy := make([]bool, len(applicable))
	for _, entry := range cat.Entries {
		pv, ok := coerce(entry.Value, colType)
		if !ok {
			res.Kept = append(res.Kept, entry)
			continue
		}
		keep := true
		for i, p := range applicable {
			if !satisfies(p, pv, colType) {
				keep = false
				removedBy[i] = true
			}
		}
		if keep {
			res.Kept = append(res.Kept, entry)
		}
	}

	for i, p := range applicable {
		if removedBy[i] {
			res.PredicatesApplied = append(res.PredicatesApplied, p)
		}
	}
	return res
}

// coercibleOnly drops predicates whose literal value(s) cannot be
// interpreted as colType — they remain part of the query but stop being
// partition-applicable.
func coercibleOnly(preds []predicate.Predicate, colType schema.ColumnType) []predicate.Predicate {
	var out []predicate.Predicate
	for _, p := range preds {
		switch p.Operator {
		case predicate.ISNULL:
			out = append(out, p)
		case predicate.IN:
			var kept []string
			for _, v := range p.Values {
				if _, ok := coerce(v, colType); ok {
					kept = append(kept, v)
				}
			}
			if len(kept) > 0 {
				out = append(out, predicate.Predicate{Column: p.Column, Operator: predicate.IN, Values: kept})
			}
		default:
			if _, ok := coerce(p.Value, colType); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

type coercedValue struct {
	str string
	num int64
}

func coerce(raw string, colType schema.ColumnType) (coercedValue, bool) {
	switch colType {
	case schema.TypeDate:
		if !isoDate.MatchString(raw) {
			return coercedValue{}, false
		}
		return coercedValue{str: raw}, true
	case schema.TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return coercedValue{}, false
		}
		return coercedValue{num: n}, true
	default: // VARCHAR
		return coercedValue{str: raw}, true
	}
}

func compare(a, b coercedValue, colType schema.ColumnType) int {
	if colType == schema.TypeInt {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.str, b.str)
}

func satisfies(p predicate.Predicate, pv coercedValue, colType schema.ColumnType) bool {
	switch p.Operator {
	case predicate.ISNULL:
		return false // an enumerated partition value is never null
	case predicate.IN:
		for _, v := range p.Values {
			if cv, ok := coerce(v, colType); ok && compare(pv, cv, colType) == 0 {
				return true
			}
		}
		return false
	default:
		cv, ok := coerce(p.Value, colType)
		if !ok {
			return true
		}
		cmp := compare(pv, cv, colType)
		switch p.Operator {
		case predicate.EQ:
			return cmp == 0
		case predicate.NEQ:
			return cmp != 0
		case predicate.LT:
			return cmp < 0
		case predicate.LTE:
			return cmp <= 0
		case predicate.GT:
			return cmp > 0
		case predicate.GTE:
			return cmp >= 0
		}
		return true
	}
}
