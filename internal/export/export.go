// Package export implements the Result Exporter (C15): rendering a
// QueryResult as CSV or newline-delimited JSON, grounded on the
// teacher's exporter (encoding/csv writer, header-from-first-row
// pattern) with the xlsx/excelize path dropped — it served a reporting
// feature this router has no use for and no other example in the pack
// exercises excelize either.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/querymesh/router/internal/queryresult"
	"github.com/querymesh/router/internal/routererr"
)

// Format is a supported export encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// Write renders result.Rows to w in the given format.
func Write(w io.Writer, result *queryresult.QueryResult, format Format) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, result.Rows)
	case FormatNDJSON:
		return writeNDJSON(w, result.Rows)
	default:
		return routererr.Config(fmt.Sprintf("unsupported export format %q", format), nil)
	}
}

// writeCSV emits a header row built from the first row's keys, sorted
// for deterministic column order, followed by one row per record.
// Missing keys in later rows render as empty cells.
func writeCSV(w io.Writer, rows []queryresult.Row) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if len(rows) == 0 {
		return nil
	}
	header := headerOf(rows[0])
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = stringify(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeNDJSON(w io.Writer, rows []queryresult.Row) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func headerOf(row queryresult.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
