package export_test

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/export"
	"github.com/querymesh/router/internal/queryresult"
)

func sampleRows() []queryresult.Row {
	return []queryresult.Row{
		{"region": "us", "count": 10},
		{"region": "eu", "count": 5},
	}
}

func TestWriteCSVHeaderSortedFromFirstRow(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	result := &queryresult.QueryResult{Rows: sampleRows()}
	require.NoError(t, export.Write(&buf, result, export.FormatCSV))

	reader := csv.NewReader(&buf)
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"count", "region"}, records[0])
	require.Len(t, records, 3)
}

func TestWriteCSVEmptyResultProducesNoOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, &queryresult.QueryResult{}, export.FormatCSV))
	require.Empty(t, buf.String())
}

func TestWriteNDJSONOneObjectPerLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	result := &queryresult.QueryResult{Rows: sampleRows()}
	require.NoError(t, export.Write(&buf, result, export.FormatNDJSON))

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestWriteUnsupportedFormatErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := export.Write(&buf, &queryresult.QueryResult{Rows: sampleRows()}, export.Format("xlsx"))
	require.Error(t, err)
}
