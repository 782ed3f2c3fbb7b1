package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/schema"
)

func TestRegisterAndGetRoundTrip(t *testing.T) {
	t.Parallel()
	r := schema.NewRegistry()
	r.Register("events", map[string]string{"dt": "DATE", "region": "VARCHAR"})

	cols, ok := r.Get("events")
	require.True(t, ok)
	require.Equal(t, schema.TypeDate, cols["dt"].Type)
	require.Equal(t, schema.TypeVarchar, cols["region"].Type)
}

func TestRegisterReplacesWholesale(t *testing.T) {
	t.Parallel()
	r := schema.NewRegistry()
	r.Register("events", map[string]string{"dt": "DATE", "region": "VARCHAR"})
	r.Register("events", map[string]string{"dt": "DATE"})

	cols, ok := r.Get("events")
	require.True(t, ok)
	_, hasRegion := cols["region"]
	require.False(t, hasRegion)
}

func TestColumnTypeDefaultsToVarcharWhenUnregistered(t *testing.T) {
	t.Parallel()
	r := schema.NewRegistry()
	require.Equal(t, schema.TypeVarchar, r.ColumnType("unknown", "col"))

	r.Register("events", map[string]string{"dt": "DATE"})
	require.Equal(t, schema.TypeVarchar, r.ColumnType("events", "other_col"))
}
