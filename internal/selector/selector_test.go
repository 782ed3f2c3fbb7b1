package selector_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/cost"
	"github.com/querymesh/router/internal/selector"
)

func TestSelectPicksMinimumTime(t *testing.T) {
	t.Parallel()
	estimates := []cost.Estimate{
		{EngineID: "single-columnar", EstTimeS: 5},
		{EngineID: "parallel", EstTimeS: 2},
		{EngineID: "distributed", EstTimeS: 30},
	}
	byID := map[string]cost.Estimate{}
	for _, e := range estimates {
		byID[e.EngineID] = e
	}

	choice := selector.Select(estimates, byID, "")
	require.Equal(t, "parallel", choice.EngineID)
	require.Contains(t, choice.Reasoning, "parallel selected")
}

func TestSelectSkipsInfeasibleEngines(t *testing.T) {
	t.Parallel()
	estimates := []cost.Estimate{
		{EngineID: "single-columnar", EstTimeS: math.Inf(1), Reason: "insufficient memory"},
		{EngineID: "distributed", EstTimeS: 40},
	}
	byID := map[string]cost.Estimate{}
	for _, e := range estimates {
		byID[e.EngineID] = e
	}

	choice := selector.Select(estimates, byID, "")
	require.Equal(t, "distributed", choice.EngineID)
	require.Contains(t, choice.Reasoning, "infeasible")
}

func TestSelectForcedEngineBypassesFeasibility(t *testing.T) {
	t.Parallel()
	estimates := []cost.Estimate{
		{EngineID: "single-columnar", EstTimeS: math.Inf(1), Reason: "insufficient memory"},
	}
	byID := map[string]cost.Estimate{"single-columnar": estimates[0]}

	choice := selector.Select(estimates, byID, "single-columnar")
	require.Equal(t, "single-columnar", choice.EngineID)
	require.Equal(t, "forced", choice.Reasoning)
}

func TestSelectTieBreaksOnDeclaredOrder(t *testing.T) {
	t.Parallel()
	estimates := []cost.Estimate{
		{EngineID: "single-columnar", EstTimeS: 10},
		{EngineID: "parallel", EstTimeS: 10},
	}
	byID := map[string]cost.Estimate{}
	for _, e := range estimates {
		byID[e.EngineID] = e
	}
	choice := selector.Select(estimates, byID, "")
	require.Equal(t, "single-columnar", choice.EngineID)
}
