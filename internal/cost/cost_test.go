package cost_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/cost"
	"github.com/querymesh/router/internal/features"
)

func TestComputeSmallScanFavorsSingleColumnar(t *testing.T) {
	t.Parallel()
	profiles := config.DefaultEngineProfiles()
	f := features.Features{ScanSizeGB: 0.5}

	estimates, byID := cost.EstimateAll(profiles, f)
	require.Len(t, estimates, 3)

	single := byID["single-columnar"]
	distributed := byID["distributed"]
	require.True(t, single.Feasible())
	require.True(t, distributed.Feasible())
	require.Less(t, single.EstTimeS, distributed.EstTimeS)
}

func TestComputeAppliesSmallDataPenaltyBelowMinEfficientSize(t *testing.T) {
	t.Parallel()
	profile := config.EngineProfileConfig{
		ID:                 "distributed",
		ScanRateGBPerSec:   1.5,
		FixedOverheadSec:   15.0,
		MemoryFactor:       0.25,
		MinEfficientSizeGB: 10.0,
	}
	small := cost.Compute(profile, features.Features{ScanSizeGB: 1})
	large := cost.Compute(profile, features.Features{ScanSizeGB: 20})

	require.Contains(t, small.Reason, "small-data penalty")
	require.NotContains(t, large.Reason, "small-data penalty")
}

func TestComputeInfeasibleWhenOverMaxMemory(t *testing.T) {
	t.Parallel()
	profile := config.EngineProfileConfig{
		ID:               "single-columnar",
		ScanRateGBPerSec: 2.0,
		MaxMemoryGB:      32,
		MemoryFactor:     3.0,
	}
	est := cost.Compute(profile, features.Features{ScanSizeGB: 20})
	require.False(t, est.Feasible())
	require.Equal(t, "insufficient memory", est.Reason)
}

func TestComputeUnboundedMemoryNeverInfeasible(t *testing.T) {
	t.Parallel()
	profile := config.EngineProfileConfig{
		ID:               "distributed",
		ScanRateGBPerSec: 1.5,
		MaxMemoryGB:      0,
		MemoryFactor:     0.25,
	}
	est := cost.Compute(profile, features.Features{ScanSizeGB: 10_000})
	require.True(t, est.Feasible())
}

func TestComputeAddsJoinAggWindowCosts(t *testing.T) {
	t.Parallel()
	profile := config.EngineProfileConfig{
		ID:               "single-columnar",
		ScanRateGBPerSec: 2.0,
		OpCostJoin:       1.0,
		OpCostAgg:        0.5,
		OpCostWindow:     2.0,
	}
	base := cost.Compute(profile, features.Features{ScanSizeGB: 1})
	withOps := cost.Compute(profile, features.Features{ScanSizeGB: 1, Joins: 1, Aggregations: 1, Windows: 1, Distinct: true, OrderBy: true})

	require.InDelta(t, base.ComputeCostS+1.0+0.5+2.0+1.0+0.5, withOps.ComputeCostS, 0.0001)
}
