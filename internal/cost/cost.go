// Package cost implements the Cost Estimator (C6), modeled on the
// retrieval pack's federation cost estimator (EngineCostFactors /
// CostModel / CostBreakdown pattern) but driven by the spec's explicit
// EngineProfile records rather than a name-keyed default map.
package cost

import (
	"math"

	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/features"
)

// Estimate is one engine's cost projection for a query.
type Estimate struct {
	EngineID      string
	EstTimeS      float64 // math.Inf(1) denotes infeasible
	EstMemoryGB   float64
	ScanCostS     float64
	ComputeCostS  float64
	OverheadCostS float64
	Reason        string
}

// Feasible reports whether the engine can run the query at all.
func (e Estimate) Feasible() bool {
	return !math.IsInf(e.EstTimeS, 1)
}

// Compute returns a cost.Estimate for profile given the extracted query
// features.
func Compute(profile config.EngineProfileConfig, f features.Features) (result Estimate) {
	result.EngineID = profile.ID

	scanCost := f.ScanSizeGB / profile.ScanRateGBPerSec
	computeCost := float64(f.Joins)*profile.OpCostJoin +
		float64(f.Aggregations)*profile.OpCostAgg +
		float64(f.Windows)*profile.OpCostWindow
	if f.Distinct {
		computeCost += 1.0
	}
	if f.OrderBy {
		computeCost += 0.5
	}
	overheadCost := profile.FixedOverheadSec
	memory := f.ScanSizeGB * profile.MemoryFactor

	result.ScanCostS = scanCost
	result.ComputeCostS = computeCost
	result.OverheadCostS = overheadCost
	result.EstMemoryGB = memory

	if profile.MaxMemoryGB > 0 && memory > profile.MaxMemoryGB {
		result.EstTimeS = math.Inf(1)
		result.Reason = "insufficient memory"
		return result
	}

	estTime := scanCost + computeCost + overheadCost
	if profile.MinEfficientSizeGB > 0 && f.ScanSizeGB < profile.MinEfficientSizeGB {
		denom := math.Max(f.ScanSizeGB, 0.1)
		estTime *= profile.MinEfficientSizeGB / denom
		result.Reason = "below minimum efficient scan size, small-data penalty applied"
	} else {
		result.Reason = profile.StrengthDesc
	}

	result.EstTimeS = estTime
	return result
}

// EstimateAll estimates every profile in profiles, preserving declared
// order in the returned slice (selector ties break on this order) while
// also exposing the map shape BackendChoice needs.
func EstimateAll(profiles []config.EngineProfileConfig, f features.Features) ([]Estimate, map[string]Estimate) {
	ordered := make([]Estimate, 0, len(profiles))
	byID := make(map[string]Estimate, len(profiles))
	for _, p := range profiles {
		est := Compute(p, f)
		ordered = append(ordered, est)
		byID[p.ID] = est
	}
	return ordered, byID
}
