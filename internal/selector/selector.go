// Package selector implements the Backend Selector (C7): minimum-cost
// feasible engine choice with a human-readable reasoning string, modeled
// on the federation cost estimator's SelectOptimalEngine pattern.
package selector

import (
	"fmt"
	"strings"

	"github.com/querymesh/router/internal/cost"
)

// Choice is the selector's output.
type Choice struct {
	EngineID       string
	ChosenEstimate cost.Estimate
	AllEstimates   map[string]cost.Estimate
	Reasoning      string
}

// Select picks the minimum-est_time engine from estimates (in declared
// order, used for tie-breaking), unless forcedEngine is non-empty, in
// which case it is returned verbatim with reasoning "forced" regardless
// of feasibility — the caller's responsibility per spec.md §4.7.
func Select(estimates []cost.Estimate, byID map[string]cost.Estimate, forcedEngine string) Choice {
	if forcedEngine != "" {
		chosen := byID[forcedEngine]
		return Choice{
			EngineID:       forcedEngine,
			ChosenEstimate: chosen,
			AllEstimates:   byID,
			Reasoning:      "forced",
		}
	}

	var winner cost.Estimate
	found := false
	for _, e := range estimates {
		if !found || e.EstTimeS < winner.EstTimeS {
			winner = e
			found = true
		}
	}

	return Choice{
		EngineID:       winner.EngineID,
		ChosenEstimate: winner,
		AllEstimates:   byID,
		Reasoning:      reasoning(winner, estimates),
	}
}

func reasoning(winner cost.Estimate, all []cost.Estimate) string {
	var parts []string
	for _, e := range all {
		if e.EngineID == winner.EngineID {
			continue
		}
		if !e.Feasible() {
			parts = append(parts, fmt.Sprintf("%s infeasible (%s)", e.EngineID, e.Reason))
			continue
		}
		if winner.EstTimeS > 0 {
			factor := e.EstTimeS / winner.EstTimeS
			parts = append(parts, fmt.Sprintf("%.1fx faster than %s", factor, e.EngineID))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s selected as the only candidate", winner.EngineID)
	}
	return fmt.Sprintf("%s selected: %s", winner.EngineID, strings.Join(parts, "; "))
}
