package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Scenario is one named constraint/objective combination evaluated over a
// shared candidate pool.
type Scenario struct {
	Name        string      `json:"name"`
	Objective   Objective   `json:"objective"`
	Constraints Constraints `json:"constraints"`
}

// ScenarioResult pairs a scenario with its solve outcome.
type ScenarioResult struct {
	Name     string    `json:"name"`
	Solution *Solution `json:"solution"`
}

// ScenarioComparison is the output of CompareScenarios.
type ScenarioComparison struct {
	Results []ScenarioResult `json:"results"`
	// BestScenario is the feasible scenario with the highest total
	// business value, which keeps scenarios with different objectives
	// comparable.
	BestScenario string `json:"best_scenario,omitempty"`
	// ContestedIDs are candidates selected in some scenarios but not all,
	// the ones the constraint choices actually decide.
	ContestedIDs []string `json:"contested_ids,omitempty"`
}

// CompareScenarios solves every scenario over the same candidates and
// reports which projects the scenarios disagree on.
func CompareScenarios(ctx context.Context, candidates []Candidate, scenarios []Scenario, timeLimit time.Duration) (*ScenarioComparison, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("optimizer: no scenarios to compare")
	}

	cmp := &ScenarioComparison{}
	selCount := map[string]int{}
	feasible := 0
	bestValue := 0.0

	for _, sc := range scenarios {
		sol, err := Solve(ctx, Problem{
			Objective:   sc.Objective,
			Candidates:  candidates,
			Constraints: sc.Constraints,
			TimeLimit:   timeLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		cmp.Results = append(cmp.Results, ScenarioResult{Name: sc.Name, Solution: sol})

		if sol.Status == StatusOptimal || sol.Status == StatusTimeLimit {
			feasible++
			for _, id := range sol.SelectedIDs {
				selCount[id]++
			}
			if cmp.BestScenario == "" || sol.TotalValue > bestValue {
				cmp.BestScenario = sc.Name
				bestValue = sol.TotalValue
			}
		}
	}

	for id, n := range selCount {
		if n < feasible {
			cmp.ContestedIDs = append(cmp.ContestedIDs, id)
		}
	}
	sort.Strings(cmp.ContestedIDs)
	return cmp, nil
}

// ParetoPoint is one budget level on the value/budget frontier.
type ParetoPoint struct {
	Budget      float64  `json:"budget"`
	Value       float64  `json:"value"`
	SelectedIDs []string `json:"selected_ids"`
}

// ParetoFrontier sweeps the budget from zero to maxBudget in the given
// number of steps and solves a max-value selection at each level. Points
// that add no value over the previous level are dropped, so the frontier
// is strictly increasing in value.
func ParetoFrontier(ctx context.Context, candidates []Candidate, base Constraints, maxBudget float64, steps int, timeLimit time.Duration) ([]ParetoPoint, error) {
	if steps < 2 {
		steps = 2
	}
	if maxBudget <= 0 {
		return nil, fmt.Errorf("optimizer: non-positive budget ceiling")
	}

	var frontier []ParetoPoint
	for i := 1; i <= steps; i++ {
		budget := maxBudget * float64(i) / float64(steps)
		cons := base
		cons.MaxBudget = budget

		sol, err := Solve(ctx, Problem{
			Objective:   ObjectiveMaxValue,
			Candidates:  candidates,
			Constraints: cons,
			TimeLimit:   timeLimit,
		})
		if err != nil {
			return nil, err
		}
		if sol.Status != StatusOptimal && sol.Status != StatusTimeLimit {
			continue
		}
		if len(frontier) > 0 && sol.TotalValue <= frontier[len(frontier)-1].Value {
			continue
		}
		frontier = append(frontier, ParetoPoint{
			Budget:      budget,
			Value:       sol.TotalValue,
			SelectedIDs: sol.SelectedIDs,
		})
	}
	return frontier, nil
}
