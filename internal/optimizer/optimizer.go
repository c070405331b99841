// Package optimizer selects the subset of candidate projects maximizing a
// chosen objective under budget, capacity and risk constraints. The model
// is a 0/1 integer program solved by branch-and-bound over LP relaxations
// (gonum's simplex).
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Objective selects what the optimizer maximizes.
type Objective string

const (
	ObjectiveMaxValue     Objective = "maximize_value"
	ObjectiveMaxWSJF      Objective = "maximize_wsjf"
	ObjectiveMinRisk      Objective = "minimize_risk"
	ObjectiveValuePerRisk Objective = "maximize_value_per_risk"
)

// Status of a solve.
type Status string

const (
	StatusOptimal    Status = "Optimal"
	StatusInfeasible Status = "Infeasible"
	StatusUnbounded  Status = "Unbounded"
	StatusTimeLimit  Status = "TimeLimit"
)

// DefaultTimeLimit caps a single solve.
const DefaultTimeLimit = 10 * time.Second

// Candidate is one selectable project.
type Candidate struct {
	ID            string  `json:"id"`
	BusinessValue float64 `json:"business_value"`
	Wsjf          float64 `json:"wsjf"`
	RiskLevel     string  `json:"risk_level"` // low, medium, high, critical
	Budget        float64 `json:"budget"`
	Capacity      float64 `json:"capacity"`
}

// RiskScore maps the risk level onto a 25..100 numeric scale.
func RiskScore(level string) float64 {
	switch level {
	case "low":
		return 25
	case "medium":
		return 50
	case "high":
		return 75
	case "critical":
		return 100
	default:
		return 50
	}
}

// Constraints bound the selection.
type Constraints struct {
	MaxBudget        float64  `json:"max_budget"`
	MaxCapacity      float64  `json:"max_capacity"`
	MinBusinessValue *float64 `json:"min_business_value,omitempty"`
	MaxRiskScore     *float64 `json:"max_risk_score,omitempty"`
	Mandatory        []string `json:"mandatory,omitempty"`
	Excluded         []string `json:"excluded,omitempty"`
}

// Problem is one optimizer invocation.
type Problem struct {
	Objective   Objective     `json:"objective"`
	Candidates  []Candidate   `json:"candidates"`
	Constraints Constraints   `json:"constraints"`
	TimeLimit   time.Duration `json:"-"`
}

// Solution is the solver output. On TimeLimit it carries the best feasible
// selection found before the cap.
type Solution struct {
	Status                 Status   `json:"status"`
	SelectedIDs            []string `json:"selected_ids"`
	ObjectiveValue         float64  `json:"objective_value"`
	TotalBudget            float64  `json:"total_budget"`
	TotalCapacity          float64  `json:"total_capacity"`
	TotalValue             float64  `json:"total_value"`
	TotalRisk              float64  `json:"total_risk"`
	BudgetUtilizationPct   float64  `json:"budget_utilization_pct"`
	CapacityUtilizationPct float64  `json:"capacity_utilization_pct"`
	Recommendations        []string `json:"recommendations,omitempty"`
	// BindingConstraint names the constraint that made the problem
	// infeasible, when that can be determined.
	BindingConstraint string `json:"binding_constraint,omitempty"`
}

const intTol = 1e-6

// Solve runs branch-and-bound to provable optimality or the time limit.
func Solve(ctx context.Context, p Problem) (*Solution, error) {
	if len(p.Candidates) == 0 {
		return nil, errors.New("optimizer: no candidates")
	}
	limit := p.TimeLimit
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	sv := newSolver(p)
	if sol, done := sv.fixedInfeasible(); done {
		return sol, nil
	}

	sv.branch(ctx, sv.rootNode())

	sol := sv.finish()
	return sol, nil
}

type solver struct {
	p       Problem
	obj     []float64 // maximization coefficient per candidate
	fixed   map[int]float64
	free    []int
	byID    map[string]int
	timeOut bool

	incumbent     []int // selected candidate indices
	incumbentObj  float64
	haveIncumbent bool
	rootUnbounded bool
}

func newSolver(p Problem) *solver {
	sv := &solver{
		p:     p,
		obj:   make([]float64, len(p.Candidates)),
		fixed: make(map[int]float64),
		byID:  make(map[string]int, len(p.Candidates)),
	}
	for i, c := range p.Candidates {
		sv.byID[c.ID] = i
		switch p.Objective {
		case ObjectiveMaxWSJF:
			sv.obj[i] = c.Wsjf
		case ObjectiveMinRisk:
			sv.obj[i] = -RiskScore(c.RiskLevel)
		case ObjectiveValuePerRisk:
			sv.obj[i] = c.BusinessValue / math.Max(1, RiskScore(c.RiskLevel))
		default:
			sv.obj[i] = c.BusinessValue
		}
	}
	for _, id := range p.Constraints.Mandatory {
		if i, ok := sv.byID[id]; ok {
			sv.fixed[i] = 1
		}
	}
	for _, id := range p.Constraints.Excluded {
		if i, ok := sv.byID[id]; ok {
			sv.fixed[i] = 0
		}
	}
	for i := range p.Candidates {
		if _, ok := sv.fixed[i]; !ok {
			sv.free = append(sv.free, i)
		}
	}
	return sv
}

// fixedInfeasible checks whether the mandatory set alone breaks a
// constraint, which short-circuits the whole solve.
func (sv *solver) fixedInfeasible() (*Solution, bool) {
	var budget, capacity, risk float64
	for i, v := range sv.fixed {
		if v != 1 {
			continue
		}
		budget += sv.p.Candidates[i].Budget
		capacity += sv.p.Candidates[i].Capacity
		risk += RiskScore(sv.p.Candidates[i].RiskLevel)
	}
	c := sv.p.Constraints
	switch {
	case budget > c.MaxBudget+1e-9:
		return &Solution{Status: StatusInfeasible, BindingConstraint: "max_budget"}, true
	case capacity > c.MaxCapacity+1e-9:
		return &Solution{Status: StatusInfeasible, BindingConstraint: "max_capacity"}, true
	case c.MaxRiskScore != nil && risk > *c.MaxRiskScore+1e-9:
		return &Solution{Status: StatusInfeasible, BindingConstraint: "max_risk_score"}, true
	}
	return nil, false
}

// node is one branch-and-bound subproblem: additional 0/1 fixings layered
// on top of the solver-wide fixed set.
type node struct {
	fixings map[int]float64
}

func (sv *solver) rootNode() node {
	return node{fixings: map[int]float64{}}
}

func (n node) child(i int, v float64) node {
	m := make(map[int]float64, len(n.fixings)+1)
	for k, val := range n.fixings {
		m[k] = val
	}
	m[i] = v
	return node{fixings: m}
}

func (sv *solver) valueAt(n node, i int) (float64, bool) {
	if v, ok := sv.fixed[i]; ok {
		return v, true
	}
	v, ok := n.fixings[i]
	return v, ok
}

// branch solves the node's LP relaxation and either prunes, accepts an
// integral solution, or splits on the most fractional variable.
func (sv *solver) branch(ctx context.Context, n node) {
	if ctx.Err() != nil {
		sv.timeOut = true
		return
	}

	relax, x, freeIdx, err := sv.solveRelaxation(n)
	if err != nil {
		if errors.Is(err, lp.ErrUnbounded) {
			sv.rootUnbounded = sv.rootUnbounded || len(n.fixings) == 0
		}
		// Infeasible subproblem: prune.
		return
	}

	if sv.haveIncumbent && relax <= sv.incumbentObj+1e-9 {
		return // bound cannot beat the incumbent
	}

	// Most fractional free variable.
	split := -1
	worst := intTol
	for j, xi := range x {
		frac := math.Abs(xi - math.Round(xi))
		if frac > worst {
			worst = frac
			split = freeIdx[j]
		}
	}

	if split < 0 {
		// Integral: candidate incumbent.
		selected := sv.selection(n, x, freeIdx)
		obj := sv.objectiveOf(selected)
		if !sv.haveIncumbent || obj > sv.incumbentObj {
			sv.incumbent = selected
			sv.incumbentObj = obj
			sv.haveIncumbent = true
		}
		return
	}

	// Explore the x=1 branch first: greedy solutions tend to be good
	// incumbents, which tightens pruning.
	sv.branch(ctx, n.child(split, 1))
	sv.branch(ctx, n.child(split, 0))
}

// solveRelaxation builds the node's LP in standard form and runs simplex.
// Returns the relaxation objective (maximization sense, including fixed
// contributions), the free-variable values, and the free index mapping.
func (sv *solver) solveRelaxation(n node) (float64, []float64, []int, error) {
	var freeIdx []int
	fixedObj, fixedBudget, fixedCap, fixedBV, fixedRisk := 0.0, 0.0, 0.0, 0.0, 0.0
	for i, c := range sv.p.Candidates {
		if v, ok := sv.valueAt(n, i); ok {
			if v == 1 {
				fixedObj += sv.obj[i]
				fixedBudget += c.Budget
				fixedCap += c.Capacity
				fixedBV += c.BusinessValue
				fixedRisk += RiskScore(c.RiskLevel)
			}
			continue
		}
		freeIdx = append(freeIdx, i)
	}

	cons := sv.p.Constraints
	budgetRHS := cons.MaxBudget - fixedBudget
	capRHS := cons.MaxCapacity - fixedCap
	if budgetRHS < -1e-9 || capRHS < -1e-9 {
		return 0, nil, nil, lp.ErrInfeasible
	}
	if cons.MaxRiskScore != nil && *cons.MaxRiskScore-fixedRisk < -1e-9 {
		return 0, nil, nil, lp.ErrInfeasible
	}

	if len(freeIdx) == 0 {
		if cons.MinBusinessValue != nil && fixedBV < *cons.MinBusinessValue-1e-9 {
			return 0, nil, nil, lp.ErrInfeasible
		}
		return fixedObj, nil, nil, nil
	}

	// Inequality rows over the free variables, as (coeffs, rhs) with
	// sense <=.
	type row struct {
		a   []float64
		rhs float64
	}
	var rows []row
	coeffs := func(f func(Candidate) float64) []float64 {
		a := make([]float64, len(freeIdx))
		for j, i := range freeIdx {
			a[j] = f(sv.p.Candidates[i])
		}
		return a
	}
	rows = append(rows, row{coeffs(func(c Candidate) float64 { return c.Budget }), budgetRHS})
	rows = append(rows, row{coeffs(func(c Candidate) float64 { return c.Capacity }), capRHS})
	if cons.MaxRiskScore != nil {
		rows = append(rows, row{coeffs(func(c Candidate) float64 { return RiskScore(c.RiskLevel) }), *cons.MaxRiskScore - fixedRisk})
	}
	if cons.MinBusinessValue != nil {
		need := *cons.MinBusinessValue - fixedBV
		if need > 0 {
			a := coeffs(func(c Candidate) float64 { return -c.BusinessValue })
			rows = append(rows, row{a, -need})
		}
	}

	f := len(freeIdx)
	m := len(rows)
	// Standard form: f structural vars, m row slacks, f upper-bound
	// slacks (x_i + u_i = 1).
	nVars := f + m + f
	nRows := m + f

	c := make([]float64, nVars)
	for j, i := range freeIdx {
		c[j] = -sv.obj[i] // simplex minimizes
	}

	a := mat.NewDense(nRows, nVars, nil)
	b := make([]float64, nRows)
	for r, rw := range rows {
		for j := 0; j < f; j++ {
			a.Set(r, j, rw.a[j])
		}
		a.Set(r, f+r, 1)
		b[r] = rw.rhs
	}
	for j := 0; j < f; j++ {
		a.Set(m+j, j, 1)
		a.Set(m+j, f+m+j, 1)
		b[m+j] = 1
	}

	opt, x, err := lp.Simplex(c, a, b, 1e-10, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	return -opt + fixedObj, x[:f], freeIdx, nil
}

func (sv *solver) selection(n node, x []float64, freeIdx []int) []int {
	var selected []int
	for i := range sv.p.Candidates {
		if v, ok := sv.valueAt(n, i); ok {
			if v == 1 {
				selected = append(selected, i)
			}
			continue
		}
	}
	for j, i := range freeIdx {
		if x[j] > 1-intTol {
			selected = append(selected, i)
		}
	}
	sort.Ints(selected)
	return selected
}

func (sv *solver) objectiveOf(selected []int) float64 {
	total := 0.0
	for _, i := range selected {
		total += sv.obj[i]
	}
	return total
}

func (sv *solver) finish() *Solution {
	if !sv.haveIncumbent {
		switch {
		case sv.rootUnbounded:
			return &Solution{Status: StatusUnbounded}
		case sv.timeOut:
			return &Solution{Status: StatusTimeLimit}
		default:
			return &Solution{Status: StatusInfeasible, BindingConstraint: sv.guessBinding()}
		}
	}

	sol := &Solution{Status: StatusOptimal, ObjectiveValue: sv.incumbentObj}
	if sv.timeOut {
		sol.Status = StatusTimeLimit
	}
	for _, i := range sv.incumbent {
		c := sv.p.Candidates[i]
		sol.SelectedIDs = append(sol.SelectedIDs, c.ID)
		sol.TotalBudget += c.Budget
		sol.TotalCapacity += c.Capacity
		sol.TotalValue += c.BusinessValue
		sol.TotalRisk += RiskScore(c.RiskLevel)
	}
	sort.Strings(sol.SelectedIDs)
	if sv.p.Constraints.MaxBudget > 0 {
		sol.BudgetUtilizationPct = sol.TotalBudget / sv.p.Constraints.MaxBudget * 100
	}
	if sv.p.Constraints.MaxCapacity > 0 {
		sol.CapacityUtilizationPct = sol.TotalCapacity / sv.p.Constraints.MaxCapacity * 100
	}
	sol.Recommendations = sv.recommend(sol)
	return sol
}

// guessBinding points at the constraint most likely to blame when even the
// LP relaxation is infeasible.
func (sv *solver) guessBinding() string {
	if sv.p.Constraints.MinBusinessValue == nil {
		return ""
	}
	totalBV := 0.0
	for i, c := range sv.p.Candidates {
		if v, ok := sv.fixed[i]; ok && v == 0 {
			continue
		}
		totalBV += c.BusinessValue
	}
	if totalBV < *sv.p.Constraints.MinBusinessValue {
		return "min_business_value"
	}
	return ""
}

func (sv *solver) recommend(sol *Solution) []string {
	var recs []string
	if sol.BudgetUtilizationPct > 95 {
		recs = append(recs, "budget utilization above 95%; consider raising the budget to unlock more value")
	}
	if sol.CapacityUtilizationPct > 95 {
		recs = append(recs, "capacity utilization above 95%; consider adding capacity")
	}

	selected := make(map[string]bool, len(sol.SelectedIDs))
	for _, id := range sol.SelectedIDs {
		selected[id] = true
	}
	bestID, bestBV := "", 0.0
	for _, c := range sv.p.Candidates {
		if !selected[c.ID] && c.BusinessValue > bestBV {
			bestID, bestBV = c.ID, c.BusinessValue
		}
	}
	if bestID != "" && bestBV >= 70 {
		recs = append(recs, fmt.Sprintf("high-value project %s (value %.0f) was left out; consider relaxing constraints", bestID, bestBV))
	}
	return recs
}
