package portfolio

import (
	"context"
	"fmt"
	"sort"

	"flowcast/internal/simulation"
)

// ExecutionMode selects how the portfolio's projects are assumed to run.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
	ModeCompare    ExecutionMode = "compare"
)

// ProjectInput pairs a project's simulation config with its membership
// economics.
type ProjectInput struct {
	ID              string            `json:"id"`
	Config          simulation.Config `json:"config"`
	CodWeekly       float64           `json:"cod_weekly"`
	BusinessValue   float64           `json:"business_value"`
	TimeCriticality float64           `json:"time_criticality"`
	RiskReduction   float64           `json:"risk_reduction"`
	// Dependencies lists project IDs that must finish before this one
	// starts. The store guarantees the graph is acyclic.
	Dependencies []string `json:"dependencies,omitempty"`
	Priority     int      `json:"priority"`
}

// Request is one portfolio simulation.
type Request struct {
	PortfolioID  string         `json:"portfolio_id"`
	Mode         ExecutionMode  `json:"execution_mode"`
	NSimulations int            `json:"n_simulations"`
	Seed         *uint64        `json:"seed,omitempty"`
	Projects     []ProjectInput `json:"projects"`
}

// ProjectStats is the per-project slice of a policy result.
type ProjectStats struct {
	ProjectID string  `json:"project_id"`
	P85Weeks  float64 `json:"p85_weeks"`
	Wsjf      float64 `json:"wsjf"`
	// CriticalPathPct is the fraction of joint trials in which this
	// project's finish determined the portfolio duration (parallel only).
	CriticalPathPct float64 `json:"critical_path_pct,omitempty"`
	// RiskConcentration is this project's duration variance over the
	// portfolio's duration variance.
	RiskConcentration float64 `json:"risk_concentration"`
}

// PolicyResult aggregates the joint trials under one execution policy.
type PolicyResult struct {
	Mode            ExecutionMode          `json:"mode"`
	Weeks           simulation.Percentiles `json:"weeks"`
	CoD             simulation.Percentiles `json:"cod"`
	Projects        []ProjectStats         `json:"projects"`
	Order           []string               `json:"order,omitempty"` // sequential execution order
	TruncatedTrials int                    `json:"truncated_trials,omitempty"`
}

// Recommendation is the outcome of compare mode.
type Recommendation struct {
	Mode   ExecutionMode `json:"mode"`
	Reason string        `json:"reason"`
}

// Result is the full simulator output for one request.
type Result struct {
	PortfolioID    string          `json:"portfolio_id"`
	Mode           ExecutionMode   `json:"execution_mode"`
	NSimulations   int             `json:"n_simulations"`
	Parallel       *PolicyResult   `json:"parallel,omitempty"`
	Sequential     *PolicyResult   `json:"sequential,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// Simulator runs one engine per project and composes per-trial joint
// outcomes, pairing trial k of every project.
type Simulator struct {
	engine *simulation.Engine
}

func NewSimulator(engine *simulation.Engine) *Simulator {
	return &Simulator{engine: engine}
}

// Run executes the requested policy (or both, in compare mode).
func (s *Simulator) Run(ctx context.Context, req Request, progress simulation.ProgressFunc) (*Result, error) {
	if len(req.Projects) == 0 {
		return nil, fmt.Errorf("portfolio: no projects to simulate")
	}
	if req.NSimulations == 0 {
		req.NSimulations = simulation.DefaultTrials
	}
	switch req.Mode {
	case ModeParallel, ModeSequential, ModeCompare:
	default:
		return nil, fmt.Errorf("portfolio: unknown execution mode %q", req.Mode)
	}

	trials, err := s.collectTrials(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	res := &Result{PortfolioID: req.PortfolioID, Mode: req.Mode, NSimulations: req.NSimulations}
	if req.Mode == ModeParallel || req.Mode == ModeCompare {
		res.Parallel = composeParallel(req, trials)
	}
	if req.Mode == ModeSequential || req.Mode == ModeCompare {
		res.Sequential = composeSequential(req, trials)
	}
	if req.Mode == ModeCompare {
		res.Recommendation = recommend(res.Parallel, res.Sequential)
	}
	return res, nil
}

// projectTrials is the raw joint-trial matrix: one TrialSet per project,
// all of length NSimulations, paired by index.
type projectTrials map[string]*simulation.TrialSet

func (s *Simulator) collectTrials(ctx context.Context, req Request, progress simulation.ProgressFunc) (projectTrials, error) {
	trials := make(projectTrials, len(req.Projects))
	for i, p := range req.Projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i*100/len(req.Projects), "simulating "+p.ID)
		}

		cfg := p.Config
		cfg.NSimulations = req.NSimulations
		if req.Seed != nil {
			// Distinct deterministic substream per project.
			seed := *req.Seed + uint64(i+1)*0x9E3779B97F4A7C15
			cfg.Seed = &seed
		}
		ts, err := s.engine.Trials(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", p.ID, err)
		}
		trials[p.ID] = ts
	}
	if progress != nil {
		progress(100, "aggregating")
	}
	return trials, nil
}

func composeParallel(req Request, trials projectTrials) *PolicyResult {
	n := req.NSimulations
	order := topoByWSJF(req.Projects, trials)

	portfolioWeeks := make([]float64, n)
	portfolioCoD := make([]float64, n)
	criticalHits := make(map[string]int, len(req.Projects))
	truncated := 0

	byID := projectsByID(req.Projects)
	finish := make(map[string]float64, len(req.Projects))

	for k := 0; k < n; k++ {
		// Dependencies shift a project's start to the max finish of its
		// predecessors within the same trial; without dependencies the
		// finish is just the project's own duration.
		maxFinish := 0.0
		cod := 0.0
		for _, id := range order {
			start := 0.0
			for _, dep := range byID[id].Dependencies {
				if f, ok := finish[dep]; ok && f > start {
					start = f
				}
			}
			f := start + trials[id].Weeks[k]
			finish[id] = f
			cod += byID[id].CodWeekly * f
			if f > maxFinish {
				maxFinish = f
			}
		}
		for _, id := range order {
			if finish[id] == maxFinish {
				criticalHits[id]++
			}
		}
		portfolioWeeks[k] = maxFinish
		portfolioCoD[k] = cod
	}

	for _, ts := range trials {
		truncated += ts.Truncated
	}

	res := &PolicyResult{
		Mode:            ModeParallel,
		Weeks:           simulation.PercentileSet(portfolioWeeks),
		CoD:             simulation.PercentileSet(portfolioCoD),
		TruncatedTrials: truncated,
	}
	res.Projects = projectStats(req, trials, portfolioWeeks, criticalHits, n)
	return res
}

func composeSequential(req Request, trials projectTrials) *PolicyResult {
	n := req.NSimulations
	order := topoByWSJF(req.Projects, trials)
	byID := projectsByID(req.Projects)

	portfolioWeeks := make([]float64, n)
	portfolioCoD := make([]float64, n)
	truncated := 0

	for k := 0; k < n; k++ {
		cum := 0.0
		cod := 0.0
		for _, id := range order {
			cum += trials[id].Weeks[k]
			cod += byID[id].CodWeekly * cum
		}
		portfolioWeeks[k] = cum
		portfolioCoD[k] = cod
	}

	for _, ts := range trials {
		truncated += ts.Truncated
	}

	res := &PolicyResult{
		Mode:            ModeSequential,
		Weeks:           simulation.PercentileSet(portfolioWeeks),
		CoD:             simulation.PercentileSet(portfolioCoD),
		Order:           order,
		TruncatedTrials: truncated,
	}
	res.Projects = projectStats(req, trials, portfolioWeeks, nil, n)
	return res
}

func projectStats(req Request, trials projectTrials, portfolioWeeks []float64, criticalHits map[string]int, n int) []ProjectStats {
	_, portfolioStd := simulation.MeanStd(portfolioWeeks)
	portfolioVar := portfolioStd * portfolioStd

	stats := make([]ProjectStats, 0, len(req.Projects))
	for _, p := range req.Projects {
		ts := trials[p.ID]
		pcts := simulation.PercentileSet(ts.Weeks)
		_, std := simulation.MeanStd(ts.Weeks)

		st := ProjectStats{
			ProjectID: p.ID,
			P85Weeks:  pcts.P85,
			Wsjf:      wsjfOf(p, pcts.P85),
		}
		if portfolioVar > 0 {
			st.RiskConcentration = std * std / portfolioVar
		}
		if criticalHits != nil {
			st.CriticalPathPct = float64(criticalHits[p.ID]) / float64(n)
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ProjectID < stats[j].ProjectID })
	return stats
}

func recommend(par, seq *PolicyResult) *Recommendation {
	switch {
	case par.Weeks.P85 < seq.Weeks.P85:
		return &Recommendation{Mode: ModeParallel, Reason: fmt.Sprintf(
			"parallel P85 of %.1f weeks beats sequential %.1f", par.Weeks.P85, seq.Weeks.P85)}
	case seq.Weeks.P85 < par.Weeks.P85:
		return &Recommendation{Mode: ModeSequential, Reason: fmt.Sprintf(
			"sequential P85 of %.1f weeks beats parallel %.1f", seq.Weeks.P85, par.Weeks.P85)}
	case par.CoD.P85 <= seq.CoD.P85:
		return &Recommendation{Mode: ModeParallel, Reason: "equal P85 weeks; parallel accrues less Cost of Delay"}
	default:
		return &Recommendation{Mode: ModeSequential, Reason: "equal P85 weeks; sequential accrues less Cost of Delay"}
	}
}

func wsjfOf(p ProjectInput, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return (p.BusinessValue + p.TimeCriticality + p.RiskReduction) / d
}

func projectsByID(ps []ProjectInput) map[string]ProjectInput {
	m := make(map[string]ProjectInput, len(ps))
	for _, p := range ps {
		m[p.ID] = p
	}
	return m
}

// topoByWSJF orders projects topologically over their dependencies,
// breaking ties by WSJF descending then ID. Without dependencies this
// degenerates to a plain WSJF ordering.
func topoByWSJF(projects []ProjectInput, trials projectTrials) []string {
	wsjf := make(map[string]float64, len(projects))
	indegree := make(map[string]int, len(projects))
	dependents := make(map[string][]string, len(projects))
	byID := projectsByID(projects)

	for _, p := range projects {
		pcts := simulation.PercentileSet(trials[p.ID].Weeks)
		wsjf[p.ID] = wsjfOf(p, pcts.P85)
		indegree[p.ID] = 0
	}
	for _, p := range projects {
		for _, dep := range p.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue // dependency outside this simulation
			}
			indegree[p.ID]++
			dependents[dep] = append(dependents[dep], p.ID)
		}
	}

	ready := make([]string, 0, len(projects))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(projects))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			a, b := ready[i], ready[best]
			if wsjf[a] > wsjf[b] || (wsjf[a] == wsjf[b] && a < b) {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, id)

		for _, d := range dependents[id] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}
