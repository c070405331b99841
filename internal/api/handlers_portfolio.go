package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowcast/internal/optimizer"
	"flowcast/internal/portfolio"
	"flowcast/internal/simulation"
	"flowcast/internal/store"
)

func (s *Server) createPortfolio(c *gin.Context) {
	var p store.Portfolio
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.repo.CreatePortfolio(&p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listPortfolios(c *gin.Context) {
	ps, err := s.repo.ListPortfolios()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) getPortfolio(c *gin.Context) {
	p, err := s.repo.GetPortfolio(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type membershipRequest struct {
	ProjectID           string   `json:"project_id"`
	PriorityInPortfolio int      `json:"priority_in_portfolio"`
	AllocationPct       float64  `json:"allocation_pct"`
	CodWeekly           float64  `json:"cod_weekly"`
	BusinessValue       float64  `json:"business_value"`
	TimeCriticality     float64  `json:"time_criticality"`
	RiskReduction       float64  `json:"risk_reduction"`
	Dependencies        []string `json:"dependencies,omitempty"`
	DurationWeeksP85    float64  `json:"duration_weeks_p85"`
}

func (s *Server) addPortfolioProject(c *gin.Context) {
	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.repo.GetProject(req.ProjectID); err != nil {
		fail(c, err)
		return
	}

	pp := &store.PortfolioProject{
		PortfolioID:         c.Param("id"),
		ProjectID:           req.ProjectID,
		PriorityInPortfolio: req.PriorityInPortfolio,
		AllocationPct:       req.AllocationPct,
		CodWeekly:           req.CodWeekly,
		BusinessValue:       req.BusinessValue,
		TimeCriticality:     req.TimeCriticality,
		RiskReduction:       req.RiskReduction,
		Dependencies:        store.EncodeDeps(req.Dependencies),
	}
	if err := s.repo.AddProjectToPortfolio(pp, req.DurationWeeksP85); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pp)
}

func (s *Server) listPortfolioProjects(c *gin.Context) {
	pps, err := s.repo.ListMemberships(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pps)
}

type portfolioSimRequest struct {
	ExecutionMode string         `json:"execution_mode"`
	NSimulations  int            `json:"n_simulations"`
	Seed          *uint64        `json:"seed,omitempty"`
	Backlogs      map[string]int `json:"backlogs"`
	// Sync opts out of the default task-runner dispatch.
	Sync bool `json:"sync,omitempty"`
}

func (s *Server) simulatePortfolio(c *gin.Context) {
	pid := c.Param("id")
	var req portfolioSimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inputs, err := s.buildPortfolioInputs(pid, req.Backlogs)
	if err != nil {
		failInputs(c, err)
		return
	}
	simReq := portfolio.Request{
		PortfolioID:  pid,
		Mode:         portfolio.ExecutionMode(req.ExecutionMode),
		NSimulations: req.NSimulations,
		Seed:         req.Seed,
		Projects:     inputs,
	}

	if req.Sync {
		res, err := s.runPortfolioSim(c.Request.Context(), simReq, nil)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	id, err := s.runner.Submit("portfolio-simulate", func(ctx context.Context, report func(int, string)) (any, error) {
		return s.runPortfolioSim(ctx, simReq, report)
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (s *Server) runPortfolioSim(ctx context.Context, req portfolio.Request, report func(int, string)) (*portfolio.Result, error) {
	var progress simulation.ProgressFunc
	if report != nil {
		progress = func(pct int, stage string) { report(pct, stage) }
	}

	started := time.Now()
	res, err := s.simulator.Run(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	cfgJSON, _ := json.Marshal(req)
	resJSON, _ := json.Marshal(res)
	run := &store.SimulationRun{
		PortfolioID:   req.PortfolioID,
		ExecutionMode: string(req.Mode),
		ConfigJSON:    string(cfgJSON),
		ResultJSON:    string(resJSON),
		RuntimeMs:     time.Since(started).Milliseconds(),
	}
	if err := s.repo.SaveSimulationRun(run); err != nil {
		return nil, err
	}
	return res, nil
}

// buildPortfolioInputs joins the portfolio's memberships with their
// projects' throughput histories. Every member needs a backlog entry.
func (s *Server) buildPortfolioInputs(portfolioID string, backlogs map[string]int) ([]portfolio.ProjectInput, error) {
	memberships, err := s.repo.ListMemberships(portfolioID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, fmt.Errorf("portfolio %s has no projects", portfolioID)
	}

	inputs := make([]portfolio.ProjectInput, 0, len(memberships))
	for _, m := range memberships {
		p, err := s.repo.GetProject(m.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", m.ProjectID, err)
		}
		backlog, ok := backlogs[m.ProjectID]
		if !ok {
			return nil, fmt.Errorf("no backlog given for project %s", m.ProjectID)
		}

		var samples []float64
		if p.ThroughputHistory != "" {
			if err := json.Unmarshal([]byte(p.ThroughputHistory), &samples); err != nil {
				return nil, fmt.Errorf("project %s: bad throughput history: %w", m.ProjectID, err)
			}
		}

		var deps []string
		if m.Dependencies != "" {
			_ = json.Unmarshal([]byte(m.Dependencies), &deps)
		}

		inputs = append(inputs, portfolio.ProjectInput{
			ID: m.ProjectID,
			Config: simulation.Config{
				TPSamples: samples,
				Backlog:   backlog,
				Mode:      simulation.ModeSimple,
			},
			CodWeekly:       m.CodWeekly,
			BusinessValue:   m.BusinessValue,
			TimeCriticality: m.TimeCriticality,
			RiskReduction:   m.RiskReduction,
			Dependencies:    deps,
			Priority:        m.PriorityInPortfolio,
		})
	}
	return inputs, nil
}

type codAnalysisRequest struct {
	Backlogs     map[string]int `json:"backlogs"`
	NSimulations int            `json:"n_simulations"`
	Seed         *uint64        `json:"seed,omitempty"`
}

// codAnalysis runs the sequencing strategies over the portfolio's members.
// Durations come from the membership rows, so with stored durations this is
// pure arithmetic; a member gets a quick simulation only when the request
// supplies a backlog for it (overriding the stored duration) or the row
// never had one.
func (s *Server) codAnalysis(c *gin.Context) {
	pid := c.Param("id")
	var req codAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.NSimulations == 0 {
		req.NSimulations = 1000
	}

	memberships, err := s.repo.ListMemberships(pid)
	if err != nil {
		fail(c, err)
		return
	}
	if len(memberships) == 0 {
		badRequest(c, fmt.Errorf("portfolio %s has no projects", pid))
		return
	}

	projects := make([]portfolio.SequencedProject, 0, len(memberships))
	for i, m := range memberships {
		duration := m.DurationWeeksP85
		if backlog, ok := req.Backlogs[m.ProjectID]; ok || duration <= 0 {
			if !ok {
				badRequest(c, fmt.Errorf("project %s: no stored duration and no backlog given", m.ProjectID))
				return
			}
			duration, err = s.estimateDurationP85(c.Request.Context(), m.ProjectID, backlog, req.NSimulations, req.Seed, i)
			if err != nil {
				failInputs(c, err)
				return
			}
		}
		projects = append(projects, portfolio.SequencedProject{
			ID:               m.ProjectID,
			BusinessValue:    m.BusinessValue,
			TimeCriticality:  m.TimeCriticality,
			RiskReduction:    m.RiskReduction,
			DurationWeeksP85: duration,
			CodWeekly:        m.CodWeekly,
			Priority:         m.PriorityInPortfolio,
		})
	}

	c.JSON(http.StatusOK, portfolio.Sequence(projects))
}

// estimateDurationP85 runs a quick simulation over a project's throughput
// history to fill in a missing or overridden membership duration.
func (s *Server) estimateDurationP85(ctx context.Context, projectID string, backlog, nSims int, seed *uint64, ordinal int) (float64, error) {
	p, err := s.repo.GetProject(projectID)
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", projectID, err)
	}
	var samples []float64
	if p.ThroughputHistory != "" {
		if err := json.Unmarshal([]byte(p.ThroughputHistory), &samples); err != nil {
			return 0, fmt.Errorf("project %s: bad throughput history: %w", projectID, err)
		}
	}

	cfg := simulation.Config{
		TPSamples:    samples,
		Backlog:      backlog,
		NSimulations: nSims,
		Mode:         simulation.ModeSimple,
	}
	if seed != nil {
		sub := *seed + uint64(ordinal+1)
		cfg.Seed = &sub
	}
	res, err := s.engine.Run(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", projectID, err)
	}
	return res.Percentiles.P85, nil
}

type optimizeRequest struct {
	Objective        string             `json:"objective"`
	Budgets          map[string]float64 `json:"budgets"`
	MaxBudget        *float64           `json:"max_budget,omitempty"`
	MaxCapacity      *float64           `json:"max_capacity,omitempty"`
	MinBusinessValue *float64           `json:"min_business_value,omitempty"`
	MaxRiskScore     *float64           `json:"max_risk_score,omitempty"`
	Mandatory        []string           `json:"mandatory,omitempty"`
	Excluded         []string           `json:"excluded,omitempty"`
	// Sync opts out of the default task-runner dispatch.
	Sync bool `json:"sync,omitempty"`
}

// optimizePortfolio builds the candidate pool from the portfolio's
// memberships and their projects and solves the selection problem. Budget
// and capacity ceilings default to the portfolio's own.
func (s *Server) optimizePortfolio(c *gin.Context) {
	pid := c.Param("id")
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pf, err := s.repo.GetPortfolio(pid)
	if err != nil {
		fail(c, err)
		return
	}
	memberships, err := s.repo.ListMemberships(pid)
	if err != nil {
		fail(c, err)
		return
	}
	if len(memberships) == 0 {
		badRequest(c, fmt.Errorf("portfolio %s has no projects", pid))
		return
	}

	candidates := make([]optimizer.Candidate, 0, len(memberships))
	for _, m := range memberships {
		p, err := s.repo.GetProject(m.ProjectID)
		if err != nil {
			fail(c, fmt.Errorf("project %s: %w", m.ProjectID, err))
			return
		}
		candidates = append(candidates, optimizer.Candidate{
			ID:            m.ProjectID,
			BusinessValue: m.BusinessValue,
			Wsjf:          m.WsjfScore,
			RiskLevel:     p.RiskLevel,
			Budget:        req.Budgets[m.ProjectID],
			Capacity:      p.CapacityAllocated,
		})
	}

	cons := optimizer.Constraints{
		MaxBudget:        pf.TotalBudget,
		MaxCapacity:      pf.TotalCapacity,
		MinBusinessValue: req.MinBusinessValue,
		MaxRiskScore:     req.MaxRiskScore,
		Mandatory:        req.Mandatory,
		Excluded:         req.Excluded,
	}
	if req.MaxBudget != nil {
		cons.MaxBudget = *req.MaxBudget
	}
	if req.MaxCapacity != nil {
		cons.MaxCapacity = *req.MaxCapacity
	}

	objective := optimizer.Objective(req.Objective)
	if objective == "" {
		objective = optimizer.ObjectiveMaxValue
	}

	problem := optimizer.Problem{
		Objective:   objective,
		Candidates:  candidates,
		Constraints: cons,
		TimeLimit:   s.cfg.OptimizerTimeLimit,
	}

	if req.Sync {
		sol, err := optimizer.Solve(c.Request.Context(), problem)
		if err != nil {
			fail(c, err)
			return
		}
		status := http.StatusOK
		if sol.Status == optimizer.StatusInfeasible {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, sol)
		return
	}

	id, err := s.runner.Submit("portfolio-optimize", func(ctx context.Context, report func(int, string)) (any, error) {
		return optimizer.Solve(ctx, problem)
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (s *Server) listPortfolioRuns(c *gin.Context) {
	runs, err := s.repo.ListSimulationRuns(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}
