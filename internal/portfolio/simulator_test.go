package portfolio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcast/internal/simulation"
)

func seedPtr(v uint64) *uint64 { return &v }

func threeProjectRequest(mode ExecutionMode) Request {
	history := []float64{5, 6, 7, 4, 8, 6, 5, 7}
	mk := func(id string, backlog int, cod, bv float64, prio int) ProjectInput {
		return ProjectInput{
			ID:              id,
			Config:          simulation.Config{TPSamples: history, Backlog: backlog, Mode: simulation.ModeSimple},
			CodWeekly:       cod,
			BusinessValue:   bv,
			TimeCriticality: 50,
			RiskReduction:   30,
			Priority:        prio,
		}
	}
	return Request{
		PortfolioID:  "pf-1",
		Mode:         mode,
		NSimulations: 2000,
		Seed:         seedPtr(42),
		Projects: []ProjectInput{
			mk("alpha", 80, 3000, 80, 1),
			mk("beta", 50, 2000, 60, 2),
			mk("gamma", 60, 2500, 70, 3),
		},
	}
}

func TestSimulator_CompareRecommendsParallel(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	res, err := s.Run(context.Background(), threeProjectRequest(ModeCompare), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Parallel)
	require.NotNil(t, res.Sequential)
	require.NotNil(t, res.Recommendation)

	// Three independent backlogs: the sequential P85 is roughly the sum,
	// the parallel P85 roughly the max.
	assert.Less(t, res.Parallel.Weeks.P85, res.Sequential.Weeks.P85)
	assert.Less(t, res.Parallel.CoD.P85, res.Sequential.CoD.P85)
	assert.Equal(t, ModeParallel, res.Recommendation.Mode)
}

func TestSimulator_SequentialOrderIsWSJF(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	res, err := s.Run(context.Background(), threeProjectRequest(ModeSequential), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Sequential)
	require.Len(t, res.Sequential.Order, 3)

	// beta has the smallest backlog (shortest P85) and a comparable score
	// sum, so it carries the highest WSJF and goes first.
	assert.Equal(t, "beta", res.Sequential.Order[0])
}

func TestSimulator_CriticalPathFrequency(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	res, err := s.Run(context.Background(), threeProjectRequest(ModeParallel), nil)
	require.NoError(t, err)

	total := 0.0
	var alphaPct float64
	for _, p := range res.Parallel.Projects {
		assert.GreaterOrEqual(t, p.CriticalPathPct, 0.0)
		assert.LessOrEqual(t, p.CriticalPathPct, 1.0)
		total += p.CriticalPathPct
		if p.ProjectID == "alpha" {
			alphaPct = p.CriticalPathPct
		}
	}
	// Ties can push the sum above 1, but some project bounds every trial.
	assert.GreaterOrEqual(t, total, 1.0)
	// alpha has the largest backlog and should dominate the critical path.
	assert.Greater(t, alphaPct, 0.5)
}

func TestSimulator_RiskConcentration(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	res, err := s.Run(context.Background(), threeProjectRequest(ModeParallel), nil)
	require.NoError(t, err)

	for _, p := range res.Parallel.Projects {
		assert.Greater(t, p.RiskConcentration, 0.0, "project %s", p.ProjectID)
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	a, err := s.Run(context.Background(), threeProjectRequest(ModeCompare), nil)
	require.NoError(t, err)
	b, err := s.Run(context.Background(), threeProjectRequest(ModeCompare), nil)
	require.NoError(t, err)

	assert.Equal(t, a.Parallel.Weeks, b.Parallel.Weeks)
	assert.Equal(t, a.Sequential.CoD, b.Sequential.CoD)
}

func TestSimulator_DependenciesChainParallel(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	history := []float64{5, 6, 7, 4, 8, 6, 5, 7}
	req := Request{
		PortfolioID:  "pf-dep",
		Mode:         ModeParallel,
		NSimulations: 2000,
		Seed:         seedPtr(7),
		Projects: []ProjectInput{
			{ID: "base", Config: simulation.Config{TPSamples: history, Backlog: 50, Mode: simulation.ModeSimple}, CodWeekly: 100, BusinessValue: 50},
			{ID: "dep", Config: simulation.Config{TPSamples: history, Backlog: 50, Mode: simulation.ModeSimple}, CodWeekly: 100, BusinessValue: 90, Dependencies: []string{"base"}},
		},
	}
	chained, err := s.Run(context.Background(), req, nil)
	require.NoError(t, err)

	req.Projects[1].Dependencies = nil
	free, err := s.Run(context.Background(), req, nil)
	require.NoError(t, err)

	// The chain turns the parallel portfolio into base + dep.
	assert.Greater(t, chained.Parallel.Weeks.P50, free.Parallel.Weeks.P50*1.5)

	// The dependent project finishes last in every trial.
	for _, p := range chained.Parallel.Projects {
		if p.ProjectID == "dep" {
			assert.Equal(t, 1.0, p.CriticalPathPct)
		}
	}
}

func TestSimulator_DependenciesOrderSequential(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	history := []float64{5, 6, 7, 4}
	req := Request{
		PortfolioID:  "pf-dep",
		Mode:         ModeSequential,
		NSimulations: 1000,
		Seed:         seedPtr(7),
		Projects: []ProjectInput{
			// "late" has far higher WSJF but depends on "early".
			{ID: "late", Config: simulation.Config{TPSamples: history, Backlog: 10, Mode: simulation.ModeSimple}, CodWeekly: 100, BusinessValue: 100, TimeCriticality: 100, RiskReduction: 100, Dependencies: []string{"early"}},
			{ID: "early", Config: simulation.Config{TPSamples: history, Backlog: 40, Mode: simulation.ModeSimple}, CodWeekly: 100, BusinessValue: 10},
		},
	}
	res, err := s.Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"early", "late"}, res.Sequential.Order)
}

func TestSimulator_InvalidMode(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())
	req := threeProjectRequest("zigzag")
	_, err := s.Run(context.Background(), req, nil)
	require.Error(t, err)
}

func TestSimulator_PropagatesConfigErrors(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())
	req := Request{
		PortfolioID:  "pf-bad",
		Mode:         ModeParallel,
		NSimulations: 1000,
		Projects: []ProjectInput{
			{ID: "broken", Config: simulation.Config{Backlog: 10, Mode: simulation.ModeSimple}},
		},
	}
	_, err := s.Run(context.Background(), req, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSimulator_ProgressReported(t *testing.T) {
	s := NewSimulator(simulation.NewEngine())

	var stages []string
	_, err := s.Run(context.Background(), threeProjectRequest(ModeParallel), func(pct int, stage string) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stages)
	assert.Equal(t, "aggregating", stages[len(stages)-1])
}
