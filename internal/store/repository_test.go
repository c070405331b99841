package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	// A named in-memory database with a shared cache: the pool's
	// connections see one schema, and each test gets its own.
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db)
}

func TestProjectCRUD(t *testing.T) {
	repo := newTestRepo(t)

	p := &Project{
		Name:              "checkout rewrite",
		ThroughputHistory: "[5,6,7,4,8]",
		TeamSize:          6,
		BusinessValue:     80,
		RiskLevel:         "medium",
	}
	require.NoError(t, repo.CreateProject(p))
	require.NotEmpty(t, p.ID)
	assert.Equal(t, "active", p.Status)

	got, err := repo.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout rewrite", got.Name)

	got.Status = "on_hold"
	require.NoError(t, repo.UpdateProject(got))

	again, err := repo.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "on_hold", again.Status)

	all, err := repo.ListProjects()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.GetProject("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForecastRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	p := &Project{Name: "p"}
	require.NoError(t, repo.CreateProject(p))

	f := &Forecast{
		ProjectID:         p.ID,
		Type:              "completion",
		ConfigJSON:        `{"backlog":60}`,
		ResultJSON:        `{"p85":12}`,
		ConfigFingerprint: "abc123",
		ProjectedWeeksP85: 12,
	}
	require.NoError(t, repo.SaveForecast(f))
	require.NotEmpty(t, f.ID)

	loaded, err := repo.LoadForecast(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", loaded.ConfigFingerprint)

	list, err := repo.ListForecasts(p.ID, ForecastFilter{Type: "completion"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	none, err := repo.ListForecasts(p.ID, ForecastFilter{Type: "deadline"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordActualDerivesError(t *testing.T) {
	repo := newTestRepo(t)

	p := &Project{Name: "p"}
	require.NoError(t, repo.CreateProject(p))
	f := &Forecast{ProjectID: p.ID, Type: "completion", ProjectedWeeksP85: 10}
	require.NoError(t, repo.SaveForecast(f))

	a := &Actual{ForecastID: f.ID, ActualWeeks: 12, ActualItems: 60}
	require.NoError(t, repo.RecordActual(a))

	assert.InDelta(t, 2, a.ErrorWeeks, 1e-9)
	assert.InDelta(t, 20, a.ErrorPct, 1e-9)

	missing := &Actual{ForecastID: "nope", ActualWeeks: 5}
	assert.Error(t, repo.RecordActual(missing))
}

func TestComputeAccuracy(t *testing.T) {
	repo := newTestRepo(t)

	p := &Project{Name: "p"}
	require.NoError(t, repo.CreateProject(p))

	// Two forecasts: one overrun by 2 weeks, one finished 1 week early.
	cases := []struct {
		projected float64
		actual    float64
	}{
		{10, 12},
		{8, 7},
	}
	for _, tc := range cases {
		f := &Forecast{ProjectID: p.ID, Type: "completion", ProjectedWeeksP85: tc.projected}
		require.NoError(t, repo.SaveForecast(f))
		require.NoError(t, repo.RecordActual(&Actual{ForecastID: f.ID, ActualWeeks: tc.actual}))
	}

	rep, err := repo.ComputeAccuracy(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pairs)
	assert.Equal(t, 1, rep.WithinP85)
	assert.InDelta(t, 50, rep.HitRatePct, 1e-9)
	assert.InDelta(t, 1.5, rep.MAE, 1e-9)                         // (2 + 1) / 2
	assert.InDelta(t, 0.5, rep.Bias, 1e-9)                        // (+2 - 1) / 2
	assert.InDelta(t, (2.0/12*100+1.0/7*100)/2, rep.MAPE, 1e-9)   // errors over actuals
}

func TestComputeAccuracy_NoPairs(t *testing.T) {
	repo := newTestRepo(t)
	rep, err := repo.ComputeAccuracy("empty")
	require.NoError(t, err)
	assert.Zero(t, rep.Pairs)
	assert.Zero(t, rep.MAPE)
}

func TestMembershipUpsert(t *testing.T) {
	repo := newTestRepo(t)

	pf := &Portfolio{Name: "q3", TotalBudget: 500000, TotalCapacity: 20}
	require.NoError(t, repo.CreatePortfolio(pf))

	pp := &PortfolioProject{
		PortfolioID:     pf.ID,
		ProjectID:       "proj-1",
		CodWeekly:       1000,
		BusinessValue:   60,
		TimeCriticality: 30,
		RiskReduction:   10,
	}
	require.NoError(t, repo.AddProjectToPortfolio(pp, 5))
	assert.InDelta(t, 20, pp.WsjfScore, 1e-9) // (60+30+10)/5
	assert.InDelta(t, 5, pp.DurationWeeksP85, 1e-9)

	// Same key again: updated, not duplicated.
	pp2 := &PortfolioProject{
		PortfolioID:   pf.ID,
		ProjectID:     "proj-1",
		CodWeekly:     2000,
		BusinessValue: 80,
	}
	require.NoError(t, repo.AddProjectToPortfolio(pp2, 4))

	members, err := repo.ListMemberships(pf.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.InDelta(t, 2000, members[0].CodWeekly, 1e-9)
	assert.InDelta(t, 20, members[0].WsjfScore, 1e-9) // 80/4
	assert.InDelta(t, 4, members[0].DurationWeeksP85, 1e-9)
}

func TestMembershipRejectsCycle(t *testing.T) {
	repo := newTestRepo(t)

	pf := &Portfolio{Name: "deps"}
	require.NoError(t, repo.CreatePortfolio(pf))

	a := &PortfolioProject{PortfolioID: pf.ID, ProjectID: "a", Dependencies: EncodeDeps([]string{"b"})}
	require.NoError(t, repo.AddProjectToPortfolio(a, 1))

	b := &PortfolioProject{PortfolioID: pf.ID, ProjectID: "b", Dependencies: EncodeDeps([]string{"c"})}
	require.NoError(t, repo.AddProjectToPortfolio(b, 1))

	// c -> a closes the cycle a -> b -> c -> a.
	c := &PortfolioProject{PortfolioID: pf.ID, ProjectID: "c", Dependencies: EncodeDeps([]string{"a"})}
	err := repo.AddProjectToPortfolio(c, 1)
	require.ErrorIs(t, err, ErrCyclicDependency)

	// The rejected row must not have landed.
	members, err := repo.ListMemberships(pf.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMembershipSelfDependencyRejected(t *testing.T) {
	repo := newTestRepo(t)

	pf := &Portfolio{Name: "self"}
	require.NoError(t, repo.CreatePortfolio(pf))

	pp := &PortfolioProject{PortfolioID: pf.ID, ProjectID: "a", Dependencies: EncodeDeps([]string{"a"})}
	require.ErrorIs(t, repo.AddProjectToPortfolio(pp, 1), ErrCyclicDependency)
}

func TestSimulationRuns(t *testing.T) {
	repo := newTestRepo(t)

	pf := &Portfolio{Name: "runs"}
	require.NoError(t, repo.CreatePortfolio(pf))

	run := &SimulationRun{
		PortfolioID:   pf.ID,
		ExecutionMode: "compare",
		ConfigJSON:    "{}",
		ResultJSON:    "{}",
		RuntimeMs:     120,
	}
	require.NoError(t, repo.SaveSimulationRun(run))

	runs, err := repo.ListSimulationRuns(pf.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "compare", runs[0].ExecutionMode)
}

func TestEncodeDecodeDeps(t *testing.T) {
	assert.Empty(t, EncodeDeps(nil))
	assert.Equal(t, `["a","b"]`, EncodeDeps([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, decodeDeps(`["a","b"]`))
	assert.Nil(t, decodeDeps(""))
	assert.Nil(t, decodeDeps("not json"))
}
