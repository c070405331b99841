package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCyclicDependency rejects a membership write that would close a cycle
// in the portfolio's dependency graph.
var ErrCyclicDependency = errors.New("store: portfolio dependency graph would become cyclic")

// ErrNotFound wraps gorm's record-not-found for callers that do not want
// to import gorm.
var ErrNotFound = gorm.ErrRecordNotFound

// Repository provides data access methods. Each method runs in a single
// transaction; reads that precede a mutation lock the affected rows.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Ping reports whether the backing connection is alive.
func (r *Repository) Ping() error {
	return r.db.Ping()
}

// --- Projects ---

func (r *Repository) CreateProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	return r.db.Create(p).Error
}

func (r *Repository) GetProject(id string) (*Project, error) {
	var p Project
	if err := r.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListProjects() ([]Project, error) {
	var ps []Project
	err := r.db.Order("created_at DESC").Find(&ps).Error
	return ps, err
}

func (r *Repository) UpdateProject(p *Project) error {
	p.UpdatedAt = time.Now()
	return r.db.Save(p).Error
}

// --- Forecasts ---

func (r *Repository) SaveForecast(f *Forecast) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now()
	return r.db.Create(f).Error
}

func (r *Repository) LoadForecast(id string) (*Forecast, error) {
	var f Forecast
	if err := r.db.First(&f, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// ForecastFilter narrows ListForecasts.
type ForecastFilter struct {
	Type  string
	Since *time.Time
	Limit int
}

func (r *Repository) ListForecasts(projectID string, filter ForecastFilter) ([]Forecast, error) {
	q := r.db.Where("project_id = ?", projectID).Order("created_at DESC")
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var fs []Forecast
	err := q.Find(&fs).Error
	return fs, err
}

// RecordActual stores the observed outcome for a forecast, deriving the
// error fields from the stored P85 projection.
func (r *Repository) RecordActual(a *Actual) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var f Forecast
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&f, "id = ?", a.ForecastID).Error; err != nil {
			return fmt.Errorf("load forecast %s: %w", a.ForecastID, err)
		}

		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.RecordedAt = time.Now()
		a.ErrorWeeks = a.ActualWeeks - f.ProjectedWeeksP85
		if f.ProjectedWeeksP85 > 0 {
			a.ErrorPct = a.ErrorWeeks / f.ProjectedWeeksP85 * 100
		}
		return tx.Create(a).Error
	})
}

// ComputeAccuracy aggregates MAPE, MAE and bias over every forecast-actual
// pair for a project. A pair is "within P85" when the actual did not
// overrun the projection.
func (r *Repository) ComputeAccuracy(projectID string) (*AccuracyReport, error) {
	var pairs []struct {
		ProjectedWeeksP85 float64
		ActualWeeks       float64
	}
	err := r.db.Table("actuals").
		Select("forecasts.projected_weeks_p85, actuals.actual_weeks").
		Joins("JOIN forecasts ON forecasts.id = actuals.forecast_id").
		Where("forecasts.project_id = ?", projectID).
		Scan(&pairs).Error
	if err != nil {
		return nil, err
	}

	rep := &AccuracyReport{ProjectID: projectID, Pairs: len(pairs)}
	if len(pairs) == 0 {
		return rep, nil
	}

	var sumAbs, sumPct, sumErr float64
	for _, p := range pairs {
		diff := p.ActualWeeks - p.ProjectedWeeksP85
		sumErr += diff
		sumAbs += math.Abs(diff)
		if p.ActualWeeks > 0 {
			sumPct += math.Abs(diff) / p.ActualWeeks * 100
		}
		if p.ActualWeeks <= p.ProjectedWeeksP85 {
			rep.WithinP85++
		}
	}
	n := float64(len(pairs))
	rep.MAE = sumAbs / n
	rep.MAPE = sumPct / n
	rep.Bias = sumErr / n
	rep.HitRatePct = float64(rep.WithinP85) / n * 100
	return rep, nil
}

// --- Portfolios ---

func (r *Repository) CreatePortfolio(p *Portfolio) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	return r.db.Create(p).Error
}

func (r *Repository) GetPortfolio(id string) (*Portfolio, error) {
	var p Portfolio
	if err := r.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListPortfolios() ([]Portfolio, error) {
	var ps []Portfolio
	err := r.db.Order("created_at DESC").Find(&ps).Error
	return ps, err
}

// AddProjectToPortfolio upserts a membership row on its (portfolio_id,
// project_id) key. The WSJF score is derived here so reads never see a
// stale one, and the membership's dependencies are checked against the
// portfolio's existing graph before the write lands.
func (r *Repository) AddProjectToPortfolio(pp *PortfolioProject, durationWeeksP85 float64) error {
	pp.DurationWeeksP85 = durationWeeksP85
	if durationWeeksP85 > 0 {
		pp.WsjfScore = (pp.BusinessValue + pp.TimeCriticality + pp.RiskReduction) / durationWeeksP85
	}
	now := time.Now()
	pp.CreatedAt, pp.UpdatedAt = now, now

	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing []PortfolioProject
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("portfolio_id = ?", pp.PortfolioID).
			Find(&existing).Error; err != nil {
			return err
		}

		graph := make(map[string][]string, len(existing)+1)
		for _, m := range existing {
			if m.ProjectID == pp.ProjectID {
				continue // replaced by the upsert
			}
			graph[m.ProjectID] = decodeDeps(m.Dependencies)
		}
		graph[pp.ProjectID] = decodeDeps(pp.Dependencies)

		if hasCycle(graph) {
			return ErrCyclicDependency
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "project_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"priority_in_portfolio", "allocation_pct", "cod_weekly",
				"business_value", "time_criticality", "risk_reduction",
				"duration_weeks_p85", "wsjf_score", "dependencies", "updated_at",
			}),
		}).Create(pp).Error
	})
}

func (r *Repository) ListMemberships(portfolioID string) ([]PortfolioProject, error) {
	var pps []PortfolioProject
	err := r.db.Where("portfolio_id = ?", portfolioID).
		Order("priority_in_portfolio ASC, project_id ASC").
		Find(&pps).Error
	return pps, err
}

// --- Simulation runs ---

func (r *Repository) SaveSimulationRun(run *SimulationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = time.Now()
	return r.db.Create(run).Error
}

func (r *Repository) ListSimulationRuns(portfolioID string) ([]SimulationRun, error) {
	var runs []SimulationRun
	err := r.db.Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		Find(&runs).Error
	return runs, err
}

// --- helpers ---

func decodeDeps(raw string) []string {
	if raw == "" {
		return nil
	}
	var deps []string
	if err := json.Unmarshal([]byte(raw), &deps); err != nil {
		return nil
	}
	return deps
}

// EncodeDeps serializes a dependency list for the membership row.
func EncodeDeps(deps []string) string {
	if len(deps) == 0 {
		return ""
	}
	b, _ := json.Marshal(deps)
	return string(b)
}

// hasCycle runs a three-color DFS over the dependency graph.
func hasCycle(graph map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(graph))

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		for _, dep := range graph[node] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for node := range graph {
		if color[node] == white && visit(node) {
			return true
		}
	}
	return false
}
