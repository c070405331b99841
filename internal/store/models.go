package store

import (
	"time"
)

// Project is a persistent delivery effort with its own throughput history.
type Project struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name"`
	ThroughputHistory string    `json:"throughput_history"` // JSON array of weekly counts
	TeamSize          int       `json:"team_size"`
	Status            string    `json:"status"` // active, on_hold, completed, cancelled
	BusinessValue     int       `json:"business_value"`
	RiskLevel         string    `json:"risk_level"` // low, medium, high, critical
	CapacityAllocated float64   `json:"capacity_allocated"`
	Tags              string    `json:"tags"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Forecast is a saved engine run: the config used and the result produced.
// Immutable once written.
type Forecast struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	ProjectID         string    `json:"project_id" gorm:"index"`
	Type              string    `json:"type"` // deadline, throughput, completion
	ConfigJSON        string    `json:"config_json"`
	ResultJSON        string    `json:"result_json"`
	ConfigFingerprint string    `json:"config_fingerprint" gorm:"index"`
	ProjectedWeeksP85 float64   `json:"projected_weeks_p85"`
	CreatedAt         time.Time `json:"created_at"`
}

// Actual is the observed outcome for a finished project, recorded against
// the forecast it verifies.
type Actual struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ForecastID  string    `json:"forecast_id" gorm:"index"`
	ActualWeeks float64   `json:"actual_weeks"`
	ActualItems int       `json:"actual_items"`
	ErrorWeeks  float64   `json:"error_weeks"`
	ErrorPct    float64   `json:"error_pct"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Portfolio groups projects under shared budget and capacity ceilings.
type Portfolio struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Name          string     `json:"name"`
	TotalBudget   float64    `json:"total_budget"`
	TotalCapacity float64    `json:"total_capacity"`
	Status        string     `json:"status"`
	StartDate     *time.Time `json:"start_date"`
	TargetEndDate *time.Time `json:"target_end_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PortfolioProject is the N:N membership row carrying per-membership
// economics. Unique on (portfolio_id, project_id); writes upsert on that
// key. Dependencies is a JSON array of project IDs within the same
// portfolio; the dependency graph is kept acyclic on every write.
type PortfolioProject struct {
	ID                  uint      `json:"id" gorm:"primaryKey"`
	PortfolioID         string    `json:"portfolio_id" gorm:"index;uniqueIndex:idx_portfolio_project"`
	ProjectID           string    `json:"project_id" gorm:"uniqueIndex:idx_portfolio_project"`
	PriorityInPortfolio int       `json:"priority_in_portfolio"`
	AllocationPct       float64   `json:"allocation_pct"`
	CodWeekly           float64   `json:"cod_weekly"`
	BusinessValue       float64   `json:"business_value"`
	TimeCriticality     float64   `json:"time_criticality"`
	RiskReduction       float64   `json:"risk_reduction"`
	DurationWeeksP85    float64   `json:"duration_weeks_p85"`
	WsjfScore           float64   `json:"wsjf_score"`
	Dependencies        string    `json:"dependencies"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// SimulationRun is a stored portfolio-level simulation.
type SimulationRun struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	PortfolioID   string    `json:"portfolio_id" gorm:"index"`
	ExecutionMode string    `json:"execution_mode"` // parallel, sequential, compare
	ConfigJSON    string    `json:"config_json"`
	ResultJSON    string    `json:"result_json"`
	RuntimeMs     int64     `json:"runtime_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AccuracyReport summarizes forecast error over recorded actuals.
type AccuracyReport struct {
	ProjectID  string  `json:"project_id"`
	Pairs      int     `json:"pairs"`
	MAPE       float64 `json:"mape"`
	MAE        float64 `json:"mae"`
	Bias       float64 `json:"bias"`
	WithinP85  int     `json:"within_p85"`
	HitRatePct float64 `json:"hit_rate_pct"`
}
