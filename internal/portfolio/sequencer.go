// Package portfolio composes per-project Monte-Carlo forecasts into
// portfolio-level answers: joint duration and Cost-of-Delay distributions
// under parallel and sequential execution, and deterministic sequencing
// analysis over WSJF-style orderings.
package portfolio

import (
	"fmt"
	"sort"

	"flowcast/internal/simulation"
)

// Strategy is a deterministic ordering rule for sequential execution.
type Strategy string

const (
	StrategyWSJF     Strategy = "wsjf"      // (BV+TC+RR)/D descending
	StrategySJF      Strategy = "sjf"       // shortest duration first
	StrategyCoDFirst Strategy = "cod_first" // highest weekly CoD first
	StrategyBVFirst  Strategy = "bv_first"  // highest business value first
)

var allStrategies = []Strategy{StrategyWSJF, StrategySJF, StrategyCoDFirst, StrategyBVFirst}

// SequencedProject is one candidate in a sequencing analysis. Duration is
// the P85 estimate in weeks and must be positive; zero-duration projects
// are filtered out with a warning.
type SequencedProject struct {
	ID               string  `json:"id"`
	BusinessValue    float64 `json:"business_value"`
	TimeCriticality  float64 `json:"time_criticality"`
	RiskReduction    float64 `json:"risk_reduction"`
	DurationWeeksP85 float64 `json:"duration_weeks_p85"`
	CodWeekly        float64 `json:"cod_weekly"`
	// Priority is the membership's priority_in_portfolio; ascending
	// priority defines the input order the savings are measured against.
	Priority int `json:"priority"`
}

// WSJF computes (BV + TC + RR) / D.
func (p SequencedProject) WSJF() float64 {
	if p.DurationWeeksP85 <= 0 {
		return 0
	}
	return (p.BusinessValue + p.TimeCriticality + p.RiskReduction) / p.DurationWeeksP85
}

// OrderingEntry is one project's position in a computed sequence with its
// accrued Cost of Delay. A project pays CoD for the whole period until it
// ships, including time spent on everything scheduled before it.
type OrderingEntry struct {
	ProjectID  string  `json:"project_id"`
	Wsjf       float64 `json:"wsjf"`
	StartWeek  float64 `json:"start_week"`
	FinishWeek float64 `json:"finish_week"`
	AccruedCoD float64 `json:"accrued_cod"`
}

// StrategyResult is the full sequence and total CoD under one strategy.
type StrategyResult struct {
	Strategy Strategy        `json:"strategy"`
	Order    []OrderingEntry `json:"order"`
	TotalCoD float64         `json:"total_cod"`
}

// SequenceReport compares the four strategies against the input order.
type SequenceReport struct {
	Strategies    []StrategyResult `json:"strategies"`
	InputOrderCoD float64          `json:"input_order_cod"`
	BestStrategy  Strategy         `json:"best_strategy"`
	BestTotalCoD  float64          `json:"best_total_cod"`
	Savings       float64          `json:"savings"`
	// UrgentProjects have top-quartile WSJF and below-median duration:
	// cheap to ship and expensive to delay.
	UrgentProjects []string `json:"urgent_projects,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Sequence evaluates every strategy over the given projects and reports
// the savings of the best ordering versus the input order (ascending
// priority_in_portfolio).
func Sequence(projects []SequencedProject) *SequenceReport {
	report := &SequenceReport{}

	usable := make([]SequencedProject, 0, len(projects))
	for _, p := range projects {
		if p.DurationWeeksP85 <= 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("project %s dropped: non-positive P85 duration", p.ID))
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return report
	}

	inputOrder := make([]SequencedProject, len(usable))
	copy(inputOrder, usable)
	sort.SliceStable(inputOrder, func(i, j int) bool {
		if inputOrder[i].Priority != inputOrder[j].Priority {
			return inputOrder[i].Priority < inputOrder[j].Priority
		}
		return inputOrder[i].ID < inputOrder[j].ID
	})
	report.InputOrderCoD = sequentialCoD(inputOrder).TotalCoD

	for _, s := range allStrategies {
		ordered := orderBy(usable, s)
		sr := sequentialCoD(ordered)
		sr.Strategy = s
		report.Strategies = append(report.Strategies, sr)

		if report.BestStrategy == "" || sr.TotalCoD < report.BestTotalCoD {
			report.BestStrategy = s
			report.BestTotalCoD = sr.TotalCoD
		}
	}
	report.Savings = report.InputOrderCoD - report.BestTotalCoD

	report.UrgentProjects = urgentProjects(usable)
	return report
}

func orderBy(projects []SequencedProject, s Strategy) []SequencedProject {
	out := make([]SequencedProject, len(projects))
	copy(out, projects)

	less := func(a, b SequencedProject) bool { return a.WSJF() > b.WSJF() }
	switch s {
	case StrategySJF:
		less = func(a, b SequencedProject) bool { return a.DurationWeeksP85 < b.DurationWeeksP85 }
	case StrategyCoDFirst:
		less = func(a, b SequencedProject) bool { return a.CodWeekly > b.CodWeekly }
	case StrategyBVFirst:
		less = func(a, b SequencedProject) bool { return a.BusinessValue > b.BusinessValue }
	}

	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sequentialCoD(ordered []SequencedProject) StrategyResult {
	var sr StrategyResult
	cum := 0.0
	for _, p := range ordered {
		start := cum
		cum += p.DurationWeeksP85
		accrued := p.CodWeekly * cum
		sr.TotalCoD += accrued
		sr.Order = append(sr.Order, OrderingEntry{
			ProjectID:  p.ID,
			Wsjf:       p.WSJF(),
			StartWeek:  start,
			FinishWeek: cum,
			AccruedCoD: accrued,
		})
	}
	return sr
}

func urgentProjects(projects []SequencedProject) []string {
	if len(projects) < 2 {
		return nil
	}
	wsjfs := make([]float64, len(projects))
	durations := make([]float64, len(projects))
	for i, p := range projects {
		wsjfs[i] = p.WSJF()
		durations[i] = p.DurationWeeksP85
	}
	sort.Float64s(wsjfs)
	sort.Float64s(durations)
	topQuartile := simulation.PercentileNearestRank(wsjfs, 0.75)
	median := simulation.PercentileNearestRank(durations, 0.50)

	var urgent []string
	for _, p := range projects {
		if p.WSJF() >= topQuartile && p.DurationWeeksP85 < median {
			urgent = append(urgent, p.ID)
		}
	}
	sort.Strings(urgent)
	return urgent
}
