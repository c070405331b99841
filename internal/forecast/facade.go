// Package forecast answers the three project-level questions as thin views
// over the Monte-Carlo engine: will we meet the deadline, how many items by
// a date, when does the backlog finish.
package forecast

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"time"

	"flowcast/internal/sampler"
	"flowcast/internal/simulation"
	"flowcast/internal/store"
)

// Forecast type tags used on saved rows.
const (
	TypeDeadline   = "deadline"
	TypeThroughput = "throughput"
	TypeCompletion = "completion"
)

// Saver is the slice of the repository the facade needs for opt-in saves.
type Saver interface {
	SaveForecast(f *store.Forecast) error
}

// SaveSpec asks a facade call to persist its input and output as a
// Forecast row for the given project.
type SaveSpec struct {
	ProjectID string `json:"project_id"`
}

// Facade wraps the engine with the three derived operations.
type Facade struct {
	engine *simulation.Engine
	saver  Saver
}

func New(engine *simulation.Engine, saver Saver) *Facade {
	return &Facade{engine: engine, saver: saver}
}

// DeadlineVerdict answers "will we meet the deadline?".
type DeadlineVerdict struct {
	ProjectedWeeksP85     float64            `json:"projected_weeks_p85"`
	WeeksToDeadline       float64            `json:"weeks_to_deadline"`
	CanMeet               bool               `json:"can_meet"`
	ScopeCompletionPct    float64            `json:"scope_completion_pct"`
	DeadlineCompletionPct float64            `json:"deadline_completion_pct"`
	Result                *simulation.Result `json:"result"`
}

// MeetDeadline runs the engine and compares the P85 duration against the
// business weeks available before the deadline.
func (f *Facade) MeetDeadline(ctx context.Context, cfg simulation.Config, start, deadline time.Time, save *SaveSpec) (*DeadlineVerdict, error) {
	res, err := f.engine.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}

	available := BusinessWeeksBetween(start, deadline)
	p85 := res.Percentiles.P85

	v := &DeadlineVerdict{
		ProjectedWeeksP85: p85,
		WeeksToDeadline:   available,
		CanMeet:           p85 <= available,
		Result:            res,
	}
	if p85 > 0 {
		v.ScopeCompletionPct = math.Min(100, 100*available/p85)
	} else {
		v.ScopeCompletionPct = 100
	}
	if available > 0 {
		v.DeadlineCompletionPct = math.Min(100, 100*p85/available)
	}

	if err := f.persist(save, TypeDeadline, cfg, res, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ItemsForecast answers "how many items by date D?".
type ItemsForecast struct {
	WeeksInWindow int                    `json:"weeks_in_window"`
	Percentiles   simulation.Percentiles `json:"percentiles"`
	Mean          float64                `json:"mean"`
	NTrials       int                    `json:"n_trials"`
}

// HowMany simulates the window's weeks of throughput draws directly, with
// no depleting backlog, and reports percentiles of the item counts. The
// backlog field of the config is ignored.
func (f *Facade) HowMany(ctx context.Context, cfg simulation.Config, start, end time.Time, save *SaveSpec) (*ItemsForecast, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	weeks := int(math.Floor(end.Sub(start).Hours() / 24 / 7))
	if weeks < 1 {
		weeks = 1
	}

	rootSeed := rand.Uint64()
	if cfg.Seed != nil {
		rootSeed = *cfg.Seed
	}
	src := rand.NewPCG(rootSeed, 1)
	s, err := sampler.Fit(cfg.TPSamples, src)
	if err != nil {
		return nil, err
	}

	counts := make([]float64, cfg.NSimulations)
	for i := range counts {
		total := 0.0
		for w := 0; w < weeks; w++ {
			total += math.Round(math.Max(0, s.Draw()))
		}
		counts[i] = total
	}

	mean, _ := simulation.MeanStd(counts)
	out := &ItemsForecast{
		WeeksInWindow: weeks,
		Percentiles:   simulation.PercentileSet(counts),
		Mean:          mean,
		NTrials:       cfg.NSimulations,
	}

	if err := f.persist(save, TypeThroughput, cfg, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompletionForecast answers "when will the backlog finish?".
type CompletionForecast struct {
	StartDate time.Time          `json:"start_date"`
	P50Date   time.Time          `json:"p50_date"`
	P85Date   time.Time          `json:"p85_date"`
	P95Date   time.Time          `json:"p95_date"`
	Result    *simulation.Result `json:"result"`
}

// When runs the engine and projects the percentile week counts onto the
// calendar from the given start date.
func (f *Facade) When(ctx context.Context, cfg simulation.Config, start time.Time, save *SaveSpec) (*CompletionForecast, error) {
	res, err := f.engine.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}

	addWeeks := func(w float64) time.Time {
		return start.Add(time.Duration(w*7*24) * time.Hour)
	}
	out := &CompletionForecast{
		StartDate: start,
		P50Date:   addWeeks(res.Percentiles.P50),
		P85Date:   addWeeks(res.Percentiles.P85),
		P95Date:   addWeeks(res.Percentiles.P95),
		Result:    res,
	}

	if err := f.persist(save, TypeCompletion, cfg, res, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Facade) persist(save *SaveSpec, ftype string, cfg simulation.Config, res *simulation.Result, payload any) error {
	if save == nil || f.saver == nil {
		return nil
	}
	cfgJSON, _ := json.Marshal(cfg)
	outJSON, _ := json.Marshal(payload)

	row := &store.Forecast{
		ProjectID:         save.ProjectID,
		Type:              ftype,
		ConfigJSON:        string(cfgJSON),
		ResultJSON:        string(outJSON),
		ConfigFingerprint: cfg.Fingerprint(),
	}
	if res != nil {
		row.ProjectedWeeksP85 = res.Percentiles.P85
	}
	return f.saver.SaveForecast(row)
}

// BusinessWeeksBetween counts the weekdays between two dates (inclusive of
// both endpoints) and divides by five.
func BusinessWeeksBetween(start, end time.Time) float64 {
	if end.Before(start) {
		return 0
	}
	days := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			days++
		}
	}
	return float64(days) / 5.0
}
