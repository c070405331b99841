// Package simulation is the Monte-Carlo burn-down core: it turns a weekly
// throughput history plus a project configuration into a probability
// distribution over completion weeks.
package simulation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects the trial model.
type Mode string

const (
	// ModeSimple burns the backlog down with raw throughput draws and a
	// constant team of one.
	ModeSimple Mode = "simple"
	// ModeComplete adds the team-size S-curve, lead-time and split-rate
	// variation, and risk events.
	ModeComplete Mode = "complete"
)

// Bounds checked by Validate.
const (
	MinTrials = 100
	MaxTrials = 1_000_000
	// DefaultTrials applies when n_simulations is omitted.
	DefaultTrials = 10_000
	// MaxWeeks is the safety cap per trial; trials that hit it are counted
	// as truncated and reported, never silently dropped.
	MaxWeeks = 1000
)

// Risk is a probabilistic scope event. When it fires the trial's remaining
// backlog grows by the triangular-distributed delay (in weeks) converted to
// items at the mean throughput rate. The conversion happens once, before
// the burn-down loop.
type Risk struct {
	Probability float64 `json:"probability"`
	LowWeeks    float64 `json:"low_weeks"`
	LikelyWeeks float64 `json:"likely_weeks"`
	HighWeeks   float64 `json:"high_weeks"`
}

// Config is the immutable input envelope for an engine run. Precomputed
// artifacts (fitted sampler, team distribution) live in a separate cache,
// never in the config.
type Config struct {
	TPSamples        []float64 `json:"tp_samples"`
	Backlog          int       `json:"backlog"`
	NSimulations     int       `json:"n_simulations"`
	Mode             Mode      `json:"mode"`
	TeamSize         int       `json:"team_size,omitempty"`
	MinContributors  int       `json:"min_contributors,omitempty"`
	MaxContributors  int       `json:"max_contributors,omitempty"`
	SCurvePct        int       `json:"s_curve_pct,omitempty"`
	LTSamples        []float64 `json:"lt_samples,omitempty"`
	SplitRateSamples []float64 `json:"split_rate_samples,omitempty"`
	Risks            []Risk    `json:"risks,omitempty"`
	Seed             *uint64   `json:"seed,omitempty"`
}

// FieldError names one offending config field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ConfigError aggregates every validation failure in one pass.
type ConfigError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid simulation config: " + strings.Join(parts, "; ")
}

// WithDefaults returns a copy with optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.NSimulations == 0 {
		c.NSimulations = DefaultTrials
	}
	if c.Mode == "" {
		c.Mode = ModeSimple
	}
	if c.Mode == ModeSimple && c.TeamSize == 0 {
		c.TeamSize = 1
	}
	return c
}

// Validate checks every documented bound and reports all violations at
// once. Call on the defaulted config.
func (c Config) Validate() error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if len(c.TPSamples) == 0 {
		add("tp_samples", "at least one throughput sample is required")
	}
	hasPositive := false
	for i, v := range c.TPSamples {
		if v < 0 {
			add("tp_samples", "sample %d is negative (%g)", i, v)
		}
		if v > 0 {
			hasPositive = true
		}
	}
	if len(c.TPSamples) > 0 && !hasPositive {
		add("tp_samples", "at least one sample must be positive")
	}

	if c.Backlog < 0 {
		add("backlog", "must be >= 0, got %d", c.Backlog)
	}
	if c.NSimulations < MinTrials || c.NSimulations > MaxTrials {
		add("n_simulations", "must be in [%d, %d], got %d", MinTrials, MaxTrials, c.NSimulations)
	}

	switch c.Mode {
	case ModeSimple:
		// Team dynamics fields are ignored.
	case ModeComplete:
		if c.TeamSize < 1 {
			add("team_size", "must be >= 1, got %d", c.TeamSize)
		}
		if c.MinContributors < 1 {
			add("min_contributors", "must be >= 1, got %d", c.MinContributors)
		}
		if c.MaxContributors < c.MinContributors {
			add("max_contributors", "must be >= min_contributors (%d), got %d", c.MinContributors, c.MaxContributors)
		}
		if c.TeamSize >= 1 && c.MaxContributors > c.TeamSize {
			add("max_contributors", "must be <= team_size (%d), got %d", c.TeamSize, c.MaxContributors)
		}
		if c.SCurvePct < 0 || c.SCurvePct > 50 {
			add("s_curve_pct", "must be in [0, 50], got %d", c.SCurvePct)
		}
	default:
		add("mode", "must be %q or %q, got %q", ModeSimple, ModeComplete, c.Mode)
	}

	for i, v := range c.LTSamples {
		if v < 0 {
			add("lt_samples", "sample %d is negative (%g)", i, v)
		}
	}
	for i, v := range c.SplitRateSamples {
		if v < 0.2 || v > 10.0 {
			add("split_rate_samples", "sample %d out of [0.2, 10.0] (%g)", i, v)
		}
	}
	for i, r := range c.Risks {
		if r.Probability < 0 || r.Probability > 1 {
			add("risks", "risk %d probability out of [0, 1] (%g)", i, r.Probability)
		}
		if !(r.LowWeeks <= r.LikelyWeeks && r.LikelyWeeks <= r.HighWeeks) {
			add("risks", "risk %d impact must satisfy low <= likely <= high", i)
		}
		if r.LowWeeks < 0 {
			add("risks", "risk %d low impact is negative", i)
		}
	}

	if len(errs) > 0 {
		return &ConfigError{Fields: errs}
	}
	return nil
}

// Fingerprint is a stable SHA-256 over the canonical JSON encoding, used
// as an idempotency key for saved forecasts.
func (c Config) Fingerprint() string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
