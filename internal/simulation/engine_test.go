package simulation

import (
	"context"
	"testing"
)

func seedPtr(v uint64) *uint64 { return &v }

func baseConfig() Config {
	return Config{
		TPSamples:    []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:      50,
		NSimulations: 10000,
		Mode:         ModeSimple,
		Seed:         seedPtr(42),
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e := NewEngine()

	a, err := e.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	b, err := e.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if a.Percentiles != b.Percentiles {
		t.Errorf("Percentiles differ for identical seed: %+v vs %+v", a.Percentiles, b.Percentiles)
	}
	if a.Mean != b.Mean || a.Std != b.Std {
		t.Errorf("Mean/std differ for identical seed: %f/%f vs %f/%f", a.Mean, a.Std, b.Mean, b.Std)
	}
	if a.ConfigFingerprint != b.ConfigFingerprint {
		t.Errorf("Fingerprints differ: %s vs %s", a.ConfigFingerprint, b.ConfigFingerprint)
	}
}

func TestEngine_DeterministicAcrossWorkerCounts(t *testing.T) {
	one := &Engine{Workers: 1}
	many := &Engine{Workers: 8}

	a, err := one.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	b, err := many.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if a.Percentiles != b.Percentiles {
		t.Errorf("Percentiles depend on worker count: %+v vs %+v", a.Percentiles, b.Percentiles)
	}
}

func TestEngine_PercentileMonotonicity(t *testing.T) {
	e := NewEngine()
	res, err := e.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	p := res.Percentiles
	order := []float64{p.P10, p.P25, p.P50, p.P75, p.P85, p.P90, p.P95}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("Percentiles not monotone: %+v", p)
		}
	}
}

func TestEngine_SimpleMatchesDegenerateComplete(t *testing.T) {
	e := NewEngine()

	simple, err := e.Run(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("simple run: %v", err)
	}

	cfg := baseConfig()
	cfg.Mode = ModeComplete
	cfg.TeamSize = 1
	cfg.MinContributors = 1
	cfg.MaxContributors = 1
	cfg.SCurvePct = 0
	complete, err := e.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("complete run: %v", err)
	}

	diff := simple.Percentiles.P85 - complete.Percentiles.P85
	if diff < -1 || diff > 1 {
		t.Errorf("Degenerate complete P85 %f differs from simple P85 %f by more than 1 week",
			complete.Percentiles.P85, simple.Percentiles.P85)
	}
}

func TestEngine_ConfigValidation(t *testing.T) {
	e := NewEngine()

	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty history", func(c *Config) { c.TPSamples = nil }, "tp_samples"},
		{"negative sample", func(c *Config) { c.TPSamples = []float64{5, -1} }, "tp_samples"},
		{"all zero", func(c *Config) { c.TPSamples = []float64{0, 0} }, "tp_samples"},
		{"negative backlog", func(c *Config) { c.Backlog = -1 }, "backlog"},
		{"too few trials", func(c *Config) { c.NSimulations = 10 }, "n_simulations"},
		{"too many trials", func(c *Config) { c.NSimulations = 2_000_000 }, "n_simulations"},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, "mode"},
		{"split rate range", func(c *Config) { c.SplitRateSamples = []float64{0.1} }, "split_rate_samples"},
		{"risk probability", func(c *Config) {
			c.Mode = ModeComplete
			c.TeamSize, c.MinContributors, c.MaxContributors = 3, 1, 2
			c.Risks = []Risk{{Probability: 1.5, LowWeeks: 1, LikelyWeeks: 2, HighWeeks: 3}}
		}, "risks"},
		{"contributors above team", func(c *Config) {
			c.Mode = ModeComplete
			c.TeamSize, c.MinContributors, c.MaxContributors = 3, 2, 5
		}, "max_contributors"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			_, err := e.Run(context.Background(), cfg)
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Expected *ConfigError, got %v", err)
			}
			found := false
			for _, f := range cfgErr.Fields {
				if f.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected a violation on %q, got %v", tc.field, cfgErr.Fields)
			}
		})
	}
}

func TestEngine_ZeroBacklogFinishesImmediately(t *testing.T) {
	cfg := baseConfig()
	cfg.Backlog = 0
	res, err := NewEngine().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Percentiles.P95 != 0 {
		t.Errorf("Expected 0 weeks for empty backlog, got P95=%f", res.Percentiles.P95)
	}
}

func TestEngine_TruncationReported(t *testing.T) {
	// Bootstrap sampler over a mostly-zero history stalls most trials.
	cfg := Config{
		TPSamples:    []float64{0, 0, 0, 0, 0, 0, 0, 1},
		Backlog:      100000,
		NSimulations: 200,
		Mode:         ModeSimple,
		Seed:         seedPtr(7),
	}
	res, err := NewEngine().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.TruncatedTrials == 0 {
		t.Error("Expected truncated trials to be reported")
	}
	if len(res.Warnings) == 0 {
		t.Error("Expected a truncation warning")
	}
	if res.Percentiles.P95 > MaxWeeks {
		t.Errorf("Trial exceeded safety cap: P95=%f", res.Percentiles.P95)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := baseConfig()
	cfg.NSimulations = 1_000_000
	_, err := NewEngine().Run(ctx, cfg)
	if err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestEngine_ProgressReported(t *testing.T) {
	var calls int
	var last int
	_, err := NewEngine().RunWithProgress(context.Background(), baseConfig(), func(pct int, stage string) {
		calls++
		if pct < last {
			t.Errorf("Progress went backwards: %d after %d", pct, last)
		}
		last = pct
		if stage == "" {
			t.Error("Expected a stage label")
		}
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if calls == 0 {
		t.Error("Expected at least one progress callback")
	}
	if last != 100 {
		t.Errorf("Expected progress to reach 100, got %d", last)
	}
}

func TestEngine_ProgressMonotonicUnderContention(t *testing.T) {
	cfg := baseConfig()
	cfg.NSimulations = 100_000 // dozens of chunks racing to report

	e := NewEngine()
	e.Workers = 8

	var last int
	_, err := e.RunWithProgress(context.Background(), cfg, func(pct int, stage string) {
		if pct <= last {
			t.Errorf("Progress did not advance: %d after %d", pct, last)
		}
		last = pct
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if last != 100 {
		t.Errorf("Expected progress to reach 100, got %d", last)
	}
}
