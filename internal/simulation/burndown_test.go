package simulation

import (
	"context"
	"testing"
)

func TestTeamDistribution_SCurveShape(t *testing.T) {
	cfg := Config{
		TPSamples:       []float64{5, 5, 5, 5},
		Backlog:         100, // expected duration 20 weeks
		Mode:            ModeComplete,
		TeamSize:        10,
		MinContributors: 2,
		MaxContributors: 6,
		SCurvePct:       20, // 4 ramp weeks each side
	}
	dist := teamDistribution(cfg, 5)

	if len(dist) != 20 {
		t.Fatalf("Expected 20 weeks of staffing, got %d", len(dist))
	}
	if dist[0] >= dist[3] {
		t.Errorf("Expected ramp-up at the start, got %v", dist[:4])
	}
	for w := 4; w < 16; w++ {
		if dist[w] != 6 {
			t.Errorf("Expected plateau at max (6) in week %d, got %d", w, dist[w])
		}
	}
	if dist[19] >= dist[16] {
		t.Errorf("Expected ramp-down at the end, got %v", dist[16:])
	}
	for w, c := range dist {
		if c < 2 || c > 6 {
			t.Fatalf("Week %d staffing %d outside [min, max]", w, c)
		}
	}
}

func TestTeamDistribution_NoCurve(t *testing.T) {
	cfg := Config{
		TPSamples:       []float64{5},
		Backlog:         50,
		Mode:            ModeComplete,
		TeamSize:        5,
		MinContributors: 3,
		MaxContributors: 5,
		SCurvePct:       0,
	}
	dist := teamDistribution(cfg, 5)
	for w, c := range dist {
		if c != 5 {
			t.Errorf("Week %d: expected constant max staffing 5, got %d", w, c)
		}
	}
}

func TestContributorsAt_ClampsPastTail(t *testing.T) {
	pre := &precomputed{teamDist: []int{2, 3, 4}}
	if c := pre.contributorsAt(10, 4); c != 4 {
		t.Errorf("Expected max contributors past the tail, got %d", c)
	}
	if c := pre.contributorsAt(1, 4); c != 3 {
		t.Errorf("Expected in-range lookup, got %d", c)
	}
}

func TestRisks_IncreaseDuration(t *testing.T) {
	e := NewEngine()

	base := Config{
		TPSamples:       []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:         50,
		NSimulations:    5000,
		Mode:            ModeComplete,
		TeamSize:        4,
		MinContributors: 4,
		MaxContributors: 4,
		Seed:            seedPtr(11),
	}
	without, err := e.Run(context.Background(), base)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	withRisk := base
	withRisk.Risks = []Risk{{Probability: 1.0, LowWeeks: 2, LikelyWeeks: 4, HighWeeks: 8}}
	with, err := e.Run(context.Background(), withRisk)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// A certain risk adds likely-weeks worth of scope, so the whole
	// distribution shifts right.
	if with.Percentiles.P50 <= without.Percentiles.P50 {
		t.Errorf("Expected risk to lengthen P50: %f <= %f", with.Percentiles.P50, without.Percentiles.P50)
	}
	if with.Percentiles.P85 <= without.Percentiles.P85 {
		t.Errorf("Expected risk to lengthen P85: %f <= %f", with.Percentiles.P85, without.Percentiles.P85)
	}
}

func TestSplitRate_ScalesScopeAtStart(t *testing.T) {
	e := NewEngine()

	base := Config{
		TPSamples:       []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:         50,
		NSimulations:    5000,
		Mode:            ModeComplete,
		TeamSize:        4,
		MinContributors: 4,
		MaxContributors: 4,
		Seed:            seedPtr(11),
	}
	without, err := e.Run(context.Background(), base)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	doubled := base
	doubled.SplitRateSamples = []float64{2.0}
	with, err := e.Run(context.Background(), doubled)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	ratio := with.Percentiles.P50 / without.Percentiles.P50
	if ratio < 1.5 || ratio > 2.5 {
		t.Errorf("Doubling scope should roughly double duration, got ratio %f", ratio)
	}
}

func TestLeadTime_ConsumesCapacity(t *testing.T) {
	e := NewEngine()

	base := Config{
		TPSamples:       []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:         50,
		NSimulations:    5000,
		Mode:            ModeComplete,
		TeamSize:        4,
		MinContributors: 4,
		MaxContributors: 4,
		Seed:            seedPtr(11),
	}
	without, err := e.Run(context.Background(), base)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	delayed := base
	delayed.LTSamples = []float64{3.5} // half a week of overhead
	with, err := e.Run(context.Background(), delayed)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if with.Percentiles.P50 <= without.Percentiles.P50 {
		t.Errorf("Expected lead-time overhead to lengthen P50: %f <= %f",
			with.Percentiles.P50, without.Percentiles.P50)
	}
}
