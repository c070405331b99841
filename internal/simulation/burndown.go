package simulation

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"flowcast/internal/sampler"
)

// precomputed holds per-run artifacts derived from the config exactly once
// and shared read-only by all trials.
type precomputed struct {
	meanTP   float64
	teamDist []int // contributors indexed by week
}

func newPrecomputed(cfg Config) *precomputed {
	sum := 0.0
	for _, v := range cfg.TPSamples {
		sum += v
	}
	mean := sum / float64(len(cfg.TPSamples))

	p := &precomputed{meanTP: mean}
	if cfg.Mode == ModeComplete {
		p.teamDist = teamDistribution(cfg, mean)
	}
	return p
}

// teamDistribution builds the staffing S-curve over the expected duration:
// linear ramp from min to max contributors over the first s_curve_pct% of
// the expected weeks, plateau at max, linear decline back to min over the
// last s_curve_pct%.
func teamDistribution(cfg Config, meanTP float64) []int {
	expected := 1
	if meanTP > 0 {
		expected = int(math.Ceil(float64(cfg.Backlog) / meanTP))
		if expected < 1 {
			expected = 1
		}
	}

	ramp := expected * cfg.SCurvePct / 100
	dist := make([]int, expected)
	lo, hi := cfg.MinContributors, cfg.MaxContributors

	for w := 0; w < expected; w++ {
		switch {
		case ramp > 0 && w < ramp:
			frac := float64(w+1) / float64(ramp)
			dist[w] = lo + int(math.Round(frac*float64(hi-lo)))
		case ramp > 0 && w >= expected-ramp:
			frac := float64(expected-w) / float64(ramp)
			dist[w] = lo + int(math.Round(frac*float64(hi-lo)))
		default:
			dist[w] = hi
		}
		if dist[w] < lo {
			dist[w] = lo
		}
		if dist[w] > hi {
			dist[w] = hi
		}
	}
	return dist
}

// contributorsAt clamps past the tail of the distribution to the maximum,
// so trials that overrun the expected duration keep the full crew.
func (p *precomputed) contributorsAt(w, max int) int {
	if w < len(p.teamDist) {
		return p.teamDist[w]
	}
	return max
}

// trialOutcome is a single burn-down trial's output.
type trialOutcome struct {
	weeks     int
	effort    float64
	truncated bool
}

// runTrial executes one burn-down. All randomness flows through the given
// rng and sampler so that a fixed seed reproduces the trial bit for bit.
//
// Risk policy: a fired risk adds items at the start of the trial, scaled
// from its triangular delay by the mean throughput.
// Split-rate policy: applied once at week zero (scope change at start).
// Lead-time policy: applied every week as a capacity overhead.
func runTrial(cfg Config, pre *precomputed, s *sampler.Sampler, rng *rand.Rand) trialOutcome {
	remaining := float64(cfg.Backlog)
	effort := 0.0
	w := 0

	if cfg.Mode == ModeComplete {
		for _, r := range cfg.Risks {
			if r.Probability <= 0 {
				continue
			}
			if (distuv.Bernoulli{P: r.Probability, Src: rng}).Rand() == 1 {
				delay := r.LikelyWeeks
				if r.HighWeeks > r.LowWeeks {
					delay = distuv.NewTriangle(r.LowWeeks, r.HighWeeks, r.LikelyWeeks, rng).Rand()
				}
				remaining += math.Round(delay * pre.meanTP)
			}
		}

		if n := len(cfg.SplitRateSamples); n > 0 {
			sr := cfg.SplitRateSamples[rng.IntN(n)]
			remaining = math.Round(remaining * sr)
		}
	}

	for remaining > 0 && w < MaxWeeks {
		tp := math.Round(math.Max(0, s.Draw()))

		if cfg.Mode == ModeComplete && len(cfg.LTSamples) > 0 {
			lt := cfg.LTSamples[rng.IntN(len(cfg.LTSamples))]
			overhead := math.Min(lt/7*tp, tp)
			tp -= overhead
		}

		if cfg.Mode == ModeComplete {
			c := pre.contributorsAt(w, cfg.MaxContributors)
			remaining -= math.Round(tp * float64(c) / float64(cfg.TeamSize))
			effort += float64(c)
		} else {
			remaining -= tp
			effort += float64(cfg.TeamSize)
		}
		w++
	}

	return trialOutcome{weeks: w, effort: effort, truncated: remaining > 0}
}
