package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"flowcast/internal/sampler"
)

// ProgressFunc receives coarse progress updates during a run.
type ProgressFunc func(pct int, stage string)

// Engine runs Monte-Carlo burn-down trials in parallel and aggregates them
// into percentile statistics. A zero Engine is usable; Workers defaults to
// the core count.
type Engine struct {
	Workers int
}

func NewEngine() *Engine {
	return &Engine{Workers: runtime.GOMAXPROCS(0)}
}

// trialChunk is the unit of work handed to a worker. Chunk boundaries and
// per-chunk seeds are fixed by trial index, so results are bit-identical
// for a given seed regardless of worker count.
const trialChunk = 2048

// TrialSet is the raw per-trial output of a run, kept in submission order.
// The portfolio simulator composes joint outcomes from these arrays.
type TrialSet struct {
	Weeks     []float64
	Effort    []float64
	Truncated int
	Config    Config
	Warnings  []string
}

// Run validates the config, executes the trials and aggregates the result.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	return e.RunWithProgress(ctx, cfg, nil)
}

// RunWithProgress is Run with a progress callback, invoked from worker
// context whenever the completed percentage advances.
func (e *Engine) RunWithProgress(ctx context.Context, cfg Config, progress ProgressFunc) (*Result, error) {
	ts, err := e.trials(ctx, cfg, progress)
	if err != nil {
		return nil, err
	}
	return aggregate(ts), nil
}

// Trials validates the config and returns the raw per-trial outputs.
func (e *Engine) Trials(ctx context.Context, cfg Config) (*TrialSet, error) {
	return e.trials(ctx, cfg, nil)
}

func (e *Engine) trials(ctx context.Context, cfg Config, progress ProgressFunc) (*TrialSet, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rootSeed := rand.Uint64()
	if cfg.Seed != nil {
		rootSeed = *cfg.Seed
	}

	pre := newPrecomputed(cfg)

	n := cfg.NSimulations
	ts := &TrialSet{
		Weeks:  make([]float64, n),
		Effort: make([]float64, n),
		Config: cfg,
	}

	chunks := (n + trialChunk - 1) / trialChunk
	var truncated, done atomic.Int64
	var progressMu sync.Mutex
	lastPct := 0
	var samplerKind atomic.Value

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for c := 0; c < chunks; c++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			// One substream per chunk; the sampler and the trial loop share
			// it sequentially within the chunk.
			src := rand.NewPCG(rootSeed, uint64(c)+1)
			rng := rand.New(src)
			s, err := sampler.Fit(cfg.TPSamples, src)
			if err != nil {
				return fmt.Errorf("fit throughput sampler: %w", err)
			}
			samplerKind.Store(s.Kind())

			start := c * trialChunk
			end := start + trialChunk
			if end > n {
				end = n
			}
			for i := start; i < end; i++ {
				out := runTrial(cfg, pre, s, rng)
				if out.truncated {
					truncated.Add(1)
				}
				ts.Weeks[i] = float64(out.weeks)
				ts.Effort[i] = out.effort
			}

			if progress != nil {
				// Compare-and-report under one lock so a slower chunk can
				// never deliver a lower percentage after a higher one.
				pct := int(done.Add(int64(end-start)) * 100 / int64(n))
				progressMu.Lock()
				if pct > lastPct {
					lastPct = pct
					progress(pct, "simulating")
				}
				progressMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	ts.Truncated = int(truncated.Load())
	if ts.Truncated > 0 {
		ts.Warnings = append(ts.Warnings, fmt.Sprintf("%d of %d trials hit the %d-week safety cap", ts.Truncated, n, MaxWeeks))
	}
	if k, ok := samplerKind.Load().(sampler.Kind); ok && k != sampler.KindWeibull {
		ts.Warnings = append(ts.Warnings, fmt.Sprintf("throughput history is degenerate; fell back to %s sampling", k))
	}
	return ts, nil
}

func aggregate(ts *TrialSet) *Result {
	// Non-finite outputs should not occur; dropping them keeps one bad
	// trial from poisoning the percentiles.
	weeks := make([]float64, 0, len(ts.Weeks))
	effort := make([]float64, 0, len(ts.Effort))
	for i, w := range ts.Weeks {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		weeks = append(weeks, w)
		effort = append(effort, ts.Effort[i])
	}

	mean, std := MeanStd(weeks)
	res := &Result{
		Percentiles:       PercentileSet(weeks),
		Mean:              mean,
		Std:               std,
		Histogram:         buildHistogram(weeks),
		NTrials:           len(weeks),
		Mode:              ts.Config.Mode,
		ConfigFingerprint: ts.Config.Fingerprint(),
		TruncatedTrials:   ts.Truncated,
		Warnings:          ts.Warnings,
	}
	if ts.Config.Mode == ModeComplete {
		ep := PercentileSet(effort)
		res.EffortPercentiles = &ep
	}
	return res
}
