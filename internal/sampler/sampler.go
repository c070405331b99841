// Package sampler fits a throughput distribution to a weekly history and
// hands out pseudo-random draws in pre-filled batches.
package sampler

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BatchSize is the number of variates generated per refill. Filling the
// batch once and indexing into it is an order of magnitude faster than
// calling the generator per draw, and the engine does tens of millions
// of draws per run.
const BatchSize = 10000

// Kind identifies which sampling strategy the fit ended up with.
type Kind string

const (
	KindWeibull   Kind = "weibull"
	KindBootstrap Kind = "bootstrap"
	KindConstant  Kind = "constant"
)

// ErrEmptyHistory is returned when there is nothing to fit.
var ErrEmptyHistory = errors.New("sampler: empty throughput history")

// Sampler produces non-negative throughput draws. Not safe for concurrent
// use; each worker gets its own instance.
type Sampler struct {
	kind     Kind
	weibull  distuv.Weibull
	history  []float64
	constant float64
	rng      *rand.Rand

	batch []float64
	idx   int
}

// Fit builds a sampler for the given weekly throughput history.
//
// A two-parameter Weibull (location fixed at 0) is fitted by maximum
// likelihood. Degenerate inputs fall back: fewer than two distinct values
// yield a constant sampler, a numerically failed fit degrades to a
// bootstrap over the raw history.
func Fit(history []float64, src rand.Source) (*Sampler, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	s := &Sampler{rng: rand.New(src)}

	if len(history) < 2 || allEqual(history) {
		s.kind = KindConstant
		s.constant = history[0]
		return s, nil
	}

	// The Weibull support is x > 0; zeros carry no likelihood information.
	positive := make([]float64, 0, len(history))
	for _, x := range history {
		if x > 0 {
			positive = append(positive, x)
		}
	}

	k, lambda, err := fitWeibullMLE(positive)
	if err != nil {
		s.kind = KindBootstrap
		s.history = append([]float64(nil), history...)
		return s, nil
	}

	s.kind = KindWeibull
	s.weibull = distuv.Weibull{K: k, Lambda: lambda, Src: src}
	return s, nil
}

// Kind reports the strategy selected by Fit.
func (s *Sampler) Kind() Kind { return s.kind }

// Params returns the fitted Weibull shape and scale. Zero for non-Weibull
// samplers.
func (s *Sampler) Params() (k, lambda float64) {
	if s.kind != KindWeibull {
		return 0, 0
	}
	return s.weibull.K, s.weibull.Lambda
}

// Mean returns the expected value of a single draw.
func (s *Sampler) Mean() float64 {
	switch s.kind {
	case KindConstant:
		return s.constant
	case KindBootstrap:
		sum := 0.0
		for _, x := range s.history {
			sum += x
		}
		return sum / float64(len(s.history))
	default:
		return s.weibull.Mean()
	}
}

// Draw returns one non-negative throughput sample.
func (s *Sampler) Draw() float64 {
	if s.kind == KindConstant {
		return s.constant
	}
	if s.idx >= len(s.batch) {
		s.refill()
	}
	v := s.batch[s.idx]
	s.idx++
	return v
}

// DrawBatch fills and returns a slice of k samples.
func (s *Sampler) DrawBatch(k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = s.Draw()
	}
	return out
}

func (s *Sampler) refill() {
	if s.batch == nil {
		s.batch = make([]float64, BatchSize)
	}
	switch s.kind {
	case KindBootstrap:
		n := len(s.history)
		for i := range s.batch {
			s.batch[i] = s.history[s.rng.IntN(n)]
		}
	default:
		for i := range s.batch {
			s.batch[i] = s.weibull.Rand()
		}
	}
	s.idx = 0
}

func allEqual(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// fitWeibullMLE solves the Weibull shape equation by Newton iteration and
// recovers the scale in closed form. gonum carries the distribution but no
// Weibull fitter, so the root-find lives here.
func fitWeibullMLE(xs []float64) (k, lambda float64, err error) {
	n := len(xs)
	if n < 2 {
		return 0, 0, errors.New("sampler: too few positive samples for a fit")
	}

	meanLog := 0.0
	for _, x := range xs {
		meanLog += math.Log(x)
	}
	meanLog /= float64(n)

	// Starting point from the Justus moment approximation k ~ (mean/std)^1.086.
	mean, std := meanStd(xs)
	k = 1.2
	if std > 0 {
		k = math.Pow(mean/std, 1.086)
	}
	k = clamp(k, 0.05, 50)

	for iter := 0; iter < 200; iter++ {
		var sumXk, sumXkLog, sumXkLog2 float64
		for _, x := range xs {
			xk := math.Pow(x, k)
			lx := math.Log(x)
			sumXk += xk
			sumXkLog += xk * lx
			sumXkLog2 += xk * lx * lx
		}
		f := sumXkLog/sumXk - 1/k - meanLog
		fPrime := (sumXkLog2*sumXk-sumXkLog*sumXkLog)/(sumXk*sumXk) + 1/(k*k)
		if fPrime == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, 0, errors.New("sampler: weibull fit diverged")
		}
		next := k - f/fPrime
		if math.IsNaN(next) || next <= 0 {
			return 0, 0, errors.New("sampler: weibull fit diverged")
		}
		next = clamp(next, 0.01, 100)
		if math.Abs(next-k) < 1e-9 {
			k = next
			break
		}
		k = next
	}

	sumXk := 0.0
	for _, x := range xs {
		sumXk += math.Pow(x, k)
	}
	lambda = math.Pow(sumXk/float64(n), 1/k)
	if math.IsNaN(lambda) || math.IsInf(lambda, 0) || lambda <= 0 {
		return 0, 0, errors.New("sampler: weibull scale not finite")
	}
	return k, lambda, nil
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	std = math.Sqrt(std / (n - 1))
	return mean, std
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
