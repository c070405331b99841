package simulation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Percentiles is the standard distributional view over trial outputs.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P85 float64 `json:"p85"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// HistogramBin is one bucket of the binned duration distribution.
type HistogramBin struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Count int     `json:"count"`
}

// Histogram bins the observed weeks into a fixed number of buckets for
// rendering.
type Histogram struct {
	Bins     []HistogramBin `json:"bins"`
	MinWeeks int            `json:"min_weeks"`
	MaxWeeks int            `json:"max_weeks"`
	BinWidth float64        `json:"bin_width"`
}

// Result is the aggregate output of an engine run.
type Result struct {
	Percentiles       Percentiles  `json:"percentiles"`
	EffortPercentiles *Percentiles `json:"effort_percentiles,omitempty"`
	Mean              float64      `json:"mean"`
	Std               float64      `json:"std"`
	Histogram         Histogram    `json:"histogram"`
	NTrials           int          `json:"n_trials"`
	Mode              Mode         `json:"mode"`
	ConfigFingerprint string       `json:"config_fingerprint"`
	TruncatedTrials   int          `json:"truncated_trials"`
	Warnings          []string     `json:"warnings,omitempty"`
}

const histogramBins = 50

// PercentileNearestRank returns the nearest-rank percentile of an already
// sorted slice: the smallest element with at least q of the mass at or
// below it.
func PercentileNearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PercentileSet computes the full percentile fan over unsorted values.
func PercentileSet(values []float64) Percentiles {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentiles{
		P10: PercentileNearestRank(sorted, 0.10),
		P25: PercentileNearestRank(sorted, 0.25),
		P50: PercentileNearestRank(sorted, 0.50),
		P75: PercentileNearestRank(sorted, 0.75),
		P85: PercentileNearestRank(sorted, 0.85),
		P90: PercentileNearestRank(sorted, 0.90),
		P95: PercentileNearestRank(sorted, 0.95),
	}
}

func buildHistogram(weeks []float64) Histogram {
	if len(weeks) == 0 {
		return Histogram{}
	}
	min, max := weeks[0], weeks[0]
	for _, w := range weeks {
		if w < min {
			min = w
		}
		if w > max {
			max = w
		}
	}

	h := Histogram{
		MinWeeks: int(min),
		MaxWeeks: int(max),
	}
	width := (max - min) / histogramBins
	if width <= 0 {
		// Single observed value collapses to one bin.
		h.BinWidth = 1
		h.Bins = []HistogramBin{{From: min, To: min + 1, Count: len(weeks)}}
		return h
	}
	h.BinWidth = width
	h.Bins = make([]HistogramBin, histogramBins)
	for i := range h.Bins {
		h.Bins[i].From = min + float64(i)*width
		h.Bins[i].To = min + float64(i+1)*width
	}
	for _, w := range weeks {
		idx := int((w - min) / width)
		if idx >= histogramBins {
			idx = histogramBins - 1
		}
		h.Bins[idx].Count++
	}
	return h
}

// MeanStd is a one-pass mean and sample standard deviation.
func MeanStd(values []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}
