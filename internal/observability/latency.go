package observability

import (
	"math"
	"sort"
	"time"
)

// LatencySummary describes a set of latency samples in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
}

func summarize(values []float64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return LatencySummary{
		Count: len(sorted),
		AvgMS: round2(sum / float64(len(sorted))),
		P50MS: round2(quantile(sorted, 0.50)),
		P95MS: round2(quantile(sorted, 0.95)),
		P99MS: round2(quantile(sorted, 0.99)),
	}
}

// summarizeBy groups items by key and summarizes each group's latencies.
func summarizeBy[T any, K comparable](items []T, key func(T) K, ms func(T) float64) map[K]LatencySummary {
	groups := make(map[K][]float64)
	for _, it := range items {
		k := key(it)
		groups[k] = append(groups[k], ms(it))
	}
	out := make(map[K]LatencySummary, len(groups))
	for k, values := range groups {
		out[k] = summarize(values)
	}
	return out
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	below := math.Floor(pos)
	i := int(below)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*(pos-below)
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
