package observability

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// RouteLatency summarizes one response path, optionally narrowed to one
// intent.
type RouteLatency struct {
	Path   string `json:"path"`
	Intent string `json:"intent,omitempty"`
	LatencySummary
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

// LatencySnapshot is the in-process view served by /v1/perf/latency. Paths
// has one entry per response path; Routes splits each path by intent.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Samples     int            `json:"samples"`
	Paths       []RouteLatency `json:"paths"`
	Routes      []RouteLatency `json:"routes"`
	Counters    map[string]int `json:"counters,omitempty"`
}

type routeKey struct {
	path   string
	intent string
}

type routeSample struct {
	routeKey
	ms float64
}

// latencyWindow keeps the most recent routed queries in one ring shared by
// all paths, so the snapshot reflects the current traffic mix.
type latencyWindow struct {
	mu       sync.Mutex
	ring     []routeSample
	next     int
	filled   bool
	counters map[string]int
	now      func() time.Time
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 512
	}
	return &latencyWindow{
		ring:     make([]routeSample, size),
		counters: make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *latencyWindow) Observe(path, intent string, ms float64) {
	if path == "" || ms < 0 {
		return
	}
	if intent == "" {
		intent = "unknown"
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ring[w.next] = routeSample{routeKey: routeKey{path: path, intent: intent}, ms: ms}
	w.next = (w.next + 1) % len(w.ring)
	if w.next == 0 {
		w.filled = true
	}
}

// Count bumps a named routing counter such as a fast path fall-through.
func (w *latencyWindow) Count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	live := w.ring[:w.next]
	if w.filled {
		live = w.ring
	}
	samples := append([]routeSample(nil), live...)
	counters := maps.Clone(w.counters)
	w.mu.Unlock()

	ms := func(s routeSample) float64 { return s.ms }
	byPath := summarizeBy(samples, func(s routeSample) routeKey { return routeKey{path: s.path} }, ms)
	byRoute := summarizeBy(samples, func(s routeSample) routeKey { return s.routeKey }, ms)

	snap := LatencySnapshot{
		GeneratedAt: w.now(),
		WindowSize:  len(w.ring),
		Samples:     len(samples),
		Paths:       routeLatencies(byPath),
		Routes:      routeLatencies(byRoute),
	}
	if len(counters) > 0 {
		snap.Counters = counters
	}
	return snap
}

func (w *latencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.ring)
	w.next = 0
	w.filled = false
	w.counters = make(map[string]int)
}

func routeLatencies(groups map[routeKey]LatencySummary) []RouteLatency {
	out := make([]RouteLatency, 0, len(groups))
	for k, s := range groups {
		target := targetP95MS(k.path)
		out = append(out, RouteLatency{
			Path:           k.path,
			Intent:         k.intent,
			LatencySummary: s,
			TargetP95MS:    target,
			OverTarget:     target > 0 && s.P95MS > target,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Intent < out[j].Intent
	})
	return out
}

// targetP95MS is the p95 budget per response path; 0 means none.
func targetP95MS(path string) float64 {
	switch path {
	case FastPathLabel:
		return 100
	case PipelineLabel:
		return 8000
	default:
		return 0
	}
}
