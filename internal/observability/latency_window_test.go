package observability

import "testing"

func TestLatencyWindowSplitsPathsByIntent(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(FastPathLabel, "memory_list", 2)
	w.Observe(FastPathLabel, "memory_search", 6)
	w.Observe(FastPathLabel, "memory_search", 250)
	w.Observe(PipelineLabel, "general", 900)
	w.Observe(PipelineLabel, "", 500)
	w.Count("fast_path_fallthrough")
	w.Count("fast_path_fallthrough")
	w.Count("  ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 || snap.Samples != 5 {
		t.Fatalf("WindowSize/Samples = %d/%d, want 8/5", snap.WindowSize, snap.Samples)
	}
	if len(snap.Paths) != 2 {
		t.Fatalf("len(Paths) = %d, want 2", len(snap.Paths))
	}
	pipeline, fast := snap.Paths[0], snap.Paths[1]
	if pipeline.Path != PipelineLabel || pipeline.Intent != "" || pipeline.Count != 2 || pipeline.AvgMS != 700 {
		t.Fatalf("pipeline path = %+v", pipeline)
	}
	if fast.Path != FastPathLabel || fast.Count != 3 || fast.TargetP95MS != 100 || !fast.OverTarget {
		t.Fatalf("fast path = %+v, want 3 samples over its 100ms target", fast)
	}

	want := []struct {
		path, intent string
		count        int
	}{
		{PipelineLabel, "general", 1},
		{PipelineLabel, "unknown", 1},
		{FastPathLabel, "memory_list", 1},
		{FastPathLabel, "memory_search", 2},
	}
	if len(snap.Routes) != len(want) {
		t.Fatalf("len(Routes) = %d, want %d: %+v", len(snap.Routes), len(want), snap.Routes)
	}
	for i, exp := range want {
		got := snap.Routes[i]
		if got.Path != exp.path || got.Intent != exp.intent || got.Count != exp.count {
			t.Fatalf("Routes[%d] = %s/%s x%d, want %s/%s x%d", i, got.Path, got.Intent, got.Count, exp.path, exp.intent, exp.count)
		}
	}
	if search := snap.Routes[3]; search.P50MS != 128 {
		t.Fatalf("memory_search P50MS = %.2f, want 128", search.P50MS)
	}
	if snap.Counters["fast_path_fallthrough"] != 2 || len(snap.Counters) != 1 {
		t.Fatalf("Counters = %v", snap.Counters)
	}
}

func TestLatencyWindowWrapsAndResets(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(FastPathLabel, "memory_list", 1)
	w.Observe(FastPathLabel, "memory_list", 2)
	w.Observe(FastPathLabel, "memory_list", 3)
	w.Observe("", "memory_list", 10)
	w.Observe(FastPathLabel, "memory_list", -1)

	snap := w.Snapshot()
	if len(snap.Paths) != 1 || snap.Paths[0].Count != 2 {
		t.Fatalf("Paths = %+v, want one path with 2 samples", snap.Paths)
	}
	if snap.Paths[0].AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", snap.Paths[0].AvgMS)
	}

	w.Count("full_pipeline_error")
	w.Reset()
	snap = w.Snapshot()
	if len(snap.Paths) != 0 || snap.Samples != 0 || snap.Counters != nil {
		t.Fatalf("snapshot after Reset = %+v, want empty", snap)
	}
}

func TestSummarizeQuantiles(t *testing.T) {
	s := summarize([]float64{900, 100, 500})
	if s.Count != 3 || s.P50MS != 500 || s.AvgMS != 500 {
		t.Fatalf("summary = %+v", s)
	}
	if s.P95MS != 860 || s.P99MS != 892 {
		t.Fatalf("P95/P99 = %.2f/%.2f, want 860/892", s.P95MS, s.P99MS)
	}
	if (summarize(nil) != LatencySummary{}) {
		t.Fatalf("empty summary should be zero")
	}
}
