package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{409, false},
		{408, true},
		{425, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestBackoffDelayDoublesToCap(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: 700 * time.Millisecond}
	want := []time.Duration{100, 200, 400, 700, 700}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w*time.Millisecond {
			t.Fatalf("Delay(%d) = %v, want %v", attempt, got, w*time.Millisecond)
		}
	}
	if got := b.Delay(80); got != 700*time.Millisecond {
		t.Fatalf("Delay(80) = %v, want cap", got)
	}
}

func TestBackoffJitterStaysWithinRange(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Minute, Jitter: 0.25, rand: func() float64 { return 1 }}
	if got := b.Delay(0); got != 750*time.Millisecond {
		t.Fatalf("Delay(0) with full jitter = %v, want 750ms", got)
	}
	b.rand = func() float64 { return 0 }
	if got := b.Delay(1); got != 2*time.Second {
		t.Fatalf("Delay(1) with no jitter draw = %v, want 2s", got)
	}

	b.rand = nil
	for i := 0; i < 100; i++ {
		got := b.Delay(2)
		if got < 3*time.Second || got > 4*time.Second {
			t.Fatalf("Delay(2) = %v, want within [3s,4s]", got)
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	if b.Exhausted(2) {
		t.Fatalf("Exhausted(2) = true, want false")
	}
	if !b.Exhausted(3) {
		t.Fatalf("Exhausted(3) = false, want true")
	}
	if (Backoff{}).Exhausted(1000) {
		t.Fatalf("zero budget must never exhaust")
	}
}
