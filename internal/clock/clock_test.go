package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", f.Now(), start)
	}

	f.Advance(90 * time.Minute)
	if !f.Now().Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Advance moved to %v", f.Now())
	}

	pin := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	f.Set(pin)
	if !f.Now().Equal(pin) {
		t.Fatalf("Set moved to %v, want %v", f.Now(), pin)
	}
}

func TestScriptedRNGReplaysInts(t *testing.T) {
	r := NewScriptedRNG([]int{2, 0, 7}, nil)
	if got := r.IntN(10); got != 2 {
		t.Fatalf("first draw = %d, want 2", got)
	}
	if got := r.IntN(10); got != 0 {
		t.Fatalf("second draw = %d, want 0", got)
	}
	// Scripted value above the bound clamps to n-1.
	if got := r.IntN(3); got != 2 {
		t.Fatalf("clamped draw = %d, want 2", got)
	}
	// Script exhausted; last value repeats.
	if got := r.IntN(10); got != 7 {
		t.Fatalf("repeat draw = %d, want 7", got)
	}
}

func TestScriptedRNGDurationClamps(t *testing.T) {
	r := NewScriptedRNG(nil, []time.Duration{time.Minute, 10 * time.Hour})
	if got := r.DurationBetween(30*time.Minute, time.Hour); got != 30*time.Minute {
		t.Fatalf("low draw = %v, want clamp to min", got)
	}
	if got := r.DurationBetween(30*time.Minute, time.Hour); got != time.Hour {
		t.Fatalf("high draw = %v, want clamp to max", got)
	}
}

func TestSystemRNGBounds(t *testing.T) {
	r := NewRNG()
	for i := 0; i < 1000; i++ {
		if v := r.IntN(5); v < 0 || v >= 5 {
			t.Fatalf("IntN out of range: %d", v)
		}
		d := r.DurationBetween(time.Minute, time.Hour)
		if d < time.Minute || d > time.Hour {
			t.Fatalf("DurationBetween out of range: %v", d)
		}
	}
}

func TestSystemRNGDegenerateRange(t *testing.T) {
	r := NewRNG()
	if d := r.DurationBetween(time.Hour, time.Hour); d != time.Hour {
		t.Fatalf("single-point range = %v, want 1h", d)
	}
}
