package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresTimers(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	ch := clk.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before the clock advanced")
	default:
	}

	clk.Advance(5 * time.Second)
	select {
	case at := <-ch:
		if !at.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("timer fired at %s, want %s", at, start.Add(5*time.Second))
		}
	default:
		t.Fatal("timer did not fire after advancing past the deadline")
	}
}

func TestManualAfterZeroFiresImmediately(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("expected immediate fire for non-positive duration")
	}
}

func TestManualSetIgnoresBackwardsJump(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	clk.Set(start.Add(-time.Hour))
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("clock moved backwards to %s", got)
	}
}
