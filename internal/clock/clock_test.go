package clock

import (
	"testing"
	"time"
)

func TestVirtualAccumulates(t *testing.T) {
	var v Virtual
	v.Delay(10 * time.Microsecond)
	v.Delay(120 * time.Millisecond)
	if got, want := v.Elapsed(), 120*time.Millisecond+10*time.Microsecond; got != want {
		t.Errorf("Elapsed = %v, want %v", got, want)
	}
	if v.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", v.Calls())
	}
	v.Reset()
	if v.Elapsed() != 0 || v.Calls() != 0 {
		t.Errorf("Reset did not clear counters")
	}
}

func TestRealSpinsShortDelays(t *testing.T) {
	start := time.Now()
	Real{}.Delay(50 * time.Microsecond)
	if got := time.Since(start); got < 50*time.Microsecond {
		t.Errorf("Real.Delay returned after %v", got)
	}
	Real{}.Delay(0)
	Real{}.Delay(-time.Second)
}
