// Package clock provides the delay strategy used by the bring-up code.
//
// The serial link needs microsecond waits between pin edges and the panel
// controller needs multi-millisecond settle times. Both go through a Delayer
// so tests can replay a full bring-up without real time passing.
package clock

import (
	"sync"
	"time"
)

// Delayer blocks the caller for d.
type Delayer interface {
	Delay(d time.Duration)
}

// spinThreshold is the longest wait that is busy-waited instead of handed to
// the scheduler. time.Sleep overshoots badly below roughly a millisecond.
const spinThreshold = time.Millisecond

// Real waits for real. Short waits spin on the monotonic clock, longer ones
// sleep.
type Real struct{}

func (Real) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= spinThreshold {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// Virtual advances a counter instead of waiting.
type Virtual struct {
	mu      sync.Mutex
	elapsed time.Duration
	calls   int
}

func (v *Virtual) Delay(d time.Duration) {
	v.mu.Lock()
	v.elapsed += d
	v.calls++
	v.mu.Unlock()
}

// Elapsed reports the total simulated time.
func (v *Virtual) Elapsed() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.elapsed
}

// Calls reports how many delays were requested.
func (v *Virtual) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// Reset zeroes the counters.
func (v *Virtual) Reset() {
	v.mu.Lock()
	v.elapsed, v.calls = 0, 0
	v.mu.Unlock()
}
