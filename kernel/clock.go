package kernel

import (
	"container/heap"
	"time"
)

// Duration is microsecond-resolution, matching spec.md §4.8's monotonic
// clock ("a 64-bit microsecond counter"). It is a distinct type from
// time.Duration (which is nanosecond-resolution) so that call sites can't
// accidentally pass a nanosecond value where microseconds are expected;
// conversions go through FromStdDuration/Std.
type Duration int64 // microseconds

// FromStdDuration converts a time.Duration to kernel microsecond
// resolution, truncating sub-microsecond remainders.
func FromStdDuration(d time.Duration) Duration { return Duration(d / time.Microsecond) }

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) * time.Microsecond }

// Instant is a monotonic timestamp in microseconds since the kernel's
// epoch (arbitrary; only differences are meaningful, per spec.md §4.8).
type Instant int64

// timeoutEntry is the min-heap element of spec.md §3 ("Timeout entry"):
// { deadline, callback-ref }.
type timeoutEntry struct {
	deadline Instant
	callback func()
	index    int // heap.Interface bookkeeping
	canceled bool
}

// timeoutHeap is a container/heap.Interface min-heap keyed on deadline,
// used directly from the standard library rather than reimplemented (see
// SPEC_FULL.md's domain-stack table: "priority queue via heap").
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int { return len(h) }
func (h timeoutHeap) Less(i, j int) bool {
	return h[i].deadline < h[j].deadline
}
func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timeoutHeap) Push(x any) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// clock holds the kernel's monotonic time state (spec.md §4.8).
type clock struct {
	now      Instant
	frontier Instant // largest system-time value ever reached
	heap     timeoutHeap
}

// TimeUserHeadroom is TIME_USER_HEADROOM from spec.md §4.8: the bound
// adjust_time enforces against overshooting pending timeouts or the
// frontier. The spec requires it be >= 1s; 2s gives callers reasonable
// slack while staying a small constant.
const TimeUserHeadroom Duration = Duration(2 * time.Second / time.Microsecond)

func newClock() *clock {
	return &clock{}
}

// Time returns current system time. It acquires CPU Lock itself, so the
// caller must not already hold it.
func (k *Kernel) Time() Instant {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clk.now
}

// scheduleTimeout inserts a new heap entry deadline = now + d and returns
// it so the caller can cancel it later. Must be called with CPU Lock held.
func (k *Kernel) scheduleTimeout(d Duration, cb func()) *timeoutEntry {
	e := &timeoutEntry{deadline: k.clk.now + Instant(d), callback: cb}
	heap.Push(&k.clk.heap, e)
	return e
}

// cancelTimeout removes e from the heap if it is still present and marks
// it canceled. Safe to call twice (idempotent), and safe to call for an
// entry that has already been popped (e.g. from inside its own callback):
// such an entry is only marked canceled.
func (k *Kernel) cancelTimeout(e *timeoutEntry) {
	if e.index < 0 {
		e.canceled = true
		return
	}
	heap.Remove(&k.clk.heap, e.index)
	e.canceled = true
}

// processTimeouts pops and fires every timeout whose deadline is <= now, in
// deadline order (spec.md §4.8). timeoutHeap.Less compares deadlines only
// and container/heap is not stable, so entries that share a deadline fire
// in no defined order (see DESIGN.md for the tie-break note). An entry
// pushed by a callback (a periodic timer re-arming) whose deadline is
// already <= now is fired by this same call.
func (k *Kernel) processTimeouts() {
	for len(k.clk.heap) > 0 && k.clk.heap[0].deadline <= k.clk.now {
		e := heap.Pop(&k.clk.heap).(*timeoutEntry)
		if e.canceled {
			continue
		}
		e.index = -1
		cb := e.callback
		cb()
	}
}

// Tick is called by the platform timer driver (spec.md §4.8) with the
// number of microseconds elapsed since the previous tick, already resolved
// by the driver from whatever numerator/denominator ratio the hardware
// clock runs at. It advances system time, processes due
// timeouts, and performs a preemption check before returning, since firing
// a timeout may have made a higher-priority task Ready.
func (k *Kernel) Tick(elapsed Duration) {
	k.mu.Lock()
	k.clk.now += Instant(elapsed)
	if k.clk.now > k.clk.frontier {
		k.clk.frontier = k.clk.now
	}
	k.processTimeouts()
	k.preemptionCheckLocked()
	k.mu.Unlock()
}

// SetTime implements spec.md §4.8's set_time: task context only, replaces
// current system time, does not shift relative deadlines (the heap stores
// absolute deadlines against the old clock, so leaving them untouched is
// exactly "does not shift").
func (k *Kernel) SetTime(t Instant) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.requireTaskContextLocked("set_time"); err != nil {
		return err
	}
	k.clk.now = t
	if t > k.clk.frontier {
		k.clk.frontier = t
	}
	return nil
}

// AdjustTime implements spec.md §4.8's adjust_time, including the
// headroom-bounded forward/backward checks.
func (k *Kernel) AdjustTime(delta Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.requireTaskContextLocked("adjust_time"); err != nil {
		return err
	}
	if delta > 0 {
		if len(k.clk.heap) > 0 {
			t0 := Duration(k.clk.heap[0].deadline - k.clk.now)
			if t0-delta < -TimeUserHeadroom {
				k.log.Warn("adjust_time.rejected", map[string]any{"delta": int64(delta), "direction": "forward"})
				return newErr("adjust_time", BadObjectState, "forward adjustment would overshoot the earliest pending timeout beyond headroom")
			}
		}
	} else if delta < 0 {
		f := Duration(k.clk.frontier - k.clk.now)
		if f-delta > TimeUserHeadroom {
			k.log.Warn("adjust_time.rejected", map[string]any{"delta": int64(delta), "direction": "backward"})
			return newErr("adjust_time", BadObjectState, "backward adjustment would exceed the frontier headroom")
		}
	}
	k.clk.now += Instant(delta)
	if k.clk.now > k.clk.frontier {
		k.clk.frontier = k.clk.now
	}
	k.processTimeouts()
	k.preemptionCheckLocked()
	return nil
}
