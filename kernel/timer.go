package kernel

import "container/heap"

// Timer is the CB of spec.md §3/§4.9: at most one live entry in the
// timeout heap at a time, firing its callback in "interrupt context"
// (meaning: synchronously, from inside Tick/AdjustTime, with CPU Lock
// held, the same way a real second-level interrupt handler would run with
// managed interrupts masked).
type Timer struct {
	k        *Kernel
	delay    *Duration // nil: not scheduled for a next relative delay
	period   *Duration
	active   bool
	callback func()

	entry          *timeoutEntry
	deadlineWasSet Instant // the deadline actually installed in the heap
}

// NewTimer constructs a dormant timer.
func NewTimer(k *Kernel, callback func()) *Timer {
	return &Timer{k: k, callback: callback}
}

// Start transitions Dormant -> Active, scheduling the first firing at
// now + delay. Starting an Active timer cancels its pending firing and
// schedules a new one.
func (tm *Timer) Start(delay Duration) {
	k := tm.k
	k.mu.Lock()
	defer k.mu.Unlock()
	tm.stopLocked()
	tm.delay = &delay
	tm.active = true
	tm.armLocked(delay)
}

// Stop transitions Active -> Dormant, canceling any pending firing.
func (tm *Timer) Stop() {
	k := tm.k
	k.mu.Lock()
	defer k.mu.Unlock()
	tm.stopLocked()
}

func (tm *Timer) stopLocked() {
	tm.active = false
	if tm.entry != nil {
		tm.k.cancelTimeout(tm.entry)
		tm.entry = nil
	}
}

func (tm *Timer) armLocked(d Duration) {
	tm.deadlineWasSet = tm.k.clk.now + Instant(d)
	tm.entry = tm.k.scheduleTimeout(d, tm.fireLocked)
}

// fireLocked implements spec.md §4.9's firing rule: invoke the callback,
// then set the next deadline to current-deadline + period (never
// now + period, so arrival times are preserved across late firings); if
// period is nil the timer becomes Dormant. Called from processTimeouts
// with CPU Lock held.
func (tm *Timer) fireLocked() {
	tm.entry = nil
	deadline := tm.deadlineWasSet
	cb := tm.callback
	if cb != nil {
		cb()
	}
	if tm.period == nil {
		tm.active = false
		return
	}
	tm.deadlineWasSet = deadline + Instant(*tm.period)
	// If the new deadline is already <= now, the enclosing processTimeouts
	// loop pops and fires it again before returning, so a late periodic
	// timer catches up on every missed period within the same tick.
	tm.entry = &timeoutEntry{deadline: tm.deadlineWasSet, callback: tm.fireLocked}
	heap.Push(&tm.k.clk.heap, tm.entry)
}

// SetDelay implements spec.md §4.9's set_delay(d): reschedules the next
// firing to now + d, or removes the entry if d is nil.
func (tm *Timer) SetDelay(d *Duration) {
	k := tm.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if tm.entry != nil {
		k.cancelTimeout(tm.entry)
		tm.entry = nil
	}
	tm.delay = d
	if d == nil {
		return
	}
	tm.active = true
	tm.armLocked(*d)
}

// SetPeriod implements spec.md §4.9's set_period(p): affects only firings
// after the next one.
func (tm *Timer) SetPeriod(p *Duration) {
	k := tm.k
	k.mu.Lock()
	defer k.mu.Unlock()
	tm.period = p
}

// IsActive reports whether the timer is currently Active.
func (tm *Timer) IsActive() bool {
	k := tm.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return tm.active
}
