package kernel

// EventGroupWaitFlags selects the wait condition and post-wake behavior for
// EventGroup.Wait (spec.md §4.7).
type EventGroupWaitFlags uint8

const (
	// WaitAll requires every bit in the mask to be set; its absence means
	// "any of mask set".
	WaitAll EventGroupWaitFlags = 1 << iota
	// WaitClear atomically clears the matched bits on a successful wait.
	WaitClear
)

// EventGroup is the CB of spec.md §3/§4.7.
type EventGroup struct {
	k    *Kernel
	bits uint32
	wq   *WaitQueue
}

// NewEventGroup constructs an event group with the given initial bits.
func NewEventGroup(k *Kernel, initial uint32, order QueueOrder) *EventGroup {
	return &EventGroup{k: k, bits: initial, wq: NewWaitQueue(order)}
}

func satisfied(bits, requested uint32, flags EventGroupWaitFlags) bool {
	if flags&WaitAll != 0 {
		return bits&requested == requested
	}
	return bits&requested != 0
}

// Set implements spec.md §4.7's set(bits): bits |= new, then wakes every
// waiter whose condition is now satisfied, applying CLEAR semantics to the
// first such waiter to see each bit (spec.md §4.7's penultimate
// paragraph): "holding CPU Lock, atomically applies CLEAR semantics to the
// woken task's payload, ensuring that if two waiters both want CLEAR, only
// the first sees the bits."
func (e *EventGroup) Set(newBits uint32) {
	k := e.k
	k.mu.Lock()
	e.bits |= newBits
	e.wakeSatisfiedLocked()
	k.preemptionCheckLocked()
	k.mu.Unlock()
}

// Clear implements spec.md §4.7's clear(bits): bits &= ^new.
func (e *EventGroup) Clear(clearBits uint32) {
	k := e.k
	k.mu.Lock()
	e.bits &^= clearBits
	k.mu.Unlock()
}

// Get reads the current bits.
func (e *EventGroup) Get() uint32 {
	k := e.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return e.bits
}

// wakeSatisfiedLocked wakes every waiter whose condition is satisfied by
// the current bits, in wait-queue order, applying CLEAR to each woken
// waiter's matched bits before evaluating the next. Must be called with
// CPU Lock held.
func (e *EventGroup) wakeSatisfiedLocked() {
	cur := e.wq.head
	end := e.wq.tail
	for cur != nil {
		next := cur.next
		p := cur.payload.(EventGroupBitsPayload)
		if satisfied(e.bits, p.Requested, p.Flags) {
			observed := e.bits
			if p.Flags&WaitClear != 0 {
				e.bits &^= p.Requested & observed
			}
			p.OutBits = observed
			cur.payload = p
			e.k.wakeOneRecord(cur, nil)
		}
		if cur == end {
			break
		}
		cur = next
	}
}

// Wait implements spec.md §4.7's wait(mask, flags): blocks until
// satisfied, returning the observed bits.
func (e *EventGroup) Wait(t *TCB, mask uint32, flags EventGroupWaitFlags) (uint32, error) {
	k := e.k
	k.mu.Lock()
	if satisfied(e.bits, mask, flags) {
		observed := e.bits
		if flags&WaitClear != 0 {
			e.bits &^= mask & observed
		}
		k.mu.Unlock()
		return observed, nil
	}
	payload := EventGroupBitsPayload{Requested: mask, Flags: flags}
	err := k.wait(e.wq, payload, t)
	observed := uint32(0)
	if rec, ok := t.lastWaitPayload.(EventGroupBitsPayload); ok {
		observed = rec.OutBits
	}
	k.mu.Unlock()
	return observed, err
}

// WaitTimeout implements spec.md §4.7's wait_timeout.
func (e *EventGroup) WaitTimeout(t *TCB, mask uint32, flags EventGroupWaitFlags, d Duration) (uint32, error) {
	k := e.k
	k.mu.Lock()
	if satisfied(e.bits, mask, flags) {
		observed := e.bits
		if flags&WaitClear != 0 {
			e.bits &^= mask & observed
		}
		k.mu.Unlock()
		return observed, nil
	}
	payload := EventGroupBitsPayload{Requested: mask, Flags: flags}
	err := k.waitTimeout(e.wq, payload, t, d)
	observed := uint32(0)
	if rec, ok := t.lastWaitPayload.(EventGroupBitsPayload); ok {
		observed = rec.OutBits
	}
	k.mu.Unlock()
	return observed, err
}

// Poll implements spec.md §4.7's poll: non-blocking; fails Timeout if the
// condition is not immediately satisfied.
func (e *EventGroup) Poll(mask uint32, flags EventGroupWaitFlags) (uint32, error) {
	k := e.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if !satisfied(e.bits, mask, flags) {
		return 0, newErr("eventgroup.poll", Timeout, "")
	}
	observed := e.bits
	if flags&WaitClear != 0 {
		e.bits &^= mask & observed
	}
	return observed, nil
}
