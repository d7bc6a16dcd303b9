package kernel

// Sleep implements spec.md §4.8's sleep(d): blocks the caller using
// wait_no_queue(Sleep) with a timeout of d; the timeout wakes with Ok.
func (t *TCB) Sleep(d Duration) error {
	k := t.k
	k.mu.Lock()
	rec := &WaitRecord{task: t, payload: SleepPayload{}}
	t.wait.currentWait = rec
	t.state = Waiting
	rec.timeout = k.scheduleTimeout(d, func() {
		k.wakeOneRecord(rec, nil)
		k.preemptionCheckLocked()
	})
	// t just gave up the CPU: let whatever is next-highest-priority Ready
	// task run (or idle) while t's timeout is pending.
	k.preemptionCheckLocked()
	k.port.Block(t)
	err := t.wait.waitResult
	k.mu.Unlock()
	return err
}

// Park implements spec.md §4.8's park(): consumes a pending token if set;
// else blocks via wait_no_queue(Park).
func (t *TCB) Park() error {
	k := t.k
	k.mu.Lock()
	if t.parkToken {
		t.parkToken = false
		k.mu.Unlock()
		return nil
	}
	err := k.waitNoQueue(ParkPayload{}, t)
	k.mu.Unlock()
	return err
}

// ParkTimeout is Park with a timeout (spec.md §5: "park_timeout" is a
// listed suspension point alongside park).
func (t *TCB) ParkTimeout(d Duration) error {
	k := t.k
	k.mu.Lock()
	if t.parkToken {
		t.parkToken = false
		k.mu.Unlock()
		return nil
	}
	err := k.waitTimeout(nil, ParkPayload{}, t, d)
	k.mu.Unlock()
	return err
}

// UnparkExact implements spec.md §4.8's unpark_exact(task): wakes the task
// if parked, or sets the token; QueueOverflow if a token is already set.
func (t *TCB) UnparkExact() error {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	if t.state == Waiting {
		if _, isPark := t.wait.currentWait.payload.(ParkPayload); isPark {
			k.wakeOneRecord(t.wait.currentWait, nil)
			k.preemptionCheckLocked()
			return nil
		}
	}
	if t.parkToken {
		return newErr("unpark_exact", QueueOverflow, "a park token is already set")
	}
	t.parkToken = true
	return nil
}
