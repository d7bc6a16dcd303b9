package kernel

// Mutex is the MCB of spec.md §3/§4.5: immediate priority ceiling
// protocol, robust (abandoned) mutexes, and the lock-reverse unlock
// restriction.
type Mutex struct {
	k       *Kernel
	ceiling *int // nil: no protocol, Some(priority): ceiling protocol
	wq      *WaitQueue

	owning       *TCB
	inconsistent bool

	// prevMutexHeld is the next pointer in the owner's held-mutex list
	// (most-recent-first, per spec.md §3); it is only meaningful while
	// owning != nil.
	prevMutexHeld *Mutex
}

// MutexOption configures a Mutex at construction (configuration time).
type MutexOption func(*Mutex)

// WithCeiling enables the immediate priority ceiling protocol at the given
// priority.
func WithCeiling(priority int) MutexOption {
	return func(m *Mutex) { c := priority; m.ceiling = &c }
}

// NewMutex constructs a mutex. Wait queue order for a ceiling mutex is
// conventionally TaskPriority (the ceiling protocol's whole point is that
// at most one priority below the ceiling may ever wait at a time in a
// well-formed configuration, but ordinary contention still benefits from
// priority ordering); non-ceiling mutexes default to FIFO.
func NewMutex(k *Kernel, opts ...MutexOption) *Mutex {
	m := &Mutex{k: k}
	for _, o := range opts {
		o(m)
	}
	order := FIFO
	if m.ceiling != nil {
		order = TaskPriority
	}
	m.wq = NewWaitQueue(order)
	return m
}

// IsLocked reports whether the mutex is currently owned.
func (m *Mutex) IsLocked() bool {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.owning != nil
}

// checkBlockingPreconditionsLocked implements spec.md §4.5's preconditions
// checked before blocking, shared by Lock/TryLock/LockTimeout.
func (m *Mutex) checkBlockingPreconditionsLocked(op string, t *TCB) error {
	if m.owning == t {
		return newErr(op, WouldDeadlock, "task already owns this mutex")
	}
	if m.ceiling != nil && t.basePriority < *m.ceiling {
		return newErr(op, BadParam, "task's base priority is higher than the mutex ceiling")
	}
	return nil
}

// acquireStepsLocked implements spec.md §4.5's "Acquire steps", run either
// immediately (mutex was free) or after being handed ownership by unlock.
func (m *Mutex) acquireStepsLocked(t *TCB) error {
	m.owning = t
	m.prevMutexHeld = t.lastMutexHeld
	t.lastMutexHeld = m
	if m.ceiling != nil {
		if *m.ceiling < t.effectivePriority {
			oldPri := t.effectivePriority
			if t.state == Ready && t.readyBucket >= 0 {
				m.k.readyQ.reorderTask(t, *m.ceiling, oldPri)
			} else {
				t.effectivePriority = *m.ceiling
			}
		}
	}
	if m.inconsistent {
		return newErr("mutex.lock", Abandoned, "")
	}
	return nil
}

// Lock implements spec.md §4.5's lock(): waitable.
func (m *Mutex) Lock(t *TCB) error {
	k := m.k
	k.mu.Lock()
	if err := m.checkBlockingPreconditionsLocked("mutex.lock", t); err != nil {
		k.mu.Unlock()
		return err
	}
	if m.owning == nil {
		err := m.acquireStepsLocked(t)
		k.mu.Unlock()
		return err
	}
	err := k.wait(m.wq, MutexPayload{Mutex: m}, t)
	k.mu.Unlock()
	return err
}

// TryLock implements spec.md §4.5's try_lock(): task context only,
// identical to lock but returns Timeout instead of blocking.
func (m *Mutex) TryLock(t *TCB) error {
	k := m.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.requireTaskContextLocked("mutex.try_lock"); err != nil {
		return err
	}
	if err := m.checkBlockingPreconditionsLocked("mutex.try_lock", t); err != nil {
		return err
	}
	if m.owning != nil {
		return newErr("mutex.try_lock", Timeout, "")
	}
	return m.acquireStepsLocked(t)
}

// LockTimeout implements spec.md §4.5's lock_timeout(d).
func (m *Mutex) LockTimeout(t *TCB, d Duration) error {
	k := m.k
	k.mu.Lock()
	if err := m.checkBlockingPreconditionsLocked("mutex.lock_timeout", t); err != nil {
		k.mu.Unlock()
		return err
	}
	if m.owning == nil {
		err := m.acquireStepsLocked(t)
		k.mu.Unlock()
		return err
	}
	err := k.waitTimeout(m.wq, MutexPayload{Mutex: m}, t, d)
	k.mu.Unlock()
	return err
}

// Unlock implements spec.md §4.5's unlock(): requires the calling task be
// the owner and this mutex be the head of the owner's held-mutex list.
func (m *Mutex) Unlock(t *TCB) error {
	k := m.k
	k.mu.Lock()
	defer k.mu.Unlock()

	if m.owning != t {
		return newErr("mutex.unlock", NotOwner, "")
	}
	if t.lastMutexHeld != m {
		return newErr("mutex.unlock", BadObjectState, "lock-reverse order violated")
	}

	// Release step 1: detach from the head of the owner's held-mutex list.
	t.lastMutexHeld = m.prevMutexHeld
	m.prevMutexHeld = nil

	// Release step 2: recompute the former owner's effective priority.
	oldEffective := t.effectivePriority
	newEffective := t.recomputeEffectivePriorityLocked()
	if newEffective != oldEffective {
		t.effectivePriority = newEffective
	}

	wasInconsistent := m.inconsistent

	// Release step 4: transfer or clear ownership.
	if !m.wq.Empty() {
		rec := m.wq.head
		next := rec.task
		rec.unlink()
		next.wait.currentWait = nil
		next.wait.waitResult = nil
		if rec.timeout != nil {
			k.cancelTimeout(rec.timeout)
		}
		m.inconsistent = wasInconsistent
		if err := m.acquireStepsLocked(next); err != nil {
			next.wait.waitResult = err
		}
		next.state = Ready
		k.readyQ.pushBackTask(next)
	} else {
		m.owning = nil
		m.inconsistent = wasInconsistent
	}

	// Release step 3: a rising effective priority may make the former
	// owner preemptible.
	k.preemptionCheckLocked()
	return nil
}

// MarkConsistent implements spec.md §4.5's mark_consistent(): clears the
// abandonment flag; fails if not abandoned.
func (m *Mutex) MarkConsistent() error {
	k := m.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if !m.inconsistent {
		return newErr("mutex.mark_consistent", BadObjectState, "mutex is not abandoned")
	}
	m.inconsistent = false
	return nil
}

// abandonMutexLocked implements spec.md §4.5's "Abandonment": called once
// per held mutex from exitTaskLocked. It performs the ownership transfer
// itself, after setting the abandoned flag, so the flag persists across
// the transfer to the head waiter.
func (k *Kernel) abandonMutexLocked(m *Mutex, owner *TCB) {
	owner.lastMutexHeld = m.prevMutexHeld
	m.prevMutexHeld = nil

	m.inconsistent = true
	k.log.Warn("mutex.abandoned", map[string]any{"owner": owner.id})

	if !m.wq.Empty() {
		rec := m.wq.head
		next := rec.task
		rec.unlink()
		next.wait.currentWait = nil
		if rec.timeout != nil {
			k.cancelTimeout(rec.timeout)
		}
		err := m.acquireStepsLocked(next)
		next.wait.waitResult = err // always Abandoned here
		next.state = Ready
		k.readyQ.pushBackTask(next)
	} else {
		m.owning = nil
	}
}
