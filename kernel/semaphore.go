package kernel

// Semaphore is the counting semaphore CB of spec.md §3/§4.6.
type Semaphore struct {
	k     *Kernel
	value uint32
	max   uint32
	wq    *WaitQueue
}

// NewSemaphore constructs a semaphore with the given initial count and
// maximum, waking waiters in the given order.
func NewSemaphore(k *Kernel, initial, max uint32, order QueueOrder) *Semaphore {
	if initial > max {
		panic("kernel: semaphore initial value exceeds max")
	}
	return &Semaphore{k: k, value: initial, max: max, wq: NewWaitQueue(order)}
}

// Signal implements spec.md §4.6's signal(n): add n to value (capped at
// max; if it would exceed, return QueueOverflow and do not modify). Then
// wake up to value waiters, decrementing value correspondingly.
func (s *Semaphore) Signal(n uint32) error {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()

	if n > s.max-s.value {
		return newErr("semaphore.signal", QueueOverflow, "")
	}
	s.value += n
	for s.value > 0 && !s.wq.Empty() {
		k.wakeUpOne(s.wq)
		s.value--
	}
	k.preemptionCheckLocked()
	return nil
}

// SignalOne is Signal(1).
func (s *Semaphore) SignalOne() error { return s.Signal(1) }

// WaitOne implements spec.md §4.6's wait_one(): if value > 0, decrement and
// return; else block.
func (s *Semaphore) WaitOne(t *TCB) error {
	k := s.k
	k.mu.Lock()
	if s.value > 0 {
		s.value--
		k.mu.Unlock()
		return nil
	}
	err := k.wait(s.wq, SemaphorePayload{}, t)
	k.mu.Unlock()
	return err
}

// WaitOneTimeout implements spec.md §4.6's wait_one_timeout(d).
func (s *Semaphore) WaitOneTimeout(t *TCB, d Duration) error {
	k := s.k
	k.mu.Lock()
	if s.value > 0 {
		s.value--
		k.mu.Unlock()
		return nil
	}
	err := k.waitTimeout(s.wq, SemaphorePayload{}, t, d)
	k.mu.Unlock()
	return err
}

// PollOne implements spec.md §4.6's poll_one(): non-blocking, fails
// Timeout if value is 0.
func (s *Semaphore) PollOne() error {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.value == 0 {
		return newErr("semaphore.poll_one", Timeout, "")
	}
	s.value--
	return nil
}

// Drain implements spec.md §4.6's drain(): set value := 0 without
// affecting waiters.
func (s *Semaphore) Drain() {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	s.value = 0
}

// Get reads the current value.
func (s *Semaphore) Get() uint32 {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return s.value
}
