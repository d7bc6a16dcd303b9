package kernel

// WaitPayload is the sum type described in spec.md §3 ("Wait record"). Each
// concrete type below corresponds to exactly one blocking operation kind;
// implementers should not add inheritance here, per spec.md §9 ("Sum-type
// state").
type WaitPayload interface {
	isWaitPayload()
}

// EventGroupBitsPayload is the payload of a task blocked in EventGroup.Wait.
type EventGroupBitsPayload struct {
	Requested uint32
	Flags     EventGroupWaitFlags
	OutBits   uint32 // filled in by the waker before resumption
}

// ParkPayload is the payload of a task blocked in Park.
type ParkPayload struct{}

// SemaphorePayload is the payload of a task blocked in Semaphore.WaitOne.
type SemaphorePayload struct{}

// MutexPayload is the payload of a task blocked trying to lock a Mutex.
type MutexPayload struct {
	Mutex *Mutex
}

// SleepPayload is the payload of a task blocked in Sleep.
type SleepPayload struct{}

func (EventGroupBitsPayload) isWaitPayload() {}
func (ParkPayload) isWaitPayload()           {}
func (SemaphorePayload) isWaitPayload()      {}
func (MutexPayload) isWaitPayload()          {}
func (SleepPayload) isWaitPayload()          {}

// WaitRecord is created on the (conceptual) stack of a waiting task for the
// duration of a single wait call; it never outlives that call (spec.md §3).
// In this Go port it is heap-allocated (there is no manual stack to place it
// on), but its lifetime discipline is unchanged: it is created immediately
// before the task transitions to Waiting and unlinked immediately before the
// task leaves Waiting.
type WaitRecord struct {
	task    *TCB
	queue   *WaitQueue // nil for wait_no_queue (park, sleep)
	next    *WaitRecord
	prev    *WaitRecord
	payload WaitPayload

	timeout *timeoutEntry // non-nil if this wait has an associated deadline
}

// QueueOrder selects a WaitQueue's wakeup discipline (spec.md §3).
type QueueOrder uint8

const (
	FIFO QueueOrder = iota
	TaskPriority
)

// WaitQueue is a doubly-linked list of wait records plus an ordering
// discipline, held by each event group, semaphore, and mutex (spec.md §3).
type WaitQueue struct {
	order QueueOrder
	head  *WaitRecord
	tail  *WaitRecord
}

// NewWaitQueue constructs an empty wait queue with the given ordering.
func NewWaitQueue(order QueueOrder) *WaitQueue {
	return &WaitQueue{order: order}
}

func (q *WaitQueue) Empty() bool { return q.head == nil }

// insert links rec into the queue according to its ordering discipline:
// FIFO appends at the tail; TaskPriority inserts before the first record
// whose waiting task has a strictly lower priority (a larger numeric
// value), i.e. ties go to whoever asked first (spec.md §4.4).
func (q *WaitQueue) insert(rec *WaitRecord) {
	rec.queue = q
	if q.order == FIFO {
		q.linkBefore(rec, nil)
		return
	}
	pri := rec.task.effectivePriority
	for cur := q.head; cur != nil; cur = cur.next {
		if cur.task.effectivePriority > pri {
			q.linkBefore(rec, cur)
			return
		}
	}
	q.linkBefore(rec, nil)
}

// linkBefore links rec immediately before before (nil meaning "at the
// tail").
func (q *WaitQueue) linkBefore(rec, before *WaitRecord) {
	if before == nil {
		rec.prev = q.tail
		rec.next = nil
		if q.tail != nil {
			q.tail.next = rec
		} else {
			q.head = rec
		}
		q.tail = rec
		return
	}
	rec.next = before
	rec.prev = before.prev
	if before.prev != nil {
		before.prev.next = rec
	} else {
		q.head = rec
	}
	before.prev = rec
}

// unlink removes rec from the queue it is linked into. Safe to call on a
// record that is only partially processed (it is idempotent against a
// record that has already been unlinked: queue is set nil on unlink and
// this is then a no-op), which is what makes wakeUpAllConditional's
// iteration safe against the current record being unlinked mid-scan
// (spec.md §4.4).
func (rec *WaitRecord) unlink() {
	q := rec.queue
	if q == nil {
		return
	}
	if rec.prev != nil {
		rec.prev.next = rec.next
	} else {
		q.head = rec.next
	}
	if rec.next != nil {
		rec.next.prev = rec.prev
	} else {
		q.tail = rec.prev
	}
	rec.next, rec.prev, rec.queue = nil, nil, nil
}

// wait is the core of spec.md §4.4's wait_queue.wait(payload) contract.
// Precondition: CPU Lock is held by the caller and the caller is running on
// the task's own goroutine (enforced by the port). It blocks until the
// task is woken by one of the wake paths (wakeUpOne, wakeUpAllConditional,
// interruptTaskLocked). It sets no timeout; waitTimeout adds one.
func (k *Kernel) wait(q *WaitQueue, payload WaitPayload, t *TCB) error {
	rec := &WaitRecord{task: t, payload: payload}
	if q != nil {
		q.insert(rec)
	}
	t.wait.currentWait = rec
	t.state = Waiting
	// The task that was Running is now Waiting: a preemption check is what
	// actually dispatches whichever task should run in its place (or idles
	// if none is Ready), matching spec.md §5's "preemption occurs at the
	// exit of any system call that may have made a higher-priority task
	// Ready" — blocking the caller always frees up the CPU for somebody.
	k.preemptionCheckLocked()
	k.port.Block(t)
	// Resumed: the waker has already unlinked rec and cleared
	// currentWait (spec.md §4.4 step 5).
	return t.wait.waitResult
}

// waitNoQueue implements wait_no_queue for park and sleep: no wait queue,
// only current_wait.
func (k *Kernel) waitNoQueue(payload WaitPayload, t *TCB) error {
	return k.wait(nil, payload, t)
}

// waitTimeout is wait() plus a timeout entry whose firing interrupts the
// task with Timeout. The timeout is cancelled on any other wake path (see
// cancelTimeout in clock.go, called from every wake path before wait()
// returns).
func (k *Kernel) waitTimeout(q *WaitQueue, payload WaitPayload, t *TCB, d Duration) error {
	rec := &WaitRecord{task: t, payload: payload}
	if q != nil {
		q.insert(rec)
	}
	t.wait.currentWait = rec
	t.state = Waiting
	rec.timeout = k.scheduleTimeout(d, func() {
		k.interruptTaskLocked(t, newErr("wait_timeout", Timeout, ""))
		k.preemptionCheckLocked()
	})
	k.preemptionCheckLocked()
	k.port.Block(t)
	return t.wait.waitResult
}

// wakeOneRecord performs the shared bookkeeping of every wake path: unlink
// the record, clear current_wait, stamp the result, cancel any pending
// timeout, transition the task to Ready and push it onto the back of its
// ready-queue bucket. The preemption check is left to the caller. Must be
// called with CPU Lock held.
func (k *Kernel) wakeOneRecord(rec *WaitRecord, result error) {
	rec.unlink()
	t := rec.task
	t.wait.currentWait = nil
	t.wait.waitResult = result
	t.lastWaitPayload = rec.payload
	if rec.timeout != nil {
		k.cancelTimeout(rec.timeout)
		rec.timeout = nil
	}
	t.state = Ready
	k.readyQ.pushBackTask(t)
}

// wakeUpOne removes the head of q, wakes its task with a nil (success)
// error, and reports whether any task was woken (spec.md §4.4).
func (k *Kernel) wakeUpOne(q *WaitQueue) bool {
	if q.Empty() {
		return false
	}
	k.wakeOneRecord(q.head, nil)
	return true
}

// wakeUpAllConditional iterates q and wakes every record whose payload
// satisfies pred. Tasks enqueued during the call are not guaranteed to be
// woken (spec.md §4.4, §9 "possibly-buggy source behavior").
func (k *Kernel) wakeUpAllConditional(q *WaitQueue, pred func(WaitPayload) bool) int {
	end := q.tail
	woken := 0
	cur := q.head
	for cur != nil {
		next := cur.next
		if pred(cur.payload) {
			k.wakeOneRecord(cur, nil)
			woken++
		}
		if cur == end {
			break
		}
		cur = next
	}
	return woken
}

// interruptTaskLocked implements Task::interrupt_task (spec.md §4.4):
// if t is Waiting, unlink its wait record from any queue, set the result,
// and make it Ready. Returns BadObjectState if t was not Waiting.
func (k *Kernel) interruptTaskLocked(t *TCB, result error) error {
	if t.state != Waiting {
		return newErr("task.interrupt", BadObjectState, "task is not Waiting")
	}
	rec := t.wait.currentWait
	k.wakeOneRecord(rec, result)
	return nil
}
