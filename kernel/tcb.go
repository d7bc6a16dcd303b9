package kernel

// TCB is the task control block described in spec.md §3. One exists per
// configured task for the whole program lifetime; there is no dynamic
// creation or destruction (Non-goals, spec.md §1).
type TCB struct {
	k    *Kernel
	id   TaskID
	name string

	state TaskState

	basePriority      int
	effectivePriority int

	entryPoint func(param uintptr)
	entryParam uintptr

	stack []byte

	wait waitState

	// lastMutexHeld is the head of a singly-linked, most-recent-first list
	// of mutexes this task currently owns (spec.md §3). Mutexes link
	// through Mutex.prevMutexHeld.
	lastMutexHeld *Mutex

	parkToken bool

	activationPending bool // activation queue, capacity 1 (spec.md §4.3)

	// ready-queue intrusive linkage (spec.md §4.2). readyBucket is -1 when
	// the task is not linked into any bucket; the invariant "linked into
	// exactly one priority bucket while Ready, none otherwise" is checked
	// by readyqueue.go's push/pop/reorder operations, which are the only
	// code allowed to touch these fields.
	readyNext, readyPrev *TCB
	readyBucket          int

	port any // opaque per-port context slot (spec.md §3 port_task_state)

	// lastWaitPayload holds the payload of the most recent wait record this
	// task was woken from, with any out-parameters (e.g.
	// EventGroupBitsPayload.OutBits) filled in by the waker. Read by callers
	// such as EventGroup.Wait immediately after a blocking call returns.
	lastWaitPayload WaitPayload
}

// TaskID is a stable, dense numeric identifier assigned at configuration
// time (spec.md §6: "per-task attributes").
type TaskID int

type waitState struct {
	currentWait *WaitRecord
	waitResult  error
}

// State returns the task's current state. Safe to call without holding CPU
// Lock only for diagnostics; kernel-internal logic must already be holding
// CPU Lock when it inspects this field.
func (t *TCB) State() TaskState { return t.state }

// BasePriority returns the application-assigned priority (spec.md §3).
func (t *TCB) BasePriority() int { return t.basePriority }

// EffectivePriority returns the priority currently used for scheduling
// decisions; it is never numerically greater than BasePriority.
func (t *TCB) EffectivePriority() int { return t.effectivePriority }

// ID returns the task's configuration-assigned identifier.
func (t *TCB) ID() TaskID { return t.id }

// IsWaiting reports whether the task has a live wait record, which must
// agree with state == Waiting (spec.md §3 invariant).
func (t *TCB) IsWaiting() bool { return t.wait.currentWait != nil }

// RunEntryPoint invokes the task's configured entry function with its
// configured parameter. Exposed for Port implementations (see
// kernel/simport) to call once they have transferred control to the task's
// own execution context; nothing in package kernel calls this itself.
func (t *TCB) RunEntryPoint() {
	t.entryPoint(t.entryParam)
}
