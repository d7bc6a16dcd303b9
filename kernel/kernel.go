package kernel

import (
	"sync"

	"github.com/r3-os/r3-sub001/kernel/klog"
)

// Kernel is the global state of spec.md §4.1: a slot for the currently
// Running task (nil meaning the idle loop), a boot-complete flag, and a
// priority-boost flag, plus the ready queue, timeout heap, and task table
// that hang off it. All mutations happen under CPU Lock (k.mu).
type Kernel struct {
	mu sync.Mutex

	// lockActive mirrors "CPU Lock is active" for the BadContext checks in
	// AcquireCPULock/ReleaseCPULock. It is only ever read/written while k.mu
	// is held, so it needs no atomic access of its own.
	lockActive bool

	// inBootHook marks execution inside a kernel/cfg startup hook (see
	// RunBootHook). CPU Lock operations are meaningless there — nothing is
	// scheduled yet and Boot has not run — so AcquireCPULock rejects them
	// per spec.md §4.1's "caller is not a boot hook" precondition.
	inBootHook bool

	booted        bool
	priorityBoost bool

	running *TCB
	tasks   []*TCB

	readyQ *readyQueue
	clk    clock

	port Port
	log  klog.Logger

	numPriorities int
}

// New constructs a Kernel from a validated configuration (see kernel/cfg).
// The returned Kernel has no tasks; register them with NewTask and make
// them Ready with Activate (kernel/cfg's Config.New does this for tasks
// marked AutoActivate), then call Boot to hand control to the port.
func New(numPriorities int, p Port, log klog.Logger) *Kernel {
	if log == nil {
		log = klog.Discard()
	}
	return &Kernel{
		readyQ:        newReadyQueue(numPriorities),
		numPriorities: numPriorities,
		port:          p,
		log:           log,
	}
}

// NewTask registers a new task in the Dormant state. Configuration-time
// only: spec.md's Non-goals exclude dynamic task creation, so this must be
// called before Boot.
func (k *Kernel) NewTask(name string, basePriority int, entry func(param uintptr), param uintptr, stack []byte) *TCB {
	if k.booted {
		panic("kernel: NewTask called after Boot; dynamic task creation is a Non-goal")
	}
	t := &TCB{
		k:                 k,
		id:                TaskID(len(k.tasks)),
		name:              name,
		state:             Dormant,
		basePriority:      basePriority,
		effectivePriority: basePriority,
		entryPoint:        entry,
		entryParam:        param,
		stack:             stack,
		readyBucket:       -1,
	}
	k.tasks = append(k.tasks, t)
	return t
}

// Tasks returns every configured task, in configuration order.
func (k *Kernel) Tasks() []*TCB {
	out := make([]*TCB, len(k.tasks))
	copy(out, k.tasks)
	return out
}

// requireTaskContextLocked enforces the "task context only" precondition
// shared by several operations (set_time, adjust_time, try_lock, ...).
func (k *Kernel) requireTaskContextLocked(op string) error {
	if !k.port.IsTaskContext() {
		return newErr(op, BadContext, "must be called from task context")
	}
	return nil
}

// AcquireCPULock implements spec.md §4.1: succeeds iff CPU Lock is
// currently inactive and the caller is not a boot hook; otherwise
// BadContext.
func (k *Kernel) AcquireCPULock() error {
	if !k.mu.TryLock() {
		return newErr("acquire_cpu_lock", BadContext, "CPU Lock already active")
	}
	if k.inBootHook {
		k.mu.Unlock()
		return newErr("acquire_cpu_lock", BadContext, "must not be called from a boot hook")
	}
	k.lockActive = true
	return nil
}

// RunBootHook invokes fn with inBootHook set, so that any AcquireCPULock
// call fn makes is rejected per spec.md §4.1. Used by kernel/cfg to run the
// startup hooks registered via AddStartupHook, which execute after every
// configured object exists but before Boot.
func (k *Kernel) RunBootHook(fn func()) {
	k.mu.Lock()
	k.inBootHook = true
	k.mu.Unlock()
	fn()
	k.mu.Lock()
	k.inBootHook = false
	k.mu.Unlock()
}

// ReleaseCPULock is AcquireCPULock's inverse.
func (k *Kernel) ReleaseCPULock() error {
	if !k.lockActive {
		return newErr("release_cpu_lock", BadContext, "CPU Lock is not active")
	}
	k.lockActive = false
	k.mu.Unlock()
	return nil
}

// IsCPULockActive reports whether CPU Lock is currently held by anyone.
func (k *Kernel) IsCPULockActive() bool {
	if !k.mu.TryLock() {
		return true
	}
	defer k.mu.Unlock()
	return k.lockActive
}

// CPULockActiveInDispatch reports whether CPU Lock is currently held,
// without acquiring k.mu itself. CPU Lock *is* k.mu (see AcquireCPULock),
// so a handler that takes CPU Lock and leaves it held is, from the
// dispatching goroutine's point of view, still the holder of k.mu when
// control returns to kernel/intr's Dispatch. Unlike IsCPULockActive, which
// reports true whenever k.mu is held for any reason, this reads only the
// lockActive flag that AcquireCPULock sets. This accessor is safe only for a caller
// that the kernel's single-Running-task invariant already guarantees is
// the sole active goroutine at this instant — precisely kernel/intr's
// Dispatch, running handlers one at a time between AcquireCPULock and
// ReleaseCPULock calls that all happen on that same goroutine.
func (k *Kernel) CPULockActiveInDispatch() bool {
	return k.lockActive
}

// EnterPriorityBoost implements spec.md §4.1: a task-only, CPU-Lock-free
// critical section. Disallowed while CPU Lock is active.
func (k *Kernel) EnterPriorityBoost() error {
	if !k.mu.TryLock() {
		return newErr("enter_priority_boost", BadContext, "CPU Lock is active")
	}
	defer k.mu.Unlock()
	if k.lockActive {
		return newErr("enter_priority_boost", BadContext, "CPU Lock is active")
	}
	if err := k.requireTaskContextLocked("enter_priority_boost"); err != nil {
		return err
	}
	k.priorityBoost = true
	return nil
}

// LeavePriorityBoost leaves priority boost and triggers a preemption check.
func (k *Kernel) LeavePriorityBoost() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.priorityBoost {
		return newErr("leave_priority_boost", BadContext, "priority boost is not active")
	}
	k.priorityBoost = false
	k.preemptionCheckLocked()
	return nil
}

// Boot marks the kernel booted, makes the highest-priority Ready task
// Running, and hands it to the port's DispatchFirstTask. It activates no
// task itself: tasks configured with auto-activate must already have been
// activated (kernel/cfg's Config.New does this) before Boot is called.
// Does not return.
func (k *Kernel) Boot() {
	k.mu.Lock()
	k.booted = true
	first := k.chooseFirstTask()
	k.mu.Unlock()
	k.port.DispatchFirstTask(first)
}

func (k *Kernel) chooseFirstTask() *TCB {
	p := k.readyQ.firstNonEmpty()
	if p < 0 {
		return nil
	}
	first := k.readyQ.popFrontBucket(p)
	first.state = Running
	k.running = first
	return first
}

// Activate implements the Dormant -> Ready transition of spec.md §4.3.
// Fails QueueOverflow if the task is already non-Dormant (the activation
// queue has capacity 1).
func (t *TCB) Activate() error {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.state != Dormant {
		return newErr("activate", QueueOverflow, "task is already active")
	}
	t.effectivePriority = t.basePriority
	t.state = Ready
	k.readyQ.pushBackTask(t)
	k.port.InitializeTaskState(t)
	if k.booted {
		k.preemptionCheckLocked()
	}
	return nil
}

// exitTaskLocked implements spec.md §4.3's exit_task: Running -> Dormant.
// All mutexes still held are abandoned. Caller holds CPU Lock and is the
// task's own goroutine; it must call k.port.ExitCurrentTask(t) immediately
// after this returns, which never returns itself.
func (k *Kernel) exitTaskLocked(t *TCB) {
	for t.lastMutexHeld != nil {
		m := t.lastMutexHeld
		k.abandonMutexLocked(m, t)
	}
	t.state = Dormant
	t.parkToken = false
	if k.running == t {
		k.running = nil
	}
	k.preemptionCheckLocked()
}

// ExitTask is called by the port's entry-point trampoline once a task's
// entry function returns, and is also exposed so a task may voluntarily
// call it. It never returns.
func (k *Kernel) ExitTask(t *TCB) {
	k.mu.Lock()
	k.exitTaskLocked(t)
	k.mu.Unlock()
	k.port.ExitCurrentTask(t)
}

// SetPriority changes a task's base priority (spec.md §4.5, "Priority
// raising and held mutexes"). Disallowed if it would cause the task to
// exceed the ceiling of any currently-held or currently-waited-for ceiling
// mutex.
func (t *TCB) SetPriority(newBase int) error {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	if newBase < 0 || newBase >= k.numPriorities {
		return newErr("set_priority", BadParam, "priority out of range")
	}
	for m := t.lastMutexHeld; m != nil; m = m.prevMutexHeld {
		if m.ceiling != nil && newBase < *m.ceiling {
			return newErr("set_priority", BadParam, "would exceed a held mutex's ceiling")
		}
	}
	if t.wait.currentWait != nil {
		if mp, ok := t.wait.currentWait.payload.(MutexPayload); ok {
			if mp.Mutex.ceiling != nil && newBase < *mp.Mutex.ceiling {
				return newErr("set_priority", BadParam, "would exceed the waited-for mutex's ceiling")
			}
		}
	}

	oldEffective := t.effectivePriority
	t.basePriority = newBase
	newEffective := t.recomputeEffectivePriorityLocked()

	if newEffective != oldEffective {
		switch t.state {
		case Ready:
			if t.readyBucket >= 0 {
				k.readyQ.reorderTask(t, newEffective, oldEffective)
			}
		default:
			t.effectivePriority = newEffective
		}
	}
	k.preemptionCheckLocked()
	return nil
}

// recomputeEffectivePriorityLocked restores the invariant of spec.md §3:
// effective_priority = min(base_priority, ceilings of all held ceiling
// mutexes).
func (t *TCB) recomputeEffectivePriorityLocked() int {
	eff := t.basePriority
	for m := t.lastMutexHeld; m != nil; m = m.prevMutexHeld {
		if m.ceiling != nil && *m.ceiling < eff {
			eff = *m.ceiling
		}
	}
	return eff
}

// preemptionCheckLocked implements spec.md §4.3's scheduling decision:
// after any state change that could affect scheduling, call
// pop_front_task(running.effective_priority) and act on the result. Caller
// must hold CPU Lock.
func (k *Kernel) preemptionCheckLocked() {
	prevPriority := k.numPriorities // "no task running" sorts as lowest priority
	if k.running != nil && k.running.state == Running {
		// A k.running that is no longer Running (it just blocked, e.g.
		// wait.go/sleep_park.go set Waiting but haven't cleared k.running
		// yet) must not be treated as "the CPU is busy at this priority" —
		// it holds nothing back, and any Ready task at all should be
		// dispatched in its place.
		prevPriority = k.running.effectivePriority
	}
	res := k.readyQ.popFrontTask(prevPriority)
	if res.keep {
		return
	}
	prevRunning := k.running
	if prevRunning != nil && prevRunning.state == Running {
		// The caller invoked this because prevRunning's priority changed,
		// not because it blocked or exited; push it back into the ready
		// queue before handing off.
		prevRunning.state = Ready
		k.readyQ.pushBackTask(prevRunning)
	}
	if res.switchTo != nil {
		res.switchTo.state = Running
	}
	k.running = res.switchTo
	if res.switchTo != nil {
		k.port.Resume(res.switchTo)
	}
	// res.switchTo == nil: the port's idle loop (driven from
	// DispatchFirstTask) notices k.running == nil and idles.
}

// Running returns the currently Running task, or nil if the idle loop is
// active.
func (k *Kernel) Running() *TCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}
