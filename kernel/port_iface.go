package kernel

// Port is the subset of spec.md §6's "Port ABI" concerned with dispatching
// tasks: initializing a task's execution context, handing control to the
// first task at boot, resuming a chosen task, and parking the calling
// goroutine until the kernel resumes it again. CPU-Lock bookkeeping and
// interrupt-line primitives are kernel- and kernel/intr-level concerns
// respectively (see DESIGN.md, "Port interface placement") rather than
// part of this interface, because on bare metal they are genuine hardware
// registers but in a goroutine-backed simulation they reduce to state this
// package already owns.
//
// A concrete Port (kernel/simport.Port is the reference implementation)
// backs every task with a real goroutine and uses a per-task gate to
// serialize "who is allowed to run user code" the way a single CPU would.
type Port interface {
	// InitializeTaskState prepares t so that a later DispatchFirstTask or
	// Resume will enter t.entryPoint(t.entryParam) on its own execution
	// context with interrupts (conceptually) enabled.
	InitializeTaskState(t *TCB)

	// DispatchFirstTask hands control to the first selected task at boot
	// (t is nil if no task is Ready). Called once, by Boot, after it has
	// released CPU Lock; does not return until the whole
	// kernel is shutting down (it drives the idle loop itself once no
	// task is runnable, the same way real port code's idle loop is
	// entered from here).
	DispatchFirstTask(t *TCB)

	// Resume marks t (already initialized) as the new Running task and
	// lets its goroutine proceed. Called with CPU Lock held; must not
	// block.
	Resume(t *TCB)

	// Block suspends the calling goroutine, which must be the one
	// executing as the currently Running task, until a later Resume
	// targets it. Called with CPU Lock held; internally releases it for
	// the duration of the sleep and re-acquires it before returning. This
	// is the yield_until_woken_up primitive of spec.md §9.
	Block(t *TCB)

	// ExitCurrentTask tears down the calling goroutine's participation in
	// scheduling after exit_task. It does not return.
	ExitCurrentTask(t *TCB)

	// IsTaskContext / IsInterruptContext report what kind of caller is
	// currently executing, used by BadContext checks.
	IsTaskContext() bool
	IsInterruptContext() bool
}

// Unlocked runs fn with CPU Lock released, then re-acquires it before
// returning. Port implementations use this to implement Block: the
// sleep-until-resumed step must happen without CPU Lock held (otherwise no
// other task or interrupt could ever make progress), but the surrounding
// kernel call entered and will exit under CPU Lock, matching spec.md §4.1's
// "except where noted, namely around wait_until_woken_up".
func (k *Kernel) Unlocked(fn func()) {
	wasActive := k.lockActive
	k.lockActive = false
	k.mu.Unlock()
	fn()
	k.mu.Lock()
	k.lockActive = wasActive
}
