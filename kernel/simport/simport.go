// Package simport is the goroutine-backed reference Port, grounded on
// original_source/src/r3_port_std/src/threading_unix.rs: every task gets a
// real goroutine parked on a dedicated gate channel, and the kernel's
// single-Running-task invariant is enforced by only ever signalling one
// gate at a time, the same way threading_unix.rs parks every thread but
// the Running one on a condvar. This is the port the kernel's own test
// suite boots against; it is not meant for production use (a bare-metal
// port would back InitializeTaskState with a real context switch rather
// than a goroutine).
package simport

import (
	"sync"

	"github.com/r3-os/r3-sub001/kernel"
)

// Port implements kernel.Port. The zero value is not usable; construct with
// New and Bind it to the Kernel that owns it before calling kernel.Boot,
// resolving the New/Bind ordering the way threading_unix.rs resolves it:
// the port object must exist before the kernel can be constructed (the
// kernel takes a Port at kernel.New), but the port needs a *kernel.Kernel
// back-reference to release CPU Lock around a blocked gate wait.
type Port struct {
	k *kernel.Kernel

	mu          sync.Mutex
	gates       map[kernel.TaskID]chan struct{}
	started     map[kernel.TaskID]bool
	inInterrupt bool

	idle chan struct{} // never sent to or closed; parks the idle/boot goroutine
}

// New constructs an unbound Port.
func New() *Port {
	return &Port{
		gates:   make(map[kernel.TaskID]chan struct{}),
		started: make(map[kernel.TaskID]bool),
		idle:    make(chan struct{}),
	}
}

// Bind associates the Port with the Kernel it serves. Must be called once,
// after kernel.New and before kernel.Boot.
func (p *Port) Bind(k *kernel.Kernel) {
	p.k = k
}

func (p *Port) gateFor(id kernel.TaskID) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.gates[id]
	if !ok {
		ch = make(chan struct{}, 1)
		p.gates[id] = ch
	}
	return ch
}

// InitializeTaskState spawns t's goroutine, parked on its gate until the
// first Resume or DispatchFirstTask targets it. Idempotent per task: a
// second call (which should not happen per spec.md's Non-goals on dynamic
// creation, but Activate can in principle run twice across a Dormant ->
// Ready -> ... -> Dormant -> Ready cycle) is a no-op, since the original
// goroutine is still parked waiting to be told to run.
func (p *Port) InitializeTaskState(t *kernel.TCB) {
	p.mu.Lock()
	if p.started[t.ID()] {
		p.mu.Unlock()
		return
	}
	p.started[t.ID()] = true
	p.mu.Unlock()

	ch := p.gateFor(t.ID())
	go func() {
		<-ch
		t.RunEntryPoint()
		p.k.ExitTask(t)
	}()
}

// DispatchFirstTask signals t's gate (if t is non-nil; nil means the ready
// queue was empty at boot, i.e. straight to idle) and then parks the
// calling goroutine forever, matching the interface contract that it never
// returns. Callers typically invoke Boot from its own goroutine.
func (p *Port) DispatchFirstTask(t *kernel.TCB) {
	if t != nil {
		ch := p.gateFor(t.ID())
		ch <- struct{}{}
	}
	<-p.idle
}

// Resume signals t's gate without blocking. Called with CPU Lock held, so
// it must never wait on anything.
func (p *Port) Resume(t *kernel.TCB) {
	ch := p.gateFor(t.ID())
	select {
	case ch <- struct{}{}:
	default:
		// Already signalled (e.g. a racing wakeup); at most one pending
		// signal is ever meaningful since only one task runs at a time.
	}
}

// Block releases CPU Lock, parks the calling goroutine on its own gate
// until a later Resume targets it, then re-acquires CPU Lock before
// returning. The caller (package kernel) guarantees this only ever runs on
// the goroutine belonging to the currently Running task.
func (p *Port) Block(t *kernel.TCB) {
	ch := p.gateFor(t.ID())
	p.k.Unlocked(func() {
		<-ch
	})
}

// ExitCurrentTask parks the calling goroutine forever: per spec.md's
// Non-goals there is no dynamic task destruction, so an exited task's
// goroutine simply never runs again rather than being torn down.
func (p *Port) ExitCurrentTask(t *kernel.TCB) {
	select {}
}

// IsTaskContext reports true whenever no interrupt handler is currently
// executing. Because exactly one goroutine is ever unparked at a time (the
// Running task's, or briefly the one running an interrupt handler via
// RunInterrupt), this single flag is sufficient to answer "is the caller a
// task" without per-goroutine bookkeeping.
func (p *Port) IsTaskContext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.inInterrupt
}

// IsInterruptContext is IsTaskContext's complement.
func (p *Port) IsInterruptContext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inInterrupt
}

// RunInterrupt executes fn as a second-level interrupt handler (see
// kernel/intr): flags the port as being in interrupt context for fn's
// duration. kernel/intr's Dispatch calls it without CPU Lock held; the
// handlers fn runs may acquire CPU Lock themselves, and Dispatch releases
// any CPU Lock a handler leaves held (spec.md §4.10's cooperative
// unlock-between-handlers behavior).
func (p *Port) RunInterrupt(fn func()) {
	p.mu.Lock()
	p.inInterrupt = true
	p.mu.Unlock()

	fn()

	p.mu.Lock()
	p.inInterrupt = false
	p.mu.Unlock()
}
