// Package intr is the second-level interrupt dispatch table of spec.md
// §4.10: a dense, per-line array of combined handlers resolved entirely at
// configuration time, with runtime line operations (enable, disable,
// set_priority, pend, clear, is_pending) layered on top.
package intr

import (
	"sort"
	"sync"

	"github.com/r3-os/r3-sub001/kernel"
)

// runner is the subset of kernel/simport.Port this package needs: a way to
// mark the calling goroutine as running in interrupt context for the
// duration of a dispatch. Declared locally (rather than imported from
// simport) so intr does not depend on any specific Port implementation.
type runner interface {
	RunInterrupt(fn func())
}

// handlerSpec is one second-level handler attached to a line at
// configuration time.
type handlerSpec struct {
	priority      int
	unmanagedSafe bool
	fn            func()
}

type lineState struct {
	priority int // -1: never configured
	enabled  bool
	pending  bool

	handlers []handlerSpec // configuration-time accumulator
	combined []func()      // sorted by priority, frozen at Build()
}

// Table is the combined handler table for one port's interrupt lines.
// Configuration-time methods (SetLinePriority, AddHandler) must all run
// before Build(); Build() freezes the per-line handler order the way
// spec.md §4.10 requires ("All handlers are resolved at configuration
// time; there is no runtime registration").
type Table struct {
	k      *kernel.Kernel
	run    runner
	mu     sync.Mutex
	lines  []*lineState
	built  bool

	managedMin, managedMax   int // port-declared managed priority range, inclusive
	priorityMin, priorityMax int // overall valid priority range for set_priority
}

// NewTable constructs a table with numLines lines, none configured. The
// managed range and overall priority range mirror the port-declared
// constants MANAGED_INTERRUPT_PRIORITY_RANGE and the port's general
// priority range from spec.md §6.
func NewTable(k *kernel.Kernel, run runner, numLines int, managedRange, priorityRange [2]int) *Table {
	lines := make([]*lineState, numLines)
	for i := range lines {
		lines[i] = &lineState{priority: -1}
	}
	return &Table{
		k: k, run: run, lines: lines,
		managedMin: managedRange[0], managedMax: managedRange[1],
		priorityMin: priorityRange[0], priorityMax: priorityRange[1],
	}
}

func (t *Table) validLine(line int) bool { return line >= 0 && line < len(t.lines) }

func badParam(op, context string) error {
	return &kernel.Error{Op: op, Kind: kernel.BadParam, Context: context}
}

// SetLinePriority sets a line's priority (configuration-time; a line's
// managed-ness is derived from this value against the managed range).
func (t *Table) SetLinePriority(line, priority int) error {
	if t.built {
		panic("intr: table already built; line configuration is immutable")
	}
	if !t.validLine(line) {
		return badParam("intr.set_line_priority", "line out of range")
	}
	if priority < t.priorityMin || priority > t.priorityMax {
		return badParam("intr.set_line_priority", "priority out of range")
	}
	t.lines[line].priority = priority
	return nil
}

// SetLineEnabledAtConfig sets a line's initial enable state at configuration
// time (distinct from the runtime Enable/Disable operations below, though
// both ultimately flip the same flag).
func (t *Table) SetLineEnabledAtConfig(line int, enabled bool) error {
	if t.built {
		panic("intr: table already built; line configuration is immutable")
	}
	if !t.validLine(line) {
		return badParam("intr.set_line_enabled", "line out of range")
	}
	t.lines[line].enabled = enabled
	return nil
}

func (t *Table) managed(ls *lineState) bool {
	return ls.priority >= t.managedMin && ls.priority <= t.managedMax
}

// AddHandler attaches a second-level handler to line, at the given
// per-handler priority (lower fires first within the line, per spec.md
// §4.10's "order of increasing per-handler priority"). It is a
// configuration-time error to attach a handler that is not unmanagedSafe to
// a line whose priority falls outside the managed range.
func (t *Table) AddHandler(line, priority int, unmanagedSafe bool, fn func()) error {
	if t.built {
		panic("intr: table already built; handler attachment is configuration-time only")
	}
	if !t.validLine(line) {
		return badParam("intr.add_handler", "line out of range")
	}
	ls := t.lines[line]
	if !t.managed(ls) && !unmanagedSafe {
		return badParam("intr.add_handler", "handler is not unmanaged-safe but line is unmanaged")
	}
	ls.handlers = append(ls.handlers, handlerSpec{priority: priority, unmanagedSafe: unmanagedSafe, fn: fn})
	return nil
}

// Build freezes every line's handler order. Must be called once, after all
// AddHandler/SetLinePriority calls and before the table is used to dispatch
// or serve runtime line operations that matter (Enable/Disable/etc. work
// either way, but Dispatch before Build would run against an empty combined
// slice for every line).
func (t *Table) Build() {
	for _, ls := range t.lines {
		sort.SliceStable(ls.handlers, func(i, j int) bool {
			return ls.handlers[i].priority < ls.handlers[j].priority
		})
		ls.combined = make([]func(), len(ls.handlers))
		for i, h := range ls.handlers {
			ls.combined[i] = h.fn
		}
	}
	t.built = true
}

// Enable implements spec.md §4.10's enable line operation.
func (t *Table) Enable(line int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return badParam("intr.enable", "line out of range")
	}
	t.lines[line].enabled = true
	return nil
}

// Disable implements the disable line operation.
func (t *Table) Disable(line int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return badParam("intr.disable", "line out of range")
	}
	t.lines[line].enabled = false
	return nil
}

// SetPriority implements the runtime set_priority line operation (distinct
// from configuration-time SetLinePriority only in that it may run after
// Build; the validation is identical).
func (t *Table) SetPriority(line, priority int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return badParam("intr.set_priority", "line out of range")
	}
	if priority < t.priorityMin || priority > t.priorityMax {
		return badParam("intr.set_priority", "priority out of range")
	}
	t.lines[line].priority = priority
	return nil
}

// Pend implements the pend line operation: marks the line pending, as if
// the hardware had asserted it.
func (t *Table) Pend(line int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return badParam("intr.pend", "line out of range")
	}
	t.lines[line].pending = true
	return nil
}

// Clear implements the clear line operation.
func (t *Table) Clear(line int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return badParam("intr.clear", "line out of range")
	}
	t.lines[line].pending = false
	return nil
}

// IsPending implements the is_pending line operation.
func (t *Table) IsPending(line int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLine(line) {
		return false, badParam("intr.is_pending", "line out of range")
	}
	return t.lines[line].pending, nil
}

// Dispatch runs line's combined handler chain, simulating the first-level
// handler's upcall into the second-level table. A disabled line is
// tolerated as a no-op rather than an error, since Dispatch's caller here
// is a test harness standing in for hardware, not application code subject
// to the line-operations' BadParam contract. An enabled line runs its
// handlers whether or not it is pending, and its pending flag is cleared.
//
// Handlers run via the bound runner's RunInterrupt, which flags the calling
// goroutine as interrupt context; the cooperative-unlock rule of spec.md
// §4.10 is implemented literally: if the handler that just ran left CPU
// Lock active, it is released before the next handler (or before Dispatch
// returns, for the last one), creating the interrupt's natural preemption
// window. The check uses CPULockActiveInDispatch, which reads the
// AcquireCPULock flag without touching the kernel's mutex, so the handler's
// lock left held on this very goroutine is inspected without re-locking.
func (t *Table) Dispatch(line int) error {
	if !t.validLine(line) {
		return badParam("intr.dispatch", "line out of range")
	}
	t.mu.Lock()
	ls := t.lines[line]
	if !ls.enabled {
		t.mu.Unlock()
		return nil
	}
	ls.pending = false
	handlers := ls.combined
	t.mu.Unlock()

	t.run.RunInterrupt(func() {
		for i, h := range handlers {
			h()
			if i != len(handlers)-1 && t.k.CPULockActiveInDispatch() {
				_ = t.k.ReleaseCPULock()
			}
		}
		if t.k.CPULockActiveInDispatch() {
			_ = t.k.ReleaseCPULock()
		}
	})
	return nil
}
