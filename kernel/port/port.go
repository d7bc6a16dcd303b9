// Package port holds the port-declared ABI constants of spec.md §6
// (MANAGED_INTERRUPT_PRIORITY_RANGE, MANAGED_INTERRUPT_LINES,
// CPU_LOCK_PRIORITY_MASK, STACK_ALIGN). The Port behavioral interface
// itself lives in package kernel (see kernel/port_iface.go and DESIGN.md,
// "Port interface placement") because its methods reference *kernel.TCB
// and *kernel.Kernel directly; this package is only the constant-data half
// of the Port ABI, which has no such dependency and so is free to live
// independently, the way the teacher keeps ABI-ish constants
// (GOARCH-specific sizes, alignment) in small leaf packages separate from
// the scheduler that consumes them.
package port

// Constants is one port's declared ABI constants.
type Constants struct {
	// ManagedInterruptPriorityRange is the inclusive [min, max] priority
	// range within which a line counts as "managed" (spec.md §4.10): only
	// managed interrupts may invoke kernel syscalls, and it is a
	// configuration-time error to attach a handler that is not
	// unmanaged-safe to a line outside this range.
	ManagedInterruptPriorityRange [2]int

	// ManagedInterruptLines lists the interrupt line numbers the port
	// declares as available to be configured as managed at all (some
	// hardware reserves certain lines for non-maskable or port-internal
	// use).
	ManagedInterruptLines []int

	// CPULockPriorityMask is the priority-register value CPU Lock applies
	// to mask managed interrupts; 0 on a port with no separate priority
	// register (e.g. the goroutine-backed kernel/simport, which enforces
	// CPU Lock purely via the kernel's own mutex rather than any real
	// interrupt controller).
	CPULockPriorityMask uint32

	// StackAlign is the required alignment, in bytes, of a task's stack
	// buffer.
	StackAlign uintptr
}

// Simulated returns the nominal constants used by kernel/simport. There is
// no real interrupt controller behind a goroutine-backed port, so these
// values exist purely to give kernel/intr's configuration-time validation
// (managed vs. unmanaged lines, priority range checks) something concrete
// to check tests against, the same role original_source's threading_unix.rs
// port plays for the Rust kernel's own test suite.
func Simulated() Constants {
	return Constants{
		ManagedInterruptPriorityRange: [2]int{0, 15},
		ManagedInterruptLines:         nil, // every line in range is eligible
		CPULockPriorityMask:           0,
		StackAlign:                    16,
	}
}
