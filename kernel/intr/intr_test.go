package intr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3-os/r3-sub001/kernel"
	"github.com/r3-os/r3-sub001/kernel/intr"
	"github.com/r3-os/r3-sub001/kernel/port"
)

// simulatedPriorityRange is the overall priority range tests validate
// set_priority/AddHandler against; kernel/simport has no real interrupt
// controller, so this is simply a wide enough range to exercise both
// managed and unmanaged lines.
var simulatedPriorityRange = [2]int{0, 15}

// fakeRunner stands in for a Port, recording whether handlers ran under
// RunInterrupt and letting tests assert on CPU-Lock state transitions
// during Dispatch without spinning up a real goroutine-backed kernel.
type fakeRunner struct {
	ranInterrupt bool
}

func (r *fakeRunner) RunInterrupt(fn func()) {
	r.ranInterrupt = true
	fn()
}

func newTable(t *testing.T, numLines int, managedRange, priorityRange [2]int) (*intr.Table, *kernel.Kernel, *fakeRunner) {
	t.Helper()
	k := kernel.New(4, panicPort{}, nil)
	r := &fakeRunner{}
	return intr.NewTable(k, r, numLines, managedRange, priorityRange), k, r
}

// panicPort is a kernel.Port that never expects to be called: every test
// here only exercises intr.Table operations and direct kernel CPU-Lock
// calls, never real task dispatch.
type panicPort struct{}

func (panicPort) InitializeTaskState(*kernel.TCB) {}
func (panicPort) DispatchFirstTask(*kernel.TCB)   { panic("panicPort: DispatchFirstTask called") }
func (panicPort) Resume(*kernel.TCB)              {}
func (panicPort) Block(*kernel.TCB)               { panic("panicPort: Block called") }
func (panicPort) ExitCurrentTask(*kernel.TCB)     {}
func (panicPort) IsTaskContext() bool             { return true }
func (panicPort) IsInterruptContext() bool        { return false }

func TestSetLinePriorityRejectsOutOfRangeLineAndPriority(t *testing.T) {
	tbl, _, _ := newTable(t, 2, [2]int{0, 3}, port.Simulated().ManagedInterruptPriorityRange)

	err := tbl.SetLinePriority(2, 1)
	require.Error(t, err)
	var kerr *kernel.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kernel.BadParam, kerr.Kind)

	err = tbl.SetLinePriority(0, 16)
	require.Error(t, err)
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kernel.BadParam, kerr.Kind)
}

func TestAddHandlerRejectsUnsafeHandlerOnUnmanagedLine(t *testing.T) {
	tbl, _, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	require.NoError(t, tbl.SetLinePriority(0, 10)) // outside the managed range [0,3]

	err := tbl.AddHandler(0, 0, false, func() {})
	require.Error(t, err)
	var kerr *kernel.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kernel.BadParam, kerr.Kind)

	// An unmanaged-safe handler is fine on the same line.
	require.NoError(t, tbl.AddHandler(0, 0, true, func() {}))
}

func TestAddHandlerAcceptsAnyHandlerOnManagedLine(t *testing.T) {
	tbl, _, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	require.NoError(t, tbl.SetLinePriority(0, 2)) // inside [0,3]
	require.NoError(t, tbl.AddHandler(0, 0, false, func() {}))
}

func TestConfigurationMethodsPanicAfterBuild(t *testing.T) {
	tbl, _, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	tbl.Build()

	assert.Panics(t, func() { _ = tbl.SetLinePriority(0, 1) })
	assert.Panics(t, func() { _ = tbl.SetLineEnabledAtConfig(0, true) })
	assert.Panics(t, func() { _ = tbl.AddHandler(0, 0, true, func() {}) })
}

func TestBuildOrdersHandlersByIncreasingPriorityWithinALine(t *testing.T) {
	tbl, _, r := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	require.NoError(t, tbl.SetLinePriority(0, 1))
	require.NoError(t, tbl.SetLineEnabledAtConfig(0, true))

	var order []int
	require.NoError(t, tbl.AddHandler(0, 5, true, func() { order = append(order, 5) }))
	require.NoError(t, tbl.AddHandler(0, 1, true, func() { order = append(order, 1) }))
	require.NoError(t, tbl.AddHandler(0, 3, true, func() { order = append(order, 3) }))
	tbl.Build()

	require.NoError(t, tbl.Dispatch(0))
	assert.Equal(t, []int{1, 3, 5}, order)
	assert.True(t, r.ranInterrupt)
}

func TestDispatchIsNoOpOnDisabledLine(t *testing.T) {
	tbl, _, r := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	require.NoError(t, tbl.SetLinePriority(0, 1))
	ran := false
	require.NoError(t, tbl.AddHandler(0, 0, true, func() { ran = true }))
	tbl.Build()

	// Never enabled (SetLineEnabledAtConfig defaults to false).
	require.NoError(t, tbl.Dispatch(0))
	assert.False(t, ran)
	assert.False(t, r.ranInterrupt)
}

func TestDispatchClearsPendingAndReleasesCPULockBetweenHandlers(t *testing.T) {
	tbl, k, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)
	require.NoError(t, tbl.SetLinePriority(0, 1))
	require.NoError(t, tbl.SetLineEnabledAtConfig(0, true))
	require.NoError(t, tbl.Pend(0))

	var lockActiveDuringSecond bool
	require.NoError(t, tbl.AddHandler(0, 0, true, func() {
		require.NoError(t, k.AcquireCPULock())
	}))
	require.NoError(t, tbl.AddHandler(0, 1, true, func() {
		lockActiveDuringSecond = k.IsCPULockActive()
	}))
	tbl.Build()

	require.NoError(t, tbl.Dispatch(0))

	// The first handler's CPU Lock must have been released before the
	// second handler ran, and again before Dispatch returned.
	assert.False(t, lockActiveDuringSecond)
	assert.False(t, k.IsCPULockActive())

	pending, err := tbl.IsPending(0)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestEnableDisablePendClearIsPendingRoundTrip(t *testing.T) {
	tbl, _, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)

	require.NoError(t, tbl.Enable(0))
	require.NoError(t, tbl.Pend(0))
	pending, err := tbl.IsPending(0)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, tbl.Clear(0))
	pending, err = tbl.IsPending(0)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, tbl.Disable(0))
}

func TestLineOperationsRejectOutOfRangeLine(t *testing.T) {
	tbl, _, _ := newTable(t, 1, [2]int{0, 3}, simulatedPriorityRange)

	for _, op := range []func() error{
		func() error { return tbl.Enable(5) },
		func() error { return tbl.Disable(5) },
		func() error { return tbl.SetPriority(5, 0) },
		func() error { return tbl.Pend(5) },
		func() error { return tbl.Clear(5) },
		func() error { _, err := tbl.IsPending(5); return err },
		func() error { return tbl.Dispatch(5) },
	} {
		err := op()
		require.Error(t, err)
		var kerr *kernel.Error
		require.ErrorAs(t, err, &kerr)
		assert.Equal(t, kernel.BadParam, kerr.Kind)
	}
}
