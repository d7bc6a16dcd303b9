package kernel

// fakePort is a minimal Port for unit tests that only exercise non-blocking
// code paths: it never actually suspends a goroutine, so any test that
// reaches Block has a bug in its own setup (it would hang against a real
// port too) rather than a kernel bug, and panicking here surfaces that
// immediately instead of deadlocking the test binary.
type fakePort struct{}

func (fakePort) InitializeTaskState(t *TCB)  {}
func (fakePort) DispatchFirstTask(t *TCB)    {}
func (fakePort) Resume(t *TCB)               {}
func (fakePort) ExitCurrentTask(t *TCB)      {}
func (fakePort) IsTaskContext() bool         { return true }
func (fakePort) IsInterruptContext() bool    { return false }
func (fakePort) Block(t *TCB) {
	panic("fakePort: Block called; this test should only exercise non-blocking paths")
}

func newTestKernel(numPriorities int) *Kernel {
	return New(numPriorities, fakePort{}, nil)
}
