package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3-os/r3-sub001/kernel"
	"github.com/r3-os/r3-sub001/kernel/cfg"
)

func TestBuildRejectsDuplicateNamesAcrossEveryKind(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 0, Entry: func(uintptr) {}})
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 1, Entry: func(uintptr) {}})
	b.AddMutex(cfg.MutexSpec{Name: "m"})
	b.AddMutex(cfg.MutexSpec{Name: "m"})
	b.AddSemaphore(cfg.SemaphoreSpec{Name: "s", Max: 1})
	b.AddSemaphore(cfg.SemaphoreSpec{Name: "s", Max: 1})
	b.AddEventGroup(cfg.EventGroupSpec{Name: "e"})
	b.AddEventGroup(cfg.EventGroupSpec{Name: "e"})
	b.AddTimer(cfg.TimerSpec{Name: "tm"})
	b.AddTimer(cfg.TimerSpec{Name: "tm"})

	_, err := b.Build()
	require.Error(t, err)
	for _, want := range []string{
		`task "t" specified twice`,
		`mutex "m" specified twice`,
		`semaphore "s" specified twice`,
		`event group "e" specified twice`,
		`timer "tm" specified twice`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBuildRejectsPriorityLevelsOutOfRange(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(0)
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_task_priority_levels")
}

func TestBuildRejectsSettingPriorityLevelsTwice(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.SetNumTaskPriorityLevels(8)
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specified twice")
}

func TestBuildRejectsTaskPriorityOutOfConfiguredRange(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 4, Entry: func(uintptr) {}})
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `task "t" priority 4 out of range`)
}

func TestBuildRejectsTaskWithNoEntry(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 0})
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `task "t" has no entry point`)
}

func TestBuildRejectsSemaphoreInitialAboveMax(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.AddSemaphore(cfg.SemaphoreSpec{Name: "s", Initial: 2, Max: 1})
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `initial value exceeds max`)
}

func TestBuildAccumulatesEveryErrorInOnePass(t *testing.T) {
	var b cfg.Builder
	// Neither SetNumTaskPriorityLevels nor a valid task is supplied.
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: -1})
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_task_priority_levels was never specified")
	assert.Contains(t, err.Error(), `task "t" priority -1 out of range`)
	assert.Contains(t, err.Error(), `task "t" has no entry point`)
}

// fakePort is a kernel.Port whose Block panics; New() below neither boots
// nor blocks anything, so it only ever reaches InitializeTaskState (from
// auto-activation).
type fakePort struct{}

func (fakePort) InitializeTaskState(*kernel.TCB) {}
func (fakePort) DispatchFirstTask(*kernel.TCB)   {}
func (fakePort) Resume(*kernel.TCB)              {}
func (fakePort) Block(*kernel.TCB)               { panic("fakePort: Block called") }
func (fakePort) ExitCurrentTask(*kernel.TCB)     {}
func (fakePort) IsTaskContext() bool             { return true }
func (fakePort) IsInterruptContext() bool        { return false }

func TestConfigNewWiresEveryObjectAndAutoActivates(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	ceiling := 1
	period := kernel.Duration(100)
	delay := kernel.Duration(50)
	hookRan := false

	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 0, Entry: func(uintptr) {}, AutoActivate: true})
	b.AddMutex(cfg.MutexSpec{Name: "m", Ceiling: &ceiling})
	b.AddSemaphore(cfg.SemaphoreSpec{Name: "s", Initial: 1, Max: 1, Order: kernel.FIFO})
	b.AddEventGroup(cfg.EventGroupSpec{Name: "e", Initial: 0, Order: kernel.TaskPriority})
	b.AddTimer(cfg.TimerSpec{Name: "tm", Delay: &delay, Period: &period, Active: true, Callback: func() {}})
	b.AddStartupHook(func() { hookRan = true })

	c, err := b.Build()
	require.NoError(t, err)

	built, err := c.New(fakePort{}, nil)
	require.NoError(t, err)

	assert.True(t, hookRan)
	require.Contains(t, built.Tasks, "t")
	require.Contains(t, built.Mutexes, "m")
	require.Contains(t, built.Semaphores, "s")
	require.Contains(t, built.EventGroups, "e")
	require.Contains(t, built.Timers, "tm")

	assert.Equal(t, kernel.Ready, built.Tasks["t"].State())
	assert.True(t, built.Timers["tm"].IsActive())
}

func TestConfigNewAutoActivatedTaskRejectsSecondActivate(t *testing.T) {
	var b cfg.Builder
	b.SetNumTaskPriorityLevels(4)
	b.AddTask(cfg.TaskSpec{Name: "t", Priority: 0, Entry: func(uintptr) {}, AutoActivate: true})
	c, err := b.Build()
	require.NoError(t, err)

	built, err := c.New(fakePort{}, nil)
	require.NoError(t, err)
	// New's own Activate call has already succeeded once, so the task is
	// Ready; activating it a second time is QueueOverflow, the kind of error
	// New wraps and returns when an auto-activation fails.
	err = built.Tasks["t"].Activate()
	require.Error(t, err)
}
