// Package cfg is the configuration-time interface of spec.md §6: a
// declarative description of task/mutex/semaphore/event-group/timer
// attributes and startup hooks, validated once at Build() and then handed
// to the kernel as immutable tables. The static configuration compiler
// proper (code generation, trap-vector wiring, the hunk-pool sizing) is an
// external collaborator per spec.md §1 ("Deliberately out of scope"); this
// package is the minimal slice of that interface the kernel core actually
// consumes, expressed as a builder rather than a generated DSL (see
// SPEC_FULL.md, "Configuration").
package cfg

import (
	"fmt"

	"github.com/r3-os/r3-sub001/kernel"
	"github.com/r3-os/r3-sub001/kernel/klog"
)

// maxPriorityLevels bounds NumTaskPriorityLevels the way spec.md §6
// requires: "beyond the bitmap capacity is a configuration-time error". A
// single []uint64 bitmap word array is capped here at 1024 words (65536
// levels), comfortably above the spec's N <= 2^15 (spec.md §3).
const maxPriorityLevels = 1 << 16

// TaskSpec describes one task's static configuration (spec.md §6:
// "per-task attributes: entry, param, stack, initial priority,
// auto-activate").
type TaskSpec struct {
	Name          string
	Priority      int
	Entry         func(param uintptr)
	Param         uintptr
	Stack         []byte
	AutoActivate  bool
}

// MutexSpec describes one mutex's static configuration.
type MutexSpec struct {
	Name    string
	Ceiling *int // nil: no protocol
}

// SemaphoreSpec describes one semaphore's static configuration.
type SemaphoreSpec struct {
	Name    string
	Initial uint32
	Max     uint32
	Order   kernel.QueueOrder
}

// EventGroupSpec describes one event group's static configuration.
type EventGroupSpec struct {
	Name    string
	Initial uint32
	Order   kernel.QueueOrder
}

// TimerSpec describes one timer's static configuration.
type TimerSpec struct {
	Name     string
	Delay    *kernel.Duration
	Period   *kernel.Duration
	Active   bool
	Callback func()
}

// Builder accumulates configuration-time declarations. The zero value is
// ready to use.
type Builder struct {
	numPriorityLevels int
	numPrioritiesSet  bool

	tasks        []TaskSpec
	taskNames    map[string]bool
	mutexes      []MutexSpec
	mutexNames   map[string]bool
	semaphores   []SemaphoreSpec
	semNames     map[string]bool
	eventGroups  []EventGroupSpec
	egNames      map[string]bool
	timers       []TimerSpec
	timerNames   map[string]bool
	startupHooks []func()

	errs []error
}

// SetNumTaskPriorityLevels sets N (spec.md §3's priority range 0..N).
// Calling it twice, or with a value below 1 or above maxPriorityLevels, is
// a configuration-time error surfaced from Build().
func (b *Builder) SetNumTaskPriorityLevels(n int) *Builder {
	if b.numPrioritiesSet {
		b.errs = append(b.errs, fmt.Errorf("cfg: num_task_priority_levels specified twice"))
		return b
	}
	b.numPrioritiesSet = true
	b.numPriorityLevels = n
	if n <= 0 || n > maxPriorityLevels {
		b.errs = append(b.errs, fmt.Errorf("cfg: num_task_priority_levels %d out of range (1..%d)", n, maxPriorityLevels))
	}
	return b
}

// AddTask declares a task. Specifying the same Name twice is a
// configuration-time error.
func (b *Builder) AddTask(t TaskSpec) *Builder {
	if b.taskNames == nil {
		b.taskNames = make(map[string]bool)
	}
	if b.taskNames[t.Name] {
		b.errs = append(b.errs, fmt.Errorf("cfg: task %q specified twice", t.Name))
		return b
	}
	b.taskNames[t.Name] = true
	b.tasks = append(b.tasks, t)
	return b
}

// AddMutex declares a mutex.
func (b *Builder) AddMutex(m MutexSpec) *Builder {
	if b.mutexNames == nil {
		b.mutexNames = make(map[string]bool)
	}
	if b.mutexNames[m.Name] {
		b.errs = append(b.errs, fmt.Errorf("cfg: mutex %q specified twice", m.Name))
		return b
	}
	b.mutexNames[m.Name] = true
	b.mutexes = append(b.mutexes, m)
	return b
}

// AddSemaphore declares a semaphore.
func (b *Builder) AddSemaphore(s SemaphoreSpec) *Builder {
	if b.semNames == nil {
		b.semNames = make(map[string]bool)
	}
	if b.semNames[s.Name] {
		b.errs = append(b.errs, fmt.Errorf("cfg: semaphore %q specified twice", s.Name))
		return b
	}
	if s.Initial > s.Max {
		b.errs = append(b.errs, fmt.Errorf("cfg: semaphore %q initial value exceeds max", s.Name))
	}
	b.semNames[s.Name] = true
	b.semaphores = append(b.semaphores, s)
	return b
}

// AddEventGroup declares an event group.
func (b *Builder) AddEventGroup(e EventGroupSpec) *Builder {
	if b.egNames == nil {
		b.egNames = make(map[string]bool)
	}
	if b.egNames[e.Name] {
		b.errs = append(b.errs, fmt.Errorf("cfg: event group %q specified twice", e.Name))
		return b
	}
	b.egNames[e.Name] = true
	b.eventGroups = append(b.eventGroups, e)
	return b
}

// AddTimer declares a timer.
func (b *Builder) AddTimer(t TimerSpec) *Builder {
	if b.timerNames == nil {
		b.timerNames = make(map[string]bool)
	}
	if b.timerNames[t.Name] {
		b.errs = append(b.errs, fmt.Errorf("cfg: timer %q specified twice", t.Name))
		return b
	}
	b.timerNames[t.Name] = true
	b.timers = append(b.timers, t)
	return b
}

// AddStartupHook registers a hook run once, in registration order, after
// every object above has been constructed but before Boot.
func (b *Builder) AddStartupHook(fn func()) *Builder {
	b.startupHooks = append(b.startupHooks, fn)
	return b
}

// Config is the immutable result of a successful Build(). Its zero value is
// not meaningful; only Builder.Build() produces one.
type Config struct {
	numPriorityLevels int
	tasks             []TaskSpec
	mutexes           []MutexSpec
	semaphores        []SemaphoreSpec
	eventGroups       []EventGroupSpec
	timers            []TimerSpec
	startupHooks      []func()
}

// Build validates the accumulated declarations and, if valid, returns an
// immutable Config. Errors accumulate across every Add* call (rather than
// failing fast) so a single Build() reports every configuration-time
// mistake at once, the way a real configuration compiler would emit every
// diagnostic in one pass (spec.md §9: "must reject ill-formed
// configurations with a precise diagnostic before any runtime code runs").
func (b *Builder) Build() (*Config, error) {
	if !b.numPrioritiesSet {
		b.errs = append(b.errs, fmt.Errorf("cfg: num_task_priority_levels was never specified"))
	}
	for _, t := range b.tasks {
		if t.Priority < 0 || (b.numPrioritiesSet && t.Priority >= b.numPriorityLevels) {
			b.errs = append(b.errs, fmt.Errorf("cfg: task %q priority %d out of range", t.Name, t.Priority))
		}
		if t.Entry == nil {
			b.errs = append(b.errs, fmt.Errorf("cfg: task %q has no entry point", t.Name))
		}
	}
	if len(b.errs) > 0 {
		return nil, errJoin(b.errs)
	}
	return &Config{
		numPriorityLevels: b.numPriorityLevels,
		tasks:             append([]TaskSpec(nil), b.tasks...),
		mutexes:           append([]MutexSpec(nil), b.mutexes...),
		semaphores:        append([]SemaphoreSpec(nil), b.semaphores...),
		eventGroups:       append([]EventGroupSpec(nil), b.eventGroups...),
		timers:            append([]TimerSpec(nil), b.timers...),
		startupHooks:      append([]func()(nil), b.startupHooks...),
	}, nil
}

// Built is the set of live kernel objects produced from a Config, keyed by
// the names given at configuration time.
type Built struct {
	Kernel      *kernel.Kernel
	Tasks       map[string]*kernel.TCB
	Mutexes     map[string]*kernel.Mutex
	Semaphores  map[string]*kernel.Semaphore
	EventGroups map[string]*kernel.EventGroup
	Timers      map[string]*kernel.Timer
}

// New constructs a Kernel and every configured object from c, runs startup
// hooks, and activates every task marked AutoActivate. It does not call
// Boot; the caller decides when to hand control to the port.
func (c *Config) New(port kernel.Port, log klog.Logger) (*Built, error) {
	k := kernel.New(c.numPriorityLevels, port, log)

	built := &Built{
		Kernel:      k,
		Tasks:       make(map[string]*kernel.TCB, len(c.tasks)),
		Mutexes:     make(map[string]*kernel.Mutex, len(c.mutexes)),
		Semaphores:  make(map[string]*kernel.Semaphore, len(c.semaphores)),
		EventGroups: make(map[string]*kernel.EventGroup, len(c.eventGroups)),
		Timers:      make(map[string]*kernel.Timer, len(c.timers)),
	}

	for _, ts := range c.tasks {
		t := k.NewTask(ts.Name, ts.Priority, ts.Entry, ts.Param, ts.Stack)
		built.Tasks[ts.Name] = t
	}
	for _, ms := range c.mutexes {
		var opts []kernel.MutexOption
		if ms.Ceiling != nil {
			opts = append(opts, kernel.WithCeiling(*ms.Ceiling))
		}
		built.Mutexes[ms.Name] = kernel.NewMutex(k, opts...)
	}
	for _, ss := range c.semaphores {
		built.Semaphores[ss.Name] = kernel.NewSemaphore(k, ss.Initial, ss.Max, ss.Order)
	}
	for _, es := range c.eventGroups {
		built.EventGroups[es.Name] = kernel.NewEventGroup(k, es.Initial, es.Order)
	}
	for _, tms := range c.timers {
		tm := kernel.NewTimer(k, tms.Callback)
		if tms.Period != nil {
			tm.SetPeriod(tms.Period)
		}
		if tms.Active && tms.Delay != nil {
			tm.Start(*tms.Delay)
		}
		built.Timers[tms.Name] = tm
	}

	for _, hook := range c.startupHooks {
		k.RunBootHook(hook)
	}

	for _, ts := range c.tasks {
		if ts.AutoActivate {
			if err := built.Tasks[ts.Name].Activate(); err != nil {
				return nil, fmt.Errorf("cfg: auto-activating %q: %w", ts.Name, err)
			}
		}
	}

	return built, nil
}

func errJoin(errs []error) error {
	msg := fmt.Sprintf("%d configuration error(s):", len(errs))
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
