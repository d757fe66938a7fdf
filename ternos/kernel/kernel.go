// Package kernel implements the process lifecycle core: the global
// process table, per-process task queues, the work counter driving the
// idle decision, and the cooperative loop that hands the core to one
// process at a time.
package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"tern/hal"
	"tern/ternos/abi"
)

// MaxProcesses is the capacity of the global process table. Slot indexes
// are assigned monotonically per boot and never reused.
const MaxProcesses = 8

// Config wires the kernel's collaborators at boot.
type Config struct {
	Boundary    Boundary
	Logger      hal.Logger
	FaultPolicy FaultPolicy
}

// Kernel is the boot-created context object owning all core-wide mutable
// state. Exactly one kernel loop runs per core; producers in interrupt
// context (drivers, timers) only touch the task queues and the work
// counter, both guarded here.
type Kernel struct {
	mu       sync.Mutex
	procs    [MaxProcesses]*Process
	nextSlot int
	rr       int

	// work counts running processes plus queued tasks. Every enqueue or
	// transition into Running increments exactly once; every dequeue or
	// transition out of Running decrements exactly once. Zero means the
	// core can sleep.
	work atomic.Int32

	drivers  map[uint32]Driver
	deferred []func()

	boundary Boundary
	logger   hal.Logger
	faults   FaultPolicy
}

// New creates a kernel instance. A nil fault policy panics the kernel on
// any process fault.
func New(cfg Config) *Kernel {
	k := &Kernel{
		boundary: cfg.Boundary,
		logger:   cfg.Logger,
		faults:   cfg.FaultPolicy,
		drivers:  make(map[uint32]Driver),
	}
	if k.faults == nil {
		k.faults = PanicFaultPolicy{}
	}
	return k
}

// RegisterDriver makes a driver reachable through the Command syscall.
func (k *Kernel) RegisterDriver(id uint32, d Driver) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.drivers[id] = d
}

// CreateProcess builds a process from an accepted binary and installs it
// at the next free table slot. A full table returns ErrTableFull; the
// caller treats that as "stop loading", not a boot failure.
func (k *Kernel) CreateProcess(cfg ProcessConfig) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.nextSlot >= MaxProcesses {
		return nil, ErrTableFull
	}
	slot := k.nextSlot
	p, err := newProcess(k, slot, cfg)
	if err != nil {
		return nil, err
	}
	k.nextSlot++
	k.procs[slot] = p
	return p, nil
}

// Process returns the table entry at a slot.
func (k *Kernel) Process(slot int) (*Process, bool) {
	if slot < 0 || slot >= MaxProcesses {
		return nil, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	p := k.procs[slot]
	return p, p != nil
}

// NumProcesses returns how many table slots are occupied.
func (k *Kernel) NumProcesses() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nextSlot
}

// ForEachProcess visits every live process in slot order.
func (k *Kernel) ForEachProcess(fn func(*Process)) {
	for i := 0; i < MaxProcesses; i++ {
		k.mu.Lock()
		p := k.procs[i]
		k.mu.Unlock()
		if p != nil {
			fn(p)
		}
	}
}

// WorkCount returns running processes plus queued tasks.
func (k *Kernel) WorkCount() int { return int(k.work.Load()) }

// HasWork reports whether the core has anything to do; false means the
// scheduler may sleep until the next interrupt.
func (k *Kernel) HasWork() bool { return k.work.Load() > 0 }

func (k *Kernel) incrementWork() { k.work.Add(1) }

func (k *Kernel) decrementWork() {
	if k.work.Add(-1) < 0 {
		Panicf("work counter underflow")
	}
}

// Defer queues fn to run on the kernel loop before the next scheduling
// pass. Asynchronous engines use this to deliver completion callbacks in
// kernel context.
func (k *Kernel) Defer(fn func()) {
	k.mu.Lock()
	k.deferred = append(k.deferred, fn)
	k.mu.Unlock()
}

func (k *Kernel) drainDeferred() bool {
	k.mu.Lock()
	pending := k.deferred
	k.deferred = nil
	k.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return len(pending) > 0
}

// Step performs one scheduling pass: deferred callbacks first, then at
// most one process is given the core until it yields, faults, exits, or
// is preempted. It reports whether anything ran.
func (k *Kernel) Step() bool {
	ran := k.drainDeferred()

	for i := 0; i < MaxProcesses; i++ {
		slot := (k.rr + i) % MaxProcesses
		k.mu.Lock()
		p := k.procs[slot]
		schedulable := p != nil && k.schedulableLocked(p)
		k.mu.Unlock()
		if !schedulable {
			continue
		}
		k.rr = (slot + 1) % MaxProcesses
		k.runProcess(p)
		return true
	}
	return ran
}

func (k *Kernel) schedulableLocked(p *Process) bool {
	switch p.state {
	case Running:
		return true
	case Unstarted, Yielded:
		return p.tasks.len() > 0
	default:
		return false
	}
}

// runProcess drains one task to the process and services its traps until
// it stops running. This is the only place the core is handed to
// userspace, so the queue is drained (one task per switch) right before
// the switch, as the contract requires.
func (k *Kernel) runProcess(p *Process) {
	if k.boundary == nil {
		return
	}

	k.mu.Lock()
	var task *Task
	switch p.state {
	case Unstarted:
		if t, ok := p.dequeueTaskLocked(); ok {
			task = &t
		}
		p.startLocked()
	case Yielded:
		t, ok := p.dequeueTaskLocked()
		if !ok {
			k.mu.Unlock()
			return
		}
		task = &t
		p.setStateLocked(Running)
	case Running:
		// Resuming after preemption; nothing to deliver.
	default:
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	trap := k.boundary.Switch(p, task)
	for {
		switch trap.Kind {
		case TrapFault:
			k.handleFault(p)
			return

		case TrapTimesliceExpired:
			// Still Running; the next pass picks it up again.
			return

		case TrapSyscall:
			sc := trap.Syscall
			k.mu.Lock()
			p.syscallCount++
			k.mu.Unlock()

			switch sc.Kind {
			case SyscallYield:
				p.SetYieldedState()
				return
			case SyscallExit:
				k.mu.Lock()
				p.setStateLocked(Terminated)
				p.flushTasksLocked()
				k.mu.Unlock()
				k.logf("process %s exited with code %d", p.Name(), sc.Arg0)
				return
			default:
				ret := k.handleSyscall(p, sc)
				var regs [4]uint32
				abi.EncodeTRD104(ret, &regs)
				trap = k.boundary.Return(p, regs)
			}

		default:
			return
		}
	}
}

// handleFault applies the configured fault policy to a freshly faulted
// process.
func (k *Kernel) handleFault(p *Process) {
	k.mu.Lock()
	p.faultLocked()
	k.mu.Unlock()

	switch k.faults.Action(p) {
	case FaultActionPanic:
		Panicf("process %s faulted", p.Name())
	case FaultActionRestart:
		k.mu.Lock()
		err := p.restartLocked()
		k.mu.Unlock()
		if err != nil {
			k.logf("process %s: restart failed: %v", p.Name(), err)
			return
		}
		k.logf("process %s restarted (%d total)", p.Name(), p.RestartCount())
	case FaultActionStop:
		p.Stop()
		k.logf("process %s stopped after fault", p.Name())
	}
}

func (k *Kernel) logf(format string, args ...any) {
	if k.logger == nil {
		return
	}
	k.logger.WriteLineString("kernel: " + fmt.Sprintf(format, args...))
}
