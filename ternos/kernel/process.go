package kernel

import (
	"errors"
	"fmt"

	"tern/ternos/abi"
	"tern/ternos/tbf"
)

// Process-level operation errors. These are recoverable at process or
// syscall granularity and map onto syscall error codes at the ABI edge.
var (
	ErrOutOfMemory        = errors.New("kernel: out of memory")
	ErrAddressOutOfBounds = errors.New("kernel: address out of bounds")
	ErrInactiveProcess    = errors.New("kernel: process is not active")
	ErrTableFull          = errors.New("kernel: process table is full")
)

// State is the process lifecycle state. Transitions follow a fixed table:
// Unstarted -> Running <-> Yielded, Running/Yielded <-> Stopped*, and any
// state -> Faulted. Faulted is terminal unless the fault policy restarts
// the process back to Unstarted.
type State uint8

const (
	Unstarted State = iota
	Running
	Yielded
	StoppedRunning
	StoppedYielded
	Faulted
	StoppedFaulted
	Terminated
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case StoppedRunning:
		return "stopped(running)"
	case StoppedYielded:
		return "stopped(yielded)"
	case Faulted:
		return "faulted"
	case StoppedFaulted:
		return "stopped(faulted)"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// active reports whether the process can still accept work. Faulted,
// stopped-faulted and terminated processes are dead weight in the table.
func (s State) active() bool {
	switch s {
	case Faulted, StoppedFaulted, Terminated:
		return false
	default:
		return true
	}
}

const (
	// numGrantPtrs is the per-driver grant pointer table size carved from
	// the top of process RAM at creation.
	numGrantPtrs = 8
	grantPtrSize = 4

	// GrantTableBytes is the amount of RAM the grant pointer table costs a
	// process on top of its requested minimum.
	GrantTableBytes = numGrantPtrs * grantPtrSize

	// maxUpcalls and maxAllows bound the per-process subscription and
	// shared-buffer tables.
	maxUpcalls = 8
	maxAllows  = 8
)

type upcallSlot struct {
	used   bool
	driver uint32
	sub    uint32
	fn     abi.Ptr
	data   abi.Ptr
}

type allowSlot struct {
	used   bool
	driver uint32
	num    uint32
	addr   uint32
	size   uint32
}

// ProcessConfig carries everything the loader decided about one accepted
// binary.
type ProcessConfig struct {
	Header     *tbf.Header
	Flash      []byte // the whole TBF entry, header included
	FlashStart uint32 // load address of Flash[0]
	RAM        []byte // the process-owned memory arena
	RAMStart   uint32 // address of RAM[0]
	Credential *tbf.Credential
	ShortID    ShortID
}

// Process owns one loaded application: its flash and RAM extents, break
// pointers, MPU region table, pending task queue, and lifecycle state.
// All memory access goes through bounds-checked offsets into the owned
// RAM slice; addresses are plain integers, never dereferenced.
type Process struct {
	k    *Kernel
	slot int

	header     *tbf.Header
	name       string
	flash      []byte
	flashStart uint32
	credential *tbf.Credential
	shortID    ShortID

	ram      []byte
	memStart uint32
	memEnd   uint32

	// Break addresses. Invariant: memStart <= appBreak <= kernelBreak
	// <= memEnd. The area between the breaks is the kernel-owned grant
	// region; it never overlaps app memory.
	appBreak    uint32
	kernelBreak uint32
	grantPtrs   [numGrantPtrs]uint32

	mpuRegions [MPURegionsPerProcess]MPURegion

	upcalls [maxUpcalls]upcallSlot
	allows  [maxAllows]allowSlot

	tasks taskQueue
	state State

	restartCount uint32
	droppedTasks uint32
	syscallCount uint64
}

func newProcess(k *Kernel, slot int, cfg ProcessConfig) (*Process, error) {
	p := &Process{
		k:          k,
		slot:       slot,
		header:     cfg.Header,
		name:       cfg.Header.Name(),
		flash:      cfg.Flash,
		flashStart: cfg.FlashStart,
		credential: cfg.Credential,
		shortID:    cfg.ShortID,
		ram:        cfg.RAM,
		memStart:   cfg.RAMStart,
		memEnd:     cfg.RAMStart + uint32(len(cfg.RAM)),
	}
	if err := p.layoutMemory(); err != nil {
		return nil, err
	}
	p.enqueueInitTask()
	return p, nil
}

// layoutMemory establishes the initial break layout: the grant pointer
// table is carved from the top of RAM and the app break covers the RAM
// the binary asked for.
func (p *Process) layoutMemory() error {
	size := p.memEnd - p.memStart
	if size < numGrantPtrs*grantPtrSize {
		return fmt.Errorf("%w: %d byte arena cannot hold the grant table", ErrOutOfMemory, size)
	}
	kernelBreak := (p.memEnd - numGrantPtrs*grantPtrSize) &^ (grantPtrSize - 1)
	appBreak := p.memStart + p.header.MinimumRAM()
	if appBreak < p.memStart || appBreak > kernelBreak {
		return fmt.Errorf("%w: app needs %d bytes, %d available",
			ErrOutOfMemory, p.header.MinimumRAM(), kernelBreak-p.memStart)
	}
	p.appBreak = appBreak
	p.kernelBreak = kernelBreak
	p.grantPtrs = [numGrantPtrs]uint32{}
	return nil
}

// enqueueInitTask registers the kernel-sourced call to the app entry
// point. The four arguments are the app's flash and RAM extents.
func (p *Process) enqueueInitTask() {
	pc, ok := p.header.InitOffset()
	if !ok {
		return
	}
	t := Task{
		Kind:   TaskFunctionCall,
		Source: SourceKernel,
		PC:     p.flashStart + uint32(p.header.HeaderSize) + pc,
		Args: [4]uint32{
			p.flashStart,
			uint32(len(p.flash)),
			p.memStart,
			p.memEnd - p.memStart,
		},
	}
	if p.tasks.push(t) {
		p.k.incrementWork()
	}
}

// Slot returns the process table index, assigned once per boot.
func (p *Process) Slot() int { return p.slot }

// Name returns the package name from the TBF header.
func (p *Process) Name() string { return p.name }

// ShortID returns the protection-domain identity assigned at load time.
func (p *Process) ShortID() ShortID { return p.shortID }

// Credential returns the accepted credential, or nil if the process was
// loaded without one.
func (p *Process) Credential() *tbf.Credential { return p.credential }

// Header returns the parsed TBF header backing this process.
func (p *Process) Header() *tbf.Header { return p.header }

// FlashStart returns the load address of the TBF entry.
func (p *Process) FlashStart() uint32 { return p.flashStart }

// MemStart returns the first address of process RAM.
func (p *Process) MemStart() uint32 { return p.memStart }

// MemEnd returns the first address past process RAM.
func (p *Process) MemEnd() uint32 { return p.memEnd }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.state
}

// Active reports whether the process can still accept tasks.
func (p *Process) Active() bool {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.state.active()
}

// RestartCount returns how many times the fault policy restarted this
// process.
func (p *Process) RestartCount() uint32 {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.restartCount
}

// DroppedTasks returns how many upcalls were discarded on a full queue.
func (p *Process) DroppedTasks() uint32 {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.droppedTasks
}

// SyscallCount returns how many syscalls the process has issued.
func (p *Process) SyscallCount() uint64 {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.syscallCount
}

// PendingTasks returns the queued upcall count.
func (p *Process) PendingTasks() int {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.tasks.len()
}

// EnqueueTask queues an upcall for delivery before the next switch to
// this process. It reports false if the process is inactive. A full queue
// silently drops the task and counts the drop: acceptance is best-effort,
// not a delivery guarantee.
func (p *Process) EnqueueTask(t Task) bool {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.enqueueTaskLocked(t)
}

func (p *Process) enqueueTaskLocked(t Task) bool {
	if !p.state.active() {
		return false
	}
	if !p.tasks.push(t) {
		p.droppedTasks++
		return true
	}
	p.k.incrementWork()
	return true
}

// DequeueTask pops the oldest pending upcall.
func (p *Process) DequeueTask() (Task, bool) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.dequeueTaskLocked()
}

func (p *Process) dequeueTaskLocked() (Task, bool) {
	t, ok := p.tasks.pop()
	if ok {
		p.k.decrementWork()
	}
	return t, ok
}

// RemovePendingUpcalls drops every queued driver call for the given
// driver, keeping the order of the remaining tasks and every
// kernel-sourced call. Drivers call this when a process unsubscribes.
func (p *Process) RemovePendingUpcalls(driverID uint32) int {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.removePendingUpcallsLocked(driverID)
}

func (p *Process) removePendingUpcallsLocked(driverID uint32) int {
	removed := p.tasks.removeIf(func(t Task) bool {
		return t.Kind == TaskFunctionCall && t.Source == SourceDriver && t.DriverID == driverID
	})
	for i := 0; i < removed; i++ {
		p.k.decrementWork()
	}
	return removed
}

// setStateLocked moves the process to a new state and keeps the work
// counter consistent: entering Running increments it exactly once,
// leaving Running decrements it exactly once.
func (p *Process) setStateLocked(s State) {
	if p.state == s {
		return
	}
	if p.state == Running && s != Running {
		p.k.decrementWork()
	}
	if p.state != Running && s == Running {
		p.k.incrementWork()
	}
	p.state = s
}

// SetYieldedState parks a running process until its next upcall.
func (p *Process) SetYieldedState() {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if p.state == Running {
		p.setStateLocked(Yielded)
	}
}

// Stop suspends the process at kernel request. The pre-stop state is
// preserved so Resume can restore it.
func (p *Process) Stop() {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	switch p.state {
	case Running:
		p.setStateLocked(StoppedRunning)
	case Yielded:
		p.setStateLocked(StoppedYielded)
	case Faulted:
		p.setStateLocked(StoppedFaulted)
	}
}

// Resume undoes a Stop.
func (p *Process) Resume() {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	switch p.state {
	case StoppedRunning:
		p.setStateLocked(Running)
	case StoppedYielded:
		p.setStateLocked(Yielded)
	case StoppedFaulted:
		p.setStateLocked(Faulted)
	}
}

// start moves an unstarted process to Running for its first switch.
func (p *Process) startLocked() {
	if p.state == Unstarted {
		p.setStateLocked(Running)
	}
}

// Brk moves the app memory break to an absolute address. It fails with
// ErrAddressOutOfBounds outside [memStart, memEnd) and with
// ErrOutOfMemory if the new break would cross into the grant region.
// On success it returns the new break.
func (p *Process) Brk(addr uint32) (uint32, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if !p.state.active() {
		return 0, ErrInactiveProcess
	}
	if addr < p.memStart || addr >= p.memEnd {
		return 0, ErrAddressOutOfBounds
	}
	if addr > p.kernelBreak {
		return 0, ErrOutOfMemory
	}
	p.appBreak = addr
	return addr, nil
}

// SBrk adjusts the app break by a signed delta and returns the previous
// break.
func (p *Process) SBrk(delta int32) (uint32, error) {
	p.k.mu.Lock()
	old := p.appBreak
	p.k.mu.Unlock()
	target := uint32(int64(old) + int64(delta))
	if _, err := p.Brk(target); err != nil {
		return 0, err
	}
	return old, nil
}

// AppBreak returns the current app memory break.
func (p *Process) AppBreak() uint32 {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.appBreak
}

// KernelBreak returns the bottom of the kernel-owned grant region.
func (p *Process) KernelBreak() uint32 {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.kernelBreak
}

// AllocGrant carves size bytes, aligned to align, from the top of the
// grant region. The grant region grows downward and never crosses the app
// break: that separation is the memory-safety invariant the MPU enforces
// at runtime.
func (p *Process) AllocGrant(size, align uint32) (uint32, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if !p.state.active() {
		return 0, ErrInactiveProcess
	}
	if align == 0 || align&(align-1) != 0 {
		align = grantPtrSize
	}
	if size > p.kernelBreak-p.memStart {
		return 0, ErrOutOfMemory
	}
	newBreak := (p.kernelBreak - size) &^ (align - 1)
	if newBreak < p.appBreak {
		return 0, ErrOutOfMemory
	}
	p.kernelBreak = newBreak
	return newBreak, nil
}

// GetGrantPtr reads a slot of the grant pointer table. Zero means the
// grant has not been allocated.
func (p *Process) GetGrantPtr(i int) (uint32, bool) {
	if i < 0 || i >= numGrantPtrs {
		return 0, false
	}
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.grantPtrs[i], true
}

// SetGrantPtr writes a slot of the grant pointer table.
func (p *Process) SetGrantPtr(i int, addr uint32) bool {
	if i < 0 || i >= numGrantPtrs {
		return false
	}
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	p.grantPtrs[i] = addr
	return true
}

// AddMPURegion requests an extra protection window. The size must be a
// power of two of at least MinMPURegionSize with the base aligned to it.
// A request matching an existing base widens that region to the larger
// size. Invalid requests are rejected with no side effects.
func (p *Process) AddMPURegion(base, size uint32) error {
	if !validMPURegion(base, size) {
		return ErrAddressOutOfBounds
	}
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	free := -1
	for i := range p.mpuRegions {
		r := &p.mpuRegions[i]
		if !r.InUse() {
			if free < 0 {
				free = i
			}
			continue
		}
		if r.Base == base {
			if size > r.Size {
				r.Size = size
			}
			return nil
		}
	}
	if free < 0 {
		return ErrOutOfMemory
	}
	p.mpuRegions[free] = MPURegion{Base: base, Size: size}
	return nil
}

// MPURegions returns a snapshot of the extra region table.
func (p *Process) MPURegions() [MPURegionsPerProcess]MPURegion {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.mpuRegions
}

// AllowedSlice bounds-checks a userspace buffer share and returns the
// backing bytes. The buffer must lie entirely inside app-owned memory,
// below the app break. Drivers touch process memory only through this.
func (p *Process) AllowedSlice(addr, size uint32) ([]byte, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.allowedSliceLocked(addr, size)
}

func (p *Process) allowedSliceLocked(addr, size uint32) ([]byte, error) {
	end := addr + size
	if end < addr {
		return nil, ErrAddressOutOfBounds
	}
	if addr < p.memStart || end > p.appBreak {
		return nil, ErrAddressOutOfBounds
	}
	off := addr - p.memStart
	return p.ram[off : off+size], nil
}

// flushTasksLocked empties the queue, giving back the work counted at
// enqueue. Pending work for a dead process is no longer work.
func (p *Process) flushTasksLocked() {
	for {
		if _, ok := p.tasks.pop(); !ok {
			break
		}
		p.k.decrementWork()
	}
}

// fault marks the process faulted. The caller (the kernel loop) applies
// the fault policy afterwards.
func (p *Process) faultLocked() {
	p.setStateLocked(Faulted)
	p.flushTasksLocked()
}

// restart resets the process to a clean Unstarted image: fresh break
// layout, cleared tables, zeroed RAM, and the initial entry-point task
// queued again.
func (p *Process) restartLocked() error {
	p.flushTasksLocked()
	for i := range p.ram {
		p.ram[i] = 0
	}
	p.mpuRegions = [MPURegionsPerProcess]MPURegion{}
	p.upcalls = [maxUpcalls]upcallSlot{}
	p.allows = [maxAllows]allowSlot{}
	if err := p.layoutMemory(); err != nil {
		return err
	}
	p.restartCount++
	p.setStateLocked(Unstarted)
	p.enqueueInitTask()
	return nil
}

// setUpcall records a subscription, returning the previous one.
func (p *Process) setUpcallLocked(driver, sub uint32, fn, data abi.Ptr) (abi.Ptr, abi.Ptr, bool) {
	free := -1
	for i := range p.upcalls {
		u := &p.upcalls[i]
		if !u.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if u.driver == driver && u.sub == sub {
			prevFn, prevData := u.fn, u.data
			u.fn, u.data = fn, data
			return prevFn, prevData, true
		}
	}
	if free < 0 {
		return abi.Ptr{}, abi.Ptr{}, false
	}
	p.upcalls[free] = upcallSlot{used: true, driver: driver, sub: sub, fn: fn, data: data}
	return abi.Ptr{}, abi.Ptr{}, true
}

// setAllow records a shared buffer, returning the previous one.
// AllowedBuffer returns the buffer a process currently shares with a
// driver, re-validated against the current break.
func (p *Process) AllowedBuffer(driver, num uint32) ([]byte, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	for i := range p.allows {
		a := &p.allows[i]
		if a.used && a.driver == driver && a.num == num && a.size > 0 {
			return p.allowedSliceLocked(a.addr, a.size)
		}
	}
	return nil, ErrAddressOutOfBounds
}

func (p *Process) setAllowLocked(driver, num, addr, size uint32) (uint32, uint32, bool) {
	free := -1
	for i := range p.allows {
		a := &p.allows[i]
		if !a.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if a.driver == driver && a.num == num {
			prevAddr, prevSize := a.addr, a.size
			a.addr, a.size = addr, size
			return prevAddr, prevSize, true
		}
	}
	if free < 0 {
		return 0, 0, false
	}
	p.allows[free] = allowSlot{used: true, driver: driver, num: num, addr: addr, size: size}
	return 0, 0, true
}
