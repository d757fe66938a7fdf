package kernel

import "tern/ternos/abi"

// SyscallKind selects the system call a process trapped with.
type SyscallKind uint8

const (
	SyscallYield SyscallKind = iota
	SyscallSubscribe
	SyscallCommand
	SyscallAllowReadWrite
	SyscallBrk
	SyscallSBrk
	SyscallExit
)

// Syscall is the decoded trap payload. Field meaning depends on Kind:
// Subscribe uses Driver, Num, Ptr0 (upcall fn), Ptr1 (app data);
// Command uses Driver, Num, Arg0, Arg1;
// AllowReadWrite uses Driver, Num, Arg0 (address), Arg1 (length);
// Brk uses Arg0 (new break); SBrk uses Arg0 as a signed delta;
// Exit uses Arg0 (completion code).
type Syscall struct {
	Kind   SyscallKind
	Driver uint32
	Num    uint32
	Arg0   uint32
	Arg1   uint32
	Ptr0   abi.Ptr
	Ptr1   abi.Ptr
}

// TrapKind describes why control came back from userspace.
type TrapKind uint8

const (
	// TrapSyscall is a voluntary trap carrying a Syscall.
	TrapSyscall TrapKind = iota
	// TrapFault is a hardware protection violation.
	TrapFault
	// TrapTimesliceExpired is an involuntary preemption; the process
	// still has work and stays Running.
	TrapTimesliceExpired
)

// Trap is the result of running a process until it stops running.
type Trap struct {
	Kind    TrapKind
	Syscall Syscall
}

// Boundary abstracts the architecture-specific switch into userspace.
// Switch resumes the process, delivering task (if non-nil) first, and
// blocks until the process traps back. Return delivers an encoded syscall
// result and keeps the process running until the next trap.
type Boundary interface {
	Switch(p *Process, task *Task) Trap
	Return(p *Process, regs [4]uint32) Trap
}

// Driver is the capsule-side boundary: kernel-resident services reached
// through the Command syscall. Drivers interact with process memory only
// through AllowedSlice and schedule upcalls only through EnqueueTask.
type Driver interface {
	Command(p *Process, cmd, a, b uint32) abi.SyscallReturn
}

// handleSyscall services one non-yield, non-exit syscall and produces the
// structured return value for the ABI encoder.
func (k *Kernel) handleSyscall(p *Process, sc Syscall) abi.SyscallReturn {
	switch sc.Kind {
	case SyscallBrk:
		newBreak, err := p.Brk(sc.Arg0)
		if err != nil {
			return abi.Failure(brkErrCode(err))
		}
		return abi.SuccessPtr(abi.Ptr{Addr: newBreak, Perms: abi.PermRead | abi.PermWrite})

	case SyscallSBrk:
		old, err := p.SBrk(int32(sc.Arg0))
		if err != nil {
			return abi.Failure(brkErrCode(err))
		}
		return abi.SuccessPtr(abi.Ptr{Addr: old, Perms: abi.PermRead | abi.PermWrite})

	case SyscallSubscribe:
		k.mu.Lock()
		prevFn, prevData, ok := p.setUpcallLocked(sc.Driver, sc.Num, sc.Ptr0, sc.Ptr1)
		k.mu.Unlock()
		if !ok {
			return abi.FailurePtrPtr(abi.ErrNoMem, sc.Ptr0, sc.Ptr1)
		}
		if sc.Ptr0.Addr == 0 {
			// Null upcall is an unsubscribe: flush calls already queued
			// for this driver so none are delivered after the swap.
			p.RemovePendingUpcalls(sc.Driver)
		}
		return abi.SuccessPtrPtr(prevFn, prevData)

	case SyscallAllowReadWrite:
		buf := abi.Ptr{Addr: sc.Arg0, Perms: abi.PermRead | abi.PermWrite}
		if sc.Arg0 != 0 || sc.Arg1 != 0 {
			if _, err := p.AllowedSlice(sc.Arg0, sc.Arg1); err != nil {
				return abi.FailurePtrLen(abi.ErrInvalid, buf, sc.Arg1)
			}
		}
		k.mu.Lock()
		prevAddr, prevSize, ok := p.setAllowLocked(sc.Driver, sc.Num, sc.Arg0, sc.Arg1)
		k.mu.Unlock()
		if !ok {
			return abi.FailurePtrLen(abi.ErrNoMem, buf, sc.Arg1)
		}
		return abi.SuccessPtrLen(abi.Ptr{Addr: prevAddr, Perms: abi.PermRead | abi.PermWrite}, prevSize)

	case SyscallCommand:
		k.mu.Lock()
		d := k.drivers[sc.Driver]
		k.mu.Unlock()
		if d == nil {
			return abi.Failure(abi.ErrNoDevice)
		}
		return d.Command(p, sc.Num, sc.Arg0, sc.Arg1)

	default:
		return abi.Failure(abi.ErrNoSupport)
	}
}

func brkErrCode(err error) abi.ErrCode {
	switch err {
	case ErrOutOfMemory:
		return abi.ErrNoMem
	case ErrAddressOutOfBounds:
		return abi.ErrInvalid
	case ErrInactiveProcess:
		return abi.ErrOff
	default:
		return abi.ErrFail
	}
}
