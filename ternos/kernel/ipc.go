package kernel

import "tern/ternos/abi"

// IPCDriverID is the driver number processes use to reach IPC.
const IPCDriverID uint32 = 0x10000

// IPC command numbers.
const (
	ipcCmdExists        = 0
	ipcCmdDiscover      = 1
	ipcCmdServiceNotify = 2
	ipcCmdClientNotify  = 3
)

// IPC is the inter-process notification driver. A service is any loaded
// process; clients discover one by package name (shared through the
// allow buffer) and the two sides then wake each other with notify
// commands, delivered as IPC tasks.
type IPC struct {
	k *Kernel
}

// NewIPC builds the driver and registers it with the kernel.
func NewIPC(k *Kernel) *IPC {
	ipc := &IPC{k: k}
	k.RegisterDriver(IPCDriverID, ipc)
	return ipc
}

func (ipc *IPC) Command(p *Process, cmd, a, b uint32) abi.SyscallReturn {
	_ = b
	switch cmd {
	case ipcCmdExists:
		return abi.Success()

	case ipcCmdDiscover:
		buf, err := p.AllowedBuffer(IPCDriverID, 0)
		if err != nil {
			return abi.Failure(abi.ErrInvalid)
		}
		name := string(trimZero(buf))
		slot, ok := ipc.lookup(name)
		if !ok {
			return abi.Failure(abi.ErrNoDevice)
		}
		return abi.SuccessU32(uint32(slot))

	case ipcCmdServiceNotify:
		return ipc.notify(p, int(a), IPCService)

	case ipcCmdClientNotify:
		return ipc.notify(p, int(a), IPCClientWrite)

	default:
		return abi.Failure(abi.ErrNoSupport)
	}
}

// lookup finds a live process by package name.
func (ipc *IPC) lookup(name string) (int, bool) {
	slot := -1
	ipc.k.ForEachProcess(func(p *Process) {
		if slot < 0 && p.Name() == name && p.Active() {
			slot = p.Slot()
		}
	})
	return slot, slot >= 0
}

// notify wakes the process in the target slot with an IPC task naming
// the caller.
func (ipc *IPC) notify(caller *Process, slot int, kind IPCKind) abi.SyscallReturn {
	target, ok := ipc.k.Process(slot)
	if !ok || target.Slot() == caller.Slot() {
		return abi.Failure(abi.ErrInvalid)
	}
	t := Task{
		Kind:      TaskIPC,
		Source:    SourceDriver,
		DriverID:  IPCDriverID,
		IPCCaller: caller.Slot(),
		IPCKind:   kind,
	}
	if !target.EnqueueTask(t) {
		return abi.Failure(abi.ErrNoMem)
	}
	return abi.Success()
}

// trimZero cuts a NUL-padded name buffer down to the name.
func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
