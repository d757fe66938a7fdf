package kernel

import (
	"testing"

	"tern/ternos/abi"
)

func ipcPair(t *testing.T) (*Kernel, *IPC, *Process, *Process) {
	t.Helper()
	k := New(Config{})
	ipc := NewIPC(k)
	svc := testProcess(t, k, "svc")
	cli := testProcess(t, k, "cli")
	return k, ipc, svc, cli
}

// shareName puts a NUL-terminated service name into the caller's IPC
// allow buffer, the way userspace does before a discover command.
func shareName(t *testing.T, k *Kernel, p *Process, name string) {
	t.Helper()
	addr := p.MemStart() + 16
	size := uint32(len(name) + 1)
	ret := k.handleSyscall(p, Syscall{
		Kind: SyscallAllowReadWrite, Driver: IPCDriverID, Num: 0,
		Arg0: addr, Arg1: size,
	})
	want := abi.SuccessPtrLen(abi.Ptr{Perms: abi.PermRead | abi.PermWrite}, 0)
	if ret != want {
		t.Fatalf("allow for IPC name: %+v", ret)
	}
	buf, err := p.AllowedBuffer(IPCDriverID, 0)
	if err != nil {
		t.Fatalf("AllowedBuffer: %v", err)
	}
	copy(buf, name)
	buf[len(name)] = 0
}

func TestIPCDiscover(t *testing.T) {
	k, ipc, svc, cli := ipcPair(t)
	shareName(t, k, cli, "svc")

	ret := ipc.Command(cli, ipcCmdDiscover, 0, 0)
	if ret != abi.SuccessU32(uint32(svc.Slot())) {
		t.Fatalf("discover = %+v, want slot %d", ret, svc.Slot())
	}
}

func TestIPCDiscoverUnknownService(t *testing.T) {
	k, ipc, _, cli := ipcPair(t)
	shareName(t, k, cli, "nobody")

	if ret := ipc.Command(cli, ipcCmdDiscover, 0, 0); ret != abi.Failure(abi.ErrNoDevice) {
		t.Errorf("discover = %+v, want ErrNoDevice", ret)
	}
}

func TestIPCDiscoverWithoutAllowBuffer(t *testing.T) {
	_, ipc, _, cli := ipcPair(t)

	if ret := ipc.Command(cli, ipcCmdDiscover, 0, 0); ret != abi.Failure(abi.ErrInvalid) {
		t.Errorf("discover = %+v, want ErrInvalid", ret)
	}
}

func TestIPCNotifyDeliversTask(t *testing.T) {
	_, ipc, svc, cli := ipcPair(t)

	before := svc.PendingTasks()
	if ret := ipc.Command(cli, ipcCmdServiceNotify, uint32(svc.Slot()), 0); ret != abi.Success() {
		t.Fatalf("notify = %+v", ret)
	}
	if got := svc.PendingTasks(); got != before+1 {
		t.Fatalf("PendingTasks = %d, want %d", got, before+1)
	}

	// Drain down to the IPC task and inspect it.
	var task Task
	for {
		tk, ok := svc.DequeueTask()
		if !ok {
			t.Fatalf("IPC task never dequeued")
		}
		if tk.Kind == TaskIPC {
			task = tk
			break
		}
	}
	if task.Source != SourceDriver || task.DriverID != IPCDriverID {
		t.Errorf("task source/driver = %d/%#x", task.Source, task.DriverID)
	}
	if task.IPCCaller != cli.Slot() {
		t.Errorf("IPCCaller = %d, want %d", task.IPCCaller, cli.Slot())
	}
	if task.IPCKind != IPCService {
		t.Errorf("IPCKind = %v, want IPCService", task.IPCKind)
	}
}

func TestIPCClientNotifyKind(t *testing.T) {
	_, ipc, svc, cli := ipcPair(t)

	if ret := ipc.Command(svc, ipcCmdClientNotify, uint32(cli.Slot()), 0); ret != abi.Success() {
		t.Fatalf("notify = %+v", ret)
	}
	var found bool
	for {
		tk, ok := cli.DequeueTask()
		if !ok {
			break
		}
		if tk.Kind == TaskIPC {
			found = tk.IPCKind == IPCClientWrite && tk.IPCCaller == svc.Slot()
		}
	}
	if !found {
		t.Errorf("no client-write IPC task delivered")
	}
}

func TestIPCNotifyRejectsSelfAndBadSlot(t *testing.T) {
	_, ipc, _, cli := ipcPair(t)

	if ret := ipc.Command(cli, ipcCmdServiceNotify, uint32(cli.Slot()), 0); ret != abi.Failure(abi.ErrInvalid) {
		t.Errorf("self notify = %+v, want ErrInvalid", ret)
	}
	if ret := ipc.Command(cli, ipcCmdServiceNotify, MaxProcesses, 0); ret != abi.Failure(abi.ErrInvalid) {
		t.Errorf("bad slot notify = %+v, want ErrInvalid", ret)
	}
}

func TestIPCNotifyFullQueueDrops(t *testing.T) {
	_, ipc, svc, cli := ipcPair(t)

	for svc.PendingTasks() < taskQueueSlots {
		if !svc.EnqueueTask(Task{Kind: TaskFunctionCall, Source: SourceDriver, DriverID: 1}) {
			t.Fatalf("fill enqueue refused")
		}
	}
	// Delivery is best-effort: the overflow notify succeeds but the task
	// is dropped and counted against the target.
	if ret := ipc.Command(cli, ipcCmdServiceNotify, uint32(svc.Slot()), 0); ret != abi.Success() {
		t.Fatalf("notify on full queue = %+v", ret)
	}
	if got := svc.DroppedTasks(); got != 1 {
		t.Errorf("DroppedTasks = %d, want 1", got)
	}
}

func TestIPCNotifyInactiveTarget(t *testing.T) {
	k, ipc, svc, cli := ipcPair(t)

	k.mu.Lock()
	svc.faultLocked()
	k.mu.Unlock()

	ret := ipc.Command(cli, ipcCmdServiceNotify, uint32(svc.Slot()), 0)
	if ret != abi.Failure(abi.ErrNoMem) {
		t.Errorf("notify to faulted target = %+v, want ErrNoMem", ret)
	}
}

func TestIPCExists(t *testing.T) {
	_, ipc, _, cli := ipcPair(t)
	if ret := ipc.Command(cli, ipcCmdExists, 0, 0); ret != abi.Success() {
		t.Errorf("exists = %+v", ret)
	}
	if ret := ipc.Command(cli, 99, 0, 0); ret != abi.Failure(abi.ErrNoSupport) {
		t.Errorf("unknown command = %+v, want ErrNoSupport", ret)
	}
}
