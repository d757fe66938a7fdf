package kernel

import (
	"errors"
	"testing"

	"tern/ternos/tbf"
)

const (
	testFlashStart = 0x00040000
	testRAMStart   = 0x20000000
	testRAMSize    = 4096
	testMinRAM     = 1024
)

func testProcess(t *testing.T, k *Kernel, name string) *Process {
	t.Helper()
	b := tbf.Builder{
		Name:       name,
		Enabled:    true,
		MinimumRAM: testMinRAM,
		Binary:     []byte{1, 2, 3, 4},
	}
	entry, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hdr, err := tbf.ParseHeader(entry)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	p, err := k.CreateProcess(ProcessConfig{
		Header:     hdr,
		Flash:      entry,
		FlashStart: testFlashStart,
		RAM:        make([]byte, testRAMSize),
		RAMStart:   testRAMStart,
		ShortID:    ShortIDLocallyUnique,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	return p
}

func TestProcessMemoryLayout(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "layout")

	if p.MemStart() != testRAMStart || p.MemEnd() != testRAMStart+testRAMSize {
		t.Errorf("mem = [%#x, %#x)", p.MemStart(), p.MemEnd())
	}
	if got := p.AppBreak(); got != testRAMStart+testMinRAM {
		t.Errorf("AppBreak = %#x, want %#x", got, testRAMStart+testMinRAM)
	}
	wantKB := uint32(testRAMStart+testRAMSize-GrantTableBytes) &^ 3
	if got := p.KernelBreak(); got != wantKB {
		t.Errorf("KernelBreak = %#x, want %#x", got, wantKB)
	}
	if p.State() != Unstarted {
		t.Errorf("State = %v, want Unstarted", p.State())
	}
	if got := p.PendingTasks(); got != 1 {
		t.Errorf("PendingTasks = %d, want 1 (init call)", got)
	}
}

func TestBrkBounds(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "brk")

	newBreak, err := p.Brk(testRAMStart + 2048)
	if err != nil || newBreak != testRAMStart+2048 {
		t.Fatalf("Brk = %#x, %v", newBreak, err)
	}
	if _, err := p.Brk(testRAMStart - 4); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("below mem: err = %v, want ErrAddressOutOfBounds", err)
	}
	if _, err := p.Brk(testRAMStart + testRAMSize); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("at memEnd: err = %v, want ErrAddressOutOfBounds", err)
	}
	if _, err := p.Brk(p.KernelBreak() + 4); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("into grants: err = %v, want ErrOutOfMemory", err)
	}

	old, err := p.SBrk(64)
	if err != nil || old != testRAMStart+2048 {
		t.Fatalf("SBrk = %#x, %v, want old break", old, err)
	}
	if got := p.AppBreak(); got != testRAMStart+2048+64 {
		t.Errorf("AppBreak after SBrk = %#x", got)
	}
}

func TestAllocGrantGrowsDown(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "grants")

	before := p.KernelBreak()
	addr, err := p.AllocGrant(64, 8)
	if err != nil {
		t.Fatalf("AllocGrant: %v", err)
	}
	if addr >= before || addr%8 != 0 {
		t.Errorf("grant at %#x, want aligned below %#x", addr, before)
	}
	if p.KernelBreak() != addr {
		t.Errorf("KernelBreak = %#x, want %#x", p.KernelBreak(), addr)
	}

	// Consume the rest; the allocator must refuse to cross the app break.
	for {
		if _, err := p.AllocGrant(256, 4); err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("err = %v, want ErrOutOfMemory", err)
			}
			break
		}
	}
	if p.KernelBreak() < p.AppBreak() {
		t.Errorf("grant region crossed the app break: %#x < %#x", p.KernelBreak(), p.AppBreak())
	}

	if !p.SetGrantPtr(0, addr) {
		t.Fatalf("SetGrantPtr failed")
	}
	if got, ok := p.GetGrantPtr(0); !ok || got != addr {
		t.Errorf("GetGrantPtr = %#x,%v", got, ok)
	}
	if _, ok := p.GetGrantPtr(numGrantPtrs); ok {
		t.Errorf("out-of-range grant ptr read succeeded")
	}
}

func TestAddMPURegionRules(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "mpu")

	if err := p.AddMPURegion(0x20000010, 64); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("misaligned base: err = %v, want ErrAddressOutOfBounds", err)
	}
	if err := p.AddMPURegion(0x20000040, 64); err != nil {
		t.Errorf("aligned region: err = %v", err)
	}
	if err := p.AddMPURegion(0x20000040, 48); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("non power of two: err = %v", err)
	}
	if err := p.AddMPURegion(0x20000100, 8); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("below minimum size: err = %v", err)
	}

	// Same base widens in place instead of taking a new slot.
	if err := p.AddMPURegion(0x20000000, 64); err != nil {
		t.Fatalf("base region: %v", err)
	}
	if err := p.AddMPURegion(0x20000000, 128); err != nil {
		t.Fatalf("widen: %v", err)
	}
	regions := p.MPURegions()
	used := 0
	for _, r := range regions {
		if r.InUse() {
			used++
			if r.Base == 0x20000000 && r.Size != 128 {
				t.Errorf("widened size = %d, want 128", r.Size)
			}
		}
	}
	if used != 2 {
		t.Errorf("regions in use = %d, want 2", used)
	}

	// Fill the table, then one more distinct base must fail.
	base := uint32(0x20001000)
	for used < MPURegionsPerProcess {
		if err := p.AddMPURegion(base, 64); err != nil {
			t.Fatalf("fill: %v", err)
		}
		base += 0x1000
		used++
	}
	if err := p.AddMPURegion(base, 64); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("full table: err = %v, want ErrOutOfMemory", err)
	}
}

func TestTaskQueueDropsWhenFull(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "queue")

	// One slot is already taken by the init call.
	for i := p.PendingTasks(); i < taskQueueSlots; i++ {
		if !p.EnqueueTask(Task{Kind: TaskFunctionCall, Source: SourceDriver, DriverID: 1}) {
			t.Fatalf("enqueue %d refused", i)
		}
	}
	if got := p.PendingTasks(); got != taskQueueSlots {
		t.Fatalf("PendingTasks = %d, want %d", got, taskQueueSlots)
	}

	// Delivery is best-effort: a full queue accepts and drops.
	if !p.EnqueueTask(Task{Kind: TaskFunctionCall, Source: SourceDriver, DriverID: 1}) {
		t.Errorf("overflow enqueue returned false")
	}
	if got := p.DroppedTasks(); got != 1 {
		t.Errorf("DroppedTasks = %d, want 1", got)
	}
	if got := p.PendingTasks(); got != taskQueueSlots {
		t.Errorf("PendingTasks after drop = %d, want %d", got, taskQueueSlots)
	}
	if got := k.WorkCount(); got != taskQueueSlots {
		t.Errorf("WorkCount = %d, want %d", got, taskQueueSlots)
	}
}

func TestRemovePendingUpcallsKeepsOrder(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "upcalls")

	// Drain the init call so only driver tasks remain.
	if _, ok := p.DequeueTask(); !ok {
		t.Fatalf("no init task")
	}

	for _, id := range []uint32{1, 2, 1, 3} {
		p.EnqueueTask(Task{Kind: TaskFunctionCall, Source: SourceDriver, DriverID: id, Args: [4]uint32{id}})
	}
	if got := p.RemovePendingUpcalls(1); got != 2 {
		t.Fatalf("removed = %d, want 2", got)
	}
	var order []uint32
	for {
		task, ok := p.DequeueTask()
		if !ok {
			break
		}
		order = append(order, task.DriverID)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 3 {
		t.Errorf("surviving order = %v, want [2 3]", order)
	}
	if got := k.WorkCount(); got != 0 {
		t.Errorf("WorkCount = %d, want 0", got)
	}
}

func TestStopResume(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "stop")

	// Park it in Yielded through the scheduler-visible path.
	k.mu.Lock()
	p.startLocked()
	k.mu.Unlock()
	p.SetYieldedState()

	p.Stop()
	if p.State() != StoppedYielded {
		t.Fatalf("State = %v, want StoppedYielded", p.State())
	}
	// A stopped process is suspended, not dead: it still accepts work.
	if !p.Active() {
		t.Errorf("stopped process reports inactive")
	}
	p.Resume()
	if p.State() != Yielded {
		t.Errorf("State after Resume = %v, want Yielded", p.State())
	}
}

func TestFaultedProcessRefusesWork(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "faulted")

	k.mu.Lock()
	p.faultLocked()
	k.mu.Unlock()

	if p.State() != Faulted {
		t.Fatalf("State = %v, want Faulted", p.State())
	}
	if p.Active() {
		t.Errorf("faulted process reports active")
	}
	if got := p.PendingTasks(); got != 0 {
		t.Errorf("PendingTasks = %d, want 0 after flush", got)
	}
	if got := k.WorkCount(); got != 0 {
		t.Errorf("WorkCount = %d, want 0 after flush", got)
	}
	if p.EnqueueTask(Task{Kind: TaskFunctionCall, Source: SourceDriver, DriverID: 1}) {
		t.Errorf("enqueue to faulted process succeeded")
	}
	if _, err := p.Brk(testRAMStart + 512); !errors.Is(err, ErrInactiveProcess) {
		t.Errorf("Brk on faulted: err = %v, want ErrInactiveProcess", err)
	}
}

func TestAllowedSliceBounds(t *testing.T) {
	k := New(Config{})
	p := testProcess(t, k, "allow")

	buf, err := p.AllowedSlice(testRAMStart+16, 32)
	if err != nil || len(buf) != 32 {
		t.Fatalf("AllowedSlice = %d bytes, %v", len(buf), err)
	}
	if _, err := p.AllowedSlice(p.AppBreak()-8, 16); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("crossing app break: err = %v", err)
	}
	if _, err := p.AllowedSlice(0xFFFFFFF0, 0x20); !errors.Is(err, ErrAddressOutOfBounds) {
		t.Errorf("address overflow: err = %v", err)
	}
}

func TestProcessTableIsMonotonic(t *testing.T) {
	k := New(Config{})
	for i := 0; i < MaxProcesses; i++ {
		p := testProcess(t, k, "app")
		if p.Slot() != i {
			t.Fatalf("slot = %d, want %d", p.Slot(), i)
		}
	}
	b := tbf.Builder{Name: "extra", Enabled: true, MinimumRAM: testMinRAM, Binary: []byte{1}}
	entry, _ := b.Build()
	hdr, _ := tbf.ParseHeader(entry)
	_, err := k.CreateProcess(ProcessConfig{
		Header: hdr, Flash: entry, FlashStart: testFlashStart,
		RAM: make([]byte, testRAMSize), RAMStart: testRAMStart,
	})
	if !errors.Is(err, ErrTableFull) {
		t.Fatalf("err = %v, want ErrTableFull", err)
	}
}
