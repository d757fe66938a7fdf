package kernel

import (
	"testing"

	"tern/ternos/abi"
)

type recordSerial struct {
	written []byte
}

func (s *recordSerial) Read(p []byte) (int, error) { return 0, nil }

func (s *recordSerial) Write(p []byte) (int, error) {
	s.written = append(s.written, p...)
	return len(p), nil
}

func TestSerialDriverWrite(t *testing.T) {
	k := New(Config{})
	port := &recordSerial{}
	drv := NewSerialDriver(k, port)
	p := testProcess(t, k, "writer")

	if ret := drv.Command(p, serialCmdExists, 0, 0); ret != abi.Success() {
		t.Fatalf("exists = %+v", ret)
	}

	// No buffer shared yet.
	if ret := drv.Command(p, serialCmdWrite, 4, 0); ret != abi.Failure(abi.ErrInvalid) {
		t.Fatalf("write without allow = %+v, want ErrInvalid", ret)
	}

	addr := p.MemStart() + 8
	ret := k.handleSyscall(p, Syscall{
		Kind: SyscallAllowReadWrite, Driver: SerialDriverID, Num: 0,
		Arg0: addr, Arg1: 16,
	})
	want := abi.SuccessPtrLen(abi.Ptr{Perms: abi.PermRead | abi.PermWrite}, 0)
	if ret != want {
		t.Fatalf("allow = %+v", ret)
	}
	buf, err := p.AllowedBuffer(SerialDriverID, 0)
	if err != nil {
		t.Fatalf("AllowedBuffer: %v", err)
	}
	copy(buf, "hello")

	if ret := drv.Command(p, serialCmdWrite, 5, 0); ret != abi.SuccessU32(5) {
		t.Fatalf("write = %+v", ret)
	}
	if string(port.written) != "hello" {
		t.Errorf("port got %q", port.written)
	}

	// Lengths past the shared buffer are refused.
	if ret := drv.Command(p, serialCmdWrite, 17, 0); ret != abi.Failure(abi.ErrSize) {
		t.Errorf("oversized write = %+v, want ErrSize", ret)
	}
}

func TestSerialDriverNoPort(t *testing.T) {
	k := New(Config{})
	drv := NewSerialDriver(k, nil)
	p := testProcess(t, k, "writer")

	if ret := drv.Command(p, serialCmdWrite, 1, 0); ret != abi.Failure(abi.ErrOff) {
		t.Errorf("write with no port = %+v, want ErrOff", ret)
	}
}
