package kernel

import (
	"tern/hal"
	"tern/ternos/abi"
)

// SerialDriverID is the driver number for the debug serial port.
const SerialDriverID uint32 = 1

// Serial driver command numbers.
const (
	serialCmdExists = 0
	serialCmdWrite  = 1
)

// SerialDriver lets processes write to the board's debug port. Output
// goes through the allow buffer: share the bytes first, then command a
// write of the leading n bytes.
type SerialDriver struct {
	k    *Kernel
	port hal.Serial
}

// NewSerialDriver builds the driver and registers it with the kernel.
func NewSerialDriver(k *Kernel, port hal.Serial) *SerialDriver {
	d := &SerialDriver{k: k, port: port}
	k.RegisterDriver(SerialDriverID, d)
	return d
}

func (d *SerialDriver) Command(p *Process, cmd, a, b uint32) abi.SyscallReturn {
	_ = b
	switch cmd {
	case serialCmdExists:
		return abi.Success()

	case serialCmdWrite:
		if d.port == nil {
			return abi.Failure(abi.ErrOff)
		}
		buf, err := p.AllowedBuffer(SerialDriverID, 0)
		if err != nil {
			return abi.Failure(abi.ErrInvalid)
		}
		n := int(a)
		if n <= 0 || n > len(buf) {
			return abi.Failure(abi.ErrSize)
		}
		written, err := d.port.Write(buf[:n])
		if err != nil {
			return abi.Failure(abi.ErrFail)
		}
		return abi.SuccessU32(uint32(written))

	default:
		return abi.Failure(abi.ErrNoSupport)
	}
}
