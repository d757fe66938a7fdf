// Package abi defines the fixed, versioned system-call surface shared by
// the kernel and userspace: error codes, syscall return values, and their
// register-level encoding.
package abi

// Version of the syscall ABI implemented by this kernel. Apps declare the
// version they were built against in their KernelVersion TLV.
const (
	VersionMajor uint16 = 2
	VersionMinor uint16 = 1
)

// ErrCode is a syscall-visible error category. Zero is reserved so that
// a careless cast of a success value can never look like a valid error.
type ErrCode uint32

const (
	ErrFail        ErrCode = 1
	ErrBusy        ErrCode = 2
	ErrAlready     ErrCode = 3
	ErrOff         ErrCode = 4
	ErrReserve     ErrCode = 5
	ErrInvalid     ErrCode = 6
	ErrSize        ErrCode = 7
	ErrCancel      ErrCode = 8
	ErrNoMem       ErrCode = 9
	ErrNoSupport   ErrCode = 10
	ErrNoDevice    ErrCode = 11
	ErrUninstalled ErrCode = 12
	ErrNoAck       ErrCode = 13
)

func (c ErrCode) String() string {
	switch c {
	case ErrFail:
		return "fail"
	case ErrBusy:
		return "busy"
	case ErrAlready:
		return "already"
	case ErrOff:
		return "off"
	case ErrReserve:
		return "reserve"
	case ErrInvalid:
		return "invalid"
	case ErrSize:
		return "size"
	case ErrCancel:
		return "cancel"
	case ErrNoMem:
		return "nomem"
	case ErrNoSupport:
		return "nosupport"
	case ErrNoDevice:
		return "nodevice"
	case ErrUninstalled:
		return "uninstalled"
	case ErrNoAck:
		return "noack"
	default:
		return "unknown"
	}
}
