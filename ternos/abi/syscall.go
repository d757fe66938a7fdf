package abi

// PtrPerms is the auxiliary permission metadata carried by a userspace
// pointer. Only the wide register encoding can represent it; the narrow
// legacy encoding keeps the address and drops the metadata.
type PtrPerms uint8

const (
	PermRead PtrPerms = 1 << iota
	PermWrite
	PermExecute
)

// Ptr is a userspace address plus its permission metadata.
type Ptr struct {
	Addr  uint32
	Perms PtrPerms
}

type returnKind uint8

const (
	kindFailure returnKind = iota
	kindFailureU32
	kindFailureU32U32
	kindFailureU64
	kindFailurePtrLen
	kindFailurePtrPtr
	kindSuccess
	kindSuccessU32
	kindSuccessU32U32
	kindSuccessU32U32U32
	kindSuccessU64
	kindSuccessU32U64
	kindSuccessPtr
	kindSuccessPtrLen
	kindSuccessPtrPtr
)

// SyscallReturn is the structured result of one system call, before it is
// lowered onto registers. The variant set is closed: construct values only
// through the functions below.
type SyscallReturn struct {
	kind returnKind
	err  ErrCode
	u0   uint32
	u1   uint32
	u2   uint32
	u64  uint64
	p0   Ptr
	p1   Ptr
}

func Failure(err ErrCode) SyscallReturn { return SyscallReturn{kind: kindFailure, err: err} }

func FailureU32(err ErrCode, v uint32) SyscallReturn {
	return SyscallReturn{kind: kindFailureU32, err: err, u0: v}
}

func FailureU32U32(err ErrCode, a, b uint32) SyscallReturn {
	return SyscallReturn{kind: kindFailureU32U32, err: err, u0: a, u1: b}
}

func FailureU64(err ErrCode, v uint64) SyscallReturn {
	return SyscallReturn{kind: kindFailureU64, err: err, u64: v}
}

// FailurePtrLen is a rejected buffer share: the buffer is handed back.
func FailurePtrLen(err ErrCode, buf Ptr, length uint32) SyscallReturn {
	return SyscallReturn{kind: kindFailurePtrLen, err: err, p0: buf, u0: length}
}

// FailurePtrPtr is a rejected subscribe: both pointers are handed back.
func FailurePtrPtr(err ErrCode, fn, data Ptr) SyscallReturn {
	return SyscallReturn{kind: kindFailurePtrPtr, err: err, p0: fn, p1: data}
}

func Success() SyscallReturn { return SyscallReturn{kind: kindSuccess} }

func SuccessU32(v uint32) SyscallReturn { return SyscallReturn{kind: kindSuccessU32, u0: v} }

func SuccessU32U32(a, b uint32) SyscallReturn {
	return SyscallReturn{kind: kindSuccessU32U32, u0: a, u1: b}
}

func SuccessU32U32U32(a, b, c uint32) SyscallReturn {
	return SyscallReturn{kind: kindSuccessU32U32U32, u0: a, u1: b, u2: c}
}

func SuccessU64(v uint64) SyscallReturn { return SyscallReturn{kind: kindSuccessU64, u64: v} }

func SuccessU32U64(a uint32, v uint64) SyscallReturn {
	return SyscallReturn{kind: kindSuccessU32U64, u0: a, u64: v}
}

func SuccessPtr(p Ptr) SyscallReturn { return SyscallReturn{kind: kindSuccessPtr, p0: p} }

// SuccessPtrLen is an accepted buffer share returning the previous buffer.
func SuccessPtrLen(buf Ptr, length uint32) SyscallReturn {
	return SyscallReturn{kind: kindSuccessPtrLen, p0: buf, u0: length}
}

// SuccessPtrPtr is an accepted subscribe returning the previous upcall.
func SuccessPtrPtr(fn, data Ptr) SyscallReturn {
	return SyscallReturn{kind: kindSuccessPtrPtr, p0: fn, p1: data}
}
