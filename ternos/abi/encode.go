package abi

// Variant tags written to register 0. Two namespaces share the failure/
// success split at 128: the narrow legacy set (TRD104) stops at
// SuccessU32U64, the wide set adds pointer-carrying variants.
const (
	tagFailure       uint32 = 0
	tagFailureU32    uint32 = 1
	tagFailureU32U32 uint32 = 2
	tagFailureU64    uint32 = 3
	tagFailurePtrLen uint32 = 4
	tagFailurePtrPtr uint32 = 5

	tagSuccess          uint32 = 128
	tagSuccessU32       uint32 = 129
	tagSuccessU32U32    uint32 = 130
	tagSuccessU64       uint32 = 131
	tagSuccessU32U32U32 uint32 = 132
	tagSuccessU32U64    uint32 = 133
	tagSuccessPtr       uint32 = 134
	tagSuccessPtrLen    uint32 = 135
	tagSuccessPtrPtr    uint32 = 136
)

// Encode32 lowers a return value onto four 32-bit registers using the wide
// tag namespace. 64-bit values are split low word first. 32-bit registers
// cannot carry pointer permission metadata, so pointers lower to their
// bare addresses. Total: every variant encodes, nothing panics.
func Encode32(r SyscallReturn, regs *[4]uint32) {
	*regs = [4]uint32{}
	switch r.kind {
	case kindFailure:
		regs[0] = tagFailure
		regs[1] = uint32(r.err)
	case kindFailureU32:
		regs[0] = tagFailureU32
		regs[1] = uint32(r.err)
		regs[2] = r.u0
	case kindFailureU32U32:
		regs[0] = tagFailureU32U32
		regs[1] = uint32(r.err)
		regs[2] = r.u0
		regs[3] = r.u1
	case kindFailureU64:
		regs[0] = tagFailureU64
		regs[1] = uint32(r.err)
		regs[2] = uint32(r.u64)
		regs[3] = uint32(r.u64 >> 32)
	case kindFailurePtrLen:
		regs[0] = tagFailurePtrLen
		regs[1] = uint32(r.err)
		regs[2] = r.p0.Addr
		regs[3] = r.u0
	case kindFailurePtrPtr:
		regs[0] = tagFailurePtrPtr
		regs[1] = uint32(r.err)
		regs[2] = r.p0.Addr
		regs[3] = r.p1.Addr
	case kindSuccess:
		regs[0] = tagSuccess
	case kindSuccessU32:
		regs[0] = tagSuccessU32
		regs[1] = r.u0
	case kindSuccessU32U32:
		regs[0] = tagSuccessU32U32
		regs[1] = r.u0
		regs[2] = r.u1
	case kindSuccessU32U32U32:
		regs[0] = tagSuccessU32U32U32
		regs[1] = r.u0
		regs[2] = r.u1
		regs[3] = r.u2
	case kindSuccessU64:
		regs[0] = tagSuccessU64
		regs[1] = uint32(r.u64)
		regs[2] = uint32(r.u64 >> 32)
	case kindSuccessU32U64:
		regs[0] = tagSuccessU32U64
		regs[1] = r.u0
		regs[2] = uint32(r.u64)
		regs[3] = uint32(r.u64 >> 32)
	case kindSuccessPtr:
		regs[0] = tagSuccessPtr
		regs[1] = r.p0.Addr
	case kindSuccessPtrLen:
		regs[0] = tagSuccessPtrLen
		regs[1] = r.p0.Addr
		regs[2] = r.u0
	case kindSuccessPtrPtr:
		regs[0] = tagSuccessPtrPtr
		regs[1] = r.p0.Addr
		regs[2] = r.p1.Addr
	}
}

// EncodeTRD104 lowers a return value onto four 32-bit registers using only
// the narrow legacy tag namespace. Wide-only variants degrade to their
// integer shapes: addresses and lengths are preserved exactly, only the
// pointer permission metadata is dropped.
func EncodeTRD104(r SyscallReturn, regs *[4]uint32) {
	switch r.kind {
	case kindFailurePtrLen:
		Encode32(FailureU32U32(r.err, r.p0.Addr, r.u0), regs)
	case kindFailurePtrPtr:
		Encode32(FailureU32U32(r.err, r.p0.Addr, r.p1.Addr), regs)
	case kindSuccessPtr:
		Encode32(SuccessU32(r.p0.Addr), regs)
	case kindSuccessPtrLen:
		Encode32(SuccessU32U32(r.p0.Addr, r.u0), regs)
	case kindSuccessPtrPtr:
		Encode32(SuccessU32U32(r.p0.Addr, r.p1.Addr), regs)
	default:
		Encode32(r, regs)
	}
}

// Encode64 lowers a return value onto four 64-bit registers using the wide
// tag namespace. A 64-bit value occupies a single register and later
// arguments shift down one slot. Pointer registers carry the permission
// metadata in their upper half.
func Encode64(r SyscallReturn, regs *[4]uint64) {
	*regs = [4]uint64{}
	switch r.kind {
	case kindFailureU64:
		regs[0] = uint64(tagFailureU64)
		regs[1] = uint64(r.err)
		regs[2] = r.u64
	case kindSuccessU64:
		regs[0] = uint64(tagSuccessU64)
		regs[1] = r.u64
	case kindSuccessU32U64:
		regs[0] = uint64(tagSuccessU32U64)
		regs[1] = uint64(r.u0)
		regs[2] = r.u64
	case kindFailurePtrLen:
		regs[0] = uint64(tagFailurePtrLen)
		regs[1] = uint64(r.err)
		regs[2] = ptr64(r.p0)
		regs[3] = uint64(r.u0)
	case kindFailurePtrPtr:
		regs[0] = uint64(tagFailurePtrPtr)
		regs[1] = uint64(r.err)
		regs[2] = ptr64(r.p0)
		regs[3] = ptr64(r.p1)
	case kindSuccessPtr:
		regs[0] = uint64(tagSuccessPtr)
		regs[1] = ptr64(r.p0)
	case kindSuccessPtrLen:
		regs[0] = uint64(tagSuccessPtrLen)
		regs[1] = ptr64(r.p0)
		regs[2] = uint64(r.u0)
	case kindSuccessPtrPtr:
		regs[0] = uint64(tagSuccessPtrPtr)
		regs[1] = ptr64(r.p0)
		regs[2] = ptr64(r.p1)
	default:
		var r32 [4]uint32
		Encode32(r, &r32)
		for i, v := range r32 {
			regs[i] = uint64(v)
		}
	}
}

func ptr64(p Ptr) uint64 {
	return uint64(p.Addr) | uint64(p.Perms)<<32
}
