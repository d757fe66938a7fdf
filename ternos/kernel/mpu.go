package kernel

// MPURegionsPerProcess is the size of the per-process table of extra MPU
// regions, beyond the implicit flash and RAM windows.
const MPURegionsPerProcess = 5

// MinMPURegionSize is the smallest window the protection hardware can
// express.
const MinMPURegionSize = 16

// MPURegion is one hardware address-range permission window. The zero
// value marks an unused table slot.
type MPURegion struct {
	Base uint32
	Size uint32
}

// InUse reports whether the slot holds a configured region.
func (r MPURegion) InUse() bool { return r.Size != 0 }

// validMPURegion applies the stateless region rules: the size must be a
// power of two of at least MinMPURegionSize and the base must be aligned
// to the size.
func validMPURegion(base, size uint32) bool {
	if size < MinMPURegionSize || size&(size-1) != 0 {
		return false
	}
	return base%size == 0
}

// NextPowerOfTwo rounds v up to a power of two, saturating at 2^31.
func NextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	if v > 1<<31 {
		return 1 << 31
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

// AlignUp rounds addr up to the next multiple of align (a power of two).
func AlignUp(addr, align uint32) uint32 {
	return (addr + align - 1) &^ (align - 1)
}
