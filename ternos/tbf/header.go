// Package tbf implements the Tern Binary Format: the on-flash container
// holding one application binary, its header TLVs, and its credential
// footers. Apps are stored back to back as a linked list; the total_size
// field of each entry is the link to the next one.
package tbf

// Base header field layout (16 bytes, all little-endian):
// u16 version, u16 header_size, u32 total_size, u32 flags, u32 checksum.
const (
	BaseHeaderSize   = 16
	SupportedVersion = 2
)

// TLV block types.
const (
	TagMain                  uint16 = 1
	TagWriteableFlashRegions uint16 = 2
	TagPackageName           uint16 = 3
	TagFixedAddresses        uint16 = 5
	TagKernelVersion         uint16 = 7
	TagProgram               uint16 = 9
	TagCredentials           uint16 = 128
)

// Header flag bits.
const (
	FlagEnabled uint32 = 1 << 0
	FlagSticky  uint32 = 1 << 1
)

// MaxWriteableFlashRegions bounds the per-app writeable region table.
const MaxWriteableFlashRegions = 4

// FixedAddressUnset marks an absent fixed RAM or flash address.
const FixedAddressUnset uint32 = 0xFFFFFFFF

// Main is the required TLV describing how to start an app.
type Main struct {
	InitOffset    uint32
	ProtectedSize uint32
	MinimumRAM    uint32
}

// Program extends Main with the end of the application binary, which is
// what makes credential footers discoverable.
type Program struct {
	InitOffset      uint32
	ProtectedSize   uint32
	MinimumRAM      uint32
	BinaryEndOffset uint32
	Version         uint32
}

// WriteableFlashRegion is a flash range, relative to the start of the TBF
// entry, the app may persist data in.
type WriteableFlashRegion struct {
	Offset uint32
	Size   uint32
}

// FixedAddresses pins an app to absolute load addresses.
type FixedAddresses struct {
	RAM   uint32
	Flash uint32
}

// KernelVersion is the (major, minor) wire ABI the app was built against.
type KernelVersion struct {
	Major uint16
	Minor uint16
}

// Header is a fully parsed TBF header. Padding entries carry only the base
// fields; app entries additionally carry at least a Main or Program TLV.
type Header struct {
	Version    uint16
	HeaderSize uint16
	TotalSize  uint32
	Flags      uint32
	Checksum   uint32

	padding bool

	main    *Main
	program *Program
	name    string
	wfr     []WriteableFlashRegion
	fixed   *FixedAddresses
	kernVer *KernelVersion
}

// IsPadding reports whether this entry is inert padding between apps.
func (h *Header) IsPadding() bool { return h.padding }

// IsApp reports whether this entry describes a startable app.
func (h *Header) IsApp() bool { return !h.padding && (h.main != nil || h.program != nil) }

// Enabled reports whether the loader should attempt to run this app.
func (h *Header) Enabled() bool { return h.Flags&FlagEnabled != 0 }

// Sticky reports whether install tooling must preserve this entry.
func (h *Header) Sticky() bool { return h.Flags&FlagSticky != 0 }

// Name returns the package name, or "" if none was included.
func (h *Header) Name() string { return h.name }

// InitOffset returns the entry point offset relative to the end of the
// header. Program takes precedence over Main when both are present.
func (h *Header) InitOffset() (uint32, bool) {
	if h.program != nil {
		return h.program.InitOffset, true
	}
	if h.main != nil {
		return h.main.InitOffset, true
	}
	return 0, false
}

// ProtectedSize returns the size of the kernel-owned region that follows
// the header.
func (h *Header) ProtectedSize() uint32 {
	if h.program != nil {
		return h.program.ProtectedSize
	}
	if h.main != nil {
		return h.main.ProtectedSize
	}
	return 0
}

// MinimumRAM returns the RAM the app declared it needs.
func (h *Header) MinimumRAM() uint32 {
	if h.program != nil {
		return h.program.MinimumRAM
	}
	if h.main != nil {
		return h.main.MinimumRAM
	}
	return 0
}

// BinaryEndOffset returns the end of the application binary relative to
// the TBF start. Entries without a Program TLV have no footers, so the
// binary is assumed to run to total_size.
func (h *Header) BinaryEndOffset() uint32 {
	if h.program != nil {
		return h.program.BinaryEndOffset
	}
	return h.TotalSize
}

// WriteableRegions returns the declared writeable flash regions.
func (h *Header) WriteableRegions() []WriteableFlashRegion { return h.wfr }

// FixedAddresses returns pinned load addresses, if declared.
func (h *Header) FixedAddresses() (FixedAddresses, bool) {
	if h.fixed == nil {
		return FixedAddresses{}, false
	}
	return *h.fixed, true
}

// KernelVersion returns the declared kernel ABI version, if any.
func (h *Header) KernelVersion() (KernelVersion, bool) {
	if h.kernVer == nil {
		return KernelVersion{}, false
	}
	return *h.kernVer, true
}
