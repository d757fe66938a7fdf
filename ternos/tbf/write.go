package tbf

import (
	"encoding/binary"
	"fmt"
)

// Builder assembles one TBF entry: header TLVs, the app binary, and
// credential footers. The zero value plus a Binary is a minimal app.
type Builder struct {
	Name    string
	Enabled bool
	Sticky  bool

	// InitOffset is the entry point relative to the end of the header
	// (the start of the protected region plus binary).
	InitOffset    uint32
	ProtectedSize uint32
	MinimumRAM    uint32

	WriteableRegions []WriteableFlashRegion
	Fixed            *FixedAddresses
	KernelVersion    *KernelVersion

	Binary      []byte
	Credentials []Credential

	// PadTo, when non-zero, grows total_size to the next multiple by
	// appending an inert footer TLV.
	PadTo uint32
}

type tlvWriter struct {
	buf []byte
}

func (w *tlvWriter) tlv(tag uint16, payload []byte) {
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], tag)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, payload...)
}

// pad appends an unknown-type TLV so the running offset becomes a
// multiple of 4 again. Tag 0 is never assigned a meaning, so parsers
// skip it by length.
func (w *tlvWriter) pad() {
	if rem := len(w.buf) % 4; rem != 0 {
		w.tlv(0, make([]byte, 4-rem))
	}
}

func u32s(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// Build serializes the entry. The result starts with a valid v2 header
// whose checksum is already computed.
func (b *Builder) Build() ([]byte, error) {
	var w tlvWriter

	binaryEnd := uint32(len(b.Binary))
	if rem := binaryEnd % 4; rem != 0 {
		binaryEnd += 4 - rem
	}

	w.tlv(TagMain, u32s(b.InitOffset, b.ProtectedSize, b.MinimumRAM))
	if b.Name != "" {
		w.tlv(TagPackageName, []byte(b.Name))
		w.pad()
	}
	if len(b.WriteableRegions) > 0 {
		if len(b.WriteableRegions) > MaxWriteableFlashRegions {
			return nil, fmt.Errorf("tbf: too many writeable regions (%d)", len(b.WriteableRegions))
		}
		var payload []byte
		for _, r := range b.WriteableRegions {
			payload = append(payload, u32s(r.Offset, r.Size)...)
		}
		w.tlv(TagWriteableFlashRegions, payload)
	}
	if b.Fixed != nil {
		w.tlv(TagFixedAddresses, u32s(b.Fixed.RAM, b.Fixed.Flash))
	}
	if b.KernelVersion != nil {
		var payload [4]byte
		binary.LittleEndian.PutUint16(payload[0:2], b.KernelVersion.Major)
		binary.LittleEndian.PutUint16(payload[2:4], b.KernelVersion.Minor)
		w.tlv(TagKernelVersion, payload[:])
	}

	headerSize := BaseHeaderSize + len(w.buf) + 4 + 20 // plus the Program TLV
	if headerSize > 0xFFFF {
		return nil, fmt.Errorf("tbf: header too large (%d bytes)", headerSize)
	}

	// Footers.
	var fw tlvWriter
	for _, c := range b.Credentials {
		if n := c.Format.dataLen(); n != len(c.Data) {
			return nil, fmt.Errorf("tbf: credential %s wants %d data bytes, have %d",
				c.Format, n, len(c.Data))
		}
		fw.tlv(TagCredentials, append(u32s(uint32(c.Format)), c.Data...))
		fw.pad()
	}

	totalSize := uint32(headerSize) + binaryEnd + uint32(len(fw.buf))
	if b.PadTo != 0 {
		if rem := totalSize % b.PadTo; rem != 0 {
			pad := b.PadTo - rem
			if pad < 4 {
				pad += b.PadTo
			}
			fw.tlv(0, make([]byte, pad-4))
			totalSize += pad
		}
	}

	w.tlv(TagProgram, u32s(b.InitOffset, b.ProtectedSize, b.MinimumRAM,
		uint32(headerSize)+binaryEnd, 0))

	flags := uint32(0)
	if b.Enabled {
		flags |= FlagEnabled
	}
	if b.Sticky {
		flags |= FlagSticky
	}

	out := make([]byte, 0, totalSize)
	out = appendBase(out, uint16(headerSize), totalSize, flags)
	out = append(out, w.buf...)
	binary.LittleEndian.PutUint32(out[12:16], ComputeChecksum(out[:headerSize]))

	out = append(out, b.Binary...)
	out = append(out, make([]byte, binaryEnd-uint32(len(b.Binary)))...)
	out = append(out, fw.buf...)
	return out, nil
}

// BuildPadding serializes an inert padding entry spanning totalSize bytes.
func BuildPadding(totalSize uint32) ([]byte, error) {
	if totalSize < BaseHeaderSize {
		return nil, fmt.Errorf("tbf: padding of %d bytes cannot hold a header", totalSize)
	}
	out := appendBase(make([]byte, 0, BaseHeaderSize), BaseHeaderSize, totalSize, 0)
	binary.LittleEndian.PutUint32(out[12:16], ComputeChecksum(out))
	return append(out, make([]byte, totalSize-BaseHeaderSize)...), nil
}

func appendBase(out []byte, headerSize uint16, totalSize, flags uint32) []byte {
	var base [BaseHeaderSize]byte
	binary.LittleEndian.PutUint16(base[0:2], SupportedVersion)
	binary.LittleEndian.PutUint16(base[2:4], headerSize)
	binary.LittleEndian.PutUint32(base[4:8], totalSize)
	binary.LittleEndian.PutUint32(base[8:12], flags)
	return append(out, base[:]...)
}
