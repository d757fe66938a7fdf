package tbf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrEndOfList means the bytes cannot be the start of a TBF entry at all:
// the app linked list ends here and scanning should stop.
var ErrEndOfList = errors.New("tbf: end of app list")

// InvalidHeaderError means the entry is unusable but its extent is known,
// so a scan can skip over it and keep going.
type InvalidHeaderError struct {
	TotalSize uint32
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("tbf: invalid header (entry spans %d bytes)", e.TotalSize)
}

// Header parse failures. The loader downgrades all of these to skippable
// padding; none of them abort a flash scan.
var (
	ErrNotEnoughFlash     = errors.New("tbf: header runs past the end of flash")
	ErrChecksumMismatch   = errors.New("tbf: header checksum mismatch")
	ErrBadProcessName     = errors.New("tbf: package name is not valid UTF-8")
	ErrUnsupportedVersion = errors.New("tbf: unsupported header version")
)

// BadTLVError reports a TLV whose length does not match its type.
type BadTLVError struct {
	Tag uint16
}

func (e *BadTLVError) Error() string {
	return fmt.Sprintf("tbf: malformed TLV entry (type %d)", e.Tag)
}

// Initial is the trusted 8-byte prefix of an entry, read before deciding
// whether a full parse is worthwhile.
type Initial struct {
	Version    uint16
	HeaderSize uint16
	TotalSize  uint32
}

// ParseInitial reads the first 8 bytes of a potential TBF entry.
//
// It returns ErrEndOfList when the bytes cannot start an entry (wrong
// version word, or fewer than 8 bytes left), and *InvalidHeaderError when
// the entry is malformed but total_size still tells the scan how far to
// skip. total_size is the single unconditionally trusted field: all later
// access to the entry is bounds-checked against the caller's flash slice,
// so a corrupted value can only skip or loop within that slice.
func ParseInitial(b []byte) (Initial, error) {
	if len(b) < 8 {
		return Initial{}, ErrEndOfList
	}
	version := binary.LittleEndian.Uint16(b[0:2])
	if version != SupportedVersion {
		// An unknown version means total_size cannot be trusted either,
		// so this must be the end of the list, not a skippable entry.
		return Initial{}, ErrEndOfList
	}
	headerSize := binary.LittleEndian.Uint16(b[2:4])
	totalSize := binary.LittleEndian.Uint32(b[4:8])
	if uint32(headerSize) > totalSize || headerSize < BaseHeaderSize {
		return Initial{}, &InvalidHeaderError{TotalSize: totalSize}
	}
	return Initial{Version: version, HeaderSize: headerSize, TotalSize: totalSize}, nil
}

// ParseHeader parses a complete TBF header. The slice must hold exactly
// the header_size bytes identified by ParseInitial.
//
// The checksum is the XOR of every complete little-endian 32-bit word of
// the header with the checksum word itself skipped. TLVs are walked by
// reading a (type, length) pair and advancing exactly length bytes whether
// or not the type is recognized; unknown types are skipped, which is what
// keeps the format forward-compatible.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < BaseHeaderSize {
		return nil, ErrNotEnoughFlash
	}
	h := &Header{
		Version:    binary.LittleEndian.Uint16(b[0:2]),
		HeaderSize: binary.LittleEndian.Uint16(b[2:4]),
		TotalSize:  binary.LittleEndian.Uint32(b[4:8]),
		Flags:      binary.LittleEndian.Uint32(b[8:12]),
		Checksum:   binary.LittleEndian.Uint32(b[12:16]),
	}
	if h.Version != SupportedVersion {
		return nil, ErrUnsupportedVersion
	}
	if int(h.HeaderSize) > len(b) {
		return nil, ErrNotEnoughFlash
	}

	if got := ComputeChecksum(b[:h.HeaderSize]); got != h.Checksum {
		return nil, fmt.Errorf("%w: header says %#08x, computed %#08x",
			ErrChecksumMismatch, h.Checksum, got)
	}

	rest := b[BaseHeaderSize:h.HeaderSize]
	if len(rest) == 0 {
		h.padding = true
		return h, nil
	}

	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, ErrNotEnoughFlash
		}
		tag := binary.LittleEndian.Uint16(rest[0:2])
		length := int(binary.LittleEndian.Uint16(rest[2:4]))
		rest = rest[4:]
		if length > len(rest) {
			return nil, ErrNotEnoughFlash
		}
		payload := rest[:length]

		switch tag {
		case TagMain:
			// First one wins; later duplicates are ignored.
			if h.main == nil {
				if length != 12 {
					return nil, &BadTLVError{Tag: tag}
				}
				h.main = &Main{
					InitOffset:    binary.LittleEndian.Uint32(payload[0:4]),
					ProtectedSize: binary.LittleEndian.Uint32(payload[4:8]),
					MinimumRAM:    binary.LittleEndian.Uint32(payload[8:12]),
				}
			}

		case TagProgram:
			if h.program == nil {
				if length != 20 {
					return nil, &BadTLVError{Tag: tag}
				}
				h.program = &Program{
					InitOffset:      binary.LittleEndian.Uint32(payload[0:4]),
					ProtectedSize:   binary.LittleEndian.Uint32(payload[4:8]),
					MinimumRAM:      binary.LittleEndian.Uint32(payload[8:12]),
					BinaryEndOffset: binary.LittleEndian.Uint32(payload[12:16]),
					Version:         binary.LittleEndian.Uint32(payload[16:20]),
				}
			}

		case TagWriteableFlashRegions:
			if length%8 != 0 {
				return nil, &BadTLVError{Tag: tag}
			}
			for off := 0; off < length; off += 8 {
				if len(h.wfr) >= MaxWriteableFlashRegions {
					return nil, &BadTLVError{Tag: tag}
				}
				h.wfr = append(h.wfr, WriteableFlashRegion{
					Offset: binary.LittleEndian.Uint32(payload[off : off+4]),
					Size:   binary.LittleEndian.Uint32(payload[off+4 : off+8]),
				})
			}

		case TagPackageName:
			if !utf8.Valid(payload) {
				return nil, ErrBadProcessName
			}
			h.name = string(payload)

		case TagFixedAddresses:
			if length != 8 {
				return nil, &BadTLVError{Tag: tag}
			}
			h.fixed = &FixedAddresses{
				RAM:   binary.LittleEndian.Uint32(payload[0:4]),
				Flash: binary.LittleEndian.Uint32(payload[4:8]),
			}

		case TagKernelVersion:
			if length != 4 {
				return nil, &BadTLVError{Tag: tag}
			}
			h.kernVer = &KernelVersion{
				Major: binary.LittleEndian.Uint16(payload[0:2]),
				Minor: binary.LittleEndian.Uint16(payload[2:4]),
			}

		default:
			// Unknown type: skip exactly length bytes.
		}

		rest = rest[length:]
	}

	return h, nil
}

// ComputeChecksum XORs every complete 32-bit little-endian word of the
// header, treating the checksum word (index 3) as zero. Trailing bytes
// that do not fill a word are not covered.
func ComputeChecksum(header []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(header); i += 4 {
		if i == 12 {
			continue
		}
		sum ^= binary.LittleEndian.Uint32(header[i : i+4])
	}
	return sum
}
