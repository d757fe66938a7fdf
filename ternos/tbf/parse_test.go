package tbf

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	b := Builder{
		Name:          "sensor",
		Enabled:       true,
		Sticky:        true,
		InitOffset:    0x40,
		ProtectedSize: 8,
		MinimumRAM:    4096,
		WriteableRegions: []WriteableFlashRegion{
			{Offset: 0x100, Size: 0x40},
			{Offset: 0x200, Size: 0x80},
		},
		Fixed:         &FixedAddresses{RAM: FixedAddressUnset, Flash: FixedAddressUnset},
		KernelVersion: &KernelVersion{Major: 2, Minor: 1},
		Binary:        []byte{1, 2, 3, 4, 5},
		Credentials:   []Credential{{Format: CredentialSHA256, Data: make([]byte, 32)}},
	}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ini, err := ParseInitial(out)
	if err != nil {
		t.Fatalf("ParseInitial: %v", err)
	}
	if ini.Version != SupportedVersion {
		t.Errorf("Version = %d, want %d", ini.Version, SupportedVersion)
	}
	if ini.TotalSize != uint32(len(out)) {
		t.Errorf("TotalSize = %d, want %d", ini.TotalSize, len(out))
	}

	h, err := ParseHeader(out)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.IsPadding() || !h.IsApp() {
		t.Fatalf("IsPadding/IsApp = %v/%v, want app", h.IsPadding(), h.IsApp())
	}
	if !h.Enabled() || !h.Sticky() {
		t.Errorf("Enabled/Sticky = %v/%v, want true/true", h.Enabled(), h.Sticky())
	}
	if h.Name() != "sensor" {
		t.Errorf("Name = %q, want sensor", h.Name())
	}
	if off, ok := h.InitOffset(); !ok || off != 0x40 {
		t.Errorf("InitOffset = %#x,%v, want 0x40,true", off, ok)
	}
	if h.ProtectedSize() != 8 {
		t.Errorf("ProtectedSize = %d, want 8", h.ProtectedSize())
	}
	if h.MinimumRAM() != 4096 {
		t.Errorf("MinimumRAM = %d, want 4096", h.MinimumRAM())
	}
	if got := h.WriteableRegions(); len(got) != 2 || got[1].Offset != 0x200 {
		t.Errorf("WriteableRegions = %v", got)
	}
	if kv, ok := h.KernelVersion(); !ok || kv.Major != 2 || kv.Minor != 1 {
		t.Errorf("KernelVersion = %v,%v", kv, ok)
	}
	// The binary is padded to a word; the end offset reflects that.
	if end := h.BinaryEndOffset(); end != uint32(h.HeaderSize)+8 {
		t.Errorf("BinaryEndOffset = %d, want %d", end, uint32(h.HeaderSize)+8)
	}

	creds, err := ParseFooters(out[h.BinaryEndOffset():])
	if err != nil {
		t.Fatalf("ParseFooters: %v", err)
	}
	if len(creds) != 1 || creds[0].Format != CredentialSHA256 || len(creds[0].Data) != 32 {
		t.Fatalf("credentials = %v", creds)
	}
}

func TestParseInitialEndOfList(t *testing.T) {
	if _, err := ParseInitial(nil); !errors.Is(err, ErrEndOfList) {
		t.Errorf("nil: err = %v, want ErrEndOfList", err)
	}
	if _, err := ParseInitial([]byte{0xff, 0xff, 0xff, 0xff}); !errors.Is(err, ErrEndOfList) {
		t.Errorf("short: err = %v, want ErrEndOfList", err)
	}
	// Erased flash parses as version 0xFFFF, not an error to skip over.
	erased := make([]byte, 16)
	for i := range erased {
		erased[i] = 0xff
	}
	if _, err := ParseInitial(erased); !errors.Is(err, ErrEndOfList) {
		t.Errorf("erased: err = %v, want ErrEndOfList", err)
	}
}

func TestParseInitialInvalidHeader(t *testing.T) {
	// header_size > total_size is malformed but carries a skip distance.
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint16(buf[0:2], SupportedVersion)
	binary.LittleEndian.PutUint16(buf[2:4], 64)
	binary.LittleEndian.PutUint32(buf[4:8], 48)

	_, err := ParseInitial(buf)
	var ih *InvalidHeaderError
	if !errors.As(err, &ih) {
		t.Fatalf("err = %v, want InvalidHeaderError", err)
	}
	if ih.TotalSize != 48 {
		t.Errorf("TotalSize = %d, want 48", ih.TotalSize)
	}

	// header_size below the base header is malformed the same way.
	binary.LittleEndian.PutUint16(buf[2:4], 8)
	binary.LittleEndian.PutUint32(buf[4:8], 32)
	if _, err := ParseInitial(buf); !errors.As(err, &ih) {
		t.Errorf("small header: err = %v, want InvalidHeaderError", err)
	}
}

func TestParseHeaderChecksumMismatch(t *testing.T) {
	b := Builder{Name: "x", Enabled: true, Binary: []byte{1}}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out[8] ^= 0x01 // flags word, covered by the checksum
	if _, err := ParseHeader(out); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestParseHeaderUnknownTLVByExactLength(t *testing.T) {
	// An unknown TLV with an odd length leaves the next TLV unaligned;
	// the walk must still land on it.
	var tlvs []byte
	tlvs = append(tlvs, 0xEE, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC) // tag 0xEE, len 3
	main := make([]byte, 16)
	binary.LittleEndian.PutUint16(main[0:2], TagMain)
	binary.LittleEndian.PutUint16(main[2:4], 12)
	binary.LittleEndian.PutUint32(main[4:8], 0x11)   // init offset
	binary.LittleEndian.PutUint32(main[8:12], 0)     // protected size
	binary.LittleEndian.PutUint32(main[12:16], 2048) // minimum ram
	tlvs = append(tlvs, main...)

	headerSize := BaseHeaderSize + len(tlvs)
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], SupportedVersion)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(headerSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize))
	binary.LittleEndian.PutUint32(buf[8:12], FlagEnabled)
	copy(buf[BaseHeaderSize:], tlvs)
	binary.LittleEndian.PutUint32(buf[12:16], ComputeChecksum(buf))

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if off, ok := h.InitOffset(); !ok || off != 0x11 {
		t.Errorf("InitOffset = %#x,%v, want 0x11,true", off, ok)
	}
	if h.MinimumRAM() != 2048 {
		t.Errorf("MinimumRAM = %d, want 2048", h.MinimumRAM())
	}
}

func TestParseHeaderBadName(t *testing.T) {
	b := Builder{Name: string([]byte{0xff, 0xfe}), Enabled: true, Binary: []byte{1}}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := ParseHeader(out); !errors.Is(err, ErrBadProcessName) {
		t.Errorf("err = %v, want ErrBadProcessName", err)
	}
}

func TestBuildPadding(t *testing.T) {
	out, err := BuildPadding(256)
	if err != nil {
		t.Fatalf("BuildPadding: %v", err)
	}
	ini, err := ParseInitial(out)
	if err != nil {
		t.Fatalf("ParseInitial: %v", err)
	}
	if ini.TotalSize != 256 {
		t.Errorf("TotalSize = %d, want 256", ini.TotalSize)
	}
	h, err := ParseHeader(out[:ini.TotalSize])
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.IsPadding() || h.IsApp() {
		t.Errorf("IsPadding/IsApp = %v/%v, want padding", h.IsPadding(), h.IsApp())
	}
}

func TestParseFootersSkipsUnknown(t *testing.T) {
	var buf []byte
	// Unknown footer tag.
	buf = append(buf, 0x50, 0x00, 0x04, 0x00, 1, 2, 3, 4)
	// Unknown credential format inside a credentials TLV.
	unk := make([]byte, 8)
	binary.LittleEndian.PutUint16(unk[0:2], TagCredentials)
	binary.LittleEndian.PutUint16(unk[2:4], 4)
	binary.LittleEndian.PutUint32(unk[4:8], 99)
	buf = append(buf, unk...)
	// A real reserved credential (zero-length payload).
	res := make([]byte, 8)
	binary.LittleEndian.PutUint16(res[0:2], TagCredentials)
	binary.LittleEndian.PutUint16(res[2:4], 4)
	binary.LittleEndian.PutUint32(res[4:8], uint32(CredentialReserved))
	buf = append(buf, res...)

	creds, err := ParseFooters(buf)
	if err != nil {
		t.Fatalf("ParseFooters: %v", err)
	}
	if len(creds) != 1 || creds[0].Format != CredentialReserved {
		t.Fatalf("credentials = %v, want one reserved", creds)
	}
}

func TestParseFootersTruncated(t *testing.T) {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], TagCredentials)
	binary.LittleEndian.PutUint16(buf[2:4], 36)
	if _, err := ParseFooters(buf); !errors.Is(err, ErrNotEnoughFlash) {
		t.Errorf("err = %v, want ErrNotEnoughFlash", err)
	}
}
