package tbf

import "encoding/binary"

// CredentialFormat identifies the proof carried by a credential footer.
type CredentialFormat uint32

const (
	CredentialReserved  CredentialFormat = 0
	CredentialRsa3072   CredentialFormat = 1
	CredentialRsa4096   CredentialFormat = 2
	CredentialSHA256    CredentialFormat = 3
	CredentialSHA384    CredentialFormat = 4
	CredentialSHA512    CredentialFormat = 5
	CredentialEcdsaP256 CredentialFormat = 6
)

func (f CredentialFormat) String() string {
	switch f {
	case CredentialReserved:
		return "reserved"
	case CredentialRsa3072:
		return "rsa3072"
	case CredentialRsa4096:
		return "rsa4096"
	case CredentialSHA256:
		return "sha256"
	case CredentialSHA384:
		return "sha384"
	case CredentialSHA512:
		return "sha512"
	case CredentialEcdsaP256:
		return "ecdsa-p256"
	default:
		return "unknown"
	}
}

// dataLen returns the fixed payload size for a format, or -1 if the
// format is unknown.
func (f CredentialFormat) dataLen() int {
	switch f {
	case CredentialReserved:
		return 0
	case CredentialRsa3072:
		return 768
	case CredentialRsa4096:
		return 1024
	case CredentialSHA256:
		return 32
	case CredentialSHA384:
		return 48
	case CredentialSHA512:
		return 64
	case CredentialEcdsaP256:
		return 64
	default:
		return -1
	}
}

// Credential is one footer attached to an app binary. Data aliases the
// flash image it was parsed from.
type Credential struct {
	Format CredentialFormat
	Data   []byte
}

// ParseFooters walks the footer region of a TBF entry (the bytes between
// the binary end offset and total_size) and returns every credential it
// holds. Footers use the same TLV framing as the header; unknown footer
// types and unknown credential formats are skipped, a truncated TLV ends
// the walk with an error.
func ParseFooters(b []byte) ([]Credential, error) {
	var creds []Credential
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrNotEnoughFlash
		}
		tag := binary.LittleEndian.Uint16(b[0:2])
		length := int(binary.LittleEndian.Uint16(b[2:4]))
		b = b[4:]
		if length > len(b) {
			return nil, ErrNotEnoughFlash
		}
		if tag == TagCredentials {
			if length < 4 {
				return nil, &BadTLVError{Tag: tag}
			}
			format := CredentialFormat(binary.LittleEndian.Uint32(b[0:4]))
			if n := format.dataLen(); n >= 0 {
				if length != 4+n {
					return nil, &BadTLVError{Tag: tag}
				}
				creds = append(creds, Credential{Format: format, Data: b[4 : 4+n]})
			}
		}
		b = b[length:]
	}
	return creds, nil
}
