package kernel

import "fmt"

// ShortID is the compact protection-domain discriminator derived from an
// accepted credential. The zero value means "locally unique": the process
// has no fixed identity and is distinguished only by its table slot.
// Fixed identities are non-zero 31-bit values and stay stable for the
// lifetime of the process instance.
type ShortID uint32

// ShortIDLocallyUnique is the identity of a process without a fixed one.
const ShortIDLocallyUnique ShortID = 0

// FixedShortID builds a fixed identity from a non-zero 31-bit value.
func FixedShortID(v uint32) (ShortID, bool) {
	if v == 0 || v > 0x7FFFFFFF {
		return ShortIDLocallyUnique, false
	}
	return ShortID(v), true
}

// IsFixed reports whether the identity is a fixed value rather than
// locally unique.
func (id ShortID) IsFixed() bool { return id != ShortIDLocallyUnique }

func (id ShortID) String() string {
	if !id.IsFixed() {
		return "unique"
	}
	return fmt.Sprintf("%#08x", uint32(id))
}
