package iblt

import "math/bits"

// Key is the constraint satisfied by the fixed-width keys stored in an IBLT.
// Keys are opaque: content hashes, block hashes, row identifiers.
type Key interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// keyBits returns the width of K in bits.
func keyBits[K Key]() int {
	return bits.Len64(uint64(^K(0)))
}

// keyBytes returns the width of K in bytes.
func keyBytes[K Key]() int {
	return keyBits[K]() / 8
}
