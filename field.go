package iblt

import "errors"

// ErrInvalidDivisor is the panic value raised by CanDivideBy when the divisor
// is congruent to zero in the field.
var ErrInvalidDivisor = errors.New("iblt: invalid divisor")

// XORField is the field of modulus 2 over 64-bit words. Adding and removing
// are both XOR, every non-zero divisor divides, and the accumulated word is
// the extracted key.
type XORField uint64

// Add accumulates x.
func (f *XORField) Add(x uint64) {
	*f ^= XORField(x)
}

// Remove cancels a previous Add of x.
func (f *XORField) Remove(x uint64) {
	*f ^= XORField(x)
}

// AddField accumulates another field value.
func (f *XORField) AddField(o XORField) {
	*f ^= o
}

// RemoveField cancels a previous AddField of o.
func (f *XORField) RemoveField(o XORField) {
	*f ^= o
}

// CanDivideBy always holds for modulus 2. It panics with ErrInvalidDivisor
// when k is zero.
func (f XORField) CanDivideBy(k int) bool {
	if k == 0 {
		panic(ErrInvalidDivisor)
	}
	return true
}

// ExtractKey returns the accumulated word.
func (f XORField) ExtractKey() uint64 {
	return uint64(f)
}

// IsEmpty reports whether f is the identity.
func (f XORField) IsEmpty() bool {
	return f == 0
}

// ModField is a vector of nits, one per key bit, each an integer modulo the
// field's modulus. Adding a key adds its bit j to nit j, so a value built
// from a single key inserted c times has every nit equal to 0 or c.
type ModField struct {
	mod  uint32
	nits []uint16
}

// NewModField returns the zero value of a field with the given modulus and
// width in nits. The modulus must be in [2, 65535].
func NewModField(mod, width int) ModField {
	return newModFieldOn(mod, make([]uint16, width))
}

// newModFieldOn builds a field over caller-owned nit storage, letting a table
// carve all of its fields out of one allocation.
func newModFieldOn(mod int, nits []uint16) ModField {
	if mod < 2 || mod > maxModulus {
		panic(ErrInvalidModulus)
	}
	return ModField{mod: uint32(mod), nits: nits}
}

// Mod returns the modulus.
func (f *ModField) Mod() int {
	return int(f.mod)
}

// Width returns the number of nits.
func (f *ModField) Width() int {
	return len(f.nits)
}

// Nit returns nit i.
func (f *ModField) Nit(i int) int {
	return int(f.nits[i])
}

// Value returns nit 0. It is the whole value of single-nit fields such as
// bucket counts.
func (f *ModField) Value() int {
	return int(f.nits[0])
}

// reduce maps any integer to its representative in [0, mod).
func (f *ModField) reduce(x int) uint32 {
	m := int(f.mod)
	return uint32((x%m + m) % m)
}

// Add accumulates x once.
func (f *ModField) Add(x uint64) {
	f.AddTimes(x, 1)
}

// Remove cancels one Add of x.
func (f *ModField) Remove(x uint64) {
	f.AddTimes(x, -1)
}

// AddTimes accumulates x the given number of times, which may be negative.
func (f *ModField) AddTimes(x uint64, times int) {
	t := f.reduce(times)
	if t == 0 {
		return
	}
	for j := range f.nits {
		if x>>j&1 == 1 {
			f.nits[j] = uint16((uint32(f.nits[j]) + t) % f.mod)
		}
	}
}

// AddField accumulates o, which must have the same modulus and width.
func (f *ModField) AddField(o *ModField) {
	f.AddFieldTimes(o, 1)
}

// RemoveField cancels one AddField of o.
func (f *ModField) RemoveField(o *ModField) {
	f.AddFieldTimes(o, -1)
}

// AddFieldTimes accumulates o multiplied by times.
func (f *ModField) AddFieldTimes(o *ModField, times int) {
	t := f.reduce(times)
	if t == 0 {
		return
	}
	for j, n := range o.nits {
		f.nits[j] = uint16((uint32(f.nits[j]) + uint32(n)*t) % f.mod)
	}
}

// Scale multiplies every nit by c.
func (f *ModField) Scale(c int) {
	t := f.reduce(c)
	for j, n := range f.nits {
		f.nits[j] = uint16(uint32(n) * t % f.mod)
	}
}

// CanDivideBy reports whether f is k times a single key: every nit must be
// exactly 0 or k modulo the field. Negative divisors are taken modulo the
// field too. It panics with ErrInvalidDivisor when k is congruent to zero.
func (f *ModField) CanDivideBy(k int) bool {
	r := f.reduce(k)
	if r == 0 {
		panic(ErrInvalidDivisor)
	}
	for _, n := range f.nits {
		if n != 0 && uint32(n) != r {
			return false
		}
	}
	return true
}

// ExtractKey returns the key whose k-fold insertion produces f. The boolean
// is false when f is not divisible by k, in which case the key is zero.
func (f *ModField) ExtractKey(k int) (uint64, bool) {
	if !f.CanDivideBy(k) {
		return 0, false
	}
	var key uint64
	for j, n := range f.nits {
		if n != 0 {
			key |= 1 << j
		}
	}
	return key, true
}

// IsEmpty reports whether every nit is zero.
func (f *ModField) IsEmpty() bool {
	for _, n := range f.nits {
		if n != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether f and o hold the same value in the same field.
func (f *ModField) Equal(o *ModField) bool {
	if f.mod != o.mod || len(f.nits) != len(o.nits) {
		return false
	}
	for j := range f.nits {
		if f.nits[j] != o.nits[j] {
			return false
		}
	}
	return true
}

// Clone returns a copy of f with its own storage.
func (f *ModField) Clone() ModField {
	nits := make([]uint16, len(f.nits))
	copy(nits, f.nits)
	return ModField{mod: f.mod, nits: nits}
}

// set overwrites f's nits with o's. Both must have the same width.
func (f *ModField) set(o *ModField) {
	copy(f.nits, o.nits)
}
