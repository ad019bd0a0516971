package iblt

import "github.com/bits-and-blooms/bitset"

// Bucket is a cell of a two-party IBLT: XOR accumulators of keys and of their
// checksums, and a signed count of net insertions.
type Bucket[K Key] struct {
	keySum  XORField
	hashSum XORField
	count   int64
}

// Add accumulates key with its checksum hash.
func (b *Bucket[K]) Add(key K, hash uint64) {
	b.keySum.Add(uint64(key))
	b.hashSum.Add(hash)
	b.count++
}

// Remove cancels an Add of key.
func (b *Bucket[K]) Remove(key K, hash uint64) {
	b.keySum.Remove(uint64(key))
	b.hashSum.Remove(hash)
	b.count--
}

// AddBucket accumulates the contents of o.
func (b *Bucket[K]) AddBucket(o *Bucket[K]) {
	b.keySum.AddField(o.keySum)
	b.hashSum.AddField(o.hashSum)
	b.count += o.count
}

// RemoveBucket subtracts the contents of o.
func (b *Bucket[K]) RemoveBucket(o *Bucket[K]) {
	b.keySum.RemoveField(o.keySum)
	b.hashSum.RemoveField(o.hashSum)
	b.count -= o.count
}

// IsEmpty reports whether all three accumulators are zero.
func (b *Bucket[K]) IsEmpty() bool {
	return b.keySum.IsEmpty() && b.hashSum.IsEmpty() && b.count == 0
}

// Key returns the key sum as a key. It is the bucket's key when the bucket
// holds exactly one.
func (b *Bucket[K]) Key() K {
	return K(b.keySum.ExtractKey())
}

// KeySum returns the XOR of all keys in the bucket.
func (b *Bucket[K]) KeySum() uint64 { return uint64(b.keySum) }

// HashSum returns the XOR of the checksums of all keys in the bucket.
func (b *Bucket[K]) HashSum() uint64 { return uint64(b.hashSum) }

// Count returns the net number of insertions.
func (b *Bucket[K]) Count() int64 { return b.count }

// MultiBucket is a cell of a MultiIBLT. Its key, checksum and count
// accumulators are modular fields, and presence records which party indices
// contributed to the cell when tables were combined per party.
type MultiBucket[K Key] struct {
	keySum   ModField
	hashSum  ModField
	count    ModField
	presence *bitset.BitSet
}

// multiBucketNits is the nit storage one bucket needs.
func multiBucketNits[K Key]() int {
	return keyBits[K]() + 64 + 1
}

// newMultiBucketOn lays a bucket over nits, which must hold
// multiBucketNits[K]() entries.
func newMultiBucketOn[K Key](mod, parties int, nits []uint16) MultiBucket[K] {
	kb := keyBits[K]()
	return MultiBucket[K]{
		keySum:   newModFieldOn(mod, nits[:kb:kb]),
		hashSum:  newModFieldOn(mod, nits[kb:kb+64:kb+64]),
		count:    newModFieldOn(mod, nits[kb+64:kb+65:kb+65]),
		presence: bitset.New(uint(parties)),
	}
}

// Add accumulates key with its checksum hash.
func (b *MultiBucket[K]) Add(key K, hash uint64) {
	b.keySum.Add(uint64(key))
	b.hashSum.Add(hash)
	b.count.AddTimes(1, 1)
}

// Remove cancels an Add of key.
func (b *MultiBucket[K]) Remove(key K, hash uint64) {
	b.keySum.Remove(uint64(key))
	b.hashSum.Remove(hash)
	b.count.AddTimes(1, -1)
}

// AddBucket accumulates o multiplied by weight. A non-negative party marks
// that party as present when o is not empty; a negative party merges o's own
// presence instead.
func (b *MultiBucket[K]) AddBucket(o *MultiBucket[K], weight, party int) {
	if o.IsEmpty() {
		return
	}
	b.keySum.AddFieldTimes(&o.keySum, weight)
	b.hashSum.AddFieldTimes(&o.hashSum, weight)
	b.count.AddFieldTimes(&o.count, weight)
	if party >= 0 {
		b.presence.Set(uint(party))
	} else {
		b.presence.InPlaceUnion(o.presence)
	}
}

// RemoveBucket subtracts o. Presence is left untouched: it only ever grows.
func (b *MultiBucket[K]) RemoveBucket(o *MultiBucket[K]) {
	b.keySum.RemoveField(&o.keySum)
	b.hashSum.RemoveField(&o.hashSum)
	b.count.RemoveField(&o.count)
}

// Scale multiplies every accumulator by c.
func (b *MultiBucket[K]) Scale(c int) {
	b.keySum.Scale(c)
	b.hashSum.Scale(c)
	b.count.Scale(c)
}

// IsEmpty reports whether all three accumulators are zero.
func (b *MultiBucket[K]) IsEmpty() bool {
	return b.count.IsEmpty() && b.keySum.IsEmpty() && b.hashSum.IsEmpty()
}

// Count returns the weighted count modulo the field.
func (b *MultiBucket[K]) Count() int {
	return b.count.Value()
}

// KeySum returns the key accumulator.
func (b *MultiBucket[K]) KeySum() *ModField { return &b.keySum }

// HashSum returns the checksum accumulator.
func (b *MultiBucket[K]) HashSum() *ModField { return &b.hashSum }

// Presence returns the parties that contributed to the bucket.
func (b *MultiBucket[K]) Presence() *bitset.BitSet {
	return b.presence
}

// equal compares accumulators and presence.
func (b *MultiBucket[K]) equal(o *MultiBucket[K]) bool {
	return b.keySum.Equal(&o.keySum) &&
		b.hashSum.Equal(&o.hashSum) &&
		b.count.Equal(&o.count) &&
		b.presence.Equal(o.presence)
}

// copyFrom overwrites b with o. Both must belong to tables of the same shape.
func (b *MultiBucket[K]) copyFrom(o *MultiBucket[K]) {
	b.keySum.set(&o.keySum)
	b.hashSum.set(&o.hashSum)
	b.count.set(&o.count)
	o.presence.CopyFull(b.presence)
}
