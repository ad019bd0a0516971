package iblt

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// ErrShapeMismatch is returned when combining structures whose sub-table
// count, sub-table size, hash family or seed differ.
var ErrShapeMismatch = errors.New("iblt: shape mismatch")

// IBLT is a two-party Invertible Bloom Lookup Table over keys of type K.
//
// The table is split into numHashFns independently hashed sub-tables of
// equal size, and every key lands in exactly one bucket of each. Buckets
// accumulate keys by XOR, so two parties' tables can be subtracted and the
// result peeled to recover the keys held by only one of them.
//
// IBLT is not safe for concurrent use.
type IBLT[K Key] struct {
	buckets            []Bucket[K]   // all buckets, sub-table major
	subtables          [][]Bucket[K] // views into buckets, one per sub-table
	numHashFns         int
	bucketsPerSubtable int
	checksum           Hasher
	hashers            []Hasher
	opts               options
}

// New creates a table with numBuckets buckets split across numHashFns
// sub-tables. numBuckets is rounded up to a multiple of numHashFns, and
// numHashFns below 1 is treated as 1.
func New[K Key](numBuckets, numHashFns int, opts ...Option) *IBLT[K] {
	return newIBLT[K](numBuckets, numHashFns, newOptions(opts))
}

func newIBLT[K Key](numBuckets, numHashFns int, o options) *IBLT[K] {
	numHashFns = max(numHashFns, 1)
	numBuckets = roundBuckets(numBuckets, numHashFns)
	per := numBuckets / numHashFns

	t := &IBLT[K]{
		buckets:            make([]Bucket[K], numBuckets),
		subtables:          make([][]Bucket[K], numHashFns),
		numHashFns:         numHashFns,
		bucketsPerSubtable: per,
		checksum:           o.family.New(DeriveSeed(o.seed, 0)),
		hashers:            make([]Hasher, numHashFns),
		opts:               o,
	}
	for i := range numHashFns {
		t.subtables[i] = t.buckets[i*per : (i+1)*per : (i+1)*per]
		t.hashers[i] = o.family.New(DeriveSeed(o.seed, i+1))
	}
	return t
}

// index returns the slot of key in sub-table sub.
func (t *IBLT[K]) index(key K, sub int) int {
	return int(t.hashers[sub].Hash(uint64(key)) % uint64(t.bucketsPerSubtable))
}

// InsertKey adds key to the table.
func (t *IBLT[K]) InsertKey(key K) {
	h := t.checksum.Hash(uint64(key))
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].Add(key, h)
	}
}

// InsertKeys adds every key to the table.
func (t *IBLT[K]) InsertKeys(keys ...K) {
	for _, k := range keys {
		t.InsertKey(k)
	}
}

// RemoveKey cancels an earlier InsertKey of key. Removing a key that was
// never inserted leaves it with a negative count, as if a counterparty held it.
func (t *IBLT[K]) RemoveKey(key K) {
	h := t.checksum.Hash(uint64(key))
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].Remove(key, h)
	}
}

// compatible returns ErrShapeMismatch unless other can be combined with t.
func (t *IBLT[K]) compatible(other *IBLT[K]) error {
	switch {
	case t.numHashFns != other.numHashFns:
		return fmt.Errorf("%w: %d vs %d hash functions", ErrShapeMismatch, t.numHashFns, other.numHashFns)
	case t.bucketsPerSubtable != other.bucketsPerSubtable:
		return fmt.Errorf("%w: %d vs %d buckets per sub-table",
			ErrShapeMismatch, t.bucketsPerSubtable, other.bucketsPerSubtable)
	case t.opts.family != other.opts.family:
		return fmt.Errorf("%w: hash family %s vs %s", ErrShapeMismatch, t.opts.family, other.opts.family)
	case t.opts.seed != other.opts.seed:
		return fmt.Errorf("%w: seed %#x vs %#x", ErrShapeMismatch, t.opts.seed, other.opts.seed)
	}
	return nil
}

// Add accumulates other into t bucket by bucket, forming the union of their
// contents with counts summed.
func (t *IBLT[K]) Add(other *IBLT[K]) error {
	if err := t.compatible(other); err != nil {
		return err
	}
	for i := range t.buckets {
		t.buckets[i].AddBucket(&other.buckets[i])
	}
	return nil
}

// Remove subtracts other from t bucket by bucket. Keys held by both tables
// cancel; keys held only by other are left with negative counts.
func (t *IBLT[K]) Remove(other *IBLT[K]) error {
	if err := t.compatible(other); err != nil {
		return err
	}
	for i := range t.buckets {
		t.buckets[i].RemoveBucket(&other.buckets[i])
	}
	return nil
}

// XOR is Remove under its customary name for two-party reconciliation.
func (t *IBLT[K]) XOR(other *IBLT[K]) error {
	return t.Remove(other)
}

func (t *IBLT[K]) shape() (int, int) {
	return t.numHashFns, t.bucketsPerSubtable
}

func (t *IBLT[K]) bucket(p position) *Bucket[K] {
	return &t.subtables[p.sub][p.slot]
}

// pure holds when the count is ±1 and the checksum of the key sum matches
// the hash sum; the checksum rejects buckets where several keys happen to
// net to a count of one.
func (t *IBLT[K]) pure(p position) (K, int, bool) {
	b := t.bucket(p)
	if b.count != 1 && b.count != -1 {
		return 0, 0, false
	}
	key := b.Key()
	if t.checksum.Hash(uint64(key)) != b.HashSum() {
		return 0, 0, false
	}
	return key, int(b.count), true
}

func (t *IBLT[K]) extract(p position, key K) {
	peeled := *t.bucket(p)
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].RemoveBucket(&peeled)
	}
}

func (t *IBLT[K]) empty(p position) bool {
	return t.bucket(p).IsEmpty()
}

// Peel recovers every key in the table, sorted. Peeling is destructive: on
// success the table is left empty, and on failure it holds the residue that
// could not be peeled. Failure wraps ErrPeelFailed and returns no keys.
func (t *IBLT[K]) Peel() ([]K, error) {
	found, err := peel[K](t, t.opts.logger)
	if err != nil {
		return nil, err
	}
	keys := make([]K, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// PeelDiff peels a table from which a counterparty's table was removed and
// splits the keys by the sign of their count at extraction: positive keys
// are held only by this party, negative ones only by the counterparty.
// Both lists are sorted. Like Peel it is destructive.
func (t *IBLT[K]) PeelDiff() (mine, theirs []K, err error) {
	found, err := peel[K](t, t.opts.logger)
	if err != nil {
		return nil, nil, err
	}
	for k, count := range found {
		if count > 0 {
			mine = append(mine, k)
		} else {
			theirs = append(theirs, k)
		}
	}
	slices.Sort(mine)
	slices.Sort(theirs)
	t.opts.logger.Debug("peeled difference", zap.Int("mine", len(mine)), zap.Int("theirs", len(theirs)))
	return mine, theirs, nil
}

// IsEmpty reports whether every bucket is empty.
func (t *IBLT[K]) IsEmpty() bool {
	for i := range t.buckets {
		if !t.buckets[i].IsEmpty() {
			return false
		}
	}
	return true
}

// NumBuckets returns the total bucket count.
func (t *IBLT[K]) NumBuckets() int {
	return len(t.buckets)
}

// NumHashFns returns the number of sub-tables.
func (t *IBLT[K]) NumHashFns() int {
	return t.numHashFns
}

// BucketsPerSubtable returns the size of each sub-table.
func (t *IBLT[K]) BucketsPerSubtable() int {
	return t.bucketsPerSubtable
}

// Seed returns the base seed the table's hashers derive from.
func (t *IBLT[K]) Seed() uint64 {
	return t.opts.seed
}

// HashFamily returns the table's hash family.
func (t *IBLT[K]) HashFamily() HashFamily {
	return t.opts.family
}

// SizeInBits returns the size of the bucket payload: key sum, 64-bit hash
// sum and 64-bit count per bucket.
func (t *IBLT[K]) SizeInBits() int {
	return len(t.buckets) * (keyBits[K]() + 64 + 64)
}

// Buckets returns a copy of the buckets in (sub-table, slot) order.
func (t *IBLT[K]) Buckets() []Bucket[K] {
	return slices.Clone(t.buckets)
}

// Clone returns a deep copy of t.
func (t *IBLT[K]) Clone() *IBLT[K] {
	c := newIBLT[K](len(t.buckets), t.numHashFns, t.opts)
	copy(c.buckets, t.buckets)
	return c
}

// copyFrom overwrites t's buckets with other's. Shapes must match.
func (t *IBLT[K]) copyFrom(other *IBLT[K]) {
	copy(t.buckets, other.buckets)
}

// Equal reports whether t and other have the same shape and contents.
func (t *IBLT[K]) Equal(other *IBLT[K]) bool {
	return t.compatible(other) == nil && slices.Equal(t.buckets, other.buckets)
}
