package iblt

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"go.uber.org/zap"
)

var (
	// ErrInvalidParties is returned for a party count outside [2, MaxParties]
	// or a party index outside [0, parties).
	ErrInvalidParties = errors.New("iblt: invalid party")
	// ErrInvalidModulus is returned for a field modulus too small to tell the
	// parties apart or too large for a 16-bit nit.
	ErrInvalidModulus = errors.New("iblt: invalid modulus")
)

// MultiIBLT is an IBLT over a prime-ish modular field that reconciles the
// sets of more than two parties at once.
//
// Each party builds its own table from its keys. The tables are then
// combined with AddParty, which weighs party i's table so that keys held by
// every party cancel, and every other key is left with a count that encodes
// exactly which parties hold it. Peel recovers the keys along with that
// party set.
//
// MultiIBLT is not safe for concurrent use.
type MultiIBLT[K Key] struct {
	nits               []uint16 // field storage of every bucket
	buckets            []MultiBucket[K]
	subtables          [][]MultiBucket[K]
	scratch            MultiBucket[K] // holds a bucket's contents while it is extracted
	numHashFns         int
	bucketsPerSubtable int
	parties            int
	mod                int
	weights            []int
	checksum           Hasher
	hashers            []Hasher
	opts               options
}

// NewMulti creates a table for the given number of parties. The modulus
// defaults to MinModulus(parties) and can be set with WithModulus. Bucket
// count rounding follows New.
func NewMulti[K Key](numBuckets, numHashFns, parties int, opts ...Option) (*MultiIBLT[K], error) {
	o := newOptions(opts)
	if parties < 2 || parties > MaxParties {
		return nil, fmt.Errorf("%w: %d parties, want 2 to %d", ErrInvalidParties, parties, MaxParties)
	}
	if o.modulus == 0 {
		o.modulus = MinModulus(parties)
	}
	if lo := 1<<parties - 1; o.modulus < lo || o.modulus > maxModulus {
		return nil, fmt.Errorf("%w: %d for %d parties, want %d to %d",
			ErrInvalidModulus, o.modulus, parties, lo, maxModulus)
	}
	if !o.family.valid() {
		return nil, fmt.Errorf("%w: hash family %s", ErrInvalidData, o.family)
	}
	return newMulti[K](numBuckets, numHashFns, parties, o), nil
}

func newMulti[K Key](numBuckets, numHashFns, parties int, o options) *MultiIBLT[K] {
	numHashFns = max(numHashFns, 1)
	numBuckets = roundBuckets(numBuckets, numHashFns)
	per := numBuckets / numHashFns
	width := multiBucketNits[K]()

	t := &MultiIBLT[K]{
		nits:               make([]uint16, (numBuckets+1)*width),
		buckets:            make([]MultiBucket[K], numBuckets),
		subtables:          make([][]MultiBucket[K], numHashFns),
		numHashFns:         numHashFns,
		bucketsPerSubtable: per,
		parties:            parties,
		mod:                o.modulus,
		weights:            PartyWeights(parties, o.modulus),
		checksum:           o.family.New(DeriveSeed(o.seed, 0)),
		hashers:            make([]Hasher, numHashFns),
		opts:               o,
	}
	for i := range t.buckets {
		t.buckets[i] = newMultiBucketOn[K](o.modulus, parties, t.nits[i*width:(i+1)*width])
	}
	t.scratch = newMultiBucketOn[K](o.modulus, parties, t.nits[numBuckets*width:])
	for i := range numHashFns {
		t.subtables[i] = t.buckets[i*per : (i+1)*per : (i+1)*per]
		t.hashers[i] = o.family.New(DeriveSeed(o.seed, i+1))
	}
	return t
}

func (t *MultiIBLT[K]) index(key K, sub int) int {
	return int(t.hashers[sub].Hash(uint64(key)) % uint64(t.bucketsPerSubtable))
}

// InsertKey adds key to the table once.
func (t *MultiIBLT[K]) InsertKey(key K) {
	h := t.checksum.Hash(uint64(key))
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].Add(key, h)
	}
}

// InsertKeys adds every key to the table.
func (t *MultiIBLT[K]) InsertKeys(keys ...K) {
	for _, k := range keys {
		t.InsertKey(k)
	}
}

// RemoveKey cancels one InsertKey of key.
func (t *MultiIBLT[K]) RemoveKey(key K) {
	h := t.checksum.Hash(uint64(key))
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].Remove(key, h)
	}
}

func (t *MultiIBLT[K]) compatible(other *MultiIBLT[K]) error {
	switch {
	case t.numHashFns != other.numHashFns:
		return fmt.Errorf("%w: %d vs %d hash functions", ErrShapeMismatch, t.numHashFns, other.numHashFns)
	case t.bucketsPerSubtable != other.bucketsPerSubtable:
		return fmt.Errorf("%w: %d vs %d buckets per sub-table",
			ErrShapeMismatch, t.bucketsPerSubtable, other.bucketsPerSubtable)
	case t.parties != other.parties:
		return fmt.Errorf("%w: %d vs %d parties", ErrShapeMismatch, t.parties, other.parties)
	case t.mod != other.mod:
		return fmt.Errorf("%w: modulus %d vs %d", ErrShapeMismatch, t.mod, other.mod)
	case t.opts.family != other.opts.family:
		return fmt.Errorf("%w: hash family %s vs %s", ErrShapeMismatch, t.opts.family, other.opts.family)
	case t.opts.seed != other.opts.seed:
		return fmt.Errorf("%w: seed %#x vs %#x", ErrShapeMismatch, t.opts.seed, other.opts.seed)
	}
	return nil
}

// Add accumulates other with weight 1 and merges its presence. Use it to
// merge tables that already went through AddParty.
func (t *MultiIBLT[K]) Add(other *MultiIBLT[K]) error {
	if err := t.compatible(other); err != nil {
		return err
	}
	for i := range t.buckets {
		t.buckets[i].AddBucket(&other.buckets[i], 1, -1)
	}
	return nil
}

// AddParty accumulates other as the table of party index, weighted by the
// party's weight, and marks the party present in every bucket other touches.
func (t *MultiIBLT[K]) AddParty(other *MultiIBLT[K], index int) error {
	if index < 0 || index >= t.parties {
		return fmt.Errorf("%w: index %d of %d parties", ErrInvalidParties, index, t.parties)
	}
	if err := t.compatible(other); err != nil {
		return err
	}
	w := t.weights[index]
	for i := range t.buckets {
		t.buckets[i].AddBucket(&other.buckets[i], w, index)
	}
	return nil
}

// Remove subtracts other bucket by bucket.
func (t *MultiIBLT[K]) Remove(other *MultiIBLT[K]) error {
	if err := t.compatible(other); err != nil {
		return err
	}
	for i := range t.buckets {
		t.buckets[i].RemoveBucket(&other.buckets[i])
	}
	return nil
}

// Scale multiplies every bucket by c modulo the field.
func (t *MultiIBLT[K]) Scale(c int) {
	for i := range t.buckets {
		t.buckets[i].Scale(c)
	}
}

// decodeParties returns the party set whose weights sum to c, sorted. Counts
// up to 2^(P-1)-1 are sums of the low parties' power-of-two weights; counts
// of N-d with 0 < d < 2^(P-1) include the last party and every low party
// missing from d. Anything else, zero included, has no party set.
func (t *MultiIBLT[K]) decodeParties(c int) ([]int, bool) {
	low := 1<<(t.parties-1) - 1
	var ps []int
	switch d := t.mod - c; {
	case c > 0 && c <= low:
		for i := range t.parties - 1 {
			if c>>i&1 == 1 {
				ps = append(ps, i)
			}
		}
	case c > 0 && d > 0 && d <= low:
		for i := range t.parties - 1 {
			if d>>i&1 == 0 {
				ps = append(ps, i)
			}
		}
		ps = append(ps, t.parties-1)
	default:
		return nil, false
	}
	return ps, true
}

func (t *MultiIBLT[K]) shape() (int, int) {
	return t.numHashFns, t.bucketsPerSubtable
}

func (t *MultiIBLT[K]) bucket(p position) *MultiBucket[K] {
	return &t.subtables[p.sub][p.slot]
}

// pure holds when the bucket is c times a single key: both sums divide by
// the count c, the checksum of the key matches the hash, and the parties
// encoded in c, when the bucket tracks presence, all contributed to it.
func (t *MultiIBLT[K]) pure(p position) (K, int, bool) {
	b := t.bucket(p)
	c := b.Count()
	if c == 0 {
		return 0, 0, false
	}
	key, ok := b.keySum.ExtractKey(c)
	if !ok {
		return 0, 0, false
	}
	hash, ok := b.hashSum.ExtractKey(c)
	if !ok || t.checksum.Hash(key) != hash {
		return 0, 0, false
	}
	if b.presence.Any() {
		ps, ok := t.decodeParties(c)
		if !ok {
			return 0, 0, false
		}
		for _, i := range ps {
			if !b.presence.Test(uint(i)) {
				return 0, 0, false
			}
		}
	}
	return K(key), c, true
}

func (t *MultiIBLT[K]) extract(p position, key K) {
	t.scratch.copyFrom(t.bucket(p))
	for i := range t.numHashFns {
		t.subtables[i][t.index(key, i)].RemoveBucket(&t.scratch)
	}
}

func (t *MultiIBLT[K]) empty(p position) bool {
	return t.bucket(p).IsEmpty()
}

// Peel recovers every key in the table along with the sorted indices of the
// parties holding it. A key whose count encodes no party set maps to nil.
// Peeling is destructive, and failure wraps ErrPeelFailed and returns no keys.
func (t *MultiIBLT[K]) Peel() (map[K][]int, error) {
	found, err := peel[K](t, t.opts.logger)
	if err != nil {
		return nil, err
	}
	out := make(map[K][]int, len(found))
	for k, c := range found {
		ps, ok := t.decodeParties(c)
		if !ok {
			t.opts.logger.Debug("no party set for count", zap.Uint64("key", uint64(k)), zap.Int("count", c))
		}
		out[k] = ps
	}
	return out, nil
}

// PeelKeys is Peel without attribution. Keys are sorted.
func (t *MultiIBLT[K]) PeelKeys() ([]K, error) {
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

// Parties returns the party count.
func (t *MultiIBLT[K]) Parties() int { return t.parties }

// Modulus returns the field modulus.
func (t *MultiIBLT[K]) Modulus() int { return t.mod }

// NumBuckets returns the total bucket count.
func (t *MultiIBLT[K]) NumBuckets() int { return len(t.buckets) }

// NumHashFns returns the number of sub-tables.
func (t *MultiIBLT[K]) NumHashFns() int { return t.numHashFns }

// BucketsPerSubtable returns the size of each sub-table.
func (t *MultiIBLT[K]) BucketsPerSubtable() int { return t.bucketsPerSubtable }

// Weights returns the per-party multipliers AddParty applies.
func (t *MultiIBLT[K]) Weights() []int { return slices.Clone(t.weights) }

// IsEmpty reports whether every bucket is empty.
func (t *MultiIBLT[K]) IsEmpty() bool {
	for i := range t.buckets {
		if !t.buckets[i].IsEmpty() {
			return false
		}
	}
	return true
}

// nitBits is the number of bits needed for one nit.
func (t *MultiIBLT[K]) nitBits() int {
	return bits.Len(uint(t.mod - 1))
}

// SizeInBits returns the size of the bucket payload: every nit at the width
// the modulus needs, plus one presence bit per party.
func (t *MultiIBLT[K]) SizeInBits() int {
	return len(t.buckets) * (multiBucketNits[K]()*t.nitBits() + t.parties)
}

// Buckets returns the buckets in (sub-table, slot) order. They share
// storage with the table.
func (t *MultiIBLT[K]) Buckets() []MultiBucket[K] {
	return t.buckets
}

// Clone returns a deep copy of t.
func (t *MultiIBLT[K]) Clone() *MultiIBLT[K] {
	c := newMulti[K](len(t.buckets), t.numHashFns, t.parties, t.opts)
	for i := range t.buckets {
		c.buckets[i].copyFrom(&t.buckets[i])
	}
	return c
}

// Equal reports whether t and other have the same shape and contents.
func (t *MultiIBLT[K]) Equal(other *MultiIBLT[K]) bool {
	if t.compatible(other) != nil {
		return false
	}
	for i := range t.buckets {
		if !t.buckets[i].equal(&other.buckets[i]) {
			return false
		}
	}
	return true
}
