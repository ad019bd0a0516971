package iblt

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jcalabro/iblt/internal/keygen"
)

func sorted[K Key](keys []K) []K {
	s := slices.Clone(keys)
	slices.Sort(s)
	return s
}

func TestNewRounding(t *testing.T) {
	tests := []struct {
		buckets, hashFns         int
		wantBuckets, wantHashFns int
	}{
		{80, 4, 80, 4},
		{81, 4, 84, 4},
		{3, 4, 4, 4},
		{10, 0, 10, 1},
		{10, -2, 10, 1},
	}
	for _, tt := range tests {
		tbl := New[uint64](tt.buckets, tt.hashFns)
		require.Equal(t, tt.wantBuckets, tbl.NumBuckets())
		require.Equal(t, tt.wantHashFns, tbl.NumHashFns())
		require.Equal(t, tt.wantBuckets/tt.wantHashFns, tbl.BucketsPerSubtable())
		require.True(t, tbl.IsEmpty())
	}
}

func TestInsertRemoveKey(t *testing.T) {
	tbl := New[uint32](80, 4)
	keys := keygen.Distinct[uint32](keygen.New(1), 50)
	tbl.InsertKeys(keys...)
	require.False(t, tbl.IsEmpty())

	for _, k := range keys {
		tbl.RemoveKey(k)
	}
	require.True(t, tbl.IsEmpty())
}

func TestPeel(t *testing.T) {
	tbl := New[uint64](300, 4, WithLogger(zaptest.NewLogger(t)))
	keys := keygen.Distinct[uint64](keygen.New(2), 100)
	tbl.InsertKeys(keys...)

	got, err := tbl.Peel()
	require.NoError(t, err)
	if diff := cmp.Diff(sorted(keys), got); diff != "" {
		t.Fatalf("peeled keys mismatch (-want +got):\n%s", diff)
	}
	require.True(t, tbl.IsEmpty(), "peel leaves table empty")
}

func TestPeelEmpty(t *testing.T) {
	got, err := New[uint64](16, 4).Peel()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPeelZeroKey(t *testing.T) {
	tbl := New[uint16](40, 4)
	tbl.InsertKeys(0, 1, 0xffff)
	got, err := tbl.Peel()
	require.NoError(t, err)
	require.Equal(t, []uint16{0, 1, 0xffff}, got)
}

func TestPeelSmallKeys(t *testing.T) {
	tbl := New[uint8](64, 4)
	keys := keygen.Distinct[uint8](keygen.New(3), 12)
	tbl.InsertKeys(keys...)
	got, err := tbl.Peel()
	require.NoError(t, err)
	require.Equal(t, sorted(keys), got)
}

func TestPeelFailure(t *testing.T) {
	tbl := New[uint64](80, 4, WithLogger(zaptest.NewLogger(t)))
	tbl.InsertKeys(keygen.Distinct[uint64](keygen.New(4), 200)...)

	got, err := tbl.Peel()
	require.ErrorIs(t, err, ErrPeelFailed)
	require.Nil(t, got)
	require.False(t, tbl.IsEmpty())
}

// Five shared keys and five distinct keys per party in an 80 bucket table
// leave exactly the ten distinct keys, split five and five by sign.
func TestPeelDiff(t *testing.T) {
	for _, family := range []HashFamily{HashXXH3, HashTabulation} {
		t.Run(family.String(), func(t *testing.T) {
			s := keygen.NewSample[uint64](keygen.New(5), 5, 5, 2)
			a := New[uint64](80, 4, WithHashFamily(family), WithSeed(11))
			b := New[uint64](80, 4, WithHashFamily(family), WithSeed(11))
			a.InsertKeys(s.Set(0)...)
			b.InsertKeys(s.Set(1)...)

			require.NoError(t, a.Remove(b))
			mine, theirs, err := a.PeelDiff()
			require.NoError(t, err)
			require.Equal(t, sorted(s.Distinct[0]), mine)
			require.Equal(t, sorted(s.Distinct[1]), theirs)
		})
	}
}

func TestXOR(t *testing.T) {
	s := keygen.NewSample[uint32](keygen.New(6), 1000, 20, 2)
	a := New[uint32](OptimalParams(40))
	b := New[uint32](OptimalParams(40))
	a.InsertKeys(s.Set(0)...)
	b.InsertKeys(s.Set(1)...)

	require.NoError(t, a.XOR(b))
	mine, theirs, err := a.PeelDiff()
	require.NoError(t, err)
	require.Equal(t, sorted(s.Distinct[0]), mine)
	require.Equal(t, sorted(s.Distinct[1]), theirs)
}

func TestRemoveKeyNeverInserted(t *testing.T) {
	tbl := New[uint64](40, 4)
	tbl.InsertKey(1)
	tbl.RemoveKey(2)
	mine, theirs, err := tbl.PeelDiff()
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, mine)
	require.Equal(t, []uint64{2}, theirs)
}

func TestAddRemoveInverse(t *testing.T) {
	g := keygen.New(7)
	a := New[uint64](80, 4)
	b := New[uint64](80, 4)
	a.InsertKeys(keygen.Distinct[uint64](g, 30)...)
	b.InsertKeys(keygen.Distinct[uint64](g, 300)...)
	orig := a.Clone()

	require.NoError(t, a.Add(b))
	require.False(t, a.Equal(orig))
	require.NoError(t, a.Remove(b))
	require.True(t, a.Equal(orig))
}

// Keys held by both parties cancel whatever order the tables are combined in.
func TestSymmetricDifference(t *testing.T) {
	f := fuzz.New().RandSource(rand.NewSource(42)).NilChance(0).NumElements(20, 60)
	for range 20 {
		var shared, onlyA, onlyB []uint64
		f.Fuzz(&shared)
		f.Fuzz(&onlyA)
		f.Fuzz(&onlyB)

		// Drop collisions between the three sets.
		seen := make(map[uint64]bool)
		dedupe := func(keys []uint64) []uint64 {
			var out []uint64
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					out = append(out, k)
				}
			}
			return out
		}
		shared, onlyA, onlyB = dedupe(shared), dedupe(onlyA), dedupe(onlyB)

		n, k := OptimalParams(uint64(len(onlyA) + len(onlyB)))
		a := New[uint64](n, k, WithSeed(3))
		b := New[uint64](n, k, WithSeed(3))
		a.InsertKeys(onlyA...)
		a.InsertKeys(shared...)
		b.InsertKeys(shared...)
		b.InsertKeys(onlyB...)

		require.NoError(t, b.Remove(a))
		mine, theirs, err := b.PeelDiff()
		require.NoError(t, err)
		require.Equal(t, sorted(onlyB), mine)
		require.Equal(t, sorted(onlyA), theirs)
	}
}

func TestShapeMismatch(t *testing.T) {
	base := New[uint64](80, 4)
	for name, other := range map[string]*IBLT[uint64]{
		"buckets": New[uint64](84, 4),
		"hashFns": New[uint64](80, 5),
		"seed":    New[uint64](80, 4, WithSeed(1)),
		"family":  New[uint64](80, 4, WithHashFamily(HashTabulation)),
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, base.Add(other), ErrShapeMismatch)
			require.ErrorIs(t, base.Remove(other), ErrShapeMismatch)
			require.False(t, base.Equal(other))
		})
	}
}

func TestCloneIndependent(t *testing.T) {
	a := New[uint64](40, 4)
	a.InsertKeys(1, 2, 3)
	c := a.Clone()
	require.True(t, a.Equal(c))

	c.InsertKey(4)
	require.False(t, a.Equal(c))

	got, err := a.Peel()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, got)
	require.False(t, c.IsEmpty())
}

func TestBuckets(t *testing.T) {
	tbl := New[uint32](8, 2)
	tbl.InsertKey(7)
	buckets := tbl.Buckets()
	require.Len(t, buckets, 8)

	var total int64
	for i := range buckets {
		total += buckets[i].Count()
		if buckets[i].Count() == 1 {
			require.Equal(t, uint32(7), buckets[i].Key())
			require.Equal(t, uint64(7), buckets[i].KeySum())
		}
	}
	require.Equal(t, int64(2), total, "one bucket per sub-table")

	buckets[0] = Bucket[uint32]{}
	buckets[len(buckets)-1] = Bucket[uint32]{}
	require.Equal(t, total, countAll(tbl.Buckets()), "Buckets returns a copy")
}

func countAll[K Key](buckets []Bucket[K]) int64 {
	var n int64
	for i := range buckets {
		n += buckets[i].Count()
	}
	return n
}

func TestSizeInBits(t *testing.T) {
	require.Equal(t, 80*(32+128), New[uint32](80, 4).SizeInBits())
	require.Equal(t, 16*(8+128), New[uint8](16, 4).SizeInBits())
}

func TestAccessors(t *testing.T) {
	tbl := New[uint64](80, 4, WithSeed(9), WithHashFamily(HashTabulation))
	require.Equal(t, uint64(9), tbl.Seed())
	require.Equal(t, HashTabulation, tbl.HashFamily())
}
