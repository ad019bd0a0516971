package iblt_test

import (
	"fmt"
	"testing"

	"github.com/jcalabro/iblt"
	"github.com/jcalabro/iblt/internal/keygen"
)

const benchKeys = 100_000

// Pre-generate test data to avoid measuring key generation
var testKeys = keygen.Distinct[uint64](keygen.New(1), benchKeys)

// ============================================================================
// Insert Benchmarks
// ============================================================================

func BenchmarkInsertKey(b *testing.B) {
	for _, family := range []iblt.HashFamily{iblt.HashXXH3, iblt.HashTabulation} {
		b.Run(family.String(), func(b *testing.B) {
			t := iblt.New[uint64](1024, 4, iblt.WithHashFamily(family))
			b.ResetTimer()
			for i := range b.N {
				t.InsertKey(testKeys[i%benchKeys])
			}
		})
	}
}

func BenchmarkMultiInsertKey(b *testing.B) {
	t, err := iblt.NewMulti[uint64](1024, 4, 3)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := range b.N {
		t.InsertKey(testKeys[i%benchKeys])
	}
}

func BenchmarkEstimatorInsertKey(b *testing.B) {
	e := iblt.NewStrataEstimator[uint64]()
	b.ResetTimer()
	for i := range b.N {
		e.InsertKey(testKeys[i%benchKeys])
	}
}

// ============================================================================
// Peel Benchmarks
// ============================================================================

func BenchmarkPeelDiff(b *testing.B) {
	for _, diff := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("diff=%d", diff), func(b *testing.B) {
			n, k := iblt.OptimalParams(uint64(diff))
			mine := iblt.New[uint64](n, k)
			mine.InsertKeys(testKeys[:diff/2]...)
			theirs := iblt.New[uint64](n, k)
			theirs.InsertKeys(testKeys[diff/2 : diff]...)
			if err := mine.Remove(theirs); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for range b.N {
				if _, _, err := mine.Clone().PeelDiff(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMultiPeel(b *testing.B) {
	const parties = 4
	s := keygen.NewSample[uint64](keygen.New(2), 1000, 25, parties)
	result, err := iblt.NewMulti[uint64](400, 4, parties)
	if err != nil {
		b.Fatal(err)
	}
	for i := range parties {
		t, err := iblt.NewMulti[uint64](400, 4, parties)
		if err != nil {
			b.Fatal(err)
		}
		t.InsertKeys(s.Set(i)...)
		if err := result.AddParty(t, i); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		if _, err := result.Clone().Peel(); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Estimation Benchmarks
// ============================================================================

func BenchmarkEstimateDiff(b *testing.B) {
	for _, diff := range []int{100, 10_000} {
		b.Run(fmt.Sprintf("diff=%d", diff), func(b *testing.B) {
			mine := iblt.NewStrataEstimator[uint64]()
			theirs := iblt.NewStrataEstimator[uint64]()
			mine.InsertKeys(testKeys[:diff/2]...)
			theirs.InsertKeys(testKeys[diff/2 : diff]...)

			b.ReportAllocs()
			b.ResetTimer()
			for range b.N {
				if _, err := mine.EstimateDiff(theirs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// ============================================================================
// Serialization Benchmarks
// ============================================================================

func BenchmarkMarshalBinary(b *testing.B) {
	t := iblt.New[uint64](iblt.OptimalParams(1000))
	t.InsertKeys(testKeys[:1000]...)
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		if _, err := t.MarshalBinary(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshalBinary(b *testing.B) {
	t := iblt.New[uint64](iblt.OptimalParams(1000))
	t.InsertKeys(testKeys[:1000]...)
	data, err := t.MarshalBinary()
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		if _, err := iblt.UnmarshalBinary[uint64](data); err != nil {
			b.Fatal(err)
		}
	}
}
