package iblt

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jcalabro/iblt/internal/keygen"
)

func estimators[K Key](s keygen.Sample[K], opts ...Option) (a, b *StrataEstimator[K]) {
	a = NewStrataEstimator[K](opts...)
	b = NewStrataEstimator[K](opts...)
	a.InsertKeys(s.Set(0)...)
	b.InsertKeys(s.Set(1)...)
	return a, b
}

func TestStratum(t *testing.T) {
	e := NewStrataEstimator[uint64]()
	require.Equal(t, StrataCount, e.NumStrata())
	require.Len(t, e.Strata(), StrataCount)

	var counts [StrataCount]int
	for k := range uint64(20000) {
		s := e.Stratum(k)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, StrataCount)
		counts[s]++
	}
	// Stratum i receives about a 2^-(i+1) share.
	require.InDelta(t, 10000, counts[0], 500)
	require.InDelta(t, 5000, counts[1], 400)
	require.InDelta(t, 2500, counts[2], 300)
}

func TestEstimateDiffIdentical(t *testing.T) {
	s := keygen.NewSample[uint64](keygen.New(20), 5000, 0, 2)
	a, b := estimators(s)
	d, err := a.EstimateDiff(b)
	require.NoError(t, err)
	require.Zero(t, d)
}

// Small differences fit in the strata and are counted exactly.
func TestEstimateDiffExact(t *testing.T) {
	s := keygen.NewSample[uint32](keygen.New(21), 2000, 10, 2)
	a, b := estimators(s, WithLogger(zaptest.NewLogger(t)))
	d, err := a.EstimateDiff(b)
	require.NoError(t, err)
	require.Equal(t, uint64(20), d)

	d, err = b.EstimateDiff(a)
	require.NoError(t, err)
	require.Equal(t, uint64(20), d)
}

func TestEstimateDiffConvergence(t *testing.T) {
	g := keygen.New(22)
	for _, diff := range []int{2, 10, 30, 60, 98} {
		var errs []float64
		for range 9 {
			s := keygen.NewSample[uint64](g, 500, diff/2, 2)
			a, b := estimators(s)
			d, err := a.EstimateDiff(b)
			require.NoError(t, err)
			errs = append(errs, math.Abs(float64(d)-float64(diff))/float64(diff))
		}
		slices.Sort(errs)
		require.Less(t, errs[len(errs)/2], 0.5, "diff %d: relative errors %v", diff, errs)
	}
}

func TestEstimateDiffLarge(t *testing.T) {
	const diff = 5000
	s := keygen.NewSample[uint64](keygen.New(23), 1000, diff/2, 2)
	a, b := estimators(s, WithLogger(zaptest.NewLogger(t)))
	d, err := a.EstimateDiff(b)
	require.NoError(t, err)
	require.GreaterOrEqual(t, d, uint64(diff/4))
	require.LessOrEqual(t, d, uint64(diff*4))
}

func TestEstimateDiffNonDestructive(t *testing.T) {
	s := keygen.NewSample[uint64](keygen.New(24), 300, 40, 2)
	a, b := estimators(s)
	ca, cb := a.Clone(), b.Clone()

	d1, err := a.EstimateDiff(b)
	require.NoError(t, err)
	d2, err := a.EstimateDiff(b)
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	for i := range StrataCount {
		require.True(t, a.Strata()[i].Equal(ca.Strata()[i]), "stratum %d", i)
		require.True(t, b.Strata()[i].Equal(cb.Strata()[i]), "stratum %d", i)
	}
}

func TestEstimatorAddRemove(t *testing.T) {
	s := keygen.NewSample[uint64](keygen.New(25), 100, 10, 2)
	a, b := estimators(s)
	orig := a.Clone()

	require.NoError(t, a.Add(b))
	require.NoError(t, a.Remove(b))
	for i := range StrataCount {
		require.True(t, a.Strata()[i].Equal(orig.Strata()[i]), "stratum %d", i)
	}

	// Removing the counterparty leaves the difference in the strata.
	require.NoError(t, a.Remove(b))
	var total int
	for _, st := range a.Strata() {
		keys, err := st.Clone().Peel()
		require.NoError(t, err)
		total += len(keys)
	}
	require.Equal(t, 20, total)
}

func TestEstimatorShapeMismatch(t *testing.T) {
	a := NewStrataEstimator[uint64]()
	for name, b := range map[string]*StrataEstimator[uint64]{
		"seed":   NewStrataEstimator[uint64](WithSeed(1)),
		"family": NewStrataEstimator[uint64](WithHashFamily(HashTabulation)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.EstimateDiff(b)
			require.ErrorIs(t, err, ErrShapeMismatch)
			require.ErrorIs(t, a.Add(b), ErrShapeMismatch)
			require.ErrorIs(t, a.Remove(b), ErrShapeMismatch)
		})
	}
}

func TestScaleEstimate(t *testing.T) {
	require.Equal(t, uint64(40), scaleEstimate(5, 3))
	require.Equal(t, uint64(0), scaleEstimate(0, 64))
	require.Equal(t, uint64(math.MaxUint64), scaleEstimate(1, 64))
	require.Equal(t, uint64(math.MaxUint64), scaleEstimate(3, 63))
	require.Equal(t, uint64(1)<<63, scaleEstimate(1, 63))
}

func TestEstimatorSizeInBits(t *testing.T) {
	e := NewStrataEstimator[uint32]()
	require.Equal(t, StrataCount*StrataBuckets*(32+128), e.SizeInBits())
}
