package iblt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXORFieldInverse(t *testing.T) {
	var f XORField
	f.Add(0xdeadbeef)
	f.Add(42)
	require.False(t, f.IsEmpty())

	f.Remove(0xdeadbeef)
	require.Equal(t, uint64(42), f.ExtractKey())
	f.RemoveField(XORField(42))
	require.True(t, f.IsEmpty())
}

func TestXORFieldCanDivideBy(t *testing.T) {
	f := XORField(7)
	require.True(t, f.CanDivideBy(1))
	require.True(t, f.CanDivideBy(-1))
	require.PanicsWithValue(t, ErrInvalidDivisor, func() { f.CanDivideBy(0) })
}

func TestModFieldExtract(t *testing.T) {
	f := NewModField(7, 8)
	for range 3 {
		f.Add(0b1011)
	}
	require.Equal(t, 3, f.Nit(0))
	require.Equal(t, 3, f.Nit(1))
	require.Equal(t, 0, f.Nit(2))
	require.Equal(t, 3, f.Nit(3))

	require.True(t, f.CanDivideBy(3))
	require.True(t, f.CanDivideBy(-4)) // -4 ≡ 3 mod 7
	require.False(t, f.CanDivideBy(2))

	key, ok := f.ExtractKey(3)
	require.True(t, ok)
	require.Equal(t, uint64(0b1011), key)

	_, ok = f.ExtractKey(1)
	require.False(t, ok)
}

func TestModFieldInvalidDivisor(t *testing.T) {
	f := NewModField(7, 8)
	require.PanicsWithValue(t, ErrInvalidDivisor, func() { f.CanDivideBy(0) })
	require.PanicsWithValue(t, ErrInvalidDivisor, func() { f.CanDivideBy(14) })
}

func TestModFieldInvalidModulus(t *testing.T) {
	require.PanicsWithValue(t, ErrInvalidModulus, func() { NewModField(1, 8) })
	require.PanicsWithValue(t, ErrInvalidModulus, func() { NewModField(maxModulus+1, 8) })
}

func TestModFieldInverse(t *testing.T) {
	f := NewModField(31, 16)
	f.Add(0xbeef)
	f.AddTimes(0x1234, 5)
	g := f.Clone()

	f.AddTimes(0xffff, 29)
	f.AddTimes(0xffff, -29)
	require.True(t, f.Equal(&g))

	f.RemoveField(&g)
	require.True(t, f.IsEmpty())
	require.False(t, g.IsEmpty(), "clone shares storage")
}

func TestModFieldMixedKeysNotDivisible(t *testing.T) {
	f := NewModField(7, 8)
	f.Add(0b01)
	f.Add(0b11)
	require.False(t, f.CanDivideBy(1))
	require.False(t, f.CanDivideBy(2))
}

func TestModFieldScale(t *testing.T) {
	f := NewModField(7, 8)
	f.Add(0b110)
	f.Scale(3)
	key, ok := f.ExtractKey(3)
	require.True(t, ok)
	require.Equal(t, uint64(0b110), key)

	// 3 * 5 ≡ 1 mod 7
	f.Scale(5)
	key, ok = f.ExtractKey(1)
	require.True(t, ok)
	require.Equal(t, uint64(0b110), key)

	f.Scale(0)
	require.True(t, f.IsEmpty())
}

func TestModFieldAddFieldTimes(t *testing.T) {
	a := NewModField(17, 4)
	b := NewModField(17, 4)
	b.Add(0b1001)
	a.AddFieldTimes(&b, 10)
	require.Equal(t, 10, a.Nit(0))
	require.Equal(t, 10, a.Nit(3))

	a.AddFieldTimes(&b, 7)
	require.True(t, a.IsEmpty())
}

func TestModFieldEqual(t *testing.T) {
	a := NewModField(7, 4)
	b := NewModField(11, 4)
	c := NewModField(7, 5)
	require.False(t, a.Equal(&b))
	require.False(t, a.Equal(&c))
	require.Equal(t, 7, a.Mod())
	require.Equal(t, 4, a.Width())
}
