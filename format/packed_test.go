package format

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedArraySmoke(t *testing.T) {
	a := NewPackedArray(100, 10)
	require.Equal(t, 100, a.Len())
	require.Equal(t, 10, a.BitsPerValue())
	require.Len(t, a.Uint64s(), 17)

	for i := range a.Len() {
		v, ok := a.Get(i)
		require.True(t, ok)
		require.Zero(t, v)

		a.Set(i, uint64(i*10))
		v, ok = a.Get(i)
		require.True(t, ok)
		require.Equal(t, uint64(i*10), v)
	}
}

func TestPackedArrayOutOfBounds(t *testing.T) {
	a := NewPackedArray(97, 10)
	require.Len(t, a.Uint64s(), 17)

	v, ok := a.Get(96)
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = a.Get(97)
	assert.False(t, ok)
	_, ok = a.Get(-1)
	assert.False(t, ok)
}

func TestPackedArrayRoundTripAllWidths(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for bits := 1; bits <= 64; bits++ {
		a := NewPackedArray(300, bits)
		max := a.MaxValue()
		want := make([]uint64, a.Len())
		for i := range want {
			v := rng.Uint64() & max
			if i%7 == 0 {
				v = max
			}
			want[i] = v
			a.Set(i, v)
		}
		for i, w := range want {
			got, ok := a.Get(i)
			require.True(t, ok)
			require.Equalf(t, w, got, "bits %d index %d", bits, i)
		}
		require.Equalf(t, want, slices.Collect(a.All()), "bits %d", bits)
	}
}

func TestPackedArraySetDoesNotTouchNeighbours(t *testing.T) {
	a := NewPackedArray(64, 5)
	require.NoError(t, a.Fill(31))
	a.Set(12, 0)
	for i := range a.Len() {
		v, _ := a.Get(i)
		if i == 12 {
			assert.Zero(t, v)
		} else {
			assert.Equal(t, uint64(31), v)
		}
	}
}

func TestPackedArrayIter(t *testing.T) {
	a := NewPackedArray(10_000, 14)
	oracle := make([]uint64, 0, a.Len())
	for i := range a.Len() {
		a.Set(i, uint64(i))
		oracle = append(oracle, uint64(i))
	}
	assert.Equal(t, oracle, slices.Collect(a.All()))
	// The iterator can be consumed again.
	assert.Equal(t, oracle, slices.Collect(a.All()))
}

func TestPackedArrayIterStopsEarly(t *testing.T) {
	a := NewPackedArray(50, 3)
	n := 0
	for range a.All() {
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestPackedArrayResize(t *testing.T) {
	a := NewPackedArray(1024, 1)
	for bits := 2; bits <= 16; bits++ {
		oracle := make([]uint64, a.Len())
		for i := range a.Len() {
			v := uint64(i) & a.MaxValue()
			a.Set(i, v)
			oracle[i] = v
		}
		a = a.Resized(bits)
		require.Equal(t, bits, a.BitsPerValue())
		require.Equal(t, 1024, a.Len())
		require.Equal(t, oracle, slices.Collect(a.All()))
	}
}

func TestPackedArrayResizeDoesNotMutate(t *testing.T) {
	a := NewPackedArray(16, 4)
	a.Set(3, 9)
	b := a.Resized(8)
	b.Set(3, 200)

	v, _ := a.Get(3)
	assert.Equal(t, uint64(9), v)
	assert.Equal(t, 4, a.BitsPerValue())
}

func TestPackedArrayFill(t *testing.T) {
	a := NewPackedArray(1024, 10)
	require.NoError(t, a.Fill(102))
	for v := range a.All() {
		require.Equal(t, uint64(102), v)
	}
	require.NoError(t, a.Fill(1023))
	for v := range a.All() {
		require.Equal(t, uint64(1023), v)
	}
	assert.Error(t, a.Fill(1024))
}

func TestPackedArraySetContract(t *testing.T) {
	a := NewPackedArray(10, 4)
	assert.Panics(t, func() { a.Set(10, 1) })
	assert.Panics(t, func() { a.Set(0, 16) })
	assert.Panics(t, func() { NewPackedArray(10, 0) })
	assert.Panics(t, func() { NewPackedArray(10, 65) })
}

func TestPackedArrayFromWords(t *testing.T) {
	src := NewPackedArray(4096, 5)
	for i := range src.Len() {
		src.Set(i, uint64(i%32))
	}

	a, err := FromInt64s(src.Int64s(), 4096)
	require.NoError(t, err)
	assert.Equal(t, 5, a.BitsPerValue())
	assert.Equal(t, slices.Collect(src.All()), slices.Collect(a.All()))

	light, err := FromUint64s(make([]uint64, 256), 4096)
	require.NoError(t, err)
	assert.Equal(t, 4, light.BitsPerValue())

	_, err = FromUint64s(nil, 4096)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
	_, err = FromUint64s(make([]uint64, 10), 4096)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestPackedArrayFullWidth(t *testing.T) {
	a := NewPackedArray(3, 64)
	assert.Equal(t, ^uint64(0), a.MaxValue())
	a.Set(1, ^uint64(0))
	v, _ := a.Get(1)
	assert.Equal(t, ^uint64(0), v)
	v, _ = a.Get(2)
	assert.Zero(t, v)
}
