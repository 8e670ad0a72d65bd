package format

import (
	"fmt"
	"iter"
)

// PackedArray is a fixed length array of unsigned integers that each take
// bitsPerValue bits. Values never span two words: every word holds
// 64/bitsPerValue values and the remaining high bits are left unused.
type PackedArray struct {
	length       int
	bitsPerValue int
	words        []uint64
}

// NewPackedArray creates a zero filled PackedArray holding length values of
// bitsPerValue bits each. It panics if bitsPerValue is not in the range 1-64.
func NewPackedArray(length, bitsPerValue int) *PackedArray {
	checkBitsPerValue(bitsPerValue)
	if length < 0 {
		panic(fmt.Sprintf("packed array: negative length %d", length))
	}
	return &PackedArray{
		length:       length,
		bitsPerValue: bitsPerValue,
		words:        make([]uint64, wordsNeeded(length, bitsPerValue)),
	}
}

// FromUint64s creates a PackedArray over raw words as stored on disk. The
// number of bits per value is derived as len(words)*64/length. The slice is
// used directly and not copied.
func FromUint64s(words []uint64, length int) (*PackedArray, error) {
	if length <= 0 || len(words) == 0 {
		return nil, fmt.Errorf("packed array of %d words for %d values: %w", len(words), length, ErrIndexOutOfBounds)
	}
	return fromWords(words, length, len(words)*64/length)
}

// FromInt64s is like FromUint64s for words stored as signed longs.
func FromInt64s(words []int64, length int) (*PackedArray, error) {
	u := make([]uint64, len(words))
	for i, w := range words {
		u[i] = uint64(w)
	}
	return FromUint64s(u, length)
}

// fromWords creates a PackedArray with an explicit width, checking that words
// is large enough to hold length values.
func fromWords(words []uint64, length, bitsPerValue int) (*PackedArray, error) {
	if bitsPerValue < 1 || bitsPerValue > 64 {
		return nil, fmt.Errorf("packed array with %d bits per value: %w", bitsPerValue, ErrIndexOutOfBounds)
	}
	if need := wordsNeeded(length, bitsPerValue); len(words) < need {
		return nil, fmt.Errorf("packed array has %d words, need %d: %w", len(words), need, ErrIndexOutOfBounds)
	}
	return &PackedArray{length: length, bitsPerValue: bitsPerValue, words: words}, nil
}

// CollectPackedArray packs every value produced by seq into a new PackedArray
// of the given width. Values must fit in bitsPerValue bits.
func CollectPackedArray(seq iter.Seq[uint64], bitsPerValue int) *PackedArray {
	checkBitsPerValue(bitsPerValue)
	mask := maskFor(bitsPerValue)

	var (
		words  []uint64
		cur    uint64
		offset int
		length int
	)
	for v := range seq {
		if v > mask {
			panic(fmt.Sprintf("packed array: value %d does not fit in %d bits", v, bitsPerValue))
		}
		cur |= v << offset
		offset += bitsPerValue
		if offset > 64-bitsPerValue {
			words = append(words, cur)
			cur, offset = 0, 0
		}
		length++
	}
	if offset != 0 {
		words = append(words, cur)
	}
	return &PackedArray{length: length, bitsPerValue: bitsPerValue, words: words}
}

// Len returns the number of values in the array.
func (a *PackedArray) Len() int { return a.length }

// BitsPerValue returns the width of a single value.
func (a *PackedArray) BitsPerValue() int { return a.bitsPerValue }

// MaxValue returns the largest value that can be stored.
func (a *PackedArray) MaxValue() uint64 { return maskFor(a.bitsPerValue) }

// Get returns the value at index i. ok is false if i is out of range.
func (a *PackedArray) Get(i int) (v uint64, ok bool) {
	if i < 0 || i >= a.length {
		return 0, false
	}
	word, shift := a.position(i)
	return (a.words[word] >> shift) & a.MaxValue(), true
}

// Set stores v at index i. Passing an index out of range or a value wider
// than BitsPerValue is a programming error and panics.
func (a *PackedArray) Set(i int, v uint64) {
	if i < 0 || i >= a.length {
		panic(fmt.Sprintf("packed array: index %d out of range [0, %d)", i, a.length))
	}
	mask := a.MaxValue()
	if v > mask {
		panic(fmt.Sprintf("packed array: value %d exceeds max value %d", v, mask))
	}
	word, shift := a.position(i)
	a.words[word] = a.words[word]&^(mask<<shift) | v<<shift
}

// Fill sets every value of the array to v.
func (a *PackedArray) Fill(v uint64) error {
	if v > a.MaxValue() {
		return fmt.Errorf("fill value %d exceeds max value %d", v, a.MaxValue())
	}
	var word uint64
	for i := range 64 / a.bitsPerValue {
		word |= v << (i * a.bitsPerValue)
	}
	for i := range a.words {
		a.words[i] = word
	}
	return nil
}

// All returns an iterator over the values in index order.
func (a *PackedArray) All() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		perWord := 64 / a.bitsPerValue
		mask := a.MaxValue()
		n := 0
		for _, word := range a.words {
			for j := 0; j < perWord && n < a.length; j++ {
				if !yield((word >> (j * a.bitsPerValue)) & mask) {
					return
				}
				n++
			}
		}
	}
}

// Resized returns a copy of the array with every value re-encoded using
// bitsPerValue bits. The receiver is not modified.
func (a *PackedArray) Resized(bitsPerValue int) *PackedArray {
	return CollectPackedArray(a.All(), bitsPerValue)
}

// Uint64s returns the backing words.
func (a *PackedArray) Uint64s() []uint64 { return a.words }

// Int64s returns a copy of the backing words as signed longs, the way they
// are stored in the chunk record.
func (a *PackedArray) Int64s() []int64 {
	out := make([]int64, len(a.words))
	for i, w := range a.words {
		out[i] = int64(w)
	}
	return out
}

// Clone returns a deep copy of the array.
func (a *PackedArray) Clone() *PackedArray {
	words := make([]uint64, len(a.words))
	copy(words, a.words)
	return &PackedArray{length: a.length, bitsPerValue: a.bitsPerValue, words: words}
}

func (a *PackedArray) position(i int) (word, shift int) {
	perWord := 64 / a.bitsPerValue
	return i / perWord, (i % perWord) * a.bitsPerValue
}

func maskFor(bitsPerValue int) uint64 {
	return uint64(1)<<bitsPerValue - 1
}

func wordsNeeded(length, bitsPerValue int) int {
	perWord := 64 / bitsPerValue
	return (length + perWord - 1) / perWord
}

func checkBitsPerValue(bitsPerValue int) {
	if bitsPerValue < 1 || bitsPerValue > 64 {
		panic(fmt.Sprintf("packed array: bits per value %d not in range [1, 64]", bitsPerValue))
	}
}
