// Package bitmap provides fixed-size bitmaps backed by atomic words.
//
// Every word is an atomic.Uint64 so that readers on other goroutines never
// observe torn words. Two flavours of mutation are offered:
//
//   - Set / Clear: load-modify-store. Only safe when a single goroutine writes
//     the word (the allocating goroutine on a chunk it owns).
//   - SetAtomic / ClearAtomic: atomic read-modify-write, for bits that may be
//     written concurrently (mark bits during background sweeping).
package bitmap

import (
	"math/bits"
	"sync/atomic"
)

const wordBits = 64

// Bitmap is a fixed-size set of bits.
type Bitmap struct {
	words []atomic.Uint64
	n     int
}

// New returns a bitmap holding n bits, all clear.
func New(n int) *Bitmap {
	return &Bitmap{
		words: make([]atomic.Uint64, (n+wordBits-1)/wordBits),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *Bitmap) Len() int { return b.n }

// Get reports whether bit i is set.
func (b *Bitmap) Get(i int) bool {
	return b.words[i/wordBits].Load()&(1<<(uint(i)%wordBits)) != 0
}

// Set sets bit i. Single-writer only.
func (b *Bitmap) Set(i int) {
	w := &b.words[i/wordBits]
	w.Store(w.Load() | 1<<(uint(i)%wordBits))
}

// Clear clears bit i. Single-writer only.
func (b *Bitmap) Clear(i int) {
	w := &b.words[i/wordBits]
	w.Store(w.Load() &^ (1 << (uint(i) % wordBits)))
}

// SetAtomic sets bit i and reports whether it was previously clear.
func (b *Bitmap) SetAtomic(i int) bool {
	mask := uint64(1) << (uint(i) % wordBits)
	old := b.words[i/wordBits].Or(mask)
	return old&mask == 0
}

// ClearAtomic clears bit i and reports whether it was previously set.
func (b *Bitmap) ClearAtomic(i int) bool {
	mask := uint64(1) << (uint(i) % wordBits)
	old := b.words[i/wordBits].And(^mask)
	return old&mask != 0
}

// SetRange sets bits [from, to). Single-writer only.
func (b *Bitmap) SetRange(from, to int) {
	for i := from; i < to; {
		if i%wordBits == 0 && to-i >= wordBits {
			b.words[i/wordBits].Store(^uint64(0))
			i += wordBits
			continue
		}
		b.Set(i)
		i++
	}
}

// ClearRange clears bits [from, to). Single-writer only.
func (b *Bitmap) ClearRange(from, to int) {
	for i := from; i < to; {
		if i%wordBits == 0 && to-i >= wordBits {
			b.words[i/wordBits].Store(0)
			i += wordBits
			continue
		}
		b.Clear(i)
		i++
	}
}

// ClearAll clears every bit. Single-writer only.
func (b *Bitmap) ClearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Any reports whether any bit in [from, to) is set.
func (b *Bitmap) Any(from, to int) bool {
	i := b.NextSet(from)
	return i >= 0 && i < to
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}
	return n
}

// NextSet returns the index of the first set bit at or after from, or -1.
func (b *Bitmap) NextSet(from int) int {
	if from >= b.n {
		return -1
	}
	wi := from / wordBits
	w := b.words[wi].Load() &^ (1<<(uint(from)%wordBits) - 1)
	for {
		if w != 0 {
			i := wi*wordBits + bits.TrailingZeros64(w)
			if i >= b.n {
				return -1
			}
			return i
		}
		wi++
		if wi >= len(b.words) {
			return -1
		}
		w = b.words[wi].Load()
	}
}

// PrevSet returns the index of the last set bit strictly before before, or -1.
func (b *Bitmap) PrevSet(before int) int {
	if before <= 0 {
		return -1
	}
	last := before - 1
	wi := last / wordBits
	shift := uint(last) % wordBits
	w := b.words[wi].Load()
	if shift != wordBits-1 {
		w &= 1<<(shift+1) - 1
	}
	for {
		if w != 0 {
			return wi*wordBits + wordBits - 1 - bits.LeadingZeros64(w)
		}
		wi--
		if wi < 0 {
			return -1
		}
		w = b.words[wi].Load()
	}
}
