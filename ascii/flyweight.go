// Package ascii provides a zero-copy view over ASCII encoded wire bytes.
//
// A Flyweight never allocates and never mutates the bytes it wraps. Offsets
// passed to it must be in range; out of range offsets panic.
package ascii

import (
	"errors"
	"math"
)

// UnknownIndex is returned by Scan when the byte is not present.
const UnknownIndex = -1

// ErrNotNumeric is returned when a range does not hold a decimal integer.
var ErrNotNumeric = errors.New("ascii: not a numeric value")

// Flyweight is a read-only view over a byte region.
type Flyweight struct {
	buf []byte
}

// New returns a Flyweight wrapping buf.
func New(buf []byte) *Flyweight {
	return &Flyweight{buf: buf}
}

// Wrap points the flyweight at a new region.
func (f *Flyweight) Wrap(buf []byte) {
	f.buf = buf
}

// Len returns the length of the wrapped region.
func (f *Flyweight) Len() int {
	return len(f.buf)
}

// Bytes returns the sub-slice [start, end) without copying.
func (f *Flyweight) Bytes(start, end int) []byte {
	return f.buf[start:end]
}

// Scan returns the index of the first occurrence of b in [start, end),
// or UnknownIndex.
func (f *Flyweight) Scan(start, end int, b byte) int {
	for i := start; i < end; i++ {
		if f.buf[i] == b {
			return i
		}
	}
	return UnknownIndex
}

// GetChar returns the byte at index.
func (f *Flyweight) GetChar(index int) byte {
	return f.buf[index]
}

// GetDigit returns the value of the ASCII digit at index.
func (f *Flyweight) GetDigit(index int) (int, bool) {
	c := f.buf[index]
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

// GetInt parses the decimal integer held in [start, end). A single leading
// '-' is accepted. Any other non-digit byte, an empty range or a value that
// does not fit in an int is rejected instead of producing a truncated value.
func (f *Flyweight) GetInt(start, end int) (int, error) {
	if start >= end {
		return 0, ErrNotNumeric
	}

	negative := false
	if f.buf[start] == '-' {
		negative = true
		start++
		if start == end {
			return 0, ErrNotNumeric
		}
	}

	value := 0
	for i := start; i < end; i++ {
		c := f.buf[i]
		if c < '0' || c > '9' {
			return 0, ErrNotNumeric
		}
		d := int(c - '0')
		if value > (math.MaxInt-d)/10 {
			return 0, ErrNotNumeric
		}
		value = value*10 + d
	}

	if negative {
		return -value, nil
	}
	return value, nil
}
