// Package ct holds the constant-time primitives every oblivious component
// selects through. Conditions are uint64 values that must be exactly 0 or 1;
// no function here branches or indexes memory on a condition.
package ct

import (
	"crypto/subtle"
	"math/bits"
)

// mask widens a 0/1 condition to all-zero or all-one bits.
func mask(c uint64) uint64 {
	return -c
}

// Select returns a when c == 1 and b when c == 0.
func Select(c, a, b uint64) uint64 {
	return b ^ (mask(c) & (a ^ b))
}

// SelectInt is Select over int.
func SelectInt(c uint64, a, b int) int {
	return int(Select(c, uint64(a), uint64(b)))
}

// Assign sets *dst to src when c == 1.
func Assign(c uint64, dst *uint64, src uint64) {
	*dst = Select(c, src, *dst)
}

// Swap exchanges *a and *b when c == 1.
func Swap(c uint64, a, b *uint64) {
	t := mask(c) & (*a ^ *b)
	*a ^= t
	*b ^= t
}

// Not flips a condition.
func Not(c uint64) uint64 {
	return c ^ 1
}

// Eq reports a == b.
func Eq(a, b uint64) uint64 {
	x := a ^ b
	return 1 ^ ((x | -x) >> 63)
}

// IsZero reports a == 0.
func IsZero(a uint64) uint64 {
	return Eq(a, 0)
}

// Less reports a < b.
func Less(a, b uint64) uint64 {
	_, borrow := bits.Sub64(a, b, 0)
	return borrow
}

// LessEq reports a <= b.
func LessEq(a, b uint64) uint64 {
	return 1 ^ Less(b, a)
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	return Select(Less(a, b), a, b)
}

// Max returns the larger of a and b.
func Max(a, b uint64) uint64 {
	return Select(Less(a, b), b, a)
}

// FromBool converts a public flag into a condition.
func FromBool(b bool) uint64 {
	var c uint64
	if b {
		c = 1
	}
	return c
}

// Copy copies src into dst when c == 1. Lengths must match.
func Copy(c uint64, dst, src []byte) {
	subtle.ConstantTimeCopy(int(c), dst, src)
}

// SwapBytes exchanges the contents of a and b when c == 1. Lengths must match.
func SwapBytes(c uint64, a, b []byte) {
	m := byte(mask(c))
	for i := range a {
		t := m & (a[i] ^ b[i])
		a[i] ^= t
		b[i] ^= t
	}
}

// EqBytes reports whether a and b hold the same bytes.
func EqBytes(a, b []byte) uint64 {
	return uint64(subtle.ConstantTimeCompare(a, b))
}

// CompareBytes compares a and b lexicographically and returns lt (a < b) and
// eq (a == b). Both slices must have the same length. Every byte is visited.
func CompareBytes(a, b []byte) (lt, eq uint64) {
	eq = 1
	for i := range a {
		x, y := uint64(a[i]), uint64(b[i])
		lt |= eq & Less(x, y)
		eq &= Eq(x, y)
	}
	return lt, eq
}
