package oram

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/etclab/graphos/ct"
)

// KeySize is the width of a Bid and of a Value.
const KeySize = 16

// Bid is a fixed-width block identifier ordered lexicographically.
// The zero Bid marks "no node"; Infinity sorts after every real key.
type Bid [KeySize]byte

// Infinity is the greatest Bid.
var Infinity = Bid{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// BidFromPair packs two big-endian words, so Bid order matches (hi, lo) order.
func BidFromPair(hi, lo uint64) Bid {
	var b Bid
	binary.BigEndian.PutUint64(b[0:8], hi)
	binary.BigEndian.PutUint64(b[8:16], lo)
	return b
}

// BidFromUint64 is BidFromPair(0, v).
func BidFromUint64(v uint64) Bid {
	return BidFromPair(0, v)
}

// BidFromString zero-pads s; bytes beyond KeySize are dropped.
func BidFromString(s string) Bid {
	var b Bid
	copy(b[:], s)
	return b
}

// Pair unpacks the two words written by BidFromPair.
func (b Bid) Pair() (hi, lo uint64) {
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])
}

// IsZero reports b == zero.
func (b Bid) IsZero() uint64 {
	var acc byte
	for _, x := range b {
		acc |= x
	}
	return ct.IsZero(uint64(acc))
}

// Equal reports b == o.
func (b Bid) Equal(o Bid) uint64 {
	return ct.EqBytes(b[:], o[:])
}

// Compare returns lt (b < o) and eq (b == o).
func (b Bid) Compare(o Bid) (lt, eq uint64) {
	return ct.CompareBytes(b[:], o[:])
}

// Less reports b < o.
func (b Bid) Less(o Bid) uint64 {
	lt, _ := b.Compare(o)
	return lt
}

// Assign sets *b to src when c == 1.
func (b *Bid) Assign(c uint64, src Bid) {
	ct.Copy(c, b[:], src[:])
}

// Swap exchanges *b and *o when c == 1.
func (b *Bid) Swap(c uint64, o *Bid) {
	ct.SwapBytes(c, b[:], o[:])
}

// SelectBid returns x when c == 1 and y otherwise.
func SelectBid(c uint64, x, y Bid) Bid {
	y.Assign(c, x)
	return y
}

func (b Bid) String() string {
	if b == Infinity {
		return "inf"
	}
	if s := bytes.TrimRight(b[:], "\x00"); isPrintable(s) {
		return string(s)
	}
	return fmt.Sprintf("%x", b[:])
}

// Value is the fixed-size payload of a node. The zero Value is "empty".
type Value [KeySize]byte

// ValueFromPair packs two big-endian words.
func ValueFromPair(a, b uint64) Value {
	return Value(BidFromPair(a, b))
}

// ValueFromString zero-pads s; bytes beyond KeySize are dropped.
func ValueFromString(s string) Value {
	return Value(BidFromString(s))
}

// Pair unpacks the two words written by ValueFromPair.
func (v Value) Pair() (a, b uint64) {
	return Bid(v).Pair()
}

// First returns the first word.
func (v Value) First() uint64 {
	return binary.BigEndian.Uint64(v[0:8])
}

// Second returns the second word.
func (v Value) Second() uint64 {
	return binary.BigEndian.Uint64(v[8:16])
}

// IsEmpty reports whether v is the zero Value.
func (v Value) IsEmpty() uint64 {
	return Bid(v).IsZero()
}

// Equal reports v == o.
func (v Value) Equal(o Value) uint64 {
	return ct.EqBytes(v[:], o[:])
}

// Assign sets *v to src when c == 1.
func (v *Value) Assign(c uint64, src Value) {
	ct.Copy(c, v[:], src[:])
}

// Swap exchanges *v and *o when c == 1.
func (v *Value) Swap(c uint64, o *Value) {
	ct.SwapBytes(c, v[:], o[:])
}

// SelectValue returns x when c == 1 and y otherwise.
func SelectValue(c uint64, x, y Value) Value {
	y.Assign(c, x)
	return y
}

func (v Value) String() string {
	s := bytes.TrimRight(v[:], "\x00")
	if isPrintable(s) {
		return string(s)
	}
	return fmt.Sprintf("%x", v[:])
}

func isPrintable(s []byte) bool {
	if len(s) == 0 {
		return true
	}
	for _, c := range s {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
