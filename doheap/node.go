package doheap

import (
	"encoding/binary"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/oram"
)

// NodeSize is the encoded size of a HeapNode.
const NodeSize = 48

var zeroNode [NodeSize]byte

// HeapNode is one heap element. Index is a nonzero id unique to the insert
// that created the element; a zero Index marks a dummy.
type HeapNode struct {
	Key   oram.Bid
	Value oram.Value
	Pos   uint64
	Index uint64
}

func (n *HeapNode) Size() int {
	return NodeSize
}

func (n *HeapNode) Leaf() uint64 {
	return n.Pos
}

func (n *HeapNode) Real() uint64 {
	return ct.Not(ct.IsZero(n.Index))
}

// Marshal encodes n into dst; dummies encode as zeros.
func (n *HeapNode) Marshal(dst []byte) {
	copy(dst[0:16], n.Key[:])
	copy(dst[16:32], n.Value[:])
	binary.LittleEndian.PutUint64(dst[32:40], n.Pos)
	binary.LittleEndian.PutUint64(dst[40:48], n.Index)
	ct.Copy(ct.Not(n.Real()), dst[:NodeSize], zeroNode[:])
}

func (n *HeapNode) Unmarshal(src []byte) {
	copy(n.Key[:], src[0:16])
	copy(n.Value[:], src[16:32])
	n.Pos = binary.LittleEndian.Uint64(src[32:40])
	n.Index = binary.LittleEndian.Uint64(src[40:48])
}

func (n *HeapNode) Swap(c uint64, o *HeapNode) {
	n.Key.Swap(c, &o.Key)
	n.Value.Swap(c, &o.Value)
	ct.Swap(c, &n.Pos, &o.Pos)
	ct.Swap(c, &n.Index, &o.Index)
}

// Assign overwrites n with src when c == 1.
func (n *HeapNode) Assign(c uint64, src HeapNode) {
	n.Swap(c, &src)
}

// sortKey is Key for real nodes and Infinity for dummies.
func (n *HeapNode) sortKey() oram.Bid {
	return oram.SelectBid(n.Real(), n.Key, oram.Infinity)
}

// same reports whether n is the real element o.
func (n *HeapNode) same(o *HeapNode) uint64 {
	return n.Real() & n.Key.Equal(o.Key) & n.Value.Equal(o.Value) & ct.Eq(n.Index, o.Index)
}
