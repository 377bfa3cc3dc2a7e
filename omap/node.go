package omap

import (
	"encoding/binary"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/oram"
)

// NodeSize is the encoded size of a Node.
const NodeSize = 112

var zeroNode [NodeSize]byte

// Node is one AVL tree node stored as an ORAM block. Children are referenced
// by key and current leaf; their heights are cached so balance factors can
// be computed without reading off-path nodes. A zero Key marks a dummy.
type Node struct {
	Key   oram.Bid
	Value oram.Value
	Pos   uint64

	LeftKey     oram.Bid
	LeftPos     uint64
	LeftHeight  uint64
	RightKey    oram.Bid
	RightPos    uint64
	RightHeight uint64

	Height uint64
}

func (n *Node) Size() int {
	return NodeSize
}

func (n *Node) Leaf() uint64 {
	return n.Pos
}

func (n *Node) Real() uint64 {
	return ct.Not(n.Key.IsZero())
}

// Marshal encodes n into dst. Dummies encode as zeros whatever their
// stale fields hold.
func (n *Node) Marshal(dst []byte) {
	copy(dst[0:16], n.Key[:])
	copy(dst[16:32], n.Value[:])
	binary.LittleEndian.PutUint64(dst[32:40], n.Pos)
	copy(dst[40:56], n.LeftKey[:])
	binary.LittleEndian.PutUint64(dst[56:64], n.LeftPos)
	binary.LittleEndian.PutUint64(dst[64:72], n.LeftHeight)
	copy(dst[72:88], n.RightKey[:])
	binary.LittleEndian.PutUint64(dst[88:96], n.RightPos)
	binary.LittleEndian.PutUint64(dst[96:104], n.RightHeight)
	binary.LittleEndian.PutUint64(dst[104:112], n.Height)
	ct.Copy(ct.Not(n.Real()), dst[:NodeSize], zeroNode[:])
}

func (n *Node) Unmarshal(src []byte) {
	copy(n.Key[:], src[0:16])
	copy(n.Value[:], src[16:32])
	n.Pos = binary.LittleEndian.Uint64(src[32:40])
	copy(n.LeftKey[:], src[40:56])
	n.LeftPos = binary.LittleEndian.Uint64(src[56:64])
	n.LeftHeight = binary.LittleEndian.Uint64(src[64:72])
	copy(n.RightKey[:], src[72:88])
	n.RightPos = binary.LittleEndian.Uint64(src[88:96])
	n.RightHeight = binary.LittleEndian.Uint64(src[96:104])
	n.Height = binary.LittleEndian.Uint64(src[104:112])
}

// Swap exchanges every field of n and o when c == 1.
func (n *Node) Swap(c uint64, o *Node) {
	n.Key.Swap(c, &o.Key)
	n.Value.Swap(c, &o.Value)
	ct.Swap(c, &n.Pos, &o.Pos)
	n.LeftKey.Swap(c, &o.LeftKey)
	ct.Swap(c, &n.LeftPos, &o.LeftPos)
	ct.Swap(c, &n.LeftHeight, &o.LeftHeight)
	n.RightKey.Swap(c, &o.RightKey)
	ct.Swap(c, &n.RightPos, &o.RightPos)
	ct.Swap(c, &n.RightHeight, &o.RightHeight)
	ct.Swap(c, &n.Height, &o.Height)
}

// Assign overwrites n with src when c == 1.
func (n *Node) Assign(c uint64, src Node) {
	n.Swap(c, &src)
}

// fixHeight recomputes Height from the cached child heights.
func (n *Node) fixHeight() {
	n.Height = 1 + ct.Max(n.LeftHeight, n.RightHeight)
}
