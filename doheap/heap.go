// Package doheap implements an oblivious min-heap on a Path-ORAM tree whose
// buckets carry one extra slot caching the minimum of their subtree.
//
// Every call, whether it inserts, extracts or does nothing, reads the root
// summary, fetches and evicts two paths and refreshes the summaries along
// both, so an observer of the block store cannot tell the calls apart.
package doheap

import (
	"errors"
	"fmt"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

var ErrInvalidOp = errors.New("invalid heap operation")

// Op selects what Execute does.
type Op uint64

const (
	OpExtract Op = 1
	OpInsert  Op = 2
	OpDummy   Op = 3
)

// Heap is an oblivious priority queue ordered by Bid.
//
// Heap is not safe for concurrent use.
type Heap struct {
	tree  *oram.Tree[HeapNode, *HeapNode]
	next  uint64 // last element index handed out
	count uint64
}

// New creates a heap for up to cfg.Capacity elements over a store opened by
// open.
func New(cfg oram.Config, open store.Factory) (*Heap, error) {
	cfg.AuxSlots = 1
	tree, err := oram.Create[HeapNode, *HeapNode](cfg, open)
	if err != nil {
		return nil, fmt.Errorf("doheap: %w", err)
	}
	return &Heap{tree: tree}, nil
}

// NewInMemory creates a heap over an in-memory store with default tree
// parameters.
func NewInMemory(capacity int) (*Heap, error) {
	return New(oram.Config{Capacity: capacity}, store.Memory())
}

// Tree returns the underlying ORAM tree.
func (h *Heap) Tree() *oram.Tree[HeapNode, *HeapNode] {
	return h.tree
}

// Len returns the number of elements.
func (h *Heap) Len() int {
	return int(h.count)
}

// Close closes the backing store.
func (h *Heap) Close() error {
	return h.tree.Close()
}

// Insert adds key with value.
func (h *Heap) Insert(key oram.Bid, value oram.Value) error {
	_, _, _, err := h.Execute(key, value, OpInsert)
	return err
}

// ExtractMin removes and returns the element with the smallest key. ok is 0
// when the heap is empty.
func (h *Heap) ExtractMin() (key oram.Bid, value oram.Value, ok uint64, err error) {
	return h.Execute(oram.Bid{}, oram.Value{}, OpExtract)
}

// Dummy performs the access pattern of any other call and changes nothing.
func (h *Heap) Dummy() error {
	_, _, _, err := h.Execute(oram.Bid{}, oram.Value{}, OpDummy)
	return err
}

// Execute runs op. For OpInsert, key and value are added. For OpExtract the
// minimum is removed and returned with ok set; other ops return ok = 0 and
// zero values. op may be secret: it only feeds constant-time selects.
func (h *Heap) Execute(key oram.Bid, value oram.Value, op Op) (oram.Bid, oram.Value, uint64, error) {
	if op < OpExtract || op > OpDummy {
		return oram.Bid{}, oram.Value{}, 0, fmt.Errorf("op %d: %w", op, ErrInvalidOp)
	}
	isInsert := ct.Eq(uint64(op), uint64(OpInsert))
	isExtract := ct.Eq(uint64(op), uint64(OpExtract))

	h.next++
	fresh := HeapNode{
		Key:   oram.SelectBid(isInsert, key, oram.Infinity),
		Value: value,
		Pos:   h.tree.RandomLeaf(),
		Index: ct.Select(isInsert, h.next, 0),
	}

	top, err := h.currentMin(isExtract)
	if err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	found := isExtract & top.Real()

	leaf := ct.Select(found, top.Pos, h.tree.RandomLeaf())
	if err := h.tree.FetchPath(leaf); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	h.tree.ScanStash(func(n *HeapNode) {
		n.Assign(found&n.same(&top), HeapNode{})
	})
	h.tree.Push(fresh)
	if err := h.evict(leaf); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}

	// The second path mirrors the first in the other half of the tree.
	mirror := leaf ^ (h.tree.NumLeaves() >> 1)
	if err := h.tree.FetchPath(mirror); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	h.tree.Push(HeapNode{})
	if err := h.evict(mirror); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}

	if err := h.tree.Flush(); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	h.count = h.count + isInsert - found
	return oram.SelectBid(found, top.Key, oram.Bid{}), oram.SelectValue(found, top.Value, oram.Value{}), found, nil
}

// FindMin returns the smallest element without removing it.
func (h *Heap) FindMin() (oram.Bid, oram.Value, uint64, error) {
	top, err := h.currentMin(1)
	if err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	if err := h.tree.Flush(); err != nil {
		return oram.Bid{}, oram.Value{}, 0, err
	}
	ok := top.Real()
	return oram.SelectBid(ok, top.Key, oram.Bid{}), oram.SelectValue(ok, top.Value, oram.Value{}), ok, nil
}

// currentMin reads the root summary and, when scan is 1, lets smaller stash
// elements pre-empt it. The stash is visited in full either way.
func (h *Heap) currentMin(scan uint64) (HeapNode, error) {
	var top HeapNode
	root, err := h.tree.Bucket(0)
	if err != nil {
		return top, err
	}
	top.Unmarshal(root.Aux())
	h.tree.ScanStash(func(n *HeapNode) {
		top.Assign(scan&n.sortKey().Less(top.sortKey()), *n)
	})
	return top, nil
}

func (h *Heap) evict(leaf uint64) error {
	if err := h.tree.Evict(); err != nil {
		return err
	}
	return h.updateMin(leaf)
}

// updateMin recomputes the subtree minimum of every bucket on the path to
// leaf, from the leaf up. Each bucket combines its own slots with the
// summaries of both children, so the sibling of every path bucket is loaded
// first.
func (h *Heap) updateMin(leaf uint64) error {
	path := h.tree.Path(leaf)
	sibs := make([]uint64, 0, len(path)-1)
	for _, idx := range path[:len(path)-1] {
		sibs = append(sibs, ((idx-1)^1)+1)
	}
	if err := h.tree.LoadBuckets(sibs); err != nil {
		return err
	}

	z := h.tree.Config().BucketSize
	var enc [NodeSize]byte
	for lvl, idx := range path {
		b, err := h.tree.Bucket(idx)
		if err != nil {
			return err
		}
		var best, n HeapNode
		for s := 0; s < z; s++ {
			n.Unmarshal(b.Slot(s))
			best.Assign(n.sortKey().Less(best.sortKey()), n)
		}
		if lvl > 0 {
			for _, c := range []uint64{2*idx + 1, 2*idx + 2} {
				child, err := h.tree.Bucket(c)
				if err != nil {
					return err
				}
				n.Unmarshal(child.Aux())
				best.Assign(n.sortKey().Less(best.sortKey()), n)
			}
		}
		best.Marshal(enc[:])
		b.SetAux(enc[:])
	}
	return nil
}
