// Package omap implements an oblivious key-value map: an AVL tree whose
// nodes live in a Path-ORAM tree and are located through positions cached in
// their parents. Every lookup visits exactly Height tree levels and every
// insert twice that, whatever the keys involved.
package omap

import (
	"errors"
	"fmt"
	"math"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

var (
	ErrFull     = errors.New("omap capacity exceeded")
	ErrZeroKey  = errors.New("zero key is reserved for dummies")
	ErrNotEmpty = errors.New("setup insert into a non-empty map")
	ErrBroken   = errors.New("omap unusable after fatal error")
)

// Map is an oblivious ordered map from Bid to Value.
//
// Map is not safe for concurrent use.
type Map struct {
	tree     *oram.Tree[Node, *Node]
	rootKey  oram.Bid
	rootPos  uint64
	height   int
	capacity int
	count    uint64
	err      error
}

// New creates a map for up to cfg.Capacity keys over a store opened by open.
func New(cfg oram.Config, open store.Factory) (*Map, error) {
	cfg.AuxSlots = 0
	tree, err := oram.Create[Node, *Node](cfg, open)
	if err != nil {
		return nil, fmt.Errorf("omap: %w", err)
	}
	return &Map{
		tree:     tree,
		height:   maxHeight(cfg.Capacity),
		capacity: cfg.Capacity,
	}, nil
}

// NewInMemory creates a map over an in-memory store with default tree
// parameters.
func NewInMemory(capacity int) (*Map, error) {
	return New(oram.Config{Capacity: capacity}, store.Memory())
}

// maxHeight bounds the height of an AVL tree with n nodes, with one level
// of slack so an insert path always has room for the new node.
func maxHeight(n int) int {
	return int(math.Floor(1.4405*math.Log2(float64(n+2))-0.3277)) + 1
}

// Height returns the number of ORAM accesses per traversal.
func (m *Map) Height() int {
	return m.height
}

// Capacity returns the maximum number of keys.
func (m *Map) Capacity() int {
	return m.capacity
}

// Len returns the number of keys stored.
func (m *Map) Len() int {
	return int(m.count)
}

// Root returns the root handle: the root key and its current leaf.
func (m *Map) Root() (oram.Bid, uint64) {
	return m.rootKey, m.rootPos
}

// Tree returns the underlying ORAM tree.
func (m *Map) Tree() *oram.Tree[Node, *Node] {
	return m.tree
}

// Flush writes virtual storage back to the block store.
func (m *Map) Flush() error {
	if m.err != nil {
		return m.err
	}
	return m.tree.Flush()
}

// Close closes the backing store.
func (m *Map) Close() error {
	return m.tree.Close()
}

func (m *Map) fail(err error) error {
	m.err = fmt.Errorf("%w: %w", ErrBroken, err)
	return m.err
}

// walk descends from the root towards key with exactly m.height ORAM
// accesses. Each access fetches the path holding the next node, takes that
// node out of the stash and calls visit with it; hit is 1 at the node whose
// key equals key. Once the descent has ended, the remaining accesses fetch
// random paths and visit receives a dummy.
//
// With extract unset the visited node goes back to the stash on a fresh
// leaf, and its parent learns the new leaf. With extract set a dummy is
// pushed instead and the caller owns the node.
func (m *Map) walk(key oram.Bid, extract bool, visit func(i int, got *Node, hit uint64)) error {
	var (
		curKey  = m.rootKey
		curPos  = m.rootPos
		newPos  = m.tree.RandomLeaf()
		rootPos = newPos
		done    = m.rootKey.IsZero()
	)
	for i := 0; i < m.height; i++ {
		leaf := ct.Select(done, m.tree.RandomLeaf(), curPos)
		if err := m.tree.FetchPath(leaf); err != nil {
			return err
		}

		var got Node
		live := ct.Not(done)
		m.tree.ScanStash(func(n *Node) {
			got.Swap(live&n.Real()&n.Key.Equal(curKey), n)
		})

		hit := live & got.Key.Equal(key)
		lt := key.Less(got.Key)
		childKey := oram.SelectBid(lt, got.LeftKey, got.RightKey)
		childPos := ct.Select(lt, got.LeftPos, got.RightPos)
		follow := live & ct.Not(hit) & ct.Not(childKey.IsZero())

		visit(i, &got, hit)

		if extract {
			m.tree.Push(Node{})
		} else {
			childNew := m.tree.RandomLeaf()
			got.Pos = newPos
			ct.Assign(follow&lt, &got.LeftPos, childNew)
			ct.Assign(follow&ct.Not(lt), &got.RightPos, childNew)
			newPos = childNew
			m.tree.Push(got)
		}
		if err := m.tree.Evict(); err != nil {
			return err
		}

		done |= ct.Not(follow)
		curKey, curPos = childKey, childPos
	}
	if !extract {
		m.rootPos = rootPos
	}
	return nil
}

// update reads key and rewrites its value to fn(old). fn runs at every
// level, on dummies too, and its result is kept only at the match.
func (m *Map) update(key oram.Bid, fn func(old oram.Value) oram.Value) (old oram.Value, found uint64, err error) {
	if m.err != nil {
		return old, 0, m.err
	}
	// An empty map has no root to visit.
	if m.rootKey.IsZero() == 1 {
		return old, 0, nil
	}
	err = m.walk(key, false, func(_ int, got *Node, hit uint64) {
		old.Assign(hit, got.Value)
		found |= hit
		got.Value.Assign(hit, fn(got.Value))
	})
	return old, found, err
}

func keep(v oram.Value) oram.Value {
	return v
}

// Find returns the value stored under key. found is 1 when key is present;
// otherwise the value is empty.
func (m *Map) Find(key oram.Bid) (v oram.Value, found uint64, err error) {
	if v, found, err = m.update(key, keep); err != nil {
		return v, found, err
	}
	return v, found, m.Flush()
}

// Update applies fn to the value under key and returns the previous value.
// fn must not branch on its argument; it is called once per level.
func (m *Map) Update(key oram.Bid, fn func(old oram.Value) oram.Value) (old oram.Value, found uint64, err error) {
	if old, found, err = m.update(key, fn); err != nil {
		return old, found, err
	}
	return old, found, m.Flush()
}

// IncPart increments the first or second word of the value under key and
// returns the incremented value. Missing keys are left alone.
func (m *Map) IncPart(key oram.Bid, first bool) (oram.Value, uint64, error) {
	inc := func(v oram.Value) oram.Value {
		a, b := v.Pair()
		if first {
			return oram.ValueFromPair(a+1, b)
		}
		return oram.ValueFromPair(a, b+1)
	}
	old, found, err := m.Update(key, inc)
	return oram.SelectValue(found, inc(old), old), found, err
}

func lowerDist(dist uint64) func(oram.Value) oram.Value {
	return func(v oram.Value) oram.Value {
		a, b := v.Pair()
		return oram.ValueFromPair(ct.Min(a, dist), b)
	}
}

// ReadAndSetDist lowers the first word of the value under key to dist if
// dist is smaller and returns the previous value.
func (m *Map) ReadAndSetDist(key oram.Bid, dist uint64) (oram.Value, uint64, error) {
	return m.Update(key, lowerDist(dist))
}

// SearchInsert overwrites the value under key with v and returns the
// previous value. Missing keys are not added.
func (m *Map) SearchInsert(key oram.Bid, v oram.Value) (oram.Value, uint64, error) {
	return m.Update(key, func(oram.Value) oram.Value { return v })
}

// The Atomic variants run without the closing Flush and leave their
// buckets in virtual storage until the next flushing call. They are used
// for result readout, where a batch of lookups shares one write-back.
// Audit any new caller: a crash between an atomic call and the next flush
// loses the relocated nodes.

// AtomicFind is Find without the closing Flush.
func (m *Map) AtomicFind(key oram.Bid) (oram.Value, uint64, error) {
	return m.update(key, keep)
}

// AtomicReadAndSetDist is ReadAndSetDist without the closing Flush.
func (m *Map) AtomicReadAndSetDist(key oram.Bid, dist uint64) (oram.Value, uint64, error) {
	return m.update(key, lowerDist(dist))
}

// AtomicInsert is Insert without the closing Flush.
func (m *Map) AtomicInsert(key oram.Bid, v oram.Value) error {
	return m.insert(key, v)
}
