package omap

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/etclab/graphos/oram"
)

// Pair is one key-value entry.
type Pair struct {
	Key   oram.Bid
	Value oram.Value
}

// SetupInsert builds a perfectly balanced tree from pairs and bulk loads it
// into an empty map. It branches on keys and must only run as trusted setup,
// before any oblivious operation.
func (m *Map) SetupInsert(pairs map[oram.Bid]oram.Value) error {
	if m.err != nil {
		return m.err
	}
	if m.rootKey.IsZero() == 0 {
		return ErrNotEmpty
	}
	if len(pairs) > m.capacity {
		return fmt.Errorf("setup %d keys into %d slots: %w", len(pairs), m.capacity, ErrFull)
	}
	if _, ok := pairs[oram.Bid{}]; ok {
		return ErrZeroKey
	}
	if len(pairs) == 0 {
		return nil
	}

	keys := slices.SortedFunc(maps.Keys(pairs), func(a, b oram.Bid) int {
		return bytes.Compare(a[:], b[:])
	})
	nodes := make([]Node, len(keys))
	for i, k := range keys {
		nodes[i] = Node{Key: k, Value: pairs[k], Pos: m.tree.RandomLeaf()}
	}

	var build func(lo, hi int) int
	build = func(lo, hi int) int {
		if lo >= hi {
			return -1
		}
		mid := lo + (hi-lo)/2
		l, r := build(lo, mid), build(mid+1, hi)
		n := &nodes[mid]
		if l >= 0 {
			n.LeftKey, n.LeftPos, n.LeftHeight = nodes[l].Key, nodes[l].Pos, nodes[l].Height
		}
		if r >= 0 {
			n.RightKey, n.RightPos, n.RightHeight = nodes[r].Key, nodes[r].Pos, nodes[r].Height
		}
		n.fixHeight()
		return mid
	}
	root := build(0, len(nodes))

	if err := m.tree.Bulkload(nodes); err != nil {
		return fmt.Errorf("omap setup: %w", err)
	}
	m.rootKey, m.rootPos = nodes[root].Key, nodes[root].Pos
	m.count = uint64(len(nodes))
	return nil
}
