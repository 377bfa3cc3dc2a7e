package omap

import (
	"fmt"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/oram"
)

// Insert stores v under key, replacing any previous value, and rebalances.
func (m *Map) Insert(key oram.Bid, v oram.Value) error {
	if err := m.insert(key, v); err != nil {
		return err
	}
	return m.Flush()
}

// BatchInsert inserts every pair and flushes once at the end.
func (m *Map) BatchInsert(pairs []Pair) error {
	for _, p := range pairs {
		if err := m.insert(p.Key, p.Value); err != nil {
			return err
		}
	}
	return m.Flush()
}

// insert runs in three phases of fixed shape. The root-to-key path is taken
// out of the tree with Height accesses. The path is then updated and
// rebalanced locally, examining every level for all four rotation cases.
// Finally every path slot gets a fresh leaf and is written back with
// another Height accesses.
func (m *Map) insert(key oram.Bid, v oram.Value) error {
	if m.err != nil {
		return m.err
	}
	if key.IsZero() == 1 {
		return ErrZeroKey
	}

	h := m.height
	buf := make([]Node, h+1) // the extra slot keeps rotations in bounds
	dirs := make([]uint64, h)
	var found, k uint64

	err := m.walk(key, true, func(i int, got *Node, hit uint64) {
		got.Value.Assign(hit, v)
		buf[i] = *got
		dirs[i] = key.Less(got.Key)
		found |= hit
		k += got.Real()
	})
	if err != nil {
		return err
	}

	grow := ct.Not(found)
	if grow&(ct.Eq(k, uint64(h))|ct.Less(uint64(m.capacity), m.count+1)) == 1 {
		return m.fail(fmt.Errorf("insert key %d of %d: %w", m.count+1, m.capacity, ErrFull))
	}

	fresh := Node{Key: key, Value: v, Height: 1}
	for j := 0; j < h; j++ {
		buf[j].Assign(grow&ct.Eq(uint64(j), k), fresh)
	}
	size := k + grow
	for i := h - 2; i >= 0; i-- {
		rebalance(buf, dirs[i], i, ct.Less(uint64(i+1), size))
	}
	m.count += grow

	pos := make([]uint64, h)
	for j := range pos {
		pos[j] = m.tree.RandomLeaf()
		buf[j].Pos = pos[j]
	}
	for j := 0; j < h; j++ {
		n := &buf[j]
		for l := 0; l < h; l++ {
			isReal := buf[l].Real()
			ct.Assign(isReal&n.LeftKey.Equal(buf[l].Key), &n.LeftPos, pos[l])
			ct.Assign(isReal&n.RightKey.Equal(buf[l].Key), &n.RightPos, pos[l])
		}
	}
	m.rootKey = buf[0].Key
	m.rootPos = pos[0]

	for j := 0; j < h; j++ {
		if err := m.tree.FetchPath(pos[j]); err != nil {
			return err
		}
		m.tree.Push(buf[j])
		if err := m.tree.Evict(); err != nil {
			return err
		}
	}
	return nil
}

// rebalance relinks buf[i+1] under buf[i], recomputes the height of buf[i]
// and applies whichever rotation the balance factors call for. active is 1
// when both buf[i] and buf[i+1] are real. After a rotation buf[i] holds the
// new subtree root and buf[i+1], buf[i+2] hold the nodes below it.
func rebalance(buf []Node, left uint64, i int, active uint64) {
	p, c, g := buf[i], buf[i+1], buf[i+2]
	right := ct.Not(left)

	p.LeftKey.Assign(active&left, c.Key)
	ct.Assign(active&left, &p.LeftHeight, c.Height)
	p.RightKey.Assign(active&right, c.Key)
	ct.Assign(active&right, &p.RightHeight, c.Height)
	ct.Assign(active, &p.Height, 1+ct.Max(p.LeftHeight, p.RightHeight))

	leftHeavy := active & left & ct.Eq(p.LeftHeight, p.RightHeight+2)
	rightHeavy := active & right & ct.Eq(p.RightHeight, p.LeftHeight+2)
	ll := leftHeavy & ct.LessEq(c.RightHeight, c.LeftHeight)
	lr := leftHeavy & ct.Less(c.LeftHeight, c.RightHeight)
	rr := rightHeavy & ct.LessEq(c.LeftHeight, c.RightHeight)
	rl := rightHeavy & ct.Less(c.RightHeight, c.LeftHeight)

	llTop, llBot := rotateRight(p, c)
	rrTop, rrBot := rotateLeft(p, c)
	lrTop, lrMid, lrBot := rotateLeftRight(p, c, g)
	rlTop, rlMid, rlBot := rotateRightLeft(p, c, g)

	buf[i] = p
	buf[i].Assign(ll, llTop)
	buf[i+1].Assign(ll, llBot)
	buf[i].Assign(rr, rrTop)
	buf[i+1].Assign(rr, rrBot)
	buf[i].Assign(lr, lrTop)
	buf[i+1].Assign(lr, lrMid)
	buf[i+2].Assign(lr, lrBot)
	buf[i].Assign(rl, rlTop)
	buf[i+1].Assign(rl, rlMid)
	buf[i+2].Assign(rl, rlBot)
}

// rotateRight lifts l, the left child of p, above p. Child leaves of moved
// subtrees travel with their keys; links to p itself are fixed up later.
func rotateRight(p, l Node) (top, bottom Node) {
	p.LeftKey, p.LeftPos, p.LeftHeight = l.RightKey, l.RightPos, l.RightHeight
	p.fixHeight()
	l.RightKey, l.RightPos, l.RightHeight = p.Key, p.Pos, p.Height
	l.fixHeight()
	return l, p
}

// rotateLeft lifts r, the right child of p, above p.
func rotateLeft(p, r Node) (top, bottom Node) {
	p.RightKey, p.RightPos, p.RightHeight = r.LeftKey, r.LeftPos, r.LeftHeight
	p.fixHeight()
	r.LeftKey, r.LeftPos, r.LeftHeight = p.Key, p.Pos, p.Height
	r.fixHeight()
	return r, p
}

// rotateLeftRight lifts g, the right child of c, which is the left child of p.
func rotateLeftRight(p, c, g Node) (top, mid, bottom Node) {
	g, c = rotateLeft(c, g)
	p.LeftKey, p.LeftHeight = g.Key, g.Height
	g, p = rotateRight(p, g)
	return g, c, p
}

// rotateRightLeft lifts g, the left child of c, which is the right child of p.
func rotateRightLeft(p, c, g Node) (top, mid, bottom Node) {
	g, c = rotateRight(c, g)
	p.RightKey, p.RightHeight = g.Key, g.Height
	g, p = rotateLeft(p, g)
	return g, c, p
}
