package oram

import (
	"fmt"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/osort"
)

// Evict writes the stash back along the fetched path and shrinks the stash
// to exactly StashSize slots.
//
// Every real node is routed to the deepest bucket it may legally occupy
// with free room, filling from the leaf upwards. The stash is first padded
// with BucketSize filler dummies per path level so that, after routing,
// every level has at least BucketSize candidates; three sorting-network
// passes then bring exactly BucketSize entries per level to the front in
// leaf-to-root order, followed by the nodes that stay in the stash.
func (t *Tree[T, P]) Evict() error {
	if t.err != nil {
		return t.err
	}
	if t.path == nil {
		return ErrNoPath
	}

	var (
		path       = t.path
		leaf       = path[0] - (t.numLeaves - 1)
		depth      = uint64(t.depth)
		z          = uint64(t.cfg.BucketSize)
		stashLevel = depth + 1
		discard    = depth + 2
	)

	// Step 1: compute each real node's deepest legal level on this path
	for i := range t.stash {
		e := &t.stash[i]
		p := P(&e.node)
		e.real = p.Real()
		e.filler = 0
		e.min = t.deepestLevel(p.Leaf(), leaf)
		e.rank = ct.Select(e.real, e.min, stashLevel)
	}

	// Step 2: pad with one group of fillers per level
	for lvl := uint64(0); lvl <= depth; lvl++ {
		for s := uint64(0); s < z; s++ {
			t.stash = append(t.stash, entry[T]{level: lvl, filler: 1, rank: stashLevel})
		}
	}

	// Step 3: deepest-first, then greedy level assignment
	t.sortStash()
	var cur, used uint64
	for i := range t.stash {
		e := &t.stash[i]
		adv := e.real & ct.Less(cur, e.min)
		cur = ct.Select(adv, e.min, cur)
		used = ct.Select(adv, 0, used)

		fits := e.real & ct.LessEq(cur, depth)
		e.level = ct.Select(fits, cur, ct.Select(e.filler, e.level, stashLevel))
		used += fits

		full := fits & ct.Eq(used, z)
		cur += full
		used = ct.Select(full, 0, used)
	}

	// Step 4: group by level with reals first, then cut each group to Z
	for i := range t.stash {
		e := &t.stash[i]
		e.rank = e.level<<1 | ct.Not(e.real)
	}
	t.sortStash()
	prev, cnt := discard, uint64(0)
	for i := range t.stash {
		e := &t.stash[i]
		cnt = ct.Select(ct.Eq(e.level, prev), cnt+1, 1)
		prev = e.level
		excess := ct.LessEq(e.level, depth) & ct.Less(z, cnt)
		e.level = ct.Select(excess, discard, e.level)
		e.rank = e.level<<1 | ct.Not(e.real)
	}
	t.sortStash()

	// Step 5: refuse to drop real nodes
	var left uint64
	for i := range t.stash {
		left += t.stash[i].real & ct.Eq(t.stash[i].level, stashLevel)
	}
	if left > uint64(t.cfg.StashSize) {
		return t.fail(fmt.Errorf("%d real nodes left for %d stash slots: %w", left, t.cfg.StashSize, ErrStashOverflow))
	}

	// Step 6: serialize buckets into virtual storage
	for lvl, idx := range path {
		b, ok := t.cache.Load(idx)
		if !ok {
			return t.fail(fmt.Errorf("bucket %d missing from virtual storage", idx))
		}
		for s := 0; s < t.cfg.BucketSize; s++ {
			P(&t.stash[lvl*t.cfg.BucketSize+s].node).Marshal(b.Slot(s))
		}
		b.dirty = true
	}

	rest := t.stash[len(path)*t.cfg.BucketSize:]
	t.stash = append(t.stash[:0], rest[:t.cfg.StashSize]...)
	t.evicted = append(t.evicted, path)
	t.path = nil
	return nil
}

// deepestLevel returns the lowest path index (0 = leaf bucket) shared by
// the paths to leaf and evictLeaf. It looks at every bit of the XOR
// distance regardless of where the paths diverge.
func (t *Tree[T, P]) deepestLevel(leaf, evictLeaf uint64) uint64 {
	x := leaf ^ evictLeaf
	var shared, same uint64 = 0, 1
	for d := t.depth - 1; d >= 0; d-- {
		same &= ct.Not((x >> uint(d)) & 1)
		shared += same
	}
	return uint64(t.depth) - shared
}

func (t *Tree[T, P]) sortStash() {
	osort.Sort(t.stash, lessRank[T], swapEntries[T, P])
}

func lessRank[T any](a, b *entry[T]) uint64 {
	return ct.Less(a.rank, b.rank)
}

func swapEntries[T any, P Node[T]](c uint64, a, b *entry[T]) {
	P(&a.node).Swap(c, &b.node)
	ct.Swap(c, &a.min, &b.min)
	ct.Swap(c, &a.level, &b.level)
	ct.Swap(c, &a.real, &b.real)
	ct.Swap(c, &a.filler, &b.filler)
	ct.Swap(c, &a.rank, &b.rank)
}
