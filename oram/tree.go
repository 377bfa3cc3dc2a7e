// Package oram is the Path-ORAM core shared by the oblivious map and the
// oblivious heap: a binary bucket tree over an untrusted block store, a
// fixed-size stash and a sorting-network eviction that never branches on
// which blocks are real.
package oram

import (
	"fmt"

	"github.com/zhangyunhao116/skipmap"

	"github.com/etclab/graphos/store"
)

// Node is a fixed-size record the tree can route. The zero value must be a
// dummy, and dummies must marshal to all zeros so they are indistinguishable
// from never-written slots.
type Node[T any] interface {
	*T
	Size() int            // encoded size in bytes
	Leaf() uint64         // assigned leaf
	Real() uint64         // 1 for real nodes, 0 for dummies
	Marshal(dst []byte)   // dst has exactly Size bytes
	Unmarshal(src []byte) // src has exactly Size bytes
	Swap(c uint64, o *T)  // constant-time exchange when c == 1
}

// entry is a stash slot: a node plus routing scratch used during eviction.
type entry[T any] struct {
	node   T
	min    uint64 // deepest legal path index, 0 = leaf bucket
	level  uint64 // assigned path index; stash and discard sit past the root
	real   uint64
	filler uint64
	rank   uint64
}

// Tree implements the Path ORAM bucket tree for nodes of type T.
type Tree[T any, P Node[T]] struct {
	cfg        Config
	depth      int
	numLeaves  uint64
	numBuckets uint64
	nodeSize   int

	store store.Store
	cache *skipmap.Uint64Map[*Bucket] // virtual storage, flushed by Flush
	stash []entry[T]

	path    []uint64   // fetched path awaiting Evict
	evicted [][]uint64 // paths evicted since the last Flush
	err     error      // sticky fatal error
}

// New creates a tree over st. The store must have exactly the tree's bucket
// count and sealed bucket size; use Create to have one made.
func New[T any, P Node[T]](cfg Config, st store.Store) (*Tree[T, P], error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	depth, numLeaves, totalBuckets := cfg.ComputeTreeParams()
	nodeSize := P(new(T)).Size()

	if st.NumBlocks() != uint64(totalBuckets) || st.BlockSize() != cfg.BlockSize(nodeSize) {
		return nil, fmt.Errorf("store is %d x %d bytes, tree needs %d x %d: %w",
			st.NumBlocks(), st.BlockSize(), totalBuckets, cfg.BlockSize(nodeSize), ErrInvalidConfig)
	}

	return &Tree[T, P]{
		cfg:        cfg,
		depth:      depth,
		numLeaves:  uint64(numLeaves),
		numBuckets: uint64(totalBuckets),
		nodeSize:   nodeSize,
		store:      st,
		cache:      skipmap.NewUint64[*Bucket](),
		stash:      make([]entry[T], cfg.StashSize),
	}, nil
}

// Create sets up a store of the right geometry through open, formats it and
// returns the tree.
func Create[T any, P Node[T]](cfg Config, open store.Factory) (*Tree[T, P], error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	_, _, totalBuckets := cfg.ComputeTreeParams()
	st, err := open(uint64(totalBuckets), cfg.BlockSize(P(new(T)).Size()))
	if err != nil {
		return nil, fmt.Errorf("setup block store: %w", err)
	}
	t, err := New[T, P](cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := t.Format(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return t, nil
}

// Config returns the validated configuration.
func (t *Tree[T, P]) Config() Config {
	return t.cfg
}

// Depth returns the number of edges from root to leaf.
func (t *Tree[T, P]) Depth() int {
	return t.depth
}

// NumLeaves returns the number of leaves.
func (t *Tree[T, P]) NumLeaves() uint64 {
	return t.numLeaves
}

// NumBuckets returns the number of buckets.
func (t *Tree[T, P]) NumBuckets() uint64 {
	return t.numBuckets
}

// StashSize returns the current number of stash slots, real or dummy.
func (t *Tree[T, P]) StashSize() int {
	return len(t.stash)
}

// Store returns the backing block store.
func (t *Tree[T, P]) Store() store.Store {
	return t.store
}

// Err returns the sticky fatal error, if any.
func (t *Tree[T, P]) Err() error {
	return t.err
}

// Close closes the backing store.
func (t *Tree[T, P]) Close() error {
	return t.store.Close()
}

// RandomLeaf returns a uniformly random leaf.
func (t *Tree[T, P]) RandomLeaf() uint64 {
	return t.cfg.Rand.Uint64N(t.numLeaves)
}

// Path returns bucket indices from leaf to root.
func (t *Tree[T, P]) Path(leaf uint64) []uint64 {
	path := make([]uint64, t.depth+1)
	// Leaves start at bucket numLeaves-1
	bucket := t.numLeaves - 1 + leaf%t.numLeaves
	for i := range path {
		path[i] = bucket
		bucket = (bucket+1)/2 - 1 // parent
	}
	return path
}

// FetchPath moves every node slot on the path to leaf into the stash.
// Every fetched path must be followed by Evict before the next fetch.
func (t *Tree[T, P]) FetchPath(leaf uint64) error {
	if t.err != nil {
		return t.err
	}
	if t.path != nil {
		return ErrPathPending
	}

	path := t.Path(leaf)
	if err := t.load(path); err != nil {
		return err
	}
	for _, idx := range path {
		b, _ := t.cache.Load(idx)
		for s := 0; s < t.cfg.BucketSize; s++ {
			var n T
			P(&n).Unmarshal(b.Slot(s))
			t.stash = append(t.stash, entry[T]{node: n})
		}
	}
	t.path = path
	return nil
}

// Push adds a node to the stash. Callers push the same number of nodes per
// operation whether or not they are real.
func (t *Tree[T, P]) Push(n T) {
	t.stash = append(t.stash, entry[T]{node: n})
}

// ScanStash calls fn on every stash node, real or dummy, in slot order.
// fn must not branch on node contents.
func (t *Tree[T, P]) ScanStash(fn func(n P)) {
	for i := range t.stash {
		fn(&t.stash[i].node)
	}
}

// fail records a fatal error; the tree refuses further work.
func (t *Tree[T, P]) fail(err error) error {
	t.err = fmt.Errorf("%w: %w", ErrBroken, err)
	log.Error("oram tree failed", "error", err)
	return t.err
}
