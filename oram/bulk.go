package oram

import "fmt"

// writeBatchSize caps the number of buckets per store call during setup.
const writeBatchSize = 10000

// Format writes every bucket as empty. Unsealed trees use a single
// InitializeRange; sealed trees seal each bucket separately so no two
// ciphertexts share a nonce.
func (t *Tree[T, P]) Format() error {
	plainSize := (t.cfg.BucketSize + t.cfg.AuxSlots) * t.nodeSize
	if t.cfg.Encryptor.Overhead() == 0 {
		empty, err := t.cfg.Encryptor.Seal(0, make([]byte, plainSize))
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		if err := t.store.InitializeRange(0, t.numBuckets, empty); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	} else {
		plain := make([][]byte, t.numBuckets)
		for i := range plain {
			plain[i] = make([]byte, plainSize)
		}
		if err := t.writeAll(plain); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	log.Debug("formatted oram tree", "buckets", t.numBuckets, "depth", t.depth)
	return nil
}

// Bulkload places nodes directly into the bucket tree, each in the deepest
// bucket with room on the path to its leaf, overflowing into the stash.
// It is trusted setup: placement branches on node positions and must only
// run before any oblivious operation.
func (t *Tree[T, P]) Bulkload(nodes []T) error {
	if t.err != nil {
		return t.err
	}
	if t.path != nil || t.CachedBuckets() > 0 {
		return ErrPathPending
	}
	for i := range t.stash {
		if P(&t.stash[i].node).Real() == 1 {
			return ErrNotEmpty
		}
	}

	z := t.cfg.BucketSize
	plainSize := (z + t.cfg.AuxSlots) * t.nodeSize
	plain := make([][]byte, t.numBuckets)
	for i := range plain {
		plain[i] = make([]byte, plainSize)
	}
	fill := make([]int, t.numBuckets)
	free := 0
	stashed := 0

	for i := range nodes {
		n := P(&nodes[i])
		placed := false
		for _, idx := range t.Path(n.Leaf()) {
			if fill[idx] < z {
				off := fill[idx] * t.nodeSize
				n.Marshal(plain[idx][off : off+t.nodeSize])
				fill[idx]++
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		if free == len(t.stash) {
			return fmt.Errorf("bulk load: %w", ErrStashOverflow)
		}
		t.stash[free].node = nodes[i]
		free++
		stashed++
	}

	if err := t.writeAll(plain); err != nil {
		return fmt.Errorf("bulk load: %w", err)
	}
	log.Info("bulk loaded oram tree", "nodes", len(nodes), "stashed", stashed, "buckets", t.numBuckets)
	return nil
}

func (t *Tree[T, P]) writeAll(plain [][]byte) error {
	for start := 0; start < len(plain); start += writeBatchSize {
		end := min(start+writeBatchSize, len(plain))
		idxs := make([]uint64, 0, end-start)
		data := make([][]byte, 0, end-start)
		for i := start; i < end; i++ {
			sealed, err := t.seal(uint64(i), t.newBucket(plain[i]))
			if err != nil {
				return err
			}
			idxs = append(idxs, uint64(i))
			data = append(data, sealed)
		}
		if err := t.store.WriteBatch(idxs, data); err != nil {
			return err
		}
	}
	return nil
}
