package oram

import (
	"fmt"

	"github.com/zhangyunhao116/skipmap"

	"github.com/etclab/graphos/store"
)

// Bucket is the plaintext of one tree bucket held in virtual storage:
// BucketSize routed slots followed by AuxSlots summary slots.
type Bucket struct {
	data     []byte
	nodeSize int
	slots    int
	dirty    bool
}

// Slot returns the encoding of routed slot i.
func (b *Bucket) Slot(i int) []byte {
	return b.data[i*b.nodeSize : (i+1)*b.nodeSize]
}

// Aux returns the encoding of the first summary slot.
func (b *Bucket) Aux() []byte {
	return b.Slot(b.slots)
}

// SetAux overwrites the first summary slot.
func (b *Bucket) SetAux(src []byte) {
	copy(b.Aux(), src)
	b.dirty = true
}

// Bucket returns bucket idx from virtual storage, reading it first if it is
// not cached.
func (t *Tree[T, P]) Bucket(idx uint64) (*Bucket, error) {
	if t.err != nil {
		return nil, t.err
	}
	if b, ok := t.cache.Load(idx); ok {
		return b, nil
	}
	if err := t.load([]uint64{idx}); err != nil {
		return nil, err
	}
	b, _ := t.cache.Load(idx)
	return b, nil
}

// LoadBuckets brings every listed bucket into virtual storage without
// touching the stash.
func (t *Tree[T, P]) LoadBuckets(idxs []uint64) error {
	return t.load(idxs)
}

// load reads the listed buckets that are not cached, in one batch. Under
// StrictTrace every listed bucket is read and stale copies are discarded.
func (t *Tree[T, P]) load(idxs []uint64) error {
	if t.err != nil {
		return t.err
	}
	var miss []uint64
	if t.cfg.StrictTrace {
		miss = idxs
	} else {
		for _, idx := range idxs {
			if _, ok := t.cache.Load(idx); !ok {
				miss = append(miss, idx)
			}
		}
	}
	if len(miss) == 0 {
		return nil
	}

	raw, err := t.store.ReadBatch(miss)
	if err != nil {
		return t.fail(fmt.Errorf("read buckets: %w", err))
	}
	for i, idx := range miss {
		if _, ok := t.cache.Load(idx); ok {
			continue
		}
		if len(raw[i]) != t.store.BlockSize() {
			return t.fail(fmt.Errorf("bucket %d: %w", idx, store.ErrShortRead))
		}
		plain, err := t.cfg.Encryptor.Open(idx, raw[i])
		if err != nil {
			return t.fail(fmt.Errorf("bucket %d: %w", idx, err))
		}
		t.cache.Store(idx, t.newBucket(plain))
	}
	return nil
}

func (t *Tree[T, P]) newBucket(plain []byte) *Bucket {
	return &Bucket{data: plain, nodeSize: t.nodeSize, slots: t.cfg.BucketSize}
}

func (t *Tree[T, P]) seal(idx uint64, b *Bucket) ([]byte, error) {
	sealed, err := t.cfg.Encryptor.Seal(idx, b.data)
	if err != nil {
		return nil, fmt.Errorf("bucket %d: %w", idx, err)
	}
	return sealed, nil
}

// CachedBuckets returns how many buckets virtual storage holds.
func (t *Tree[T, P]) CachedBuckets() int {
	n := 0
	t.cache.Range(func(uint64, *Bucket) bool {
		n++
		return true
	})
	return n
}

// Flush writes virtual storage back to the block store in one batch and
// empties it. Dirty buckets are written in ascending index order; under
// StrictTrace every evicted path is written in full instead.
func (t *Tree[T, P]) Flush() error {
	if t.err != nil {
		return t.err
	}
	if t.path != nil {
		return ErrPathPending
	}

	var (
		idxs []uint64
		data [][]byte
		err  error
	)
	add := func(idx uint64, b *Bucket) bool {
		var sealed []byte
		if sealed, err = t.seal(idx, b); err != nil {
			return false
		}
		idxs = append(idxs, idx)
		data = append(data, sealed)
		return true
	}

	if t.cfg.StrictTrace {
		for _, path := range t.evicted {
			for _, idx := range path {
				b, _ := t.cache.Load(idx)
				if !add(idx, b) {
					break
				}
			}
			if err != nil {
				break
			}
		}
	} else {
		t.cache.Range(func(idx uint64, b *Bucket) bool {
			if !b.dirty {
				return true
			}
			return add(idx, b)
		})
	}
	if err != nil {
		return t.fail(err)
	}

	if len(idxs) > 0 {
		if err := t.store.WriteBatch(idxs, data); err != nil {
			return t.fail(fmt.Errorf("write buckets: %w", err))
		}
	}
	t.cache = skipmap.NewUint64[*Bucket]()
	t.evicted = nil
	return nil
}
