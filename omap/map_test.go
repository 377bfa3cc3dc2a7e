package omap

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

func newTestMap(t testing.TB, capacity int, open store.Factory) *Map {
	t.Helper()
	cfg := oram.Config{Capacity: capacity, Rand: rand.New(rand.NewPCG(3, 5))}
	m, err := New(cfg, open)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func key(i uint64) oram.Bid {
	return oram.BidFromUint64(i)
}

// dump reads every real node from the flushed store and the stash.
func dump(t *testing.T, m *Map) map[oram.Bid]Node {
	t.Helper()
	require.NoError(t, m.Flush())
	tree := m.Tree()
	nodes := make(map[oram.Bid]Node)
	for idx := uint64(0); idx < tree.NumBuckets(); idx++ {
		raw, err := tree.Store().Read(idx)
		require.NoError(t, err)
		for s := 0; s < tree.Config().BucketSize; s++ {
			var n Node
			n.Unmarshal(raw[s*NodeSize : (s+1)*NodeSize])
			if n.Real() == 1 {
				require.NotContains(t, nodes, n.Key, "duplicate node")
				nodes[n.Key] = n
			}
		}
	}
	tree.ScanStash(func(n *Node) {
		if n.Real() == 1 {
			require.NotContains(t, nodes, n.Key, "duplicate node")
			nodes[n.Key] = *n
		}
	})
	return nodes
}

// checkAVL verifies ordering, cached heights and positions, and balance of
// the stored tree and returns its height.
func checkAVL(t *testing.T, m *Map) int {
	t.Helper()
	nodes := dump(t, m)
	rootKey, rootPos := m.Root()
	if rootKey.IsZero() == 1 {
		require.Empty(t, nodes)
		return 0
	}

	seen := 0
	var visit func(k oram.Bid, pos uint64, lo, hi *oram.Bid) uint64
	visit = func(k oram.Bid, pos uint64, lo, hi *oram.Bid) uint64 {
		if k.IsZero() == 1 {
			return 0
		}
		n, ok := nodes[k]
		require.True(t, ok, "missing node %v", k)
		require.Equal(t, pos, n.Pos, "stale position for %v", k)
		if lo != nil {
			require.Equal(t, 1, bytes.Compare(k[:], lo[:]))
		}
		if hi != nil {
			require.Equal(t, -1, bytes.Compare(k[:], hi[:]))
		}
		seen++
		lh := visit(n.LeftKey, n.LeftPos, lo, &k)
		rh := visit(n.RightKey, n.RightPos, &k, hi)
		require.Equal(t, lh, n.LeftHeight, "left height of %v", k)
		require.Equal(t, rh, n.RightHeight, "right height of %v", k)
		require.Equal(t, 1+max(lh, rh), n.Height, "height of %v", k)
		require.LessOrEqual(t, max(lh, rh)-min(lh, rh), uint64(1), "unbalanced at %v", k)
		return n.Height
	}
	height := visit(rootKey, rootPos, nil, nil)
	require.Equal(t, len(nodes), seen, "unreachable nodes")
	require.Equal(t, m.Len(), seen)
	return int(height)
}

func TestMaxHeight(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{1, 2},
		{2, 3},
		{7, 5},
		{100, 10},
		{1000, 15},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maxHeight(tt.n), "n=%d", tt.n)
	}
}

func TestMap_FindEmpty(t *testing.T) {
	var rec *store.Recorder
	m := newTestMap(t, 8, store.Recording(store.Memory(), &rec))
	rec.Reset()

	v, found, err := m.Find(key(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), found)
	assert.Equal(t, uint64(1), v.IsEmpty())

	old, found, err := m.IncPart(key(1), true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), found)
	assert.Equal(t, uint64(1), old.IsEmpty())

	assert.Empty(t, rec.Trace())
}

func TestMap_InsertFind(t *testing.T) {
	m := newTestMap(t, 200, store.Memory())
	r := rand.New(rand.NewPCG(1, 2))
	want := make(map[uint64]oram.Value)

	for i := 0; i < 300 && len(want) < 200; i++ {
		k := r.Uint64N(400) + 1
		v := oram.ValueFromPair(k, uint64(i))
		require.NoError(t, m.Insert(key(k), v))
		want[k] = v
	}

	for k := uint64(1); k <= 400; k++ {
		got, found, err := m.Find(key(k))
		require.NoError(t, err)
		v, ok := want[k]
		if !ok {
			assert.Equal(t, uint64(0), found, "key %d", k)
			assert.Equal(t, uint64(1), got.IsEmpty(), "key %d", k)
			continue
		}
		assert.Equal(t, uint64(1), found, "key %d", k)
		assert.Equal(t, v, got, "key %d", k)
	}

	assert.Equal(t, len(want), m.Len())
	h := checkAVL(t, m)
	assert.Less(t, h, m.Height())
}

func TestMap_RotationOrders(t *testing.T) {
	const n = 63
	orders := map[string]func(i uint64) uint64{
		"ascending":  func(i uint64) uint64 { return i + 1 },
		"descending": func(i uint64) uint64 { return n - i },
		"zigzag": func(i uint64) uint64 {
			if i%2 == 0 {
				return i/2 + 1
			}
			return n - i/2
		},
		"inward": func(i uint64) uint64 { return (i*29)%n + 1 },
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			m := newTestMap(t, n, store.Memory())
			for i := uint64(0); i < n; i++ {
				k := order(i)
				require.NoError(t, m.Insert(key(k), oram.ValueFromPair(k, 0)))
				if i%16 == 15 {
					checkAVL(t, m)
				}
			}
			assert.LessOrEqual(t, checkAVL(t, m), 8)

			for k := uint64(1); k <= n; k++ {
				v, found, err := m.Find(key(k))
				require.NoError(t, err)
				require.Equal(t, uint64(1), found, "key %d", k)
				require.Equal(t, k, v.First())
			}
		})
	}
}

func TestMap_Overwrite(t *testing.T) {
	m := newTestMap(t, 8, store.Memory())
	require.NoError(t, m.Insert(key(5), oram.ValueFromString("first")))
	require.NoError(t, m.Insert(key(5), oram.ValueFromString("second")))

	v, found, err := m.Find(key(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), found)
	assert.Equal(t, "second", v.String())
	assert.Equal(t, 1, m.Len())
}

func TestMap_ValueOperations(t *testing.T) {
	m := newTestMap(t, 16, store.Memory())
	for k := uint64(1); k <= 10; k++ {
		require.NoError(t, m.Insert(key(k), oram.ValueFromPair(100, k)))
	}

	t.Run("IncPart", func(t *testing.T) {
		v, found, err := m.IncPart(key(3), true)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), found)
		assert.Equal(t, oram.ValueFromPair(101, 3), v)

		v, _, err = m.IncPart(key(3), false)
		require.NoError(t, err)
		assert.Equal(t, oram.ValueFromPair(101, 4), v)

		_, found, err = m.IncPart(key(99), true)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), found)
	})

	t.Run("ReadAndSetDist", func(t *testing.T) {
		old, found, err := m.ReadAndSetDist(key(4), 40)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), found)
		assert.Equal(t, oram.ValueFromPair(100, 4), old)

		// A larger distance leaves the value alone
		old, _, err = m.ReadAndSetDist(key(4), 70)
		require.NoError(t, err)
		assert.Equal(t, oram.ValueFromPair(40, 4), old)

		v, _, err := m.Find(key(4))
		require.NoError(t, err)
		assert.Equal(t, oram.ValueFromPair(40, 4), v)
	})

	t.Run("SearchInsert", func(t *testing.T) {
		old, found, err := m.SearchInsert(key(6), oram.ValueFromString("six"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), found)
		assert.Equal(t, oram.ValueFromPair(100, 6), old)

		// Missing keys are not added
		_, found, err = m.SearchInsert(key(60), oram.ValueFromString("sixty"))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), found)
		_, found, err = m.Find(key(60))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), found)
	})

	t.Run("Update", func(t *testing.T) {
		double := func(v oram.Value) oram.Value {
			a, b := v.Pair()
			return oram.ValueFromPair(2*a, b)
		}
		old, found, err := m.Update(key(9), double)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), found)
		assert.Equal(t, oram.ValueFromPair(100, 9), old)

		v, _, err := m.Find(key(9))
		require.NoError(t, err)
		assert.Equal(t, oram.ValueFromPair(200, 9), v)
	})

	checkAVL(t, m)
}

func TestMap_Atomic(t *testing.T) {
	m := newTestMap(t, 16, store.Memory())
	for k := uint64(1); k <= 8; k++ {
		require.NoError(t, m.AtomicInsert(key(k), oram.ValueFromPair(k, k)))
	}
	assert.Positive(t, m.Tree().CachedBuckets())

	for k := uint64(1); k <= 8; k++ {
		v, found, err := m.AtomicFind(key(k))
		require.NoError(t, err)
		require.Equal(t, uint64(1), found)
		require.Equal(t, oram.ValueFromPair(k, k), v)
	}
	old, _, err := m.AtomicReadAndSetDist(key(2), 0)
	require.NoError(t, err)
	assert.Equal(t, oram.ValueFromPair(2, 2), old)

	require.NoError(t, m.Flush())
	assert.Zero(t, m.Tree().CachedBuckets())

	v, _, err := m.Find(key(2))
	require.NoError(t, err)
	assert.Equal(t, oram.ValueFromPair(0, 2), v)
	checkAVL(t, m)
}

func TestMap_BatchInsert(t *testing.T) {
	m := newTestMap(t, 32, store.Memory())
	var pairs []Pair
	for k := uint64(1); k <= 20; k++ {
		pairs = append(pairs, Pair{Key: key(k * 3), Value: oram.ValueFromPair(k, 0)})
	}
	require.NoError(t, m.BatchInsert(pairs))
	assert.Zero(t, m.Tree().CachedBuckets())

	for _, p := range pairs {
		v, found, err := m.Find(p.Key)
		require.NoError(t, err)
		require.Equal(t, uint64(1), found)
		require.Equal(t, p.Value, v)
	}
	checkAVL(t, m)
}

func TestMap_SetupInsert(t *testing.T) {
	m := newTestMap(t, 128, store.Memory())
	pairs := make(map[oram.Bid]oram.Value)
	for k := uint64(1); k <= 100; k++ {
		pairs[key(k*2)] = oram.ValueFromPair(k, 1)
	}
	require.NoError(t, m.SetupInsert(pairs))
	assert.Equal(t, 100, m.Len())
	assert.LessOrEqual(t, checkAVL(t, m), 7)

	for k, v := range pairs {
		got, found, err := m.Find(k)
		require.NoError(t, err)
		require.Equal(t, uint64(1), found)
		require.Equal(t, v, got)
	}

	// Oblivious inserts continue from the bulk-loaded tree
	for k := uint64(1); k <= 25; k++ {
		require.NoError(t, m.Insert(key(k*8+1), oram.ValueFromPair(k, 2)))
	}
	checkAVL(t, m)

	assert.ErrorIs(t, m.SetupInsert(pairs), ErrNotEmpty)
}

func TestMap_SetupInsertErrors(t *testing.T) {
	m := newTestMap(t, 2, store.Memory())
	tooMany := map[oram.Bid]oram.Value{key(1): {}, key(2): {}, key(3): {}}
	assert.ErrorIs(t, m.SetupInsert(tooMany), ErrFull)
	assert.ErrorIs(t, m.SetupInsert(map[oram.Bid]oram.Value{{}: {}}), ErrZeroKey)
	require.NoError(t, m.SetupInsert(nil))
}

func TestMap_Full(t *testing.T) {
	m := newTestMap(t, 3, store.Memory())
	for k := uint64(1); k <= 3; k++ {
		require.NoError(t, m.Insert(key(k), oram.Value{}))
	}
	// Overwrites still fit
	require.NoError(t, m.Insert(key(2), oram.ValueFromString("x")))

	err := m.Insert(key(4), oram.Value{})
	require.ErrorIs(t, err, ErrFull)
	_, _, err = m.Find(key(1))
	assert.ErrorIs(t, err, ErrBroken)
}

func TestMap_ZeroKey(t *testing.T) {
	m := newTestMap(t, 4, store.Memory())
	assert.ErrorIs(t, m.Insert(oram.Bid{}, oram.Value{}), ErrZeroKey)
}

func TestMap_StashSizeIsFixed(t *testing.T) {
	m := newTestMap(t, 64, store.Memory())
	for k := uint64(1); k <= 64; k++ {
		require.NoError(t, m.Insert(key(k), oram.Value{}))
		require.Equal(t, oram.DefaultStashSize, m.Tree().StashSize())
		_, _, err := m.IncPart(key(k/2+1), true)
		require.NoError(t, err)
		require.Equal(t, oram.DefaultStashSize, m.Tree().StashSize())
	}
}

func TestMap_Backends(t *testing.T) {
	backends := map[string]func(dir string) store.Factory{
		"memory":  func(string) store.Factory { return store.Memory() },
		"bitcask": func(dir string) store.Factory { return store.Bitcask(dir) },
		"file":    func(dir string) store.Factory { return store.File(filepath.Join(dir, "omap.img"), false) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			m := newTestMap(t, 32, open(t.TempDir()))
			for k := uint64(1); k <= 32; k++ {
				require.NoError(t, m.Insert(key(k*7%33), oram.ValueFromPair(k, 0)))
			}
			for k := uint64(1); k <= 32; k++ {
				v, found, err := m.Find(key(k * 7 % 33))
				require.NoError(t, err)
				require.Equal(t, uint64(1), found)
				require.Equal(t, k, v.First())
			}
			_, found, err := m.Find(key(1000))
			require.NoError(t, err)
			assert.Equal(t, uint64(0), found)
		})
	}
}

func TestMap_Encrypted(t *testing.T) {
	enc, err := oram.NewRandomAESGCMEncryptor()
	require.NoError(t, err)
	m, err := New(oram.Config{Capacity: 16, Encryptor: enc}, store.Memory())
	require.NoError(t, err)
	defer m.Close()

	for k := uint64(1); k <= 16; k++ {
		require.NoError(t, m.Insert(key(k), oram.ValueFromPair(0, k)))
	}
	for k := uint64(1); k <= 16; k++ {
		v, found, err := m.Find(key(k))
		require.NoError(t, err)
		require.Equal(t, uint64(1), found)
		require.Equal(t, k, v.Second())
	}
}

func TestMap_TraceShapeIndependentOfKeys(t *testing.T) {
	run := func(seed uint64, keys []uint64, probes []uint64) uint64 {
		var rec *store.Recorder
		cfg := oram.Config{Capacity: 16, StrictTrace: true, Rand: rand.New(rand.NewPCG(seed, 1))}
		m, err := New(cfg, store.Recording(store.Memory(), &rec))
		require.NoError(t, err)
		defer m.Close()
		rec.Reset()

		for _, k := range keys {
			require.NoError(t, m.Insert(key(k), oram.ValueFromPair(k, 0)))
		}
		for _, k := range probes {
			_, _, err := m.Find(key(k))
			require.NoError(t, err)
			_, _, err = m.ReadAndSetDist(key(k), k)
			require.NoError(t, err)
		}
		return rec.ShapeDigest()
	}

	a := run(1, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, []uint64{1, 1, 1})
	b := run(2, []uint64{9, 3, 3, 14, 1, 2, 8, 5}, []uint64{100, 9, 2})
	assert.Equal(t, a, b)
}

// Benchmarks
func BenchmarkFind(b *testing.B) {
	for _, capacity := range []int{64, 1024, 8192} {
		b.Run(fmt.Sprintf("capacity=%d", capacity), func(b *testing.B) {
			m := newTestMap(b, capacity, store.Memory())
			pairs := make(map[oram.Bid]oram.Value, capacity)
			for i := uint64(1); i <= uint64(capacity); i++ {
				pairs[key(i)] = oram.ValueFromPair(i, 0)
			}
			require.NoError(b, m.SetupInsert(pairs))
			i := uint64(0)
			for b.Loop() {
				if _, _, err := m.Find(key(i%uint64(capacity) + 1)); err != nil {
					b.Fatal(err)
				}
				i++
			}
			b.ReportMetric(float64(m.Height()), "accesses/op")
		})
	}
}

func BenchmarkInsert(b *testing.B) {
	m := newTestMap(b, 1<<14, store.Memory())
	i := uint64(0)
	for b.Loop() {
		// Overwrites once the map is full.
		if err := m.Insert(key(i%(1<<14)+1), oram.ValueFromPair(i, 0)); err != nil {
			b.Fatal(err)
		}
		i++
	}
}
