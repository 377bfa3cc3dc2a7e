package graph

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

func seeded(seed uint64) Option {
	return WithORAM(oram.Config{Rand: rand.New(rand.NewPCG(seed, seed+1))})
}

// randomGraph returns a directed graph with e edges and no self loops.
func randomGraph(rng *rand.Rand, v, e int) *Graph {
	g := &Graph{Vertices: v}
	for len(g.Edges) < e {
		a, b := rng.IntN(v)+1, rng.IntN(v)+1
		if a == b {
			continue
		}
		g.Edges = append(g.Edges, Edge{From: a, To: b, Weight: rng.Uint64N(20) + 1})
	}
	return g
}

// randomTree returns a symmetric random spanning tree over vertices
// 1..v-1. Vertex v is isolated.
func randomTree(rng *rand.Rand, v int) *Graph {
	g := &Graph{Vertices: v}
	for b := 2; b < v; b++ {
		a := rng.IntN(b-1) + 1
		w := rng.Uint64N(20) + 1
		g.Edges = append(g.Edges, Edge{From: a, To: b, Weight: w}, Edge{From: b, To: a, Weight: w})
	}
	rng.Shuffle(len(g.Edges), func(i, j int) {
		g.Edges[i], g.Edges[j] = g.Edges[j], g.Edges[i]
	})
	return g
}

func recordingStores(recs map[string]*store.Recorder) func(string) store.Factory {
	return func(name string) store.Factory {
		return func(numBlocks uint64, blockSize int) (store.Store, error) {
			s, err := store.NewMemStore(numBlocks, blockSize)
			if err != nil {
				return nil, err
			}
			r := store.NewRecorder(s)
			recs[name] = r
			return r, nil
		}
	}
}

func cycle() *Graph {
	return &Graph{Vertices: 4, Edges: []Edge{
		{From: 1, To: 2, Weight: 5},
		{From: 2, To: 3, Weight: 3},
		{From: 3, To: 4, Weight: 2},
		{From: 4, To: 1, Weight: 1},
	}}
}

func TestRun_Cycle(t *testing.T) {
	res, err := Run(cycle(), SSSP, 1, seeded(1))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 5, 8, 10}, res.Dist)
	assert.Equal(t, 12, res.Iterations)
	assert.Equal(t, SSSP, res.Algorithm)
	assert.Equal(t, 1, res.Source)

	res, err = Run(cycle(), BFS, 3, seeded(2))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2, 3, 0, 1}, res.Dist)
}

func TestRun_MST(t *testing.T) {
	g := &Graph{Vertices: 5, Edges: []Edge{
		{1, 2, 4}, {2, 1, 4},
		{1, 3, 1}, {3, 1, 1},
		{3, 2, 2}, {2, 3, 2},
		{2, 4, 5}, {4, 2, 5},
	}}
	res, err := Run(g, MST, 1, seeded(3))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 2, 1, 5, Unreachable}, res.Dist)
	assert.Equal(t, uint64(8), res.Total)
}

func TestRun_MatchesReference(t *testing.T) {
	const v = 10
	for _, alg := range []Algorithm{BFS, MST, SSSP} {
		for _, incremental := range []bool{false, true} {
			for seed := uint64(1); seed <= 3; seed++ {
				name := fmt.Sprintf("%v/incremental=%t/seed=%d", alg, incremental, seed)
				t.Run(name, func(t *testing.T) {
					rng := rand.New(rand.NewPCG(seed, 99))
					var g *Graph
					if alg == MST {
						g = randomTree(rng, v)
					} else {
						g = randomGraph(rng, v, 2*v-1)
					}
					src := rng.IntN(v-1) + 1

					want, err := Reference(g, alg, src)
					require.NoError(t, err)
					got, err := Run(g, alg, src, seeded(seed), WithIncrementalSetup(incremental))
					require.NoError(t, err)

					assert.Equal(t, want.Dist, got.Dist)
					if alg == MST {
						assert.Equal(t, want.Total, got.Total)
					}
				})
			}
		}
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(cycle(), Algorithm(7), 1)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = Run(cycle(), SSSP, 0)
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = Run(cycle(), SSSP, 5)
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = Run(&Graph{Vertices: 2, Edges: []Edge{{1, 3, 1}}}, SSSP, 1)
	assert.ErrorIs(t, err, ErrMalformedGraph)
}

func TestSetupContext(t *testing.T) {
	sc, err := NewSetupContext(cycle())
	require.NoError(t, err)
	assert.Equal(t, 13, sc.MapCapacity())
	assert.Equal(t, 5, sc.HeapCapacity())
	assert.Equal(t, 12, sc.Iterations())

	pairs := sc.Pairs()
	assert.Len(t, pairs, sc.MapCapacity())
	assert.Equal(t, oram.ValueFromPair(Unreachable, 1), pairs[distKey(0)])
	assert.Equal(t, oram.ValueFromPair(1, 0), pairs[counterKey(2)])
	assert.Equal(t, oram.ValueFromPair(4, 2), pairs[edgeKey(3, 1)])
}

func TestRun_TraceIndependentOfEdges(t *testing.T) {
	a := &Graph{Vertices: 6, Edges: []Edge{
		{1, 2, 1}, {2, 3, 1}, {3, 4, 1}, {4, 5, 1}, {5, 6, 1}, {6, 1, 1},
	}}
	b := &Graph{Vertices: 6, Edges: []Edge{
		{1, 2, 9}, {1, 3, 2}, {1, 4, 7}, {1, 5, 1}, {1, 6, 3}, {6, 5, 1},
	}}

	for _, incremental := range []bool{false, true} {
		shapes := make([]map[string]uint64, 0, 2)
		for i, g := range []*Graph{a, b} {
			recs := map[string]*store.Recorder{}
			_, err := Run(g, SSSP, 1,
				seeded(uint64(i+1)),
				WithStrictTrace(true),
				WithIncrementalSetup(incremental),
				WithStores(recordingStores(recs)),
			)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			shapes = append(shapes, map[string]uint64{
				"omap": recs["omap"].ShapeDigest(),
				"heap": recs["heap"].ShapeDigest(),
			})
		}
		assert.Equal(t, shapes[0], shapes[1], "incremental=%t", incremental)
	}
}

func TestRun_Backends(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(cycle(), SSSP, 1, seeded(4),
		WithStores(func(name string) store.Factory {
			return store.Bitcask(filepath.Join(dir, name))
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 5, 8, 10}, res.Dist)

	res, err = Run(cycle(), SSSP, 2, seeded(5),
		WithStores(func(name string) store.Factory {
			return store.File(filepath.Join(dir, name+".oram"), false)
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 6, 0, 3, 5}, res.Dist)
}

func TestRun_Encrypted(t *testing.T) {
	enc, err := oram.NewRandomAESGCMEncryptor()
	require.NoError(t, err)
	res, err := Run(cycle(), SSSP, 1, seeded(6), WithEncryptor(enc))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 5, 8, 10}, res.Dist)
}
