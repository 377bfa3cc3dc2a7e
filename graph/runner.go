package graph

import (
	"fmt"

	"github.com/etclab/graphos/ct"
	"github.com/etclab/graphos/doheap"
	"github.com/etclab/graphos/omap"
	"github.com/etclab/graphos/oram"
)

const progressEvery = 1000

// Result is the outcome of Run.
type Result struct {
	Algorithm Algorithm
	Source    int
	// Dist is indexed by vertex; Dist[0] is unused. For BFS and SSSP it
	// holds path lengths, for MST the weight of the edge joining each vertex
	// to the tree. Unreached vertices hold Unreachable.
	Dist       []uint64
	Total      uint64 // MST weight
	Iterations int
}

// Run loads g into an oblivious map and runs alg from src for exactly
// 2V+E iterations.
func Run(g *Graph, alg Algorithm, src int, opts ...Option) (*Result, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if alg != BFS && alg != MST && alg != SSSP {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	sc, err := NewSetupContext(g)
	if err != nil {
		return nil, err
	}
	if src < 1 || src > sc.Vertices {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidSource, src, sc.Vertices)
	}

	m, err := omap.New(cfg.tree(sc.MapCapacity()), cfg.Stores("omap"))
	if err != nil {
		return nil, err
	}
	defer m.Close()
	h, err := doheap.New(cfg.tree(sc.HeapCapacity()), cfg.Stores("heap"))
	if err != nil {
		return nil, err
	}
	defer h.Close()

	if err := sc.Load(m, cfg.Incremental); err != nil {
		return nil, err
	}

	r := &runner{alg: alg, m: m, h: h}
	return r.run(sc, uint64(src))
}

type runner struct {
	alg Algorithm
	m   *omap.Map
	h   *doheap.Heap

	inner uint64 // 1 while walking the out-edges of u
	u, du uint64 // vertex being expanded and its settled distance
	cnt   uint64 // index of the current out-edge of u
	v, w  uint64 // current out-edge
	total uint64
}

func (r *runner) run(sc *SetupContext, src uint64) (*Result, error) {
	if _, _, err := r.m.SearchInsert(distKey(src), oram.ValueFromPair(0, 0)); err != nil {
		return nil, err
	}
	if err := r.h.Insert(oram.BidFromPair(0, src), oram.ValueFromPair(src, 0)); err != nil {
		return nil, err
	}

	n := sc.Iterations()
	log.Info("running", "algorithm", r.alg, "source", src, "iterations", n)
	for i := 0; i < n; i++ {
		if err := r.step(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		if (i+1)%progressEvery == 0 {
			log.Debug("progress", "iteration", i+1, "of", n)
		}
	}

	res := &Result{
		Algorithm:  r.alg,
		Source:     int(src),
		Dist:       make([]uint64, sc.Vertices+1),
		Total:      r.total,
		Iterations: n,
	}
	// Readout shares one write-back.
	for v := 1; v <= sc.Vertices; v++ {
		val, _, err := r.m.AtomicFind(distKey(uint64(v)))
		if err != nil {
			return nil, err
		}
		res.Dist[v] = val.First()
	}
	if err := r.m.Flush(); err != nil {
		return nil, err
	}
	log.Info("run complete", "algorithm", r.alg, "source", src)
	return res, nil
}

// step is one loop iteration. Whether it relaxes an edge or expands the
// next vertex, it makes the same four calls: an update of some distance
// entry, one heap call, an update of u's distance entry and a lookup of an
// adjacency entry. Arguments that do not apply are redirected to the sink.
func (r *runner) step() error {
	inner := r.inner
	outer := ct.Not(inner)

	// Relax the current edge
	v := ct.Select(inner, r.v, 0)
	cand := ct.Select(inner, r.candidate(), Unreachable)
	old, _, err := r.relax(distKey(v), inner, cand)
	if err != nil {
		return err
	}
	dv, settledV := old.Pair()
	better := inner & ct.Less(cand, dv) & ct.Not(settledV)

	// Extract outside an edge walk, insert improved distances, else nothing
	op := ct.Select(outer, uint64(doheap.OpExtract), ct.Select(better, uint64(doheap.OpInsert), uint64(doheap.OpDummy)))
	_, hv, ok, err := r.h.Execute(oram.BidFromPair(cand, v), oram.ValueFromPair(v, cand), doheap.Op(op))
	if err != nil {
		return err
	}
	u := ct.Select(outer, ct.Select(ok, hv.First(), 0), r.u)
	du := ct.Select(outer, hv.Second(), r.du)

	// Settle u unless the extracted entry is stale
	cond := outer & ok
	old, _, err = r.m.Update(distKey(u), func(x oram.Value) oram.Value {
		d, s := x.Pair()
		return oram.ValueFromPair(d, s|cond&ct.Eq(d, du)&ct.Not(s))
	})
	if err != nil {
		return err
	}
	du0, settledU := old.Pair()
	settle := cond & ct.Eq(du0, du) & ct.Not(settledU)
	r.total += ct.Select(settle, du, 0)

	// Fetch the next out-edge
	cnt := ct.Select(settle, 1, ct.Select(inner, r.cnt+1, r.cnt))
	e, found, err := r.m.Find(edgeKey(u, cnt))
	if err != nil {
		return err
	}

	r.inner = (inner | settle) & found
	r.u, r.du, r.cnt = u, du, cnt
	r.v, r.w = e.Pair()
	return nil
}

// candidate is the key the current edge offers its target.
func (r *runner) candidate() uint64 {
	switch r.alg {
	case BFS:
		return r.du + 1
	case MST:
		return r.w
	default:
		return r.du + r.w
	}
}

// relax lowers the distance entry under key to cand and returns the old
// entry. Shortest paths never lower a settled vertex, so they use the plain
// read-and-set; Prim must skip vertices already in the tree.
func (r *runner) relax(key oram.Bid, inner, cand uint64) (oram.Value, uint64, error) {
	if r.alg != MST {
		return r.m.ReadAndSetDist(key, cand)
	}
	return r.m.Update(key, func(x oram.Value) oram.Value {
		d, s := x.Pair()
		lower := inner & ct.Less(cand, d) & ct.Not(s)
		return oram.ValueFromPair(ct.Select(lower, cand, d), s)
	})
}
