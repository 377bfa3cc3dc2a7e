package graph

import (
	"container/heap"
	"fmt"
)

// Reference computes the same Result as Run with plain, non-oblivious
// algorithms. It is used to verify oblivious runs.
func Reference(g *Graph, alg Algorithm, src int) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if src < 1 || src > g.Vertices {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidSource, src, g.Vertices)
	}
	res := &Result{Algorithm: alg, Source: src}
	switch alg {
	case BFS:
		res.Dist = HopCounts(g, src)
	case SSSP:
		res.Dist = Dijkstra(g, src)
	case MST:
		res.Dist, res.Total = Prim(g, src)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	return res, nil
}

// Dijkstra returns shortest path lengths from src, indexed by vertex.
func Dijkstra(g *Graph, src int) []uint64 {
	adj := g.Adjacency()
	dist := unreached(g.Vertices)
	done := make([]bool, g.Vertices+1)
	dist[src] = 0
	pq := &queue{{v: src}}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(item)
		if done[it.v] {
			continue
		}
		done[it.v] = true
		for _, e := range adj[it.v] {
			if d := dist[it.v] + e.Weight; d < dist[e.To] {
				dist[e.To] = d
				heap.Push(pq, item{v: e.To, key: d})
			}
		}
	}
	return dist
}

// HopCounts returns the number of edges on a shortest path from src.
func HopCounts(g *Graph, src int) []uint64 {
	adj := g.Adjacency()
	dist := unreached(g.Vertices)
	dist[src] = 0
	frontier := []int{src}
	for len(frontier) > 0 {
		u := frontier[0]
		frontier = frontier[1:]
		for _, e := range adj[u] {
			if dist[e.To] == Unreachable {
				dist[e.To] = dist[u] + 1
				frontier = append(frontier, e.To)
			}
		}
	}
	return dist
}

// Prim grows a minimum spanning tree from src along out-edges and returns
// the weight joining each vertex to the tree and the total tree weight.
func Prim(g *Graph, src int) ([]uint64, uint64) {
	adj := g.Adjacency()
	key := unreached(g.Vertices)
	in := make([]bool, g.Vertices+1)
	key[src] = 0
	var total uint64
	pq := &queue{{v: src}}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(item)
		if in[it.v] {
			continue
		}
		in[it.v] = true
		total += key[it.v]
		for _, e := range adj[it.v] {
			if !in[e.To] && e.Weight < key[e.To] {
				key[e.To] = e.Weight
				heap.Push(pq, item{v: e.To, key: e.Weight})
			}
		}
	}
	return key, total
}

func unreached(n int) []uint64 {
	d := make([]uint64, n+1)
	for i := range d {
		d[i] = Unreachable
	}
	d[0] = 0
	return d
}

type item struct {
	v   int
	key uint64
}

type queue []item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].key != q[j].key {
		return q[i].key < q[j].key
	}
	return q[i].v < q[j].v
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}
