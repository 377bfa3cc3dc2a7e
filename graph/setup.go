package graph

import (
	"fmt"
	"math"

	"github.com/etclab/graphos/omap"
	"github.com/etclab/graphos/oram"
)

// Unreachable is the distance of a vertex no path reaches.
const Unreachable = math.MaxUint64

// Map key tags.
const (
	tagDist    = '/'
	tagEdge    = '$'
	tagCounter = '?'
)

// mapKey packs a tag and two numbers; a must stay below 2^56.
func mapKey(tag byte, a, b uint64) oram.Bid {
	return oram.BidFromPair(uint64(tag)<<56|a, b)
}

// distKey holds (distance, settled) for v. Vertex 0 is a sink that is
// always settled, so writes aimed at it change nothing.
func distKey(v uint64) oram.Bid {
	return mapKey(tagDist, v, 0)
}

// edgeKey holds (to, weight) for the i-th out-edge of u, counting from 1.
func edgeKey(u, i uint64) oram.Bid {
	return mapKey(tagEdge, u, i)
}

// counterKey holds the number of out-edges of u loaded so far.
func counterKey(u uint64) oram.Bid {
	return mapKey(tagCounter, u, 0)
}

// SetupContext carries what setup learns about the graph to the run: the
// vertex and edge counts that size every structure and fix the iteration
// count, and the initial map contents.
type SetupContext struct {
	Vertices int
	Edges    int
	graph    *Graph
}

// NewSetupContext validates g and returns its setup context.
func NewSetupContext(g *Graph) (*SetupContext, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &SetupContext{Vertices: g.Vertices, Edges: len(g.Edges), graph: g}, nil
}

// MapCapacity is the number of map keys: one distance per vertex plus the
// sink, one counter per vertex and one entry per edge.
func (c *SetupContext) MapCapacity() int {
	return 2*c.Vertices + 1 + c.Edges
}

// HeapCapacity bounds the heap size: one entry per successful relaxation
// plus the source.
func (c *SetupContext) HeapCapacity() int {
	return c.Edges + 1
}

// Iterations is the fixed length of the main loop.
func (c *SetupContext) Iterations() int {
	return 2*c.Vertices + c.Edges
}

// initPairs returns the distance, sink and zeroed counter entries.
func (c *SetupContext) initPairs() []omap.Pair {
	pairs := make([]omap.Pair, 0, 2*c.Vertices+1)
	pairs = append(pairs, omap.Pair{Key: distKey(0), Value: oram.ValueFromPair(Unreachable, 1)})
	for v := uint64(1); v <= uint64(c.Vertices); v++ {
		pairs = append(pairs,
			omap.Pair{Key: distKey(v), Value: oram.ValueFromPair(Unreachable, 0)},
			omap.Pair{Key: counterKey(v), Value: oram.Value{}},
		)
	}
	return pairs
}

// Pairs returns the complete initial map: initPairs with each counter set
// to the out-degree, plus every edge entry.
func (c *SetupContext) Pairs() map[oram.Bid]oram.Value {
	pairs := make(map[oram.Bid]oram.Value, c.MapCapacity())
	for _, p := range c.initPairs() {
		pairs[p.Key] = p.Value
	}
	for u, edges := range c.graph.Adjacency() {
		if u == 0 {
			continue
		}
		for i, e := range edges {
			pairs[edgeKey(uint64(u), uint64(i+1))] = oram.ValueFromPair(uint64(e.To), e.Weight)
		}
		pairs[counterKey(uint64(u))] = oram.ValueFromPair(uint64(len(edges)), 0)
	}
	return pairs
}

// Load writes the initial contents into m. The bulk path builds the tree
// in the clear and is trusted setup. The incremental path inserts the
// vertex entries in one batch and then, per edge, bumps the source's
// counter and inserts the edge under the new count, all obliviously.
func (c *SetupContext) Load(m *omap.Map, incremental bool) error {
	if !incremental {
		if err := m.SetupInsert(c.Pairs()); err != nil {
			return fmt.Errorf("bulk setup: %w", err)
		}
		log.Info("graph loaded", "mode", "bulk", "vertices", c.Vertices, "edges", c.Edges)
		return nil
	}

	if err := m.BatchInsert(c.initPairs()); err != nil {
		return fmt.Errorf("incremental setup: %w", err)
	}
	for i, e := range c.graph.Edges {
		cnt, _, err := m.IncPart(counterKey(uint64(e.From)), true)
		if err != nil {
			return fmt.Errorf("incremental setup edge %d: %w", i, err)
		}
		if err := m.Insert(edgeKey(uint64(e.From), cnt.First()), oram.ValueFromPair(uint64(e.To), e.Weight)); err != nil {
			return fmt.Errorf("incremental setup edge %d: %w", i, err)
		}
	}
	log.Info("graph loaded", "mode", "incremental", "vertices", c.Vertices, "edges", c.Edges)
	return nil
}
