// Package graph runs BFS, MST and SSSP over an oblivious map and an
// oblivious heap. The number and order of map and heap calls depends only
// on the vertex and edge counts, never on the edges themselves.
package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrMalformedGraph = errors.New("malformed graph")
	ErrInvalidSource  = errors.New("source vertex out of range")
)

// Edge is a directed weighted edge between vertices numbered from 1.
type Edge struct {
	From, To int
	Weight   uint64
}

// Graph is a directed graph on vertices 1..Vertices.
type Graph struct {
	Vertices int
	Edges    []Edge
}

// Validate checks that every endpoint is a vertex.
func (g *Graph) Validate() error {
	if g.Vertices <= 0 {
		return fmt.Errorf("%w: no vertices", ErrMalformedGraph)
	}
	for i, e := range g.Edges {
		if e.From < 1 || e.From > g.Vertices || e.To < 1 || e.To > g.Vertices {
			return fmt.Errorf("%w: edge %d (%d -> %d) outside 1..%d", ErrMalformedGraph, i, e.From, e.To, g.Vertices)
		}
	}
	return nil
}

// Load parses a graph from r. Each line holds "src dst weight". A line with
// src == dst declares a vertex instead of an edge; without declarations the
// vertex count is the largest id seen. Zero weights become 1. Blank lines
// and lines starting with '#' are skipped.
func Load(r io.Reader) (*Graph, error) {
	var (
		g        Graph
		declared int
		maxID    int
		lineNo   int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: want 3 fields, got %d", ErrMalformedGraph, lineNo, len(fields))
		}
		src, err1 := strconv.Atoi(fields[0])
		dst, err2 := strconv.Atoi(fields[1])
		w, err3 := strconv.ParseUint(fields[2], 10, 32)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedGraph, lineNo, err)
		}
		maxID = max(maxID, src, dst)
		if src == dst {
			declared++
			continue
		}
		if w == 0 {
			w = 1
		}
		g.Edges = append(g.Edges, Edge{From: src, To: dst, Weight: w})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	g.Vertices = declared
	if declared == 0 {
		g.Vertices = maxID
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadFile reads a graph from path.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Adjacency returns the out-edges of every vertex in input order, indexed
// by vertex.
func (g *Graph) Adjacency() [][]Edge {
	adj := make([][]Edge, g.Vertices+1)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e)
	}
	return adj
}
