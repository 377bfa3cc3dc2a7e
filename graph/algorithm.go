package graph

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Algorithm selects what Run computes. The values are the wire op-codes.
type Algorithm int

const (
	BFS  Algorithm = 1
	MST  Algorithm = 2
	SSSP Algorithm = 3
)

var algorithmTokens = map[string]Algorithm{
	"1":                     BFS,
	"bfs":                   BFS,
	"oblivious-bfs":         BFS,
	"2":                     MST,
	"mst":                   MST,
	"oblivious-mst":         MST,
	"3":                     SSSP,
	"sssp":                  SSSP,
	"sssp-oblivm":           SSSP,
	"oblivious-sssp":        SSSP,
	"oblivious-sssp-oblivm": SSSP,
}

// ParseAlgorithm maps a case-insensitive name or op-code to an Algorithm.
func ParseAlgorithm(token string) (Algorithm, error) {
	alg, ok := algorithmTokens[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, token)
	}
	return alg, nil
}

func (a Algorithm) String() string {
	switch a {
	case BFS:
		return "BFS"
	case MST:
		return "MST"
	case SSSP:
		return "SSSP"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}
