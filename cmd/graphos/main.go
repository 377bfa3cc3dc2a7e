package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/etclab/graphos/graph"
	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

func main() {
	graphPath := flag.String("graph", "", "Path to the graph file (required)")
	algName := flag.String("alg", "SSSP", "Algorithm: BFS, MST or SSSP")
	src := flag.Int("src", 1, "Source vertex")
	backend := flag.String("store", "mem", "Block store backend: mem, bitcask or file")
	dir := flag.String("dir", "", "Directory for bitcask and file stores")
	direct := flag.Bool("direct", false, "Open file stores with O_DIRECT")
	encrypt := flag.Bool("encrypt", false, "Seal buckets with a random AES-GCM key")
	incremental := flag.Bool("incremental", false, "Load edges with oblivious inserts instead of a bulk load")
	strict := flag.Bool("strict", false, "Fix the store access shape of every operation")
	verify := flag.Bool("verify", false, "Check the result against a plain reference run")
	verbose := flag.Bool("v", false, "Log debug output")
	flag.Parse()

	if *graphPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --graph is required")
		flag.Usage()
		os.Exit(1)
	}
	if *verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		graph.SetLogger(logger)
		oram.SetLogger(logger)
	}

	alg, err := graph.ParseAlgorithm(*algName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	g, err := graph.LoadFile(*graphPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := []graph.Option{
		graph.WithIncrementalSetup(*incremental),
		graph.WithStrictTrace(*strict),
	}
	stores, err := storeOption(*backend, *dir, *direct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts = append(opts, stores)
	if *encrypt {
		enc, err := oram.NewRandomAESGCMEncryptor()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, graph.WithEncryptor(enc))
	}

	res, err := graph.Run(g, alg, *src, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}
	printResult(res)

	if *verify {
		want, err := graph.Reference(g, alg, *src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reference failed: %v\n", err)
			os.Exit(1)
		}
		if !slices.Equal(want.Dist, res.Dist) || (alg == graph.MST && want.Total != res.Total) {
			fmt.Fprintln(os.Stderr, "Verification failed: result differs from the reference run")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Verification passed")
	}
}

func storeOption(backend, dir string, direct bool) (graph.Option, error) {
	switch backend {
	case "mem":
		return graph.WithStores(func(string) store.Factory { return store.Memory() }), nil
	case "bitcask", "file":
		if dir == "" {
			return nil, fmt.Errorf("--dir is required for the %s store", backend)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if backend == "bitcask" {
			return graph.WithStores(func(name string) store.Factory {
				return store.Bitcask(filepath.Join(dir, name))
			}), nil
		}
		return graph.WithStores(func(name string) store.Factory {
			return store.File(filepath.Join(dir, name+".oram"), direct)
		}), nil
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}
}

func printResult(res *graph.Result) {
	if res.Algorithm == graph.MST {
		fmt.Printf("total %d\n", res.Total)
		return
	}
	for v := 1; v < len(res.Dist); v++ {
		if res.Dist[v] == graph.Unreachable {
			fmt.Printf("%d inf\n", v)
			continue
		}
		fmt.Printf("%d %d\n", v, res.Dist[v])
	}
}
