package graph

import (
	"github.com/etclab/graphos/oram"
	"github.com/etclab/graphos/store"
)

// config holds internal configuration
type config struct {
	ORAM        oram.Config                     // tree template; Capacity is set per structure
	Stores      func(name string) store.Factory // backend per structure ("omap", "heap")
	Incremental bool                            // build the map with oblivious inserts instead of a bulk load
}

func defaultConfig() config {
	return config{
		Stores: func(string) store.Factory { return store.Memory() },
	}
}

// Option configures Run
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithORAM sets the tree parameters shared by the map and the heap.
// Capacity and AuxSlots are ignored.
func WithORAM(cfg oram.Config) Option {
	return funcOpt(func(c *config) {
		c.ORAM = cfg
	})
}

// WithStores sets the block store factory for each structure
func WithStores(fn func(name string) store.Factory) Option {
	return funcOpt(func(c *config) {
		c.Stores = fn
	})
}

// WithStrictTrace makes every store access pattern fixed per operation
func WithStrictTrace(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.ORAM.StrictTrace = enabled
	})
}

// WithEncryptor seals every bucket with enc
func WithEncryptor(enc oram.Encryptor) Option {
	return funcOpt(func(c *config) {
		c.ORAM.Encryptor = enc
	})
}

// WithIncrementalSetup loads edges one oblivious insert at a time
func WithIncrementalSetup(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.Incremental = enabled
	})
}

func (c config) tree(capacity int) oram.Config {
	cfg := c.ORAM
	cfg.Capacity = capacity
	return cfg
}
