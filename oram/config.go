package oram

import (
	"errors"
	"math/bits"
)

var (
	ErrInvalidConfig    = errors.New("invalid ORAM configuration")
	ErrStashOverflow    = errors.New("stash overflow")
	ErrEncryptionFailed = errors.New("bucket encryption failed")
	ErrDecryptionFailed = errors.New("bucket decryption failed")
	ErrBroken           = errors.New("oram tree unusable after fatal error")
	ErrNoPath           = errors.New("evict without a fetched path")
	ErrPathPending      = errors.New("fetch while a path is pending eviction")
	ErrNotEmpty         = errors.New("bulk load into a non-empty tree")
)

const (
	// DefaultBucketSize is Z, the number of node slots per bucket.
	DefaultBucketSize = 4
	// DefaultStashSize is the permanent stash size restored by every eviction.
	DefaultStashSize = 90
)

// Config holds Path-ORAM tree parameters.
type Config struct {
	Capacity    int        // Maximum number of real nodes the tree must hold
	BucketSize  int        // Node slots per bucket (Z parameter)
	StashSize   int        // Permanent stash size after every eviction
	AuxSlots    int        // Extra per-bucket slots not routed by eviction (0 or 1)
	StrictTrace bool       // Read full paths and write one path per eviction regardless of caching
	Encryptor   Encryptor  // Bucket sealing; nil means NoOpEncryptor
	Rand        LeafSource // Leaf randomness; nil means crypto/rand
}

// Validate checks the configuration for errors and applies defaults.
// Returns a copy of the config with defaults applied.
func (c Config) Validate() (Config, error) {
	if c.Capacity <= 0 || c.BucketSize < 0 || c.StashSize < 0 {
		return c, ErrInvalidConfig
	}
	if c.AuxSlots < 0 || c.AuxSlots > 1 {
		return c, ErrInvalidConfig
	}
	if c.BucketSize == 0 {
		c.BucketSize = DefaultBucketSize
	}
	if c.StashSize == 0 {
		c.StashSize = DefaultStashSize
	}
	if c.Encryptor == nil {
		c.Encryptor = NoOpEncryptor{}
	}
	if c.Rand == nil {
		c.Rand = CryptoSource{}
	}
	return c, nil
}

// ComputeTreeParams calculates tree dimensions from config: one leaf per
// node of capacity, rounded up to a power of two, and at least two leaves.
// Returns (depth, numLeaves, totalBuckets).
func (c Config) ComputeTreeParams() (depth, numLeaves, totalBuckets int) {
	depth = 1
	if c.Capacity > 2 {
		depth = bits.Len(uint(c.Capacity - 1))
	}
	numLeaves = 1 << depth
	totalBuckets = 2*numLeaves - 1
	return
}

// BlockSize returns the sealed bucket size for nodes of nodeSize bytes.
func (c Config) BlockSize(nodeSize int) int {
	return (c.BucketSize+c.AuxSlots)*nodeSize + c.Encryptor.Overhead()
}
