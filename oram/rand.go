package oram

import (
	"crypto/rand"
	"math/big"
)

// LeafSource draws uniform leaves. *math/rand/v2.Rand satisfies it, which
// is how tests get reproducible trees.
type LeafSource interface {
	Uint64N(n uint64) uint64
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// Uint64N returns a cryptographically random value in [0, n).
func (CryptoSource) Uint64N(n uint64) uint64 {
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return v.Uint64()
}
