// Package store is the untrusted Block Store boundary: an indexed array of
// fixed-size opaque blocks with batched access and no knowledge of what the
// blocks hold.
package store

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid block store configuration")
	ErrInvalidIndex    = errors.New("block index out of range")
	ErrInvalidDataSize = errors.New("data size doesn't match block size")
	ErrShortRead       = errors.New("block store returned fewer bytes than requested")
	ErrClosed          = errors.New("block store closed")
)

// Store provides block-level access to the untrusted backend.
// Implementations may store data in memory, files, or an embedded database.
type Store interface {
	// Read returns a copy of the block at idx.
	Read(idx uint64) ([]byte, error)

	// ReadBatch returns copies of the blocks at idxs, in order.
	ReadBatch(idxs []uint64) ([][]byte, error)

	// Write stores data, which must be exactly BlockSize bytes, at idx.
	Write(idx uint64, data []byte) error

	// WriteBatch stores data[i] at idxs[i]. Later entries win on duplicates.
	WriteBatch(idxs []uint64, data [][]byte) error

	// InitializeRange writes data to every index in [begin, end).
	InitializeRange(begin, end uint64, data []byte) error

	// NumBlocks returns the number of addressable blocks.
	NumBlocks() uint64

	// BlockSize returns the size of every block in bytes.
	BlockSize() int

	Close() error
}

// Factory creates a store holding numBlocks blocks of blockSize bytes.
type Factory func(numBlocks uint64, blockSize int) (Store, error)

func validateGeometry(numBlocks uint64, blockSize int) error {
	if numBlocks == 0 || blockSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func checkWrite(s Store, idx uint64, data []byte) error {
	if idx >= s.NumBlocks() {
		return ErrInvalidIndex
	}
	if len(data) != s.BlockSize() {
		return ErrInvalidDataSize
	}
	return nil
}

func checkBatch(idxs []uint64, data [][]byte) error {
	if len(idxs) != len(data) {
		return ErrInvalidConfig
	}
	return nil
}
