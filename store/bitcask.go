package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"go.mills.io/bitcask/v2"
)

// Bitcask's MaxValueSize bounds a single sealed bucket.
const maxValueSize = 1 << 20

// BitcaskStore keeps blocks in an embedded bitcask database keyed by the
// big-endian block index. Blocks never written read back as zeros.
type BitcaskStore struct {
	db        *bitcask.Bitcask
	numBlocks uint64
	blockSize int
}

// OpenBitcask opens (or creates) a bitcask-backed store under dir.
func OpenBitcask(dir string, numBlocks uint64, blockSize int) (*BitcaskStore, error) {
	if err := validateGeometry(numBlocks, blockSize); err != nil {
		return nil, err
	}
	if blockSize > maxValueSize {
		return nil, fmt.Errorf("block size %d exceeds %d: %w", blockSize, maxValueSize, ErrInvalidConfig)
	}
	db, err := bitcask.Open(filepath.Join(dir, "blocks"), bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask: %w", err)
	}
	return &BitcaskStore{db: db, numBlocks: numBlocks, blockSize: blockSize}, nil
}

// Bitcask returns a Factory opening a BitcaskStore under dir.
func Bitcask(dir string) Factory {
	return func(numBlocks uint64, blockSize int) (Store, error) {
		return OpenBitcask(dir, numBlocks, blockSize)
	}
}

func blockKey(idx uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], idx)
	return k[:]
}

// Read returns the block at idx.
func (s *BitcaskStore) Read(idx uint64) ([]byte, error) {
	if idx >= s.numBlocks {
		return nil, ErrInvalidIndex
	}
	v, err := s.db.Get(blockKey(idx))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return make([]byte, s.blockSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", idx, err)
	}
	if len(v) < s.blockSize {
		return nil, fmt.Errorf("block %d: %w", idx, ErrShortRead)
	}
	out := make([]byte, s.blockSize)
	copy(out, v)
	return out, nil
}

// ReadBatch returns the blocks at idxs.
func (s *BitcaskStore) ReadBatch(idxs []uint64) ([][]byte, error) {
	out := make([][]byte, len(idxs))
	for i, idx := range idxs {
		b, err := s.Read(idx)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Write stores data at idx.
func (s *BitcaskStore) Write(idx uint64, data []byte) error {
	if err := checkWrite(s, idx, data); err != nil {
		return err
	}
	if err := s.db.Put(blockKey(idx), data); err != nil {
		return fmt.Errorf("write block %d: %w", idx, err)
	}
	return nil
}

// WriteBatch stores all blocks in one bitcask transaction.
func (s *BitcaskStore) WriteBatch(idxs []uint64, data [][]byte) error {
	if err := checkBatch(idxs, data); err != nil {
		return err
	}
	txn := s.db.Transaction()
	defer txn.Discard()

	for i, idx := range idxs {
		if err := checkWrite(s, idx, data[i]); err != nil {
			return err
		}
		if err := txn.Put(blockKey(idx), data[i]); err != nil {
			return fmt.Errorf("write block %d: %w", idx, err)
		}
	}
	return txn.Commit()
}

// InitializeRange writes data to every block in [begin, end).
func (s *BitcaskStore) InitializeRange(begin, end uint64, data []byte) error {
	if begin > end || end > s.numBlocks {
		return ErrInvalidIndex
	}
	for i := begin; i < end; i++ {
		if err := s.Write(i, data); err != nil {
			return err
		}
	}
	return nil
}

// NumBlocks returns the total number of blocks.
func (s *BitcaskStore) NumBlocks() uint64 {
	return s.numBlocks
}

// BlockSize returns bytes per block.
func (s *BitcaskStore) BlockSize() int {
	return s.blockSize
}

// Close closes the database.
func (s *BitcaskStore) Close() error {
	return s.db.Close()
}
