package store

import (
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"
)

const mask = directio.BlockSize - 1

// FileStore keeps blocks in a single preallocated file. Every block owns a
// slot padded to the direct-I/O block size so slots stay aligned whether or
// not the file was opened with O_DIRECT.
type FileStore struct {
	f         *os.File
	direct    bool
	numBlocks uint64
	blockSize int
	slotSize  int64
}

// OpenFile creates (truncating) a file-backed store at path. With direct set,
// the file is opened with O_DIRECT and all I/O goes through aligned buffers.
func OpenFile(path string, direct bool, numBlocks uint64, blockSize int) (*FileStore, error) {
	if err := validateGeometry(numBlocks, blockSize); err != nil {
		return nil, err
	}
	var (
		f   *os.File
		err error
	)
	if direct {
		f, err = directio.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	} else {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}

	slot := (int64(blockSize) + mask) &^ mask
	if err := f.Truncate(slot * int64(numBlocks)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("preallocate block file: %w", err)
	}
	return &FileStore{
		f:         f,
		direct:    direct,
		numBlocks: numBlocks,
		blockSize: blockSize,
		slotSize:  slot,
	}, nil
}

// File returns a Factory creating a FileStore at path.
func File(path string, direct bool) Factory {
	return func(numBlocks uint64, blockSize int) (Store, error) {
		return OpenFile(path, direct, numBlocks, blockSize)
	}
}

// Direct reports whether the file was opened with O_DIRECT.
func (s *FileStore) Direct() bool {
	return s.direct
}

// Read returns the block at idx.
func (s *FileStore) Read(idx uint64) ([]byte, error) {
	if idx >= s.numBlocks {
		return nil, ErrInvalidIndex
	}
	buf := directio.AlignedBlock(int(s.slotSize))
	n, err := s.f.ReadAt(buf, int64(idx)*s.slotSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read block %d: %w", idx, err)
	}
	if n < s.blockSize {
		return nil, fmt.Errorf("block %d: got %d bytes: %w", idx, n, ErrShortRead)
	}
	out := make([]byte, s.blockSize)
	copy(out, buf)
	return out, nil
}

// ReadBatch returns the blocks at idxs.
func (s *FileStore) ReadBatch(idxs []uint64) ([][]byte, error) {
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

// Write stores data at idx, zero-padding the slot.
func (s *FileStore) Write(idx uint64, data []byte) error {
	if err := checkWrite(s, idx, data); err != nil {
		return err
	}
	buf := directio.AlignedBlock(int(s.slotSize))
	copy(buf, data)
	if _, err := s.f.WriteAt(buf, int64(idx)*s.slotSize); err != nil {
		return fmt.Errorf("write block %d: %w", idx, err)
	}
	return nil
}

// WriteBatch writes data[i] to idxs[i].
func (s *FileStore) WriteBatch(idxs []uint64, data [][]byte) error {
	if err := checkBatch(idxs, data); err != nil {
		return err
	}
	for i, idx := range idxs {
		if err := s.Write(idx, data[i]); err != nil {
			return err
		}
	}
	return nil
}

// InitializeRange writes data to every block in [begin, end).
func (s *FileStore) InitializeRange(begin, end uint64, data []byte) error {
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
func (s *FileStore) NumBlocks() uint64 {
	return s.numBlocks
}

// BlockSize returns bytes per block.
func (s *FileStore) BlockSize() int {
	return s.blockSize
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	return s.f.Close()
}
