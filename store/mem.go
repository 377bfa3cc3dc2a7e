package store

// MemStore implements Store using in-memory slices.
type MemStore struct {
	blocks    [][]byte
	blockSize int
	closed    bool
}

// NewMemStore creates a new in-memory store. All blocks start zeroed.
func NewMemStore(numBlocks uint64, blockSize int) (*MemStore, error) {
	if err := validateGeometry(numBlocks, blockSize); err != nil {
		return nil, err
	}
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemStore{blocks: blocks, blockSize: blockSize}, nil
}

// Memory returns a Factory producing MemStores.
func Memory() Factory {
	return func(numBlocks uint64, blockSize int) (Store, error) {
		return NewMemStore(numBlocks, blockSize)
	}
}

// Read returns a copy of the block at idx.
func (s *MemStore) Read(idx uint64) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if idx >= uint64(len(s.blocks)) {
		return nil, ErrInvalidIndex
	}
	// Return a copy to prevent external modification
	out := make([]byte, s.blockSize)
	copy(out, s.blocks[idx])
	return out, nil
}

// ReadBatch returns copies of the blocks at idxs.
func (s *MemStore) ReadBatch(idxs []uint64) ([][]byte, error) {
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

// Write copies data into the block at idx.
func (s *MemStore) Write(idx uint64, data []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := checkWrite(s, idx, data); err != nil {
		return err
	}
	copy(s.blocks[idx], data)
	return nil
}

// WriteBatch writes data[i] to idxs[i].
func (s *MemStore) WriteBatch(idxs []uint64, data [][]byte) error {
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
func (s *MemStore) InitializeRange(begin, end uint64, data []byte) error {
	if begin > end || end > uint64(len(s.blocks)) {
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
func (s *MemStore) NumBlocks() uint64 {
	return uint64(len(s.blocks))
}

// BlockSize returns bytes per block.
func (s *MemStore) BlockSize() int {
	return s.blockSize
}

// Close releases the blocks.
func (s *MemStore) Close() error {
	s.closed = true
	s.blocks = nil
	return nil
}
