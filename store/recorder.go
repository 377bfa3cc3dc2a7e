package store

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Op identifies a Block Store call kind.
type Op uint8

const (
	OpRead Op = iota + 1
	OpReadBatch
	OpWrite
	OpWriteBatch
	OpInitialize
)

// Access is one recorded Block Store call.
type Access struct {
	Op      Op
	Indices []uint64
	Size    int // bytes per block
}

// Recorder wraps a Store and records every call made through it. It is
// what an adversary observing the backend sees.
type Recorder struct {
	Store
	trace []Access
}

// NewRecorder wraps s.
func NewRecorder(s Store) *Recorder {
	return &Recorder{Store: s}
}

// Recording returns a Factory whose stores are wrapped in a Recorder. The
// most recently created recorder is stored in *rec.
func Recording(f Factory, rec **Recorder) Factory {
	return func(numBlocks uint64, blockSize int) (Store, error) {
		s, err := f(numBlocks, blockSize)
		if err != nil {
			return nil, err
		}
		r := NewRecorder(s)
		*rec = r
		return r, nil
	}
}

func (r *Recorder) record(op Op, idxs ...uint64) {
	r.trace = append(r.trace, Access{Op: op, Indices: append([]uint64(nil), idxs...), Size: r.BlockSize()})
}

func (r *Recorder) Read(idx uint64) ([]byte, error) {
	r.record(OpRead, idx)
	return r.Store.Read(idx)
}

func (r *Recorder) ReadBatch(idxs []uint64) ([][]byte, error) {
	r.record(OpReadBatch, idxs...)
	return r.Store.ReadBatch(idxs)
}

func (r *Recorder) Write(idx uint64, data []byte) error {
	r.record(OpWrite, idx)
	return r.Store.Write(idx, data)
}

func (r *Recorder) WriteBatch(idxs []uint64, data [][]byte) error {
	r.record(OpWriteBatch, idxs...)
	return r.Store.WriteBatch(idxs, data)
}

func (r *Recorder) InitializeRange(begin, end uint64, data []byte) error {
	r.record(OpInitialize, begin, end)
	return r.Store.InitializeRange(begin, end, data)
}

// Trace returns the recorded calls.
func (r *Recorder) Trace() []Access {
	return r.trace
}

// Reset drops the recorded calls.
func (r *Recorder) Reset() {
	r.trace = nil
}

// Counts returns the number of blocks read and written so far.
func (r *Recorder) Counts() (reads, writes int) {
	for _, a := range r.trace {
		switch a.Op {
		case OpRead, OpReadBatch:
			reads += len(a.Indices)
		case OpWrite, OpWriteBatch:
			writes += len(a.Indices)
		}
	}
	return reads, writes
}

// Digest hashes the full trace, addresses included.
func (r *Recorder) Digest() uint64 {
	return r.digest(true)
}

// ShapeDigest hashes the trace without addresses: call kinds, per-call block
// counts and block sizes.
func (r *Recorder) ShapeDigest() uint64 {
	return r.digest(false)
}

func (r *Recorder) digest(addresses bool) uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	for _, a := range r.trace {
		put(uint64(a.Op))
		put(uint64(len(a.Indices)))
		put(uint64(a.Size))
		if addresses {
			for _, idx := range a.Indices {
				put(idx)
			}
		}
	}
	return d.Sum64()
}
