package transfer

import (
	"fmt"
	"time"
)

// Transfer is the reassembly state for one file from one device.
// It is not safe for concurrent use; the owning session serializes access.
type Transfer struct {
	FileNum   int
	ChunkSize int
	TotalSize int
	Hash      string
	Output    string
	StartedAt time.Time

	buf       []byte
	received  *Bitmap
	lastChunk int
}

// NewTransfer allocates the buffer and received map for a file of totalSize
// bytes split into chunkSize slices.
func NewTransfer(fileNum, chunkSize, totalSize int, hash, output string) (*Transfer, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	if totalSize <= 0 {
		return nil, fmt.Errorf("file size must be > 0, got %d", totalSize)
	}
	numChunks := (totalSize-1)/chunkSize + 1
	return &Transfer{
		FileNum:   fileNum,
		ChunkSize: chunkSize,
		TotalSize: totalSize,
		Hash:      hash,
		Output:    output,
		buf:       make([]byte, totalSize),
		received:  NewBitmap(numChunks),
		lastChunk: -1,
	}, nil
}

// NumChunks returns ceil(TotalSize / ChunkSize).
func (t *Transfer) NumChunks() int {
	return t.received.LenBits()
}

// Valid reports whether index names a chunk of this file.
func (t *Transfer) Valid(index int) bool {
	return index >= 0 && index < t.NumChunks()
}

// Apply copies data into the buffer at the chunk's offset and marks it
// received. The final chunk may be short; bytes past the end of the file are
// dropped. Re-applying an index overwrites the same region. The caller must
// check Valid first.
func (t *Transfer) Apply(index int, data []byte) {
	offset := index * t.ChunkSize
	n := len(data)
	if room := t.TotalSize - offset; n > room {
		n = room
	}
	copy(t.buf[offset:offset+n], data[:n])
	t.received.Set(index)
	t.lastChunk = index
}

// Complete reports whether every chunk has been received.
func (t *Transfer) Complete() bool {
	return t.received.Full()
}

// Received returns how many distinct chunks have arrived.
func (t *Transfer) Received() int {
	return t.received.CountSet()
}

// Missing returns the indices of chunks not yet received.
func (t *Transfer) Missing() []int {
	return t.received.Missing()
}

// LastChunk returns the most recently accepted index.
func (t *Transfer) LastChunk() (int, bool) {
	return t.lastChunk, t.lastChunk >= 0
}

// Bytes returns the assembled buffer. It aliases internal state.
func (t *Transfer) Bytes() []byte {
	return t.buf
}
