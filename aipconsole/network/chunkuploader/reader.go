package chunkuploader

import (
	"errors"
	"fmt"
	"io"
)

// ChunkReader pulls fixed-size chunks from a stream of known length.
// Not safe for concurrent use, the stream is consumed strictly in order.
type ChunkReader struct {
	source    io.Reader
	totalSize int64
	chunkSize int64
	consumed  int64

	// zeroReads counts reads that returned no data without reaching the end of the source.
	zeroReads int
}

// NewChunkReader creates a ChunkReader that yields exactly totalSize bytes from source.
func NewChunkReader(source io.Reader, totalSize, chunkSize int64) *ChunkReader {
	return &ChunkReader{
		source:    source,
		totalSize: totalSize,
		chunkSize: ResolveChunkSize(chunkSize),
	}
}

// TotalChunks returns the expected number of chunks.
func (r *ChunkReader) TotalChunks() int {
	return TotalChunks(r.totalSize, r.chunkSize)
}

// Consumed returns the number of bytes handed out so far.
func (r *ChunkReader) Consumed() int64 {
	return r.consumed
}

// Remaining returns the number of bytes still expected from the source.
func (r *ChunkReader) Remaining() int64 {
	return r.totalSize - r.consumed
}

// ZeroReads returns how many empty reads were retried.
func (r *ChunkReader) ZeroReads() int {
	return r.zeroReads
}

// Next returns the next chunk. It tries to fill a whole chunk, only the end of the
// source may cut it short. Returns io.EOF once totalSize bytes were returned and
// ErrSourceExhausted if the source ends before that.
func (r *ChunkReader) Next() ([]byte, error) {
	remaining := r.Remaining()
	if remaining <= 0 {
		return nil, io.EOF
	}

	size := r.chunkSize
	if remaining < size {
		size = remaining
	}

	buffer := make([]byte, size)
	n, err := r.fill(buffer)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrSourceExhausted
	}

	r.consumed += int64(n)
	return buffer[:n], nil
}

// fill reads until the buffer is full or the source ends.
// A read of zero bytes without an error is retried.
func (r *ChunkReader) fill(buffer []byte) (int, error) {
	filled := 0
	for filled < len(buffer) {
		n, err := r.source.Read(buffer[filled:])
		filled += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return filled, nil
			}
			return filled, fmt.Errorf("read source at offset %d: %w", r.consumed+int64(filled), err)
		}
		if n == 0 {
			r.zeroReads++
		}
	}
	return filled, nil
}
