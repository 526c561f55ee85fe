package filesync

import (
	"errors"

	"github.com/pierrec/lz4/v4"
)

// compressChunk attempts to compress a chunk and reports whether the
// compressed form is worth sending. Incompressible chunks go out as-is.
func compressChunk(chunk []byte) ([]byte, bool) {
	buffer := make([]byte, lz4.CompressBlockBound(len(chunk)))
	n, err := lz4.CompressBlock(chunk, buffer, nil)
	if err != nil || n == 0 || n >= len(chunk) {
		return chunk, false
	}
	return buffer[:n], true
}

// decompressChunk expands a compressed chunk. max bounds the uncompressed
// size, which the chunking rules guarantee.
func decompressChunk(chunk []byte, max int) ([]byte, error) {
	buffer := make([]byte, max)
	n, err := lz4.UncompressBlock(chunk, buffer)
	if err != nil {
		return nil, errors.New("corrupt compressed chunk: " + err.Error())
	}
	return buffer[:n], nil
}
