package store

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding packs a float32 vector into little-endian bytes for BLOB
// storage. Nil and empty vectors encode to nil.
func encodeEmbedding(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// decodeEmbedding unpacks a BLOB written by encodeEmbedding. Trailing bytes
// that do not complete a float are dropped.
func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
